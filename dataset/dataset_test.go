package dataset

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

const sampleCSV = `age,city,score,member,target
25,Tokyo,1.5,true,0
32,Osaka,,false,1
NA,Tokyo,2.5,true,1
41,,3.0,false,0
`

func TestReadCSVInference(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumRows() != 4 || tbl.NumCols() != 5 {
		t.Fatalf("shape = %dx%d, want 4x5", tbl.NumRows(), tbl.NumCols())
	}

	tests := []struct {
		column  string
		kind    Kind
		missing int
	}{
		{"age", Numeric, 1},
		{"city", Categorical, 1},
		{"score", Numeric, 1},
		{"member", Boolean, 0},
		{"target", Numeric, 0},
	}
	for _, tt := range tests {
		c, err := tbl.Column(tt.column)
		if err != nil {
			t.Fatal(err)
		}
		if c.Kind != tt.kind {
			t.Errorf("%s: kind = %v, want %v", tt.column, c.Kind, tt.kind)
		}
		if got := c.MissingCount(); got != tt.missing {
			t.Errorf("%s: missing = %d, want %d", tt.column, got, tt.missing)
		}
	}

	target, _ := tbl.Column("target")
	if !target.Integer {
		t.Error("target should be detected as an integer column")
	}
	age, _ := tbl.Column("age")
	if age.Integer {
		t.Error("integer column with missing values is stored as float")
	}
	if !math.IsNaN(age.Numbers[2]) {
		t.Errorf("NA should decode to NaN, got %v", age.Numbers[2])
	}
}

func TestBooleanWithMissingIsCategorical(t *testing.T) {
	c := InferColumn("flag", []string{"true", "", "false"})
	if c.Kind != Categorical {
		t.Errorf("kind = %v, want categorical", c.Kind)
	}
}

func TestHeaderNames(t *testing.T) {
	got := headerNames([]string{"\ufeffid", "a", "", "a", "a"})
	want := []string{"id", "a", "Unnamed: 2", "a.1", "a.2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNFCNormalization(t *testing.T) {
	// "é" を結合文字で表現したもの
	decomposed := "Cafe\u0301"
	c := InferColumn("name", []string{decomposed, "Caf\u00e9"})
	if c.Strings[0] != c.Strings[1] {
		t.Errorf("cells should be NFC-normalized: %q vs %q", c.Strings[0], c.Strings[1])
	}
}

func TestRaggedRows(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("a,b,c\n1,2\n3,4,5\n"))
	if err != nil {
		t.Fatal(err)
	}
	c, _ := tbl.Column("c")
	if !c.IsMissing(0) {
		t.Error("short row should be padded with a missing value")
	}

	if _, err := ReadCSV(strings.NewReader("a,b\n1,2,3\n")); err == nil {
		t.Error("expected error for a row longer than the header")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"train.csv", FormatCSV, false},
		{"TRAIN.CSV", FormatCSV, false},
		{"book.xlsx", FormatXLSX, false},
		{"legacy.xls", FormatXLS, false},
		{"frame.pkl", FormatPickle, false},
		{"data.json", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if tt.wantErr {
			var ftErr *errors.UnsupportedFileTypeError
			if !errors.As(err, &ftErr) {
				t.Errorf("%s: expected UnsupportedFileTypeError, got %v", tt.path, err)
			}
			if err != nil && !strings.Contains(err.Error(), "unsupported file type") {
				t.Errorf("%s: message = %q", tt.path, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%s: got %v, %v; want %v", tt.path, got, err, tt.want)
		}
	}
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumRows() != 4 {
		t.Errorf("rows = %d", tbl.NumRows())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"age", "city", "target"},
		{25, "Tokyo", 0},
		{32, "Osaka", 1},
		{47, nil, 1},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tbl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.NumRows() != 3 {
		t.Fatalf("rows = %d, want 3", tbl.NumRows())
	}
	age, _ := tbl.Column("age")
	if age.Kind != Numeric || age.Numbers[1] != 32 {
		t.Errorf("age = %+v", age)
	}
	city, _ := tbl.Column("city")
	if city.Kind != Categorical || !city.IsMissing(2) {
		t.Errorf("city = %+v", city)
	}
}

func TestLoadXLSInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xls")
	if err := os.WriteFile(path, []byte("not an excel file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for a corrupt xls file")
	}
}

func TestPickleRoundTrip(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "frame.pkl")
	if err := SavePickle(tbl, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(loaded.Names(), ",") != strings.Join(tbl.Names(), ",") {
		t.Errorf("names = %v", loaded.Names())
	}
	score, _ := loaded.Column("score")
	if !math.IsNaN(score.Numbers[1]) || score.Numbers[2] != 2.5 {
		t.Errorf("score = %v", score.Numbers)
	}
	member, _ := loaded.Column("member")
	if member.Kind != Boolean {
		t.Errorf("member kind = %v", member.Kind)
	}
}

func TestTableOperations(t *testing.T) {
	tbl, err := NewTable(
		NewNumericColumn("x", []float64{1, 2, 3}),
		NewCategoricalColumn("c", []string{"a", "b", ""}),
	)
	if err != nil {
		t.Fatal(err)
	}

	sub := tbl.Take([]int{2, 0})
	c, _ := sub.Column("c")
	if c.Strings[0] != "" || c.Strings[1] != "a" {
		t.Errorf("Take = %v", c.Strings)
	}

	if dropped := tbl.Drop("x"); dropped.NumCols() != 1 || dropped.Has("x") {
		t.Error("Drop should remove the column")
	}

	_, err = tbl.Column("y")
	var colErr *errors.ColumnNotFoundError
	if !errors.As(err, &colErr) {
		t.Errorf("expected ColumnNotFoundError, got %v", err)
	}

	if _, err := NewTable(NewNumericColumn("x", []float64{1}), NewNumericColumn("x", []float64{2})); err == nil {
		t.Error("expected duplicate name error")
	}
	if _, err := NewTable(NewNumericColumn("x", []float64{1}), NewNumericColumn("y", []float64{1, 2})); err == nil {
		t.Error("expected length mismatch error")
	}
}
