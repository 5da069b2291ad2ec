package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatRepr(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{0, "0.0"},
		{0.85, "0.85"},
		{5.0 / 6.0, "0.8333333333333334"},
		{1e-5, "1e-05"},
		{0.0001, "0.0001"},
		{1234567, "1234567.0"},
		{1e16, "1e+16"},
		{-2.5, "-2.5"},
		{math.NaN(), "nan"},
		{math.Inf(1), "inf"},
	}
	for _, tt := range tests {
		if got := FormatRepr(tt.in); got != tt.want {
			t.Errorf("FormatRepr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func classificationSummary() *Summary {
	return &Summary{
		RunID:     "run-1",
		Task:      "classification",
		Algorithm: "random_forest",
		Scoring:   "accuracy",
		Metrics: []Metric{
			{Name: "Accuracy", Key: "accuracy", Value: 0.875, Repr: true},
			{Name: "Precision", Key: "precision", Value: 0.8812},
			{Name: "Recall", Key: "recall", Value: 0.875},
			{Name: "F1-score", Key: "f1", Value: 0.8749},
		},
		Extra:         []Metric{{Name: "Error rate", Key: "error_rate", Value: 0.125}},
		CVScore:       0.9,
		TrainSamples:  32,
		TestSamples:   8,
		TotalDuration: 1500 * time.Millisecond,
	}
}

func TestWriteAndParse(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, classificationSummary()); err != nil {
		t.Fatal(err)
	}
	want := "Accuracy: 0.875\nPrecision: 0.88\nRecall: 0.88\nF1-score: 0.87\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	got, err := ParseOutput(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got["Accuracy"] != 0.875 || got["Precision"] != 0.88 || got["F1-score"] != 0.87 || len(got) != 4 {
		t.Errorf("parsed = %v", got)
	}
}

func TestParseMetrics_Errors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"no colon", []string{"Accuracy 0.5"}},
		{"two colons", []string{"a: b: 1"}},
		{"not a number", []string{"RMSE: fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMetrics(tt.lines); err == nil {
				t.Error("expected error")
			}
		})
	}
	got, err := ParseMetrics([]string{"RMSE: 1.50", "", "R2 Score: 0.98", ""})
	if err != nil || got["R2 Score"] != 0.98 || got["RMSE"] != 1.5 {
		t.Errorf("got %v (%v)", got, err)
	}
}

func TestSummary_Get(t *testing.T) {
	s := classificationSummary()
	if v, ok := s.Get("error_rate"); !ok || v != 0.125 {
		t.Errorf("Get(error_rate) = %v, %v", v, ok)
	}
	if _, ok := s.Get("rmse"); ok {
		t.Error("rmse should not exist")
	}
	if len(s.Values()) != 5 {
		t.Errorf("Values() = %v", s.Values())
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.prom")
	if err := WriteTextfile(path, classificationSummary()); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`scitrain_evaluation_metric{algorithm="random_forest",metric="accuracy",task="classification"} 0.875`,
		`scitrain_cv_best_score{algorithm="random_forest",scoring="accuracy",task="classification"} 0.9`,
		`scitrain_samples{algorithm="random_forest",split="test",task="classification"} 8`,
		`scitrain_duration_seconds{algorithm="random_forest",phase="total",task="classification"} 1.5`,
		`run_id="run-1"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q\n%s", want, text)
		}
	}
}

func TestPlots(t *testing.T) {
	dir := t.TempDir()
	reg := filepath.Join(dir, "reg.png")
	if err := PlotRegression(reg, "linear_regression", []float64{1, 2, 3}, []float64{1.1, 1.9, 3.2}); err != nil {
		t.Fatalf("PlotRegression failed: %v", err)
	}
	clf := filepath.Join(dir, "clf.svg")
	if err := PlotClassScores(clf, "random_forest", []string{"no", "yes"}, []float64{0.8, 0.9}); err != nil {
		t.Fatalf("PlotClassScores failed: %v", err)
	}
	for _, p := range []string{reg, clf} {
		if st, err := os.Stat(p); err != nil || st.Size() == 0 {
			t.Errorf("%s was not written", p)
		}
	}
	if err := PlotRegression(reg, "", nil, nil); err == nil {
		t.Error("expected error for empty data")
	}
	if err := PlotClassScores(clf, "", []string{"a"}, []float64{1, 2}); err == nil {
		t.Error("expected error for length mismatch")
	}
}
