package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

// Format は入力ファイルの形式
type Format string

const (
	FormatCSV    Format = "csv"
	FormatXLS    Format = "xls"
	FormatXLSX   Format = "xlsx"
	FormatPickle Format = "pkl"
)

// DetectFormat は拡張子（大文字小文字を区別しない）から形式を判定する
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return FormatCSV, nil
	case ".xls":
		return FormatXLS, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".pkl":
		return FormatPickle, nil
	default:
		return "", errors.NewUnsupportedFileTypeError(path, ext)
	}
}

// Load は拡張子に応じたリーダーでファイルを読み込み、テーブルを返す。
//
//	t, err := dataset.Load("data/train.csv")
func Load(path string) (*Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var t *Table
	switch format {
	case FormatCSV:
		t, err = loadCSVFile(path)
	case FormatXLSX:
		t, err = loadXLSX(path)
	case FormatXLS:
		t, err = loadXLS(path)
	case FormatPickle:
		t, err = LoadPickle(path)
	}
	if err != nil {
		return nil, err
	}

	log.GetLoggerWithName("dataset").Info("Dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.PathKey, path,
		log.FormatKey, string(format),
		log.SamplesKey, t.NumRows(),
		log.FeaturesKey, t.NumCols(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return t, nil
}

func loadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read csv %s", path)
	}
	return t, nil
}

// ReadCSV はヘッダ付きCSVを読み込む。ヘッダより短い行は欠損値で補われる。
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "csv parse error")
	}
	return FromRecords(records)
}

// FromRecords は先頭行をヘッダとして文字列の2次元配列からテーブルを作る。
func FromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "no header row")
	}
	header := headerNames(records[0])
	body := records[1:]

	cells := make([][]string, len(header))
	for j := range cells {
		cells[j] = make([]string, len(body))
	}
	for i, row := range body {
		if len(row) > len(header) {
			return nil, errors.NewValueError("dataset.FromRecords",
				"row "+strconv.Itoa(i+2)+" has more fields than the header")
		}
		for j, v := range row {
			cells[j][i] = v
		}
	}

	cols := make([]*Column, len(header))
	for j, name := range header {
		cols[j] = InferColumn(name, cells[j])
	}
	return NewTable(cols...)
}

func loadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "%s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %s", sheets[0])
	}
	return FromRecords(trimTrailingEmptyRows(rows))
}

func loadXLS(path string) (*Table, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, errors.Wrapf(errors.ErrEmptyData, "%s has no sheets", path)
	}

	var records [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			records = append(records, nil)
			continue
		}
		rec := make([]string, row.LastCol())
		for j := range rec {
			rec[j] = row.Col(j)
		}
		records = append(records, rec)
	}
	return FromRecords(trimTrailingEmptyRows(records))
}

func trimTrailingEmptyRows(rows [][]string) [][]string {
	for len(rows) > 0 {
		last := rows[len(rows)-1]
		empty := true
		for _, v := range last {
			if v != "" {
				empty = false
				break
			}
		}
		if !empty {
			break
		}
		rows = rows[:len(rows)-1]
	}
	return rows
}
