// Package dataset は表形式データの読み込みと列指向のテーブル表現を提供します。
package dataset

import (
	"math"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// Kind は列のデータ型を表す
type Kind int

const (
	// Numeric は数値列。欠損値はNaNで表す
	Numeric Kind = iota
	// Categorical は文字列列。欠損値は空文字列で表す
	Categorical
	// Boolean は真偽値列。true=1, false=0 として Numbers に格納する
	Boolean
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	case Boolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Column はテーブルの1列。Kind に応じて Numbers か Strings の一方のみを使う。
type Column struct {
	Name    string
	Kind    Kind
	Integer bool // 全ての値が整数で欠損がない数値列
	Numbers []float64
	Strings []string
}

// NewNumericColumn は数値列を作成する
func NewNumericColumn(name string, values []float64) *Column {
	c := &Column{Name: name, Kind: Numeric, Numbers: values}
	c.Integer = allIntegral(values)
	return c
}

// NewCategoricalColumn は文字列列を作成する
func NewCategoricalColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: Categorical, Strings: values}
}

// NewBooleanColumn は真偽値列を作成する
func NewBooleanColumn(name string, values []bool) *Column {
	nums := make([]float64, len(values))
	for i, v := range values {
		if v {
			nums[i] = 1
		}
	}
	return &Column{Name: name, Kind: Boolean, Numbers: nums}
}

// Len は行数を返す
func (c *Column) Len() int {
	if c.Kind == Categorical {
		return len(c.Strings)
	}
	return len(c.Numbers)
}

// IsMissing は i 行目が欠損値かどうかを返す
func (c *Column) IsMissing(i int) bool {
	if c.Kind == Categorical {
		return c.Strings[i] == ""
	}
	return math.IsNaN(c.Numbers[i])
}

// MissingCount は欠損値の件数を返す
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// Take は指定した行だけを持つ新しい列を返す
func (c *Column) Take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Integer: c.Integer}
	if c.Kind == Categorical {
		out.Strings = make([]string, len(idx))
		for i, j := range idx {
			out.Strings[i] = c.Strings[j]
		}
		return out
	}
	out.Numbers = make([]float64, len(idx))
	for i, j := range idx {
		out.Numbers[i] = c.Numbers[j]
	}
	return out
}

// Table は名前付きの列からなる表。全ての列は同じ行数を持つ。
type Table struct {
	Columns []*Column
}

// NewTable は列の長さと名前の一意性を検証してテーブルを作成する
func NewTable(cols ...*Column) (*Table, error) {
	seen := make(map[string]struct{}, len(cols))
	for i, c := range cols {
		if _, dup := seen[c.Name]; dup {
			return nil, errors.NewValidationError("columns", "duplicate column name", c.Name)
		}
		seen[c.Name] = struct{}{}
		if i > 0 && c.Len() != cols[0].Len() {
			return nil, errors.NewDimensionError("dataset.NewTable", cols[0].Len(), c.Len(), 0)
		}
	}
	return &Table{Columns: cols}, nil
}

// NumRows は行数を返す
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumCols は列数を返す
func (t *Table) NumCols() int {
	return len(t.Columns)
}

// Names は列名を順番に返す
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column は名前で列を取得する。存在しない場合は ColumnNotFoundError を返す。
func (t *Table) Column(name string) (*Column, error) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, errors.NewColumnNotFoundError(name, t.Names())
}

// Has は列が存在するかどうかを返す
func (t *Table) Has(name string) bool {
	_, err := t.Column(name)
	return err == nil
}

// Drop は指定した列を除いたテーブルを返す。列データは共有される。
func (t *Table) Drop(name string) *Table {
	out := &Table{Columns: make([]*Column, 0, len(t.Columns))}
	for _, c := range t.Columns {
		if c.Name != name {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// Select は指定した列だけを持つテーブルを返す
func (t *Table) Select(names ...string) (*Table, error) {
	out := &Table{Columns: make([]*Column, 0, len(names))}
	for _, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		out.Columns = append(out.Columns, c)
	}
	return out, nil
}

// Take は指定した行インデックスだけを持つ新しいテーブルを返す
func (t *Table) Take(idx []int) *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = c.Take(idx)
	}
	return out
}

func allIntegral(values []float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return false
		}
	}
	return true
}
