package preprocessing

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// OneHotEncoder は文字列列をワンホット表現に変換する。
// 学習時に見ていないカテゴリは全て0の行として符号化される（handle_unknown='ignore'）。
type OneHotEncoder struct {
	model.BaseEstimator

	// Categories は列ごとのソート済みカテゴリ
	Categories [][]string
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{}
}

// Fit は列ごとのカテゴリ一覧を学習する
func (e *OneHotEncoder) Fit(cols [][]string) error {
	if len(cols) == 0 || len(cols[0]) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	e.Categories = make([][]string, len(cols))
	for j, col := range cols {
		set := make(map[string]struct{})
		for _, v := range col {
			set[v] = struct{}{}
		}
		cats := make([]string, 0, len(set))
		for v := range set {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
	}

	e.SetFitted()
	return nil
}

// NOutputs は変換後の列数を返す
func (e *OneHotEncoder) NOutputs() int {
	n := 0
	for _, cats := range e.Categories {
		n += len(cats)
	}
	return n
}

// Transform は n×NOutputs() の行列を返す
func (e *OneHotEncoder) Transform(cols [][]string) (*mat.Dense, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	if len(cols) != len(e.Categories) {
		return nil, errors.NewDimensionError("OneHotEncoder.Transform", len(e.Categories), len(cols), 1)
	}
	rows := len(cols[0])
	width := e.NOutputs()
	if rows == 0 || width == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	out := mat.NewDense(rows, width, nil)
	offset := 0
	for j, col := range cols {
		cats := e.Categories[j]
		for i, v := range col {
			k := sort.SearchStrings(cats, v)
			if k < len(cats) && cats[k] == v {
				out.Set(i, offset+k, 1)
			}
		}
		offset += len(cats)
	}
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (e *OneHotEncoder) FitTransform(cols [][]string) (*mat.Dense, error) {
	if err := e.Fit(cols); err != nil {
		return nil, err
	}
	return e.Transform(cols)
}

// FeatureNames は "列名_カテゴリ" 形式の出力列名を返す
func (e *OneHotEncoder) FeatureNames(inputs []string) []string {
	names := make([]string, 0, e.NOutputs())
	for j, cats := range e.Categories {
		for _, c := range cats {
			names = append(names, inputs[j]+"_"+c)
		}
	}
	return names
}
