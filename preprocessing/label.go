package preprocessing

import (
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// LabelEncoder は目的変数のラベルを 0..k-1 の整数に符号化する。
// 数値ラベルは数値順、文字列ラベルは辞書順に並べる。
type LabelEncoder struct {
	model.BaseEstimator

	// Classes は符号 i に対応する元のラベルの文字列表現
	Classes []string

	// Numeric は元のラベルが数値列だったかどうか
	Numeric bool
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit はラベル列からクラス一覧を学習する。欠損を含む列はエラーになる。
func (l *LabelEncoder) Fit(c *dataset.Column) error {
	if c.Len() == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	if n := c.MissingCount(); n > 0 {
		return errors.NewValidationError(c.Name, "target column contains missing values", n)
	}

	l.Numeric = c.Kind != dataset.Categorical
	if l.Numeric {
		set := make(map[float64]struct{})
		for _, v := range c.Numbers {
			set[v] = struct{}{}
		}
		vals := make([]float64, 0, len(set))
		for v := range set {
			vals = append(vals, v)
		}
		sort.Float64s(vals)
		l.Classes = make([]string, len(vals))
		for i, v := range vals {
			l.Classes[i] = formatLabel(v)
		}
	} else {
		set := make(map[string]struct{})
		for _, v := range c.Strings {
			set[v] = struct{}{}
		}
		l.Classes = make([]string, 0, len(set))
		for v := range set {
			l.Classes = append(l.Classes, v)
		}
		sort.Strings(l.Classes)
	}

	l.SetFitted()
	return nil
}

// Transform はラベル列を符号の列に変換する。未知のラベルはエラーになる。
func (l *LabelEncoder) Transform(c *dataset.Column) ([]float64, error) {
	if !l.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "Transform")
	}
	index := make(map[string]int, len(l.Classes))
	for i, cls := range l.Classes {
		index[cls] = i
	}

	out := make([]float64, c.Len())
	for i := range out {
		if c.IsMissing(i) {
			return nil, errors.NewValidationError(c.Name, "target column contains missing values", i)
		}
		key := labelAt(c, i)
		code, ok := index[key]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.Transform", "y contains previously unseen label "+strconv.Quote(key))
		}
		out[i] = float64(code)
	}
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (l *LabelEncoder) FitTransform(c *dataset.Column) ([]float64, error) {
	if err := l.Fit(c); err != nil {
		return nil, err
	}
	return l.Transform(c)
}

// InverseTransform は符号を元のラベルの文字列表現に戻す
func (l *LabelEncoder) InverseTransform(codes []float64) ([]string, error) {
	if !l.IsFitted() {
		return nil, errors.NewNotFittedError("LabelEncoder", "InverseTransform")
	}
	out := make([]string, len(codes))
	for i, code := range codes {
		k := int(code)
		if k < 0 || k >= len(l.Classes) || float64(k) != code {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", "code out of range: "+strconv.FormatFloat(code, 'g', -1, 64))
		}
		out[i] = l.Classes[k]
	}
	return out, nil
}

func labelAt(c *dataset.Column, i int) string {
	if c.Kind == dataset.Categorical {
		return c.Strings[i]
	}
	return formatLabel(c.Numbers[i])
}

func formatLabel(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
