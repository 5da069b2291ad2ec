package preprocessing

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// ImputeStrategy は数値列の補完方法
type ImputeStrategy string

const (
	StrategyMean   ImputeStrategy = "mean"
	StrategyMedian ImputeStrategy = "median"
)

// SimpleImputer はNaNを列ごとの統計量で置き換える（scikit-learnの SimpleImputer 相当）
type SimpleImputer struct {
	model.BaseEstimator

	Strategy ImputeStrategy

	// Statistics は各列の補完値
	Statistics []float64

	NFeatures int
}

// NewSimpleImputer は新しいSimpleImputerを作成する
func NewSimpleImputer(strategy ImputeStrategy) *SimpleImputer {
	return &SimpleImputer{Strategy: strategy}
}

// Fit は各列の欠損以外の値から補完値を計算する。
// 全てが欠損の列は0で補完し、警告を出す。
func (s *SimpleImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SimpleImputer.Fit", "empty data", errors.ErrEmptyData)
	}
	if s.Strategy != StrategyMean && s.Strategy != StrategyMedian {
		return errors.NewValidationError("strategy", "must be 'mean' or 'median'", s.Strategy)
	}

	s.NFeatures = c
	s.Statistics = make([]float64, c)
	observed := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		observed = observed[:0]
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsInf(v, 0) {
				return errors.NewValueError("SimpleImputer.Fit", "input contains infinity")
			}
			if !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			errors.Warn(errors.NewDataConversionWarning("all-missing column", "zeros",
				fmt.Sprintf("feature %d has no observed values; imputing 0", j)))
			continue
		}
		switch s.Strategy {
		case StrategyMean:
			s.Statistics[j] = stat.Mean(observed, nil)
		case StrategyMedian:
			sort.Float64s(observed)
			n := len(observed)
			if n%2 == 1 {
				s.Statistics[j] = observed[n/2]
			} else {
				s.Statistics[j] = (observed[n/2-1] + observed[n/2]) / 2
			}
		}
	}

	s.SetFitted()
	return nil
}

// Transform はNaNを補完値で置き換えた新しい行列を返す
func (s *SimpleImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("SimpleImputer", "Transform")
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("SimpleImputer.Transform", s.NFeatures, c, 1)
	}

	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if math.IsNaN(v) {
			return s.Statistics[j]
		}
		return v
	}, X)
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (s *SimpleImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// Clone implements model.Transformer.
func (s *SimpleImputer) Clone() model.Transformer {
	return NewSimpleImputer(s.Strategy)
}

// GetParams はパラメータを返す
func (s *SimpleImputer) GetParams() map[string]interface{} {
	return map[string]interface{}{"strategy": string(s.Strategy)}
}

// MostFrequentImputer は文字列列の欠損（空文字列）を最頻値で補完する。
// 最頻値が複数ある場合は辞書順で最小のものを選ぶ。
type MostFrequentImputer struct {
	model.BaseEstimator

	Statistics []string
}

// NewMostFrequentImputer は新しいMostFrequentImputerを作成する
func NewMostFrequentImputer() *MostFrequentImputer {
	return &MostFrequentImputer{}
}

// Fit は列ごとの最頻値を求める。cols[j][i] は j 列目 i 行目の値。
func (m *MostFrequentImputer) Fit(cols [][]string) error {
	if len(cols) == 0 || len(cols[0]) == 0 {
		return errors.NewModelError("MostFrequentImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	m.Statistics = make([]string, len(cols))
	for j, col := range cols {
		counts := make(map[string]int)
		for _, v := range col {
			if v != "" {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			errors.Warn(errors.NewDataConversionWarning("all-missing column", "empty category",
				fmt.Sprintf("categorical feature %d has no observed values", j)))
			continue
		}
		best, bestCount := "", -1
		for v, n := range counts {
			if n > bestCount || (n == bestCount && v < best) {
				best, bestCount = v, n
			}
		}
		m.Statistics[j] = best
	}

	m.SetFitted()
	return nil
}

// Transform は欠損値を最頻値で置き換えた新しい列を返す
func (m *MostFrequentImputer) Transform(cols [][]string) ([][]string, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MostFrequentImputer", "Transform")
	}
	if len(cols) != len(m.Statistics) {
		return nil, errors.NewDimensionError("MostFrequentImputer.Transform", len(m.Statistics), len(cols), 1)
	}

	out := make([][]string, len(cols))
	for j, col := range cols {
		out[j] = make([]string, len(col))
		for i, v := range col {
			if v == "" {
				v = m.Statistics[j]
			}
			out[j][i] = v
		}
	}
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (m *MostFrequentImputer) FitTransform(cols [][]string) ([][]string, error) {
	if err := m.Fit(cols); err != nil {
		return nil, err
	}
	return m.Transform(cols)
}
