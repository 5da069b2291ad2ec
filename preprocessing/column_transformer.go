package preprocessing

import (
	"encoding/gob"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

func init() {
	gob.Register(&DtypeSelector{})
	gob.Register(&ExplicitSelector{})
	gob.Register(&SimpleImputer{})
	gob.Register(&StandardScaler{})
}

// ColumnTransformer はテーブルを特徴量行列に変換する。
// 数値列は NumericSteps を順に適用し、カテゴリ列は最頻値補完の後にワンホット符号化する。
// 出力は数値ブロック、カテゴリブロックの順に並ぶ。
type ColumnTransformer struct {
	model.BaseEstimator

	Selector     ColumnSelector
	NumericSteps []model.Transformer

	CategoricalImputer *MostFrequentImputer
	Encoder            *OneHotEncoder

	// NumericColumns, CategoricalColumns は学習時に選択された列
	NumericColumns     []string
	CategoricalColumns []string
}

// Option はColumnTransformerの設定関数
type Option func(*ColumnTransformer)

// WithSelector は列の振り分け方法を指定する
func WithSelector(s ColumnSelector) Option {
	return func(ct *ColumnTransformer) { ct.Selector = s }
}

// WithNumericSteps は数値列に適用する変換を指定する
func WithNumericSteps(steps ...model.Transformer) Option {
	return func(ct *ColumnTransformer) { ct.NumericSteps = steps }
}

// NewColumnTransformer は新しいColumnTransformerを作成する。
// デフォルトは DtypeSelector と平均値補完のみ。
//
//	ct := preprocessing.NewColumnTransformer(
//	    preprocessing.WithNumericSteps(
//	        preprocessing.NewSimpleImputer(preprocessing.StrategyMean),
//	        preprocessing.NewStandardScalerDefault(),
//	    ),
//	)
//	X, err := ct.FitTransform(table)
func NewColumnTransformer(opts ...Option) *ColumnTransformer {
	ct := &ColumnTransformer{
		Selector:     &DtypeSelector{},
		NumericSteps: []model.Transformer{NewSimpleImputer(StrategyMean)},
	}
	for _, opt := range opts {
		opt(ct)
	}
	return ct
}

// Clone は同じ設定を持つ未学習のコピーを返す
func (ct *ColumnTransformer) Clone() *ColumnTransformer {
	steps := make([]model.Transformer, len(ct.NumericSteps))
	for i, s := range ct.NumericSteps {
		steps[i] = s.Clone()
	}
	return &ColumnTransformer{Selector: ct.Selector, NumericSteps: steps}
}

// Fit は列選択と各変換器の学習を行う
func (ct *ColumnTransformer) Fit(t *dataset.Table) error {
	_, err := ct.FitTransform(t)
	return err
}

// FitTransform は学習と変換を同時に行う
func (ct *ColumnTransformer) FitTransform(t *dataset.Table) (*mat.Dense, error) {
	if t.NumRows() == 0 {
		return nil, errors.NewModelError("ColumnTransformer.Fit", "empty data", errors.ErrEmptyData)
	}
	start := time.Now()

	ct.NumericColumns, ct.CategoricalColumns = ct.Selector.Select(t)
	if len(ct.NumericColumns)+len(ct.CategoricalColumns) == 0 {
		return nil, errors.NewValueError("ColumnTransformer.Fit", "no numeric or categorical feature columns selected")
	}

	var blocks []mat.Matrix
	if len(ct.NumericColumns) > 0 {
		X, err := numericBlock(t, ct.NumericColumns)
		if err != nil {
			return nil, err
		}
		var cur mat.Matrix = X
		for _, step := range ct.NumericSteps {
			if cur, err = step.FitTransform(cur); err != nil {
				return nil, errors.Wrap(err, "ColumnTransformer.Fit: numeric step")
			}
		}
		blocks = append(blocks, cur)
	}

	if len(ct.CategoricalColumns) > 0 {
		cols, err := categoricalBlock(t, ct.CategoricalColumns)
		if err != nil {
			return nil, err
		}
		ct.CategoricalImputer = NewMostFrequentImputer()
		imputed, err := ct.CategoricalImputer.FitTransform(cols)
		if err != nil {
			return nil, err
		}
		ct.Encoder = NewOneHotEncoder()
		encoded, err := ct.Encoder.FitTransform(imputed)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, encoded)
	}

	ct.SetFitted()
	out := hstack(blocks)
	log.GetLoggerWithName("preprocessing").Debug("ColumnTransformer fitted",
		log.OperationKey, log.OperationFitTransform,
		log.SamplesKey, t.NumRows(),
		"numeric_columns", ct.NumericColumns,
		"categorical_columns", ct.CategoricalColumns,
		log.FeaturesKey, out.RawMatrix().Cols,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Transform は学習済みの変換器でテーブルを特徴量行列に変換する
func (ct *ColumnTransformer) Transform(t *dataset.Table) (*mat.Dense, error) {
	if !ct.IsFitted() {
		return nil, errors.NewNotFittedError("ColumnTransformer", "Transform")
	}
	if t.NumRows() == 0 {
		return nil, errors.NewModelError("ColumnTransformer.Transform", "empty data", errors.ErrEmptyData)
	}

	var blocks []mat.Matrix
	if len(ct.NumericColumns) > 0 {
		X, err := numericBlock(t, ct.NumericColumns)
		if err != nil {
			return nil, err
		}
		var cur mat.Matrix = X
		for _, step := range ct.NumericSteps {
			if cur, err = step.Transform(cur); err != nil {
				return nil, err
			}
		}
		blocks = append(blocks, cur)
	}
	if len(ct.CategoricalColumns) > 0 {
		cols, err := categoricalBlock(t, ct.CategoricalColumns)
		if err != nil {
			return nil, err
		}
		imputed, err := ct.CategoricalImputer.Transform(cols)
		if err != nil {
			return nil, err
		}
		encoded, err := ct.Encoder.Transform(imputed)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, encoded)
	}
	return hstack(blocks), nil
}

// FeatureNames は出力列の名前を返す（"num" ブロック、"cat" ブロックの順）
func (ct *ColumnTransformer) FeatureNames() []string {
	names := append([]string{}, ct.NumericColumns...)
	if ct.Encoder != nil {
		names = append(names, ct.Encoder.FeatureNames(ct.CategoricalColumns)...)
	}
	return names
}

func numericBlock(t *dataset.Table, names []string) (*mat.Dense, error) {
	rows := t.NumRows()
	X := mat.NewDense(rows, len(names), nil)
	for j, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		if c.Kind == dataset.Categorical {
			return nil, errors.NewValueError("ColumnTransformer", "column "+name+" is categorical but was selected as numeric")
		}
		for i, v := range c.Numbers {
			X.Set(i, j, v)
		}
	}
	return X, nil
}

func categoricalBlock(t *dataset.Table, names []string) ([][]string, error) {
	cols := make([][]string, len(names))
	for j, name := range names {
		c, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		if c.Kind == dataset.Categorical {
			cols[j] = c.Strings
			continue
		}
		// 数値・真偽値列をカテゴリとして扱う場合は文字列化する
		cols[j] = make([]string, c.Len())
		for i, v := range c.Numbers {
			if !math.IsNaN(v) {
				cols[j][i] = formatLabel(v)
			}
		}
	}
	return cols, nil
}

func hstack(blocks []mat.Matrix) *mat.Dense {
	if len(blocks) == 1 {
		if d, ok := blocks[0].(*mat.Dense); ok {
			return d
		}
		return mat.DenseCopyOf(blocks[0])
	}
	rows, _ := blocks[0].Dims()
	width := 0
	for _, b := range blocks {
		_, c := b.Dims()
		width += c
	}
	out := mat.NewDense(rows, width, nil)
	offset := 0
	for _, b := range blocks {
		_, c := b.Dims()
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(b)
		offset += c
	}
	return out
}
