// Package pipeline は前処理 (ColumnTransformer) と推定器を1つのモデルとしてまとめます。
//
// パラメータは scikit-learn と同じく "<step>__<param>" の形式で推定器に渡されます。
//
//	p := pipeline.New(ct, pipeline.StepClassifier, ensemble.NewRandomForestClassifier())
//	err := p.SetParams(map[string]interface{}{"classifier__n_estimators": 200})
//	err = p.Fit(ctx, table, y)
package pipeline

import (
	"context"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/preprocessing"
)

func init() {
	gob.Register(&Pipeline{})
}

// 推定器ステップの名前
const (
	StepClassifier = "classifier"
	StepRegressor  = "regressor"
	StepPreprocess = "preprocessor"
)

// Pipeline は ColumnTransformer と推定器の直列結合。
// 分類では目的変数の LabelEncoder も保持し、予測を元のラベルに戻せる。
type Pipeline struct {
	Preprocessor *preprocessing.ColumnTransformer
	StepName     string
	Estimator    model.Estimator
	LabelEncoder *preprocessing.LabelEncoder
}

// New は新しいPipelineを作成する
func New(pre *preprocessing.ColumnTransformer, stepName string, est model.Estimator) *Pipeline {
	return &Pipeline{Preprocessor: pre, StepName: stepName, Estimator: est}
}

// WithLabelEncoder は目的変数の符号化器を設定して自身を返す
func (p *Pipeline) WithLabelEncoder(le *preprocessing.LabelEncoder) *Pipeline {
	p.LabelEncoder = le
	return p
}

// Fit は前処理を学習して特徴量行列に変換し、推定器を学習する
func (p *Pipeline) Fit(ctx context.Context, X *dataset.Table, y mat.Matrix) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	Xt, err := p.Preprocessor.FitTransform(X)
	if err != nil {
		return errors.Wrap(err, "Pipeline.Fit: "+StepPreprocess)
	}
	if err := model.FitWithContext(ctx, p.Estimator, Xt, y); err != nil {
		return errors.Wrapf(err, "Pipeline.Fit: %s", p.StepName)
	}
	return nil
}

// Transform は学習済みの前処理だけを適用する
func (p *Pipeline) Transform(X *dataset.Table) (*mat.Dense, error) {
	return p.Preprocessor.Transform(X)
}

// Predict は推定器の予測を n×1 の行列で返す。分類では符号化されたラベル。
func (p *Pipeline) Predict(X *dataset.Table) (mat.Matrix, error) {
	Xt, err := p.Preprocessor.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.Estimator.Predict(Xt)
}

// PredictProba はクラス確率を返す。推定器が分類器でない場合はエラー。
func (p *Pipeline) PredictProba(X *dataset.Table) (mat.Matrix, error) {
	clf, ok := p.Estimator.(model.Classifier)
	if !ok {
		return nil, errors.NewValueError("Pipeline.PredictProba", fmt.Sprintf("%T does not support predict_proba", p.Estimator))
	}
	Xt, err := p.Preprocessor.Transform(X)
	if err != nil {
		return nil, err
	}
	return clf.PredictProba(Xt)
}

// PredictLabels は予測を元のラベルの文字列表現で返す
func (p *Pipeline) PredictLabels(X *dataset.Table) ([]string, error) {
	if p.LabelEncoder == nil {
		return nil, errors.NewValueError("Pipeline.PredictLabels", "pipeline has no label encoder")
	}
	pred, err := p.Predict(X)
	if err != nil {
		return nil, err
	}
	return p.LabelEncoder.InverseTransform(mat.Col(nil, 0, pred))
}

// GetParams は推定器のパラメータを "<step>__<param>" の形式で返す
func (p *Pipeline) GetParams() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range p.Estimator.GetParams() {
		out[p.StepName+"__"+k] = v
	}
	return out
}

// SetParams は "<step>__<param>" 形式のパラメータを推定器に渡す
func (p *Pipeline) SetParams(params map[string]interface{}) error {
	if len(params) == 0 {
		return nil
	}
	prefix := p.StepName + "__"
	inner := make(map[string]interface{}, len(params))
	for _, key := range sortedKeys(params) {
		name, ok := strings.CutPrefix(key, prefix)
		if !ok || name == "" {
			return errors.NewValidationError(key, fmt.Sprintf("invalid parameter for pipeline, expected prefix %q", prefix), params[key])
		}
		inner[name] = params[key]
	}
	return p.Estimator.SetParams(inner)
}

// Clone は同じ設定を持つ未学習のPipelineを返す。LabelEncoder は共有する。
func (p *Pipeline) Clone() *Pipeline {
	return &Pipeline{
		Preprocessor: p.Preprocessor.Clone(),
		StepName:     p.StepName,
		Estimator:    p.Estimator.Clone(),
		LabelEncoder: p.LabelEncoder,
	}
}

// FeatureNames は前処理後の特徴量名を返す
func (p *Pipeline) FeatureNames() []string {
	return p.Preprocessor.FeatureNames()
}

// IsFitted は前処理と推定器が両方とも学習済みかを返す
func (p *Pipeline) IsFitted() bool {
	if !p.Preprocessor.IsFitted() {
		return false
	}
	if f, ok := p.Estimator.(interface{ IsFitted() bool }); ok {
		return f.IsFitted()
	}
	return true
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("Pipeline(steps=[(%s, ColumnTransformer), (%s, %v)])", StepPreprocess, p.StepName, p.Estimator)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
