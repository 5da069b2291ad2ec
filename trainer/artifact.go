package trainer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/sklearn/pipeline"
)

// ArtifactVersion はアーティファクト形式のバージョン
const ArtifactVersion = 1

// Meta はアーティファクトに添える学習時の情報
type Meta struct {
	Version   int
	RunID     string
	CreatedAt time.Time

	Task      Task
	Algorithm string
	Target    string
	Input     string

	// Features は入力テーブルの特徴量列、EncodedFeatures は前処理後の列名
	Features        []string
	EncodedFeatures []string
	// Classes は分類の場合の元のラベル (符号順)
	Classes []string

	// Weights は線形モデルの係数の JSON (model.ModelWeights)。それ以外のモデルでは空。
	Weights []byte

	Scoring    string
	BestParams map[string]string
	CVScore    float64
	Metrics    map[string]float64

	RandomSeed   int64
	TestSize     float64
	Folds        int
	TrainSamples int
	TestSamples  int
}

// Artifact は学習済みPipelineとメタデータを gob で1ファイルに保存する
type Artifact struct {
	Meta     Meta
	Pipeline *pipeline.Pipeline
}

// NewRunID は実行ごとの識別子を返す
func NewRunID() string {
	return uuid.NewString()
}

// formatParams は BestParams を gob で扱える文字列の map にする
func formatParams(params map[string]interface{}) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// exportWeights は推定器が係数を公開していればその JSON を返す
func exportWeights(p *pipeline.Pipeline) ([]byte, error) {
	we, ok := p.Estimator.(model.WeightExporter)
	if !ok {
		return nil, nil
	}
	w, err := we.ExportWeights()
	if err != nil {
		return nil, err
	}
	w.Features = p.FeatureNames()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w.ToJSON()
}

// ModelWeights はメタデータの係数を復元する。線形モデル以外では nil を返す。
func (m *Meta) ModelWeights() (*model.ModelWeights, error) {
	if len(m.Weights) == 0 {
		return nil, nil
	}
	var w model.ModelWeights
	if err := w.FromJSON(m.Weights); err != nil {
		return nil, errors.Wrap(err, "decode model weights")
	}
	return &w, nil
}

// Save は path にアーティファクトを書き込む
func (a *Artifact) Save(path string) error {
	if a.Pipeline == nil {
		return errors.NewValueError("Artifact.Save", "artifact has no pipeline")
	}
	if err := model.SaveModel(a, path); err != nil {
		return errors.Wrapf(err, "failed to save artifact to %s", path)
	}
	return nil
}

// Predict はアーティファクトのPipelineで予測する
func (a *Artifact) Predict(t *dataset.Table) ([]float64, error) {
	pred, err := a.Pipeline.Predict(t)
	if err != nil {
		return nil, err
	}
	rows, _ := pred.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = pred.At(i, 0)
	}
	return out, nil
}

// LoadArtifact は Save で書き込んだアーティファクトを読み込む
func LoadArtifact(path string) (*Artifact, error) {
	var a Artifact
	if err := model.LoadModel(&a, path); err != nil {
		return nil, errors.Wrapf(err, "failed to load artifact from %s", path)
	}
	if a.Meta.Version != ArtifactVersion {
		return nil, errors.NewValueError("LoadArtifact", fmt.Sprintf("unsupported artifact version %d", a.Meta.Version))
	}
	if a.Pipeline == nil || a.Pipeline.Estimator == nil || a.Pipeline.Preprocessor == nil {
		return nil, errors.NewValueError("LoadArtifact", path+" does not contain a pipeline")
	}
	return &a, nil
}
