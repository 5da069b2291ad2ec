// Package ensemble は決定木のアンサンブル学習器を提供します。
package ensemble

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/core/parallel"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
	"github.com/YuminosukeSato/scitrain/sklearn/tree"
)

func init() {
	gob.Register(&RandomForestClassifier{})
}

// RandomForestClassifier はブートストラップ標本で学習した決定木の平均確率で分類する。
//
// 各木の乱数シードはフォレストの random_state から順に生成したもので、
// ブートストラップ標本と分割時の特徴量選択の両方に使われる。
// そのため n_jobs の値に関わらず結果は同じになる。
type RandomForestClassifier struct {
	state *model.StateManager

	// ハイパーパラメータ
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	nJobs           int
	randomState     int64

	// 学習済みパラメータ
	estimators_         []*tree.DecisionTreeClassifier
	classes_            []float64
	nFeatures_          int
	featureImportances_ []float64
}

// Option はRandomForestClassifierの設定関数
type Option func(*RandomForestClassifier)

// WithNEstimators は木の本数を設定する
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithCriterion は各木の不純度の基準を設定する
func WithCriterion(c string) Option {
	return func(rf *RandomForestClassifier) { rf.criterion = c }
}

// WithMaxDepth は各木の最大深さを設定する（0以下は制限なし）
func WithMaxDepth(d int) Option {
	return func(rf *RandomForestClassifier) { rf.maxDepth = d }
}

// WithMinSamplesSplit は内部ノードの分割に必要な最小サンプル数を設定する
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf は葉に必要な最小サンプル数を設定する
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures は各分割で検討する特徴量数を設定する
func WithMaxFeatures(m string) Option {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = m }
}

// WithBootstrap はブートストラップ標本を使うかどうかを設定する
func WithBootstrap(b bool) Option {
	return func(rf *RandomForestClassifier) { rf.bootstrap = b }
}

// WithNJobs は並列に学習する木の数を設定する（-1 で全コア）
func WithNJobs(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

// WithRandomState は乱数シードを設定する
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// NewRandomForestClassifier は scikit-learn と同じデフォルト
// (100本, gini, max_features=sqrt, bootstrap) でフォレストを作成する
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		nJobs:           1,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// SetRandomState implements model.Seeder
func (rf *RandomForestClassifier) SetRandomState(seed int64) { rf.randomState = seed }

// Fit はフォレストを学習する
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	return rf.FitContext(context.Background(), X, y)
}

// FitContext はキャンセル可能なコンテキストでフォレストを学習する
func (rf *RandomForestClassifier) FitContext(ctx context.Context, X, y mat.Matrix) error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}
	nSamples, nFeatures := X.Dims()
	yRows, _ := y.Dims()
	if nSamples == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}
	start := time.Now()

	Xd := mat.DenseCopyOf(X)
	classes := model.UniqueLabels(y)

	seed := rf.randomState
	if seed < 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))
	seeds := make([]int64, rf.nEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err := parallel.ForEach(ctx, rf.nEstimators, rf.nJobs, func(_ context.Context, i int) error {
		treeRng := rand.New(rand.NewSource(seeds[i]))
		var weights []float64
		if rf.bootstrap {
			weights = make([]float64, nSamples)
			for j := 0; j < nSamples; j++ {
				weights[treeRng.Intn(nSamples)]++
			}
		}
		t := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(rf.criterion),
			tree.WithMaxDepth(rf.maxDepth),
			tree.WithMinSamplesSplit(rf.minSamplesSplit),
			tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
			tree.WithMaxFeatures(rf.maxFeatures),
			tree.WithRandomState(treeRng.Int63()),
		)
		if err := t.FitWeighted(Xd, y, weights, classes); err != nil {
			return errors.Wrapf(err, "RandomForestClassifier.Fit: tree %d", i)
		}
		trees[i] = t
		return nil
	})
	if err != nil {
		return err
	}

	rf.estimators_ = trees
	rf.classes_ = classes
	rf.nFeatures_ = nFeatures
	rf.featureImportances_ = make([]float64, nFeatures)
	for _, t := range trees {
		for j, v := range t.GetFeatureImportances() {
			rf.featureImportances_[j] += v / float64(len(trees))
		}
	}
	rf.state.SetFitted()
	rf.state.SetDimensions(nFeatures, nSamples)

	log.GetLoggerWithName("ensemble").Debug("RandomForestClassifier fitted",
		log.ModelNameKey, "RandomForestClassifier",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, len(classes),
		"n_estimators", rf.nEstimators,
		log.NJobsKey, rf.nJobs,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// PredictProba は各木のクラス確率の平均を返す
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if !rf.state.IsFitted() {
		return nil, errors.NewNotFittedError("RandomForestClassifier", "PredictProba")
	}
	rows, cols := X.Dims()
	if cols != rf.nFeatures_ {
		return nil, errors.NewDimensionError("RandomForestClassifier.PredictProba", rf.nFeatures_, cols, 1)
	}
	sum := mat.NewDense(rows, len(rf.classes_), nil)
	for _, t := range rf.estimators_ {
		p, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, p)
	}
	sum.Scale(1/float64(len(rf.estimators_)), sum)
	return sum, nil
}

// Predict は平均確率が最大のクラスを返す
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, k := proba.Dims()
	pred := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for c := 1; c < k; c++ {
			if proba.At(i, c) > proba.At(i, best) {
				best = c
			}
		}
		pred.Set(i, 0, rf.classes_[best])
	}
	return pred, nil
}

// Score は正解率を返す
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// Classes はクラスラベルを昇順で返す
func (rf *RandomForestClassifier) Classes() []float64 {
	return append([]float64(nil), rf.classes_...)
}

// Estimators は学習済みの決定木を返す
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return rf.estimators_
}

// FeatureImportances は木ごとの不純度ベース重要度の平均を返す
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	return append([]float64(nil), rf.featureImportances_...)
}

// IsFitted returns whether the model has been fitted
func (rf *RandomForestClassifier) IsFitted() bool { return rf.state.IsFitted() }

// GetParams returns the model hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"n_jobs":            rf.nJobs,
		"random_state":      rf.randomState,
	}
}

// SetParams sets the model hyperparameters
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			rf.nEstimators, err = model.ParamInt(key, value)
		case "criterion":
			rf.criterion, err = model.ParamString(key, value)
		case "max_depth":
			if value == nil {
				rf.maxDepth = 0
				break
			}
			rf.maxDepth, err = model.ParamInt(key, value)
		case "min_samples_split":
			rf.minSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			rf.minSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			rf.maxFeatures, err = tree.MaxFeaturesParam(value)
		case "bootstrap":
			rf.bootstrap, err = model.ParamBool(key, value)
		case "n_jobs":
			rf.nJobs, err = model.ParamInt(key, value)
		case "random_state":
			var seed int
			if seed, err = model.ParamInt(key, value); err == nil {
				rf.randomState = int64(seed)
			}
		default:
			err = model.UnknownParam("RandomForestClassifier", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone は同じハイパーパラメータを持つ未学習のモデルを返す
func (rf *RandomForestClassifier) Clone() model.Estimator {
	return NewRandomForestClassifier(
		WithNEstimators(rf.nEstimators),
		WithCriterion(rf.criterion),
		WithMaxDepth(rf.maxDepth),
		WithMinSamplesSplit(rf.minSamplesSplit),
		WithMinSamplesLeaf(rf.minSamplesLeaf),
		WithMaxFeatures(rf.maxFeatures),
		WithBootstrap(rf.bootstrap),
		WithNJobs(rf.nJobs),
		WithRandomState(rf.randomState),
	)
}

type forestState struct {
	NEstimators        int
	Criterion          string
	MaxDepth           int
	MinSamplesSplit    int
	MinSamplesLeaf     int
	MaxFeatures        string
	Bootstrap          bool
	NJobs              int
	RandomState        int64
	Estimators         []*tree.DecisionTreeClassifier
	Classes            []float64
	FeatureImportances []float64
	State              model.ModelState
}

// GobEncode はフォレストをエンコードする
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestState{
		NEstimators:        rf.nEstimators,
		Criterion:          rf.criterion,
		MaxDepth:           rf.maxDepth,
		MinSamplesSplit:    rf.minSamplesSplit,
		MinSamplesLeaf:     rf.minSamplesLeaf,
		MaxFeatures:        rf.maxFeatures,
		Bootstrap:          rf.bootstrap,
		NJobs:              rf.nJobs,
		RandomState:        rf.randomState,
		Estimators:         rf.estimators_,
		Classes:            rf.classes_,
		FeatureImportances: rf.featureImportances_,
		State:              rf.state.GetState(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "RandomForestClassifier.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode はGobEncodeの出力からフォレストを復元する
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var s forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "RandomForestClassifier.GobDecode")
	}
	rf.state = model.NewStateManager()
	rf.state.SetState(s.State)
	rf.nEstimators = s.NEstimators
	rf.criterion = s.Criterion
	rf.maxDepth = s.MaxDepth
	rf.minSamplesSplit = s.MinSamplesSplit
	rf.minSamplesLeaf = s.MinSamplesLeaf
	rf.maxFeatures = s.MaxFeatures
	rf.bootstrap = s.Bootstrap
	rf.nJobs = s.NJobs
	rf.randomState = s.RandomState
	rf.estimators_ = s.Estimators
	rf.classes_ = s.Classes
	rf.nFeatures_ = s.State.NFeatures
	rf.featureImportances_ = s.FeatureImportances
	return nil
}

// String returns the string representation of the model
func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, criterion=%s, max_features=%s, bootstrap=%t)",
		rf.nEstimators, rf.criterion, rf.maxFeatures, rf.bootstrap)
}

