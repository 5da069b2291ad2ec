// Package tree はCARTアルゴリズムによる決定木分類器を提供します。
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/core/parallel"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// parallelApplyRows を超える行数の予測は行を分割して並列に処理する
const parallelApplyRows = 2048

func init() {
	gob.Register(&DecisionTreeClassifier{})
}

const (
	// featureThreshold より小さい差の特徴量値は同じ値とみなす
	featureThreshold = 1e-7
	impurityEpsilon  = 1e-12
	leaf             = -1
)

// Node は木のノード。葉ノードは Left == Right == -1。
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Depth     int

	Impurity         float64
	NSamples         int
	WeightedNSamples float64
	// Value はノード内のクラス比率（重み付き）
	Value []float64
}

// IsLeaf はノードが葉かどうかを返す
func (n *Node) IsLeaf() bool { return n.Left == leaf }

// DecisionTreeClassifier はCART決定木による分類器。
// 分割は各ノードで不純度の減少が最大となる (特徴量, 閾値) を全探索して選ぶ。
type DecisionTreeClassifier struct {
	state *model.StateManager

	// ハイパーパラメータ
	criterion           string // "gini", "entropy", "log_loss"
	maxDepth            int    // 0以下は制限なし
	minSamplesSplit     int
	minSamplesLeaf      int
	maxFeatures         string // "", "sqrt", "log2", 整数, (0,1] の割合
	minImpurityDecrease float64
	randomState         int64 // 負の値は非決定的

	// 学習済みパラメータ
	nodes                []Node
	classes_             []float64
	nClasses_            int
	nFeatures_           int
	featureImportances_  []float64
	maxFeaturesResolved_ int
}

// Option はDecisionTreeClassifierの設定関数
type Option func(*DecisionTreeClassifier)

// WithCriterion は不純度の基準を設定する
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.criterion = criterion }
}

// WithMaxDepth は木の最大深さを設定する（0以下は制限なし）
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxDepth = depth }
}

// WithMinSamplesSplit は内部ノードを分割するのに必要な最小サンプル数を設定する
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf は葉ノードに必要な最小サンプル数を設定する
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithMaxFeatures は各分割で検討する特徴量数を設定する（"sqrt", "log2", "3", "0.5" など）
func WithMaxFeatures(maxFeatures string) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxFeatures = maxFeatures }
}

// WithMinImpurityDecrease は分割に必要な最小の不純度減少量を設定する
func WithMinImpurityDecrease(v float64) Option {
	return func(dt *DecisionTreeClassifier) { dt.minImpurityDecrease = v }
}

// WithRandomState は特徴量の探索順序に使う乱数シードを設定する
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

// NewDecisionTreeClassifier は scikit-learn と同じデフォルト値で決定木を作成する
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// SetRandomState implements model.Seeder
func (dt *DecisionTreeClassifier) SetRandomState(seed int64) { dt.randomState = seed }

// Fit は訓練データから木を構築する
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil, nil)
}

// FitWeighted はサンプル重み付きで木を構築する。
// 重み 0 のサンプルは無視される（ブートストラップの未抽出サンプル）。
// classes が nil でなければ、y に現れないクラスも含めたクラス集合として使う。
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight, classes []float64) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	if err := dt.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", 1, yCols, 1)
	}
	if sampleWeight != nil && len(sampleWeight) != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, len(sampleWeight), 0)
	}
	if err := errors.CheckFinite("DecisionTreeClassifier.Fit", X); err != nil {
		return err
	}

	if classes == nil {
		classes = model.UniqueLabels(y)
	}
	classIndex := make(map[float64]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	b := &builder{
		dt:       dt,
		X:        mat.DenseCopyOf(X),
		labels:   make([]int, nSamples),
		weights:  make([]float64, nSamples),
		nClasses: len(classes),
	}
	for i := 0; i < nSamples; i++ {
		k, ok := classIndex[y.At(i, 0)]
		if !ok {
			return errors.NewValueError("DecisionTreeClassifier.Fit", fmt.Sprintf("label %v is not in classes", y.At(i, 0)))
		}
		b.labels[i] = k
		b.weights[i] = 1
		if sampleWeight != nil {
			b.weights[i] = sampleWeight[i]
		}
	}
	samples := make([]int, 0, nSamples)
	for i, w := range b.weights {
		if w < 0 {
			return errors.NewValueError("DecisionTreeClassifier.Fit", "sample weights must be non-negative")
		}
		if w > 0 {
			samples = append(samples, i)
		}
	}
	if len(samples) == 0 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "sum of sample weights is zero")
	}

	seed := dt.randomState
	if seed < 0 {
		seed = rand.Int63()
	}
	b.rng = rand.New(rand.NewSource(seed))
	b.maxFeatures, err = resolveMaxFeatures(dt.maxFeatures, nFeatures)
	if err != nil {
		return err
	}
	b.importances = make([]float64, nFeatures)

	dt.nodes = dt.nodes[:0]
	b.build(samples)

	// 特徴量重要度は不純度減少量の総和を正規化したもの
	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}

	dt.classes_ = append([]float64(nil), classes...)
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = nFeatures
	dt.featureImportances_ = b.importances
	dt.maxFeaturesResolved_ = b.maxFeatures
	dt.state.SetFitted()
	dt.state.SetDimensions(nFeatures, nSamples)
	return nil
}

func (dt *DecisionTreeClassifier) validate() error {
	switch dt.criterion {
	case "gini", "entropy", "log_loss":
	default:
		return errors.NewValidationError("criterion", "must be 'gini', 'entropy' or 'log_loss'", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	if dt.minImpurityDecrease < 0 {
		return errors.NewValidationError("min_impurity_decrease", "must be non-negative", dt.minImpurityDecrease)
	}
	return nil
}

// resolveMaxFeatures は max_features の指定を実際の特徴量数に変換する
func resolveMaxFeatures(value string, nFeatures int) (int, error) {
	var n int
	switch value {
	case "", "none", "None":
		n = nFeatures
	case "sqrt", "auto":
		n = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		n = int(math.Log2(float64(nFeatures)))
	default:
		if i, err := strconv.Atoi(value); err == nil {
			if i < 1 {
				return 0, errors.NewValidationError("max_features", "must be at least 1", value)
			}
			n = i
			break
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 || f > 1 {
			return 0, errors.NewValidationError("max_features", "must be 'sqrt', 'log2', an integer or a fraction in (0, 1]", value)
		}
		n = int(f * float64(nFeatures))
	}
	return min(max(n, 1), nFeatures), nil
}

type builder struct {
	dt          *DecisionTreeClassifier
	X           *mat.Dense
	labels      []int
	weights     []float64
	nClasses    int
	maxFeatures int
	rng         *rand.Rand
	importances []float64
	rootWeight  float64
}

type split struct {
	feature     int
	threshold   float64
	pos         int
	improvement float64
	impLeft     float64
	impRight    float64
}

// build は深さ優先でノードを追加し、ルートのインデックスを返す
func (b *builder) build(samples []int) int {
	return b.grow(samples, 0)
}

func (b *builder) grow(samples []int, depth int) int {
	dt := b.dt
	counts := b.classWeights(samples)
	wn := sum(counts)
	if depth == 0 {
		b.rootWeight = wn
	}
	impurity := b.impurity(counts, wn)

	idx := len(dt.nodes)
	value := make([]float64, b.nClasses)
	for k, c := range counts {
		value[k] = c / wn
	}
	dt.nodes = append(dt.nodes, Node{
		Feature:          leaf,
		Left:             leaf,
		Right:            leaf,
		Depth:            depth,
		Impurity:         impurity,
		NSamples:         len(samples),
		WeightedNSamples: wn,
		Value:            value,
	})

	n := len(samples)
	isLeaf := (dt.maxDepth > 0 && depth >= dt.maxDepth) ||
		n < dt.minSamplesSplit ||
		n < 2*dt.minSamplesLeaf ||
		impurity <= impurityEpsilon
	if isLeaf {
		return idx
	}

	best, ok := b.bestSplit(samples, counts, wn, impurity)
	if !ok || best.improvement+impurityEpsilon < dt.minImpurityDecrease {
		return idx
	}

	// サンプルは bestSplit で最良特徴量の昇順に並べ替え済み
	left := append([]int(nil), samples[:best.pos]...)
	right := append([]int(nil), samples[best.pos:]...)

	var wl, wr float64
	for _, i := range left {
		wl += b.weights[i]
	}
	wr = wn - wl
	b.importances[best.feature] += wn*impurity - wl*best.impLeft - wr*best.impRight

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	node := &dt.nodes[idx]
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = l
	node.Right = r
	return idx
}

// bestSplit は不純度の重み付き減少量が最大となる分割を探す。
// 特徴量はランダムな順序で調べ、定数でない特徴量を maxFeatures 個調べた時点で打ち切る。
func (b *builder) bestSplit(samples []int, counts []float64, wn, impurity float64) (split, bool) {
	dt := b.dt
	_, nFeatures := b.X.Dims()
	order := b.rng.Perm(nFeatures)

	best := split{improvement: math.Inf(-1)}
	found := false
	visited := 0
	vals := make([]float64, len(samples))
	sorted := make([]int, len(samples))
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)

	for _, f := range order {
		if visited >= b.maxFeatures {
			break
		}
		copy(sorted, samples)
		sort.Slice(sorted, func(a, c int) bool { return b.X.At(sorted[a], f) < b.X.At(sorted[c], f) })
		for p, i := range sorted {
			vals[p] = b.X.At(i, f)
		}
		if vals[len(vals)-1] <= vals[0]+featureThreshold {
			continue
		}
		visited++

		for k := range left {
			left[k] = 0
		}
		copy(right, counts)
		wl := 0.0
		n := len(sorted)
		for p := 1; p < n; p++ {
			i := sorted[p-1]
			w := b.weights[i]
			left[b.labels[i]] += w
			right[b.labels[i]] -= w
			wl += w

			if vals[p] <= vals[p-1]+featureThreshold {
				continue
			}
			if p < dt.minSamplesLeaf || n-p < dt.minSamplesLeaf {
				continue
			}
			wr := wn - wl
			impL := b.impurity(left, wl)
			impR := b.impurity(right, wr)
			improvement := (wn / b.rootWeight) * (impurity - wl/wn*impL - wr/wn*impR)
			if improvement > best.improvement {
				threshold := vals[p-1]/2 + vals[p]/2
				if threshold == vals[p] || math.IsInf(threshold, 0) || math.IsNaN(threshold) {
					threshold = vals[p-1]
				}
				best = split{feature: f, threshold: threshold, pos: p, improvement: improvement, impLeft: impL, impRight: impR}
				found = true
			}
		}
	}
	if !found {
		return best, false
	}
	// 最良特徴量で並べ替えて左右に分ける
	sort.Slice(samples, func(a, c int) bool {
		return b.X.At(samples[a], best.feature) < b.X.At(samples[c], best.feature)
	})
	best.pos = 0
	for best.pos < len(samples) && b.X.At(samples[best.pos], best.feature) <= best.threshold {
		best.pos++
	}
	return best, true
}

func (b *builder) classWeights(samples []int) []float64 {
	counts := make([]float64, b.nClasses)
	for _, i := range samples {
		counts[b.labels[i]] += b.weights[i]
	}
	return counts
}

func (b *builder) impurity(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	if b.dt.criterion == "gini" {
		s := 0.0
		for _, c := range counts {
			p := c / total
			s += p * p
		}
		return 1 - s
	}
	e := 0.0
	for _, c := range counts {
		if c > 0 {
			p := c / total
			e -= p * math.Log2(p)
		}
	}
	return e
}

func sum(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s
}


// apply は各サンプルが到達する葉のインデックスを返す
func (dt *DecisionTreeClassifier) apply(X mat.Matrix) ([]int, error) {
	if !dt.state.IsFitted() {
		return nil, errors.NewNotFittedError("DecisionTreeClassifier", "Predict")
	}
	rows, cols := X.Dims()
	if cols != dt.nFeatures_ {
		return nil, errors.NewDimensionError("DecisionTreeClassifier.Predict", dt.nFeatures_, cols, 1)
	}
	leaves := make([]int, rows)
	parallel.ParallelizeWithThreshold(rows, parallelApplyRows, func(start, end int) {
		for i := start; i < end; i++ {
			n := 0
			for !dt.nodes[n].IsLeaf() {
				if X.At(i, dt.nodes[n].Feature) <= dt.nodes[n].Threshold {
					n = dt.nodes[n].Left
				} else {
					n = dt.nodes[n].Right
				}
			}
			leaves[i] = n
		}
	})
	return leaves, nil
}

// PredictProba は各クラスの確率（葉ノードのクラス比率）を返す
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	leaves, err := dt.apply(X)
	if err != nil {
		return nil, err
	}
	probas := mat.NewDense(len(leaves), dt.nClasses_, nil)
	for i, n := range leaves {
		probas.SetRow(i, dt.nodes[n].Value)
	}
	return probas, nil
}

// Predict は確率が最大のクラスを返す（同率の場合は小さいクラス）
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	leaves, err := dt.apply(X)
	if err != nil {
		return nil, err
	}
	pred := mat.NewDense(len(leaves), 1, nil)
	for i, n := range leaves {
		v := dt.nodes[n].Value
		best := 0
		for k := 1; k < len(v); k++ {
			if v[k] > v[best] {
				best = k
			}
		}
		pred.Set(i, 0, dt.classes_[best])
	}
	return pred, nil
}

// Score は正解率を返す
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	rows, _ := y.Dims()
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// Classes はクラスラベルを昇順で返す
func (dt *DecisionTreeClassifier) Classes() []float64 {
	return append([]float64(nil), dt.classes_...)
}

// GetFeatureImportances は正規化された不純度ベースの特徴量重要度を返す
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth は木の深さを返す（ルートのみの場合は 0）
func (dt *DecisionTreeClassifier) GetDepth() int {
	depth := 0
	for _, n := range dt.nodes {
		depth = max(depth, n.Depth)
	}
	return depth
}

// GetNLeaves は葉ノードの数を返す
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	count := 0
	for i := range dt.nodes {
		if dt.nodes[i].IsLeaf() {
			count++
		}
	}
	return count
}

// NodeCount はノードの総数を返す
func (dt *DecisionTreeClassifier) NodeCount() int { return len(dt.nodes) }

// IsFitted returns whether the model has been fitted
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.state.IsFitted() }

// GetParams returns the model hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":             dt.criterion,
		"max_depth":             dt.maxDepth,
		"min_samples_split":     dt.minSamplesSplit,
		"min_samples_leaf":      dt.minSamplesLeaf,
		"max_features":          dt.maxFeatures,
		"min_impurity_decrease": dt.minImpurityDecrease,
		"random_state":          dt.randomState,
	}
}

// SetParams sets the model hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			dt.criterion, err = model.ParamString(key, value)
		case "max_depth":
			if value == nil {
				dt.maxDepth = 0
				break
			}
			dt.maxDepth, err = model.ParamInt(key, value)
		case "min_samples_split":
			dt.minSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			dt.minSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			dt.maxFeatures, err = MaxFeaturesParam(value)
		case "min_impurity_decrease":
			dt.minImpurityDecrease, err = model.ParamFloat(key, value)
		case "random_state":
			var seed int
			if seed, err = model.ParamInt(key, value); err == nil {
				dt.randomState = int64(seed)
			}
		default:
			err = model.UnknownParam("DecisionTreeClassifier", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MaxFeaturesParam は max_features の設定値（文字列・整数・割合・nil）を文字列表現に変換する
func MaxFeaturesParam(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		if v == math.Trunc(v) && v > 1 {
			return strconv.Itoa(int(v)), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	return "", errors.NewValidationError("max_features", "must be a string, an integer or a fraction", value)
}

// Clone は同じハイパーパラメータを持つ未学習のモデルを返す
func (dt *DecisionTreeClassifier) Clone() model.Estimator {
	return NewDecisionTreeClassifier(
		WithCriterion(dt.criterion),
		WithMaxDepth(dt.maxDepth),
		WithMinSamplesSplit(dt.minSamplesSplit),
		WithMinSamplesLeaf(dt.minSamplesLeaf),
		WithMaxFeatures(dt.maxFeatures),
		WithMinImpurityDecrease(dt.minImpurityDecrease),
		WithRandomState(dt.randomState),
	)
}

type treeState struct {
	Criterion           string
	MaxDepth            int
	MinSamplesSplit     int
	MinSamplesLeaf      int
	MaxFeatures         string
	MinImpurityDecrease float64
	RandomState         int64
	Nodes               []Node
	Classes             []float64
	FeatureImportances  []float64
	MaxFeaturesResolved int
	State               model.ModelState
}

// GobEncode は木構造とハイパーパラメータをエンコードする
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(treeState{
		Criterion:           dt.criterion,
		MaxDepth:            dt.maxDepth,
		MinSamplesSplit:     dt.minSamplesSplit,
		MinSamplesLeaf:      dt.minSamplesLeaf,
		MaxFeatures:         dt.maxFeatures,
		MinImpurityDecrease: dt.minImpurityDecrease,
		RandomState:         dt.randomState,
		Nodes:               dt.nodes,
		Classes:             dt.classes_,
		FeatureImportances:  dt.featureImportances_,
		MaxFeaturesResolved: dt.maxFeaturesResolved_,
		State:               dt.state.GetState(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "DecisionTreeClassifier.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode はGobEncodeの出力から木を復元する
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s treeState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "DecisionTreeClassifier.GobDecode")
	}
	dt.state = model.NewStateManager()
	dt.state.SetState(s.State)
	dt.criterion = s.Criterion
	dt.maxDepth = s.MaxDepth
	dt.minSamplesSplit = s.MinSamplesSplit
	dt.minSamplesLeaf = s.MinSamplesLeaf
	dt.maxFeatures = s.MaxFeatures
	dt.minImpurityDecrease = s.MinImpurityDecrease
	dt.randomState = s.RandomState
	dt.nodes = s.Nodes
	dt.classes_ = s.Classes
	dt.nClasses_ = len(s.Classes)
	dt.nFeatures_ = s.State.NFeatures
	dt.featureImportances_ = s.FeatureImportances
	dt.maxFeaturesResolved_ = s.MaxFeaturesResolved
	return nil
}

// String returns the string representation of the model
func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, min_samples_split=%d, min_samples_leaf=%d)",
		dt.criterion, dt.maxDepth, dt.minSamplesSplit, dt.minSamplesLeaf)
}
