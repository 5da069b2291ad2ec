package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

func init() {
	gob.Register(&LogisticRegression{})
}

// LogisticRegression implements L2-regularized logistic regression.
// Binary problems fit a single coefficient vector; three or more classes
// fit a multinomial (softmax) model. The objective
//
//	mean(log-loss) + ||w||² / (2·C·n)
//
// is minimized with L-BFGS from gonum/optimize. The intercept is not penalized.
type LogisticRegression struct {
	state *model.StateManager

	// Hyperparameters
	penalty      string  // "l2" or "none"
	C            float64 // Inverse regularization strength
	fitIntercept bool
	maxIter      int
	tol          float64 // Gradient infinity-norm threshold
	randomState  int64   // Accepted for API compatibility; lbfgs is deterministic

	// Model parameters
	coef_      [][]float64 // 1 x n_features for binary, n_classes x n_features otherwise
	intercept_ []float64
	classes_   []float64
	nClasses_  int
	nFeatures_ int
	nIter_     int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
// with scikit-learn defaults (l2, C=1, lbfgs, max_iter=100, tol=1e-4).
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      100,
		tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMaxIter sets the maximum number of L-BFGS iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

// SetRandomState implements model.Seeder
func (lr *LogisticRegression) SetRandomState(seed int64) {
	lr.randomState = seed
}

// Fit trains the logistic regression model. y holds class labels in an n×1 matrix.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LogisticRegression.Fit")

	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LogisticRegression.Fit", 1, yCols, 1)
	}
	if err := errors.CheckFinite("LogisticRegression.Fit", X); err != nil {
		return err
	}

	lr.classes_ = model.UniqueLabels(y)
	lr.nClasses_ = len(lr.classes_)
	if lr.nClasses_ < 2 {
		return errors.NewValueError("LogisticRegression.Fit",
			fmt.Sprintf("this solver needs samples of at least 2 classes in the data, but the data contains only one class: %v", lr.classes_))
	}
	classIndex := make(map[float64]int, lr.nClasses_)
	for i, c := range lr.classes_ {
		classIndex[c] = i
	}
	labels := make([]int, nSamples)
	for i := range labels {
		labels[i] = classIndex[y.At(i, 0)]
	}

	obj := &logisticObjective{
		X:            mat.DenseCopyOf(X),
		labels:       labels,
		nClasses:     lr.nClasses_,
		fitIntercept: lr.fitIntercept,
	}
	if lr.penalty == "l2" {
		obj.alpha = 1.0 / (lr.C * float64(nSamples))
	}
	nBlocks := 1
	if lr.nClasses_ > 2 {
		nBlocks = lr.nClasses_
	}
	obj.nBlocks = nBlocks

	problem := optimize.Problem{Func: obj.Func, Grad: obj.Grad}
	settings := &optimize.Settings{
		MajorIterations:   lr.maxIter,
		GradientThreshold: lr.tol,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-12, Iterations: lr.maxIter},
	}
	x0 := make([]float64, nBlocks*(nFeatures+1))
	result, optErr := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{Store: 10})
	if result == nil {
		return errors.NewModelError("LogisticRegression.Fit", "lbfgs", optErr)
	}
	lr.nIter_ = result.Stats.MajorIterations
	if optErr != nil || result.Status == optimize.IterationLimit {
		msg := "lbfgs failed to converge. Increase the number of iterations (max_iter) or scale the data"
		if optErr != nil {
			msg = fmt.Sprintf("lbfgs stopped early: %v", optErr)
		}
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.nIter_, msg))
	}
	if err := errors.CheckNumericalStability("LogisticRegression.Fit", result.X, lr.nIter_); err != nil {
		return err
	}

	lr.coef_ = make([][]float64, nBlocks)
	lr.intercept_ = make([]float64, nBlocks)
	for k := 0; k < nBlocks; k++ {
		off := k * (nFeatures + 1)
		lr.coef_[k] = append([]float64(nil), result.X[off:off+nFeatures]...)
		lr.intercept_[k] = result.X[off+nFeatures]
	}
	lr.nFeatures_ = nFeatures
	lr.state.SetFitted()
	lr.state.SetDimensions(nFeatures, nSamples)

	log.GetLoggerWithName("linear_model").Debug("LogisticRegression fitted",
		log.ModelNameKey, "LogisticRegression",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, lr.nClasses_,
		log.IterationKey, lr.nIter_,
		"status", result.Status.String(),
	)
	return nil
}

func (lr *LogisticRegression) validate() error {
	if lr.penalty != "l2" && lr.penalty != "none" {
		return errors.NewValidationError("penalty", "lbfgs supports only 'l2' or 'none' penalties", lr.penalty)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.maxIter)
	}
	if lr.tol < 0 {
		return errors.NewValidationError("tol", "must be non-negative", lr.tol)
	}
	return nil
}

// logisticObjective は L-BFGS に渡す目的関数と勾配。
// パラメータ x はブロック k ごとに [w_k (d個), b_k] の順に並ぶ。
type logisticObjective struct {
	X            *mat.Dense
	labels       []int
	nClasses     int
	nBlocks      int
	fitIntercept bool
	alpha        float64
}

// scores は各サンプルのロジットを n×nBlocks で返す
func (o *logisticObjective) scores(x []float64) *mat.Dense {
	n, d := o.X.Dims()
	W := mat.NewDense(d, o.nBlocks, nil)
	b := make([]float64, o.nBlocks)
	for k := 0; k < o.nBlocks; k++ {
		off := k * (d + 1)
		for j := 0; j < d; j++ {
			W.Set(j, k, x[off+j])
		}
		b[k] = x[off+d]
	}
	Z := mat.NewDense(n, o.nBlocks, nil)
	Z.Mul(o.X, W)
	Z.Apply(func(_, k int, v float64) float64 { return v + b[k] }, Z)
	return Z
}

func (o *logisticObjective) penalty(x []float64) float64 {
	_, d := o.X.Dims()
	s := 0.0
	for k := 0; k < o.nBlocks; k++ {
		off := k * (d + 1)
		for j := 0; j < d; j++ {
			s += x[off+j] * x[off+j]
		}
	}
	return 0.5 * o.alpha * s
}

// Func は平均対数損失と L2 ペナルティの和
func (o *logisticObjective) Func(x []float64) float64 {
	n, _ := o.X.Dims()
	Z := o.scores(x)
	loss := 0.0
	row := make([]float64, o.nBlocks)
	for i := 0; i < n; i++ {
		mat.Row(row, i, Z)
		if o.nBlocks == 1 {
			z := row[0]
			loss += softplus(z)
			if o.labels[i] == 1 {
				loss -= z
			}
			continue
		}
		loss += errors.LogSumExp(row) - row[o.labels[i]]
	}
	return loss/float64(n) + o.penalty(x)
}

// Grad は Func の勾配を grad に書き込む
func (o *logisticObjective) Grad(grad, x []float64) {
	n, d := o.X.Dims()
	Z := o.scores(x)
	// 残差 R = P - Y
	R := mat.NewDense(n, o.nBlocks, nil)
	row := make([]float64, o.nBlocks)
	for i := 0; i < n; i++ {
		mat.Row(row, i, Z)
		if o.nBlocks == 1 {
			t := 0.0
			if o.labels[i] == 1 {
				t = 1
			}
			R.Set(i, 0, errors.Sigmoid(row[0])-t)
			continue
		}
		lse := errors.LogSumExp(row)
		for k := range row {
			p := math.Exp(row[k] - lse)
			if o.labels[i] == k {
				p -= 1
			}
			R.Set(i, k, p)
		}
	}
	var G mat.Dense
	G.Mul(o.X.T(), R)
	inv := 1.0 / float64(n)
	for k := 0; k < o.nBlocks; k++ {
		off := k * (d + 1)
		for j := 0; j < d; j++ {
			grad[off+j] = G.At(j, k)*inv + o.alpha*x[off+j]
		}
		grad[off+d] = 0
		if o.fitIntercept {
			grad[off+d] = mat.Sum(R.ColView(k)) * inv
		}
	}
}

func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}


// DecisionFunction returns the raw logits (n×1 for binary, n×k otherwise)
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if !lr.state.IsFitted() {
		return nil, errors.NewNotFittedError("LogisticRegression", "DecisionFunction")
	}
	n, d := X.Dims()
	if d != lr.nFeatures_ {
		return nil, errors.NewDimensionError("LogisticRegression.DecisionFunction", lr.nFeatures_, d, 1)
	}
	W := mat.NewDense(d, len(lr.coef_), nil)
	for k, w := range lr.coef_ {
		W.SetCol(k, w)
	}
	Z := mat.NewDense(n, len(lr.coef_), nil)
	Z.Mul(X, W)
	Z.Apply(func(_, k int, v float64) float64 { return v + lr.intercept_[k] }, Z)
	return Z, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, k := probas.Dims()
	predictions := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for c := 1; c < k; c++ {
			if probas.At(i, c) > probas.At(i, best) {
				best = c
			}
		}
		predictions.Set(i, 0, lr.classes_[best])
	}
	return predictions, nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	Z, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := Z.Dims()
	probas := mat.NewDense(n, lr.nClasses_, nil)
	row := make([]float64, lr.nClasses_)
	for i := 0; i < n; i++ {
		if lr.nClasses_ == 2 {
			p1 := errors.Sigmoid(Z.At(i, 0))
			probas.Set(i, 0, 1-p1)
			probas.Set(i, 1, p1)
			continue
		}
		mat.Row(row, i, Z)
		lse := errors.LogSumExp(row)
		for k := range row {
			probas.Set(i, k, math.Exp(row[k]-lse))
		}
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// Classes returns the sorted class labels seen during Fit
func (lr *LogisticRegression) Classes() []float64 {
	return append([]float64(nil), lr.classes_...)
}

// NIter returns the number of L-BFGS iterations run in the last Fit
func (lr *LogisticRegression) NIter() int { return lr.nIter_ }

// IsFitted returns whether the model has been fitted
func (lr *LogisticRegression) IsFitted() bool { return lr.state.IsFitted() }

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"solver":        "lbfgs",
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
		"random_state":  lr.randomState,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			lr.penalty, err = model.ParamString(key, value)
		case "C":
			lr.C, err = model.ParamFloat(key, value)
		case "fit_intercept":
			lr.fitIntercept, err = model.ParamBool(key, value)
		case "solver":
			var s string
			if s, err = model.ParamString(key, value); err == nil && s != "lbfgs" {
				err = errors.NewValidationError(key, "only 'lbfgs' is supported", s)
			}
		case "max_iter":
			lr.maxIter, err = model.ParamInt(key, value)
		case "tol":
			lr.tol, err = model.ParamFloat(key, value)
		case "random_state":
			var seed int
			if seed, err = model.ParamInt(key, value); err == nil {
				lr.randomState = int64(seed)
			}
		default:
			err = model.UnknownParam("LogisticRegression", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an unfitted copy with the same hyperparameters
func (lr *LogisticRegression) Clone() model.Estimator {
	return NewLogisticRegression(
		WithLRPenalty(lr.penalty),
		WithLRC(lr.C),
		WithLogisticFitIntercept(lr.fitIntercept),
		WithLRMaxIter(lr.maxIter),
		WithLRTol(lr.tol),
		WithLRRandomState(lr.randomState),
	)
}

// ExportWeights exports the coefficients, concatenated per class block
func (lr *LogisticRegression) ExportWeights() (*model.ModelWeights, error) {
	if !lr.state.IsFitted() {
		return nil, errors.NewNotFittedError("LogisticRegression", "ExportWeights")
	}
	var coef []float64
	for _, w := range lr.coef_ {
		coef = append(coef, w...)
	}
	return &model.ModelWeights{
		ModelType:       "LogisticRegression",
		Coefficients:    coef,
		Intercepts:      append([]float64(nil), lr.intercept_...),
		Hyperparameters: lr.GetParams(),
	}, nil
}

type logisticRegressionState struct {
	Penalty      string
	C            float64
	FitIntercept bool
	MaxIter      int
	Tol          float64
	RandomState  int64
	Coef         [][]float64
	Intercept    []float64
	Classes      []float64
	NIter        int
	State        model.ModelState
}

// GobEncode serializes the fitted model
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(logisticRegressionState{
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		MaxIter:      lr.maxIter,
		Tol:          lr.tol,
		RandomState:  lr.randomState,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NIter:        lr.nIter_,
		State:        lr.state.GetState(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "LogisticRegression.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a model written by GobEncode
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var s logisticRegressionState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "LogisticRegression.GobDecode")
	}
	lr.state = model.NewStateManager()
	lr.state.SetState(s.State)
	lr.penalty = s.Penalty
	lr.C = s.C
	lr.fitIntercept = s.FitIntercept
	lr.maxIter = s.MaxIter
	lr.tol = s.Tol
	lr.randomState = s.RandomState
	lr.coef_ = s.Coef
	lr.intercept_ = s.Intercept
	lr.classes_ = s.Classes
	lr.nClasses_ = len(s.Classes)
	lr.nIter_ = s.NIter
	lr.nFeatures_ = s.State.NFeatures
	return nil
}
