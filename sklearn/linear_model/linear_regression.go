package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/metrics"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

func init() {
	gob.Register(&LinearRegression{})
}

// LinearRegression は最小二乗法による線形回帰モデル。
// 係数は特異値分解による最小ノルム解として求めるため、
// ランク落ちした特徴量行列（ワンホット列の完全な共線性など）でも解が定まる。
type LinearRegression struct {
	state *model.StateManager

	// ハイパーパラメータ
	fitIntercept bool

	// 学習済みパラメータ
	coef_      []float64
	intercept_ float64
	nFeatures_ int
	rank_      int
	singular_  []float64
}

// LinearRegressionOption はLinearRegressionの設定関数
type LinearRegressionOption func(*LinearRegression)

// WithLRFitIntercept は切片を学習するかどうかを設定する
func WithLRFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.fitIntercept = fit
	}
}

// NewLinearRegression は新しいLinearRegressionを作成する
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		state:        model.NewStateManager(),
		fitIntercept: true,
	}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// Fit は訓練データで係数を学習する。切片を学習する場合は X と y を中心化してから解く。
func (lr *LinearRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LinearRegression.Fit")

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("LinearRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError("LinearRegression.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LinearRegression.Fit", 1, yCols, 1)
	}
	if err := errors.CheckFinite("LinearRegression.Fit", X); err != nil {
		return err
	}
	if err := errors.CheckFinite("LinearRegression.Fit", y); err != nil {
		return err
	}

	XWork := mat.DenseCopyOf(X)
	yWork := mat.DenseCopyOf(y)

	xMean := make([]float64, cols)
	yMean := 0.0
	if lr.fitIntercept {
		for j := 0; j < cols; j++ {
			xMean[j] = stat.Mean(mat.Col(nil, j, XWork), nil)
		}
		yMean = stat.Mean(mat.Col(nil, 0, yWork), nil)
		XWork.Apply(func(_, j int, v float64) float64 { return v - xMean[j] }, XWork)
		yWork.Apply(func(_, _ int, v float64) float64 { return v - yMean }, yWork)
	}

	var svd mat.SVD
	if ok := svd.Factorize(XWork, mat.SVDThin); !ok {
		return errors.NewModelError("LinearRegression.Fit", "svd", errors.ErrSingularMatrix)
	}
	// LAPACK gelsd と同じく rcond = eps * max(n_samples, n_features)
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(rows, cols))
	lr.rank_ = svd.Rank(rcond)
	if lr.rank_ == 0 {
		// 全ての特徴量が定数の場合は係数 0、切片は y の平均
		lr.coef_ = make([]float64, cols)
	} else {
		var beta mat.Dense
		svd.SolveTo(&beta, yWork, lr.rank_)
		lr.coef_ = mat.Col(nil, 0, &beta)
	}
	lr.singular_ = svd.Values(nil)

	lr.intercept_ = 0
	if lr.fitIntercept {
		lr.intercept_ = yMean
		for j, c := range lr.coef_ {
			lr.intercept_ -= xMean[j] * c
		}
	}
	if err := errors.CheckNumericalStability("LinearRegression.Fit", lr.coef_, 0); err != nil {
		return err
	}

	lr.nFeatures_ = cols
	lr.state.SetFitted()
	lr.state.SetDimensions(cols, rows)

	log.GetLoggerWithName("linear_model").Debug("LinearRegression fitted",
		log.ModelNameKey, "LinearRegression",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		"rank", lr.rank_,
	)
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !lr.state.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "Predict")
	}
	rows, cols := X.Dims()
	if cols != lr.nFeatures_ {
		return nil, errors.NewDimensionError("LinearRegression.Predict", lr.nFeatures_, cols, 1)
	}

	var pred mat.Dense
	pred.Mul(X, mat.NewVecDense(cols, lr.coef_))
	out := mat.NewDense(rows, 1, nil)
	out.Apply(func(i, _ int, _ float64) float64 { return pred.At(i, 0) + lr.intercept_ }, out)
	return out, nil
}

// Score はモデルの決定係数（R²）を計算
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnToVec(y), metrics.ColumnToVec(pred))
}

// Coef は学習された重み係数を返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.coef_ == nil {
		return nil
	}
	return append([]float64(nil), lr.coef_...)
}

// Weights は model.LinearModel の実装
func (lr *LinearRegression) Weights() []float64 { return lr.Coef() }

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept_
}

// Rank は学習時の特徴量行列の実効ランクを返す
func (lr *LinearRegression) Rank() int { return lr.rank_ }

// GetParams returns the model's hyperparameters (scikit-learn compatible)
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
	}
}

// SetParams sets the model's hyperparameters (scikit-learn compatible)
func (lr *LinearRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "fit_intercept":
			v, err := model.ParamBool(key, value)
			if err != nil {
				return err
			}
			lr.fitIntercept = v
		default:
			return model.UnknownParam("LinearRegression", key)
		}
	}
	return nil
}

// ExportWeights は学習済みの係数をエクスポートする
func (lr *LinearRegression) ExportWeights() (*model.ModelWeights, error) {
	if !lr.state.IsFitted() {
		return nil, errors.NewNotFittedError("LinearRegression", "ExportWeights")
	}
	return &model.ModelWeights{
		ModelType:       "LinearRegression",
		Coefficients:    lr.Coef(),
		Intercepts:      []float64{lr.intercept_},
		Hyperparameters: lr.GetParams(),
	}, nil
}

// ImportWeights はエクスポートされた係数からモデルを復元する
func (lr *LinearRegression) ImportWeights(weights *model.ModelWeights) error {
	if weights == nil {
		return errors.NewValidationError("weights", "cannot be nil", nil)
	}
	if weights.ModelType != "LinearRegression" {
		return errors.NewValidationError("model_type", "expected LinearRegression", weights.ModelType)
	}
	if err := weights.Validate(); err != nil {
		return err
	}
	if len(weights.Intercepts) != 1 {
		return errors.NewValidationError("intercepts", "LinearRegression has a single intercept", len(weights.Intercepts))
	}
	if err := lr.SetParams(weights.Hyperparameters); err != nil {
		return err
	}
	lr.coef_ = append([]float64(nil), weights.Coefficients...)
	lr.intercept_ = weights.Intercepts[0]
	lr.nFeatures_ = len(lr.coef_)
	lr.state.SetFitted()
	lr.state.SetDimensions(lr.nFeatures_, 0)
	return nil
}

// IsFitted returns whether the model has been fitted
func (lr *LinearRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// Clone は同じハイパーパラメータを持つ未学習のモデルを返す
func (lr *LinearRegression) Clone() model.Estimator {
	return NewLinearRegression(WithLRFitIntercept(lr.fitIntercept))
}

// String returns the string representation of the model
func (lr *LinearRegression) String() string {
	if !lr.state.IsFitted() {
		return fmt.Sprintf("LinearRegression(fit_intercept=%t)", lr.fitIntercept)
	}
	return fmt.Sprintf("LinearRegression(fit_intercept=%t, n_features=%d, fitted=true)",
		lr.fitIntercept, lr.nFeatures_)
}

type linearRegressionState struct {
	FitIntercept bool
	Coef         []float64
	Intercept    float64
	Rank         int
	Singular     []float64
	State        model.ModelState
}

// GobEncode は学習済みの状態をgobでエンコードする
func (lr *LinearRegression) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(linearRegressionState{
		FitIntercept: lr.fitIntercept,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Rank:         lr.rank_,
		Singular:     lr.singular_,
		State:        lr.state.GetState(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "LinearRegression.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode はGobEncodeの出力からモデルを復元する
func (lr *LinearRegression) GobDecode(data []byte) error {
	var s linearRegressionState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "LinearRegression.GobDecode")
	}
	lr.state = model.NewStateManager()
	lr.state.SetState(s.State)
	lr.fitIntercept = s.FitIntercept
	lr.coef_ = s.Coef
	lr.intercept_ = s.Intercept
	lr.rank_ = s.Rank
	lr.singular_ = s.Singular
	lr.nFeatures_ = s.State.NFeatures
	return nil
}
