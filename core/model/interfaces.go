package model

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Classifier は分類モデルのインターフェース。
// ラベルは 0..k-1 に符号化された float64 を前提とする。
type Classifier interface {
	Estimator

	// PredictProba returns probability estimates for each class (n×k).
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the unique classes seen during fitting, sorted.
	Classes() []float64
}

// Regressor は回帰モデルのインターフェース
type Regressor interface {
	Estimator
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}

// Seeder は乱数シードを受け付けるモデルのインターフェース
type Seeder interface {
	SetRandomState(seed int64)
}

// WeightExporter は学習済みの係数をエクスポートできるモデルのインターフェース
type WeightExporter interface {
	ExportWeights() (*ModelWeights, error)
}

// ContextFitter はキャンセル可能な学習をサポートするモデルのインターフェース
type ContextFitter interface {
	FitContext(ctx context.Context, X, y mat.Matrix) error
}

// FitWithContext は ContextFitter を実装していればそれを使い、そうでなければ Fit を呼ぶ
func FitWithContext(ctx context.Context, e Fitter, X, y mat.Matrix) error {
	if cf, ok := e.(ContextFitter); ok {
		return cf.FitContext(ctx, X, y)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.Fit(X, y)
}
