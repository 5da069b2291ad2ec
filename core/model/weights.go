package model

import (
	"encoding/json"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// ModelWeights は線形モデルの係数を特徴量名とともに表す（成果物メタデータ用）
type ModelWeights struct {
	// ModelType はモデルの種類（LinearRegression, LogisticRegression等）
	ModelType string `json:"model_type"`

	// Coefficients は重み係数。多クラスの場合はクラスごとに連結される
	Coefficients []float64 `json:"coefficients"`

	// Intercepts は切片（多クラスの場合はクラス数分）
	Intercepts []float64 `json:"intercepts"`

	// Features は特徴量の名前（オプション）
	Features []string `json:"features,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
}

// ToJSON はModelWeightsをJSON形式にシリアライズ
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mw, "", "  ")
}

// FromJSON はJSON形式からModelWeightsをデシリアライズ
func (mw *ModelWeights) FromJSON(data []byte) error {
	return json.Unmarshal(data, mw)
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", mw.ModelType)
	}
	if len(mw.Coefficients) == 0 {
		return errors.NewValidationError("coefficients", "fitted model must have coefficients", len(mw.Coefficients))
	}
	if len(mw.Intercepts) == 0 || len(mw.Coefficients)%len(mw.Intercepts) != 0 {
		return errors.NewValidationError("intercepts", "must divide coefficients into equal blocks", len(mw.Intercepts))
	}
	if len(mw.Features) > 0 && len(mw.Features)*len(mw.Intercepts) != len(mw.Coefficients) {
		return errors.NewValidationError("features", "length does not match coefficients", len(mw.Features))
	}
	return nil
}
