package model_selection

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/metrics"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// Scorer は予測を「大きいほど良い」スコアに変換する
type Scorer struct {
	Name  string
	Score func(yTrue, yPred mat.Matrix) (float64, error)
}

var scorers = map[string]Scorer{
	"accuracy": {
		Name: "accuracy",
		Score: func(yTrue, yPred mat.Matrix) (float64, error) {
			return metrics.Accuracy(metrics.ColumnToVec(yTrue), metrics.ColumnToVec(yPred))
		},
	},
	"neg_mean_squared_error": {
		Name: "neg_mean_squared_error",
		Score: func(yTrue, yPred mat.Matrix) (float64, error) {
			mse, err := metrics.MSEMatrix(yTrue, yPred)
			return -mse, err
		},
	},
	"r2": {
		Name: "r2",
		Score: func(yTrue, yPred mat.Matrix) (float64, error) {
			return metrics.R2Score(metrics.ColumnToVec(yTrue), metrics.ColumnToVec(yPred))
		},
	},
}

// GetScorer は名前からScorerを返す
func GetScorer(name string) (Scorer, error) {
	s, ok := scorers[name]
	if !ok {
		names := make([]string, 0, len(scorers))
		for n := range scorers {
			names = append(names, n)
		}
		sort.Strings(names)
		return Scorer{}, errors.NewValidationError("scoring", "must be one of "+strings.Join(names, ", "), name)
	}
	return s, nil
}
