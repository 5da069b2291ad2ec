package trainer

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/YuminosukeSato/scitrain/config"
	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/preprocessing"
	"github.com/YuminosukeSato/scitrain/sklearn/ensemble"
	"github.com/YuminosukeSato/scitrain/sklearn/linear_model"
	"github.com/YuminosukeSato/scitrain/sklearn/pipeline"
	"github.com/YuminosukeSato/scitrain/sklearn/svm"
)

// Task は学習の種類
type Task string

const (
	Classification Task = "classification"
	Regression     Task = "regression"
)

// StepName は Pipeline の推定器ステップ名を返す
func (t Task) StepName() string {
	if t == Classification {
		return pipeline.StepClassifier
	}
	return pipeline.StepRegressor
}

// DefaultScoring はグリッドサーチの既定の評価指標を返す
func (t Task) DefaultScoring() string {
	if t == Classification {
		return "accuracy"
	}
	return "neg_mean_squared_error"
}

// TaskFromModelType は "class" / "reg" (または "classification" / "regression") をTaskに変換する
func TaskFromModelType(modelType string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(modelType)) {
	case "class", "classification":
		return Classification, nil
	case "reg", "regression":
		return Regression, nil
	}
	return "", errors.NewValidationError("model_type", "unsupported model type, must be 'class' or 'reg'", modelType)
}

// Algorithm は学習できるアルゴリズムの定義
type Algorithm struct {
	Name        string
	DisplayName string
	Task        Task
	// ScaleNumeric が true なら数値列を補完の後に標準化する
	ScaleNumeric bool
	New          func(cfg *config.Config) model.Estimator
}

var algorithms = []*Algorithm{
	{
		Name:        "random_forest",
		DisplayName: "Случайный лес",
		Task:        Classification,
		New: func(cfg *config.Config) model.Estimator {
			return ensemble.NewRandomForestClassifier(
				ensemble.WithRandomState(cfg.RandomSeed),
				ensemble.WithNJobs(cfg.NJobs),
			)
		},
	},
	{
		Name:        "logistic_regression",
		DisplayName: "Логистическая регрессия",
		Task:        Classification,
		New: func(cfg *config.Config) model.Estimator {
			return linear_model.NewLogisticRegression(linear_model.WithLRRandomState(cfg.RandomSeed))
		},
	},
	{
		Name:         "linear_regression",
		DisplayName:  "Линейная регрессия",
		Task:         Regression,
		ScaleNumeric: true,
		New: func(*config.Config) model.Estimator {
			return linear_model.NewLinearRegression()
		},
	},
	{
		Name:         "support_vector_machine",
		DisplayName:  "Метод опорных векторов",
		Task:         Regression,
		ScaleNumeric: true,
		New: func(*config.Config) model.Estimator {
			return svm.NewSVR()
		},
	},
}

// 正規化後の別名 → アルゴリズム名
var aliases = map[string]string{
	"rf":       "random_forest",
	"forest":   "random_forest",
	"logistic": "logistic_regression",
	"logreg":   "logistic_regression",
	"linear":   "linear_regression",
	"ols":      "linear_regression",
	"svm":      "support_vector_machine",
	"svr":      "support_vector_machine",
}

// normalizeName は大文字小文字、空白、ハイフンの違いを吸収する
func normalizeName(s string) string {
	s = cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// Algorithms は task のアルゴリズム名をソートして返す
func Algorithms(task Task) []string {
	var names []string
	for _, a := range algorithms {
		if a.Task == task {
			names = append(names, a.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Lookup はアルゴリズム名 (別名や表示名も可) を task のアルゴリズムに解決する。
// 見つからない場合は最も近い名前を添えた UnsupportedAlgorithmError を返す。
func Lookup(task Task, name string) (*Algorithm, error) {
	key := normalizeName(name)
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	for _, a := range algorithms {
		if a.Task != task {
			continue
		}
		if key == a.Name || key == normalizeName(a.DisplayName) {
			return a, nil
		}
	}
	supported := Algorithms(task)
	return nil, errors.NewUnsupportedAlgorithmError(name, supported, suggest(key, supported))
}

// suggest は編集距離が名前の長さの半分以下で最も近い候補を返す
func suggest(key string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(key, c)
		if d*2 > len(c) {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// NewPipeline は algorithm と設定から未学習のPipelineを組み立てる
func (a *Algorithm) NewPipeline(cfg *config.Config) *pipeline.Pipeline {
	steps := []model.Transformer{preprocessing.NewSimpleImputer(preprocessing.StrategyMean)}
	if a.ScaleNumeric {
		steps = append(steps, preprocessing.NewStandardScalerDefault())
	}
	var selector preprocessing.ColumnSelector = &preprocessing.DtypeSelector{IncludeBoolean: cfg.IncludeBoolean}
	if !cfg.Columns.IsZero() {
		selector = &preprocessing.ExplicitSelector{
			Numeric:     cfg.Columns.Numeric,
			Categorical: cfg.Columns.Categorical,
			Fallback:    cfg.Columns.Fallback,
		}
	}
	ct := preprocessing.NewColumnTransformer(
		preprocessing.WithSelector(selector),
		preprocessing.WithNumericSteps(steps...),
	)
	return pipeline.New(ct, a.Task.StepName(), a.New(cfg))
}

// PrefixGrid はパラメータ名に推定器ステップの接頭辞を付ける（既に付いている場合はそのまま）
func (a *Algorithm) PrefixGrid(grid map[string][]interface{}) map[string][]interface{} {
	prefix := a.Task.StepName() + "__"
	out := make(map[string][]interface{}, len(grid))
	for k, v := range grid {
		if !strings.Contains(k, "__") {
			k = prefix + k
		}
		out[k] = v
	}
	return out
}
