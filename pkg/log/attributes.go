package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "RandomForestClassifier", "SVR", "ColumnTransformer"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging (e.g. "trainer", "dataset").
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the run.
	PhaseKey = "ml.phase"

	// AlgorithmKey はCLIで指定されたアルゴリズム名です。
	AlgorithmKey = "ml.algorithm"

	// TaskKey は "classification" または "regression" です。
	TaskKey = "ml.task"
)

// Data Shape and Characteristics
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"

	// ColumnKey は列名を表します。
	ColumnKey = "data.column"

	// TargetColumnKey は目的変数の列名です。
	TargetColumnKey = "data.target"

	// PathKey は入出力ファイルのパスです。
	PathKey = "data.path"

	// FormatKey は入力ファイルの形式（csv, xls, xlsx, pkl）です。
	FormatKey = "data.format"

	ClassesKey = "data.classes"
)

// Performance Metrics
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	R2ScoreKey    = "metrics.r2_score"
	RMSEKey       = "metrics.rmse"

	// CVScoreKey は交差検証の平均スコアです。
	CVScoreKey = "metrics.cv_score"

	IterationKey = "training.iteration"
)

// Search Context
const (
	CandidatesKey = "search.candidates"
	FoldsKey      = "search.folds"
	CandidateKey  = "search.candidate"
	FoldKey       = "search.fold"
	ParamsKey     = "search.params"
	NJobsKey      = "search.n_jobs"
)

// Error and Configuration Context
const (
	ErrorTypeKey  = "error.type"
	SuggestionKey = "error.suggestion"
	RandomSeedKey = "config.random_seed"
	RunIDKey      = "run.id"
)

// Standard attribute value constants.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationLoad         = "load"
	OperationSave         = "save"
	OperationSearch       = "search"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"
)
