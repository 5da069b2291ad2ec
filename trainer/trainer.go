// Package trainer はテーブルの読み込みからグリッドサーチ、評価、
// アーティファクトの保存までの学習の流れをまとめます。
//
//	res, err := trainer.Train(ctx, table, trainer.Job{
//	    Task:      trainer.Classification,
//	    Algorithm: "random_forest",
//	    Target:    "target",
//	    Config:    config.Default(),
//	})
package trainer

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/config"
	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/metrics"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
	"github.com/YuminosukeSato/scitrain/preprocessing"
	"github.com/YuminosukeSato/scitrain/report"
	"github.com/YuminosukeSato/scitrain/sklearn/model_selection"
	"github.com/YuminosukeSato/scitrain/sklearn/pipeline"
)

// Job は1回の学習の指定
type Job struct {
	Task      Task
	Algorithm string
	Target    string
	// Input は入力ファイルのパス (メタデータ用、空でもよい)
	Input  string
	Config *config.Config
}

// Result は学習の結果
type Result struct {
	Summary  *report.Summary
	Artifact *Artifact
	Search   *model_selection.GridSearchCV

	TrainIndices []int
	TestIndices  []int
	// YTest, Predictions は符号化済みのテスト用の正解と予測
	YTest       []float64
	Predictions []float64
	// ClassReport は分類の場合のクラスごとの指標
	ClassReport *metrics.ClassReport
}

// Train は table を学習用とテスト用に分け、グリッドサーチで選んだPipelineを評価する
func Train(ctx context.Context, table *dataset.Table, job Job) (*Result, error) {
	start := time.Now()
	cfg := job.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alg, err := Lookup(job.Task, job.Algorithm)
	if err != nil {
		return nil, err
	}

	logger := log.GetLoggerWithName("trainer").With(
		log.TaskKey, string(job.Task),
		log.AlgorithmKey, alg.Name,
	)

	targetCol, err := table.Column(job.Target)
	if err != nil {
		return nil, err
	}
	X := table.Drop(job.Target)
	if X.NumCols() == 0 {
		return nil, errors.NewValueError("Train", "table has no feature columns besides the target")
	}

	var labels *preprocessing.LabelEncoder
	var yAll []float64
	if job.Task == Classification {
		labels = preprocessing.NewLabelEncoder()
		if yAll, err = labels.FitTransform(targetCol); err != nil {
			return nil, err
		}
	} else if yAll, err = regressionTarget(targetCol); err != nil {
		return nil, err
	}

	trainIdx, testIdx, err := model_selection.TrainTestSplit(table.NumRows(), cfg.TestSize, cfg.RandomSeed)
	if err != nil {
		return nil, err
	}
	y := mat.NewDense(len(yAll), 1, yAll)
	XTrain, XTest := X.Take(trainIdx), X.Take(testIdx)
	yTrain, yTest := model_selection.TakeRows(y, trainIdx), model_selection.TakeRows(y, testIdx)

	logger.Info("Training started",
		log.TargetColumnKey, job.Target,
		log.SamplesKey, table.NumRows(),
		log.FeaturesKey, X.NumCols(),
		log.RandomSeedKey, cfg.RandomSeed,
		"train_samples", len(trainIdx),
		"test_samples", len(testIdx),
	)

	scoringName := cfg.Scoring
	if scoringName == "" {
		scoringName = job.Task.DefaultScoring()
	}
	scorer, err := model_selection.GetScorer(scoringName)
	if err != nil {
		return nil, err
	}
	var cv model_selection.Splitter = model_selection.NewKFold(cfg.Folds)
	if job.Task == Classification {
		cv = model_selection.NewStratifiedKFold(cfg.Folds)
	}

	p := alg.NewPipeline(cfg)
	if labels != nil {
		p.WithLabelEncoder(labels)
	}
	gs := model_selection.NewGridSearchCV(p, alg.PrefixGrid(cfg.ParamGrid), cv, scorer, cfg.NJobs)
	searchStart := time.Now()
	if err := gs.Fit(ctx, XTrain, yTrain); err != nil {
		return nil, err
	}
	searchTime := time.Since(searchStart)

	best := gs.BestEstimator
	predM, err := best.Predict(XTest)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Search:       gs,
		TrainIndices: trainIdx,
		TestIndices:  testIdx,
		YTest:        mat.Col(nil, 0, yTest),
		Predictions:  mat.Col(nil, 0, predM),
	}

	summary := &report.Summary{
		RunID:        NewRunID(),
		Task:         string(job.Task),
		Algorithm:    alg.Name,
		Scoring:      scorer.Name,
		CVScore:      gs.BestScore,
		TrainSamples: len(trainIdx),
		TestSamples:  len(testIdx),
		SearchTime:   searchTime,
	}
	if job.Task == Classification {
		err = evaluateClassification(summary, res, best, XTest)
	} else {
		err = evaluateRegression(summary, res)
	}
	if err != nil {
		return nil, err
	}
	summary.TotalDuration = time.Since(start)
	res.Summary = summary

	meta := Meta{
		Version:         ArtifactVersion,
		RunID:           summary.RunID,
		CreatedAt:       time.Now().UTC(),
		Task:            job.Task,
		Algorithm:       alg.Name,
		Target:          job.Target,
		Input:           job.Input,
		Features:        X.Names(),
		EncodedFeatures: best.FeatureNames(),
		Scoring:         scorer.Name,
		BestParams:      formatParams(gs.BestParams),
		CVScore:         gs.BestScore,
		Metrics:         summary.Values(),
		RandomSeed:      cfg.RandomSeed,
		TestSize:        cfg.TestSize,
		Folds:           cfg.Folds,
		TrainSamples:    len(trainIdx),
		TestSamples:     len(testIdx),
	}
	if labels != nil {
		meta.Classes = append([]string(nil), labels.Classes...)
	}
	if meta.Weights, err = exportWeights(best); err != nil {
		logger.Warn("Model weights not exported", log.ErrAttrKey, err)
	}
	res.Artifact = &Artifact{Meta: meta, Pipeline: best}

	logger.Info("Training finished",
		log.RunIDKey, summary.RunID,
		log.CVScoreKey, gs.BestScore,
		log.ParamsKey, meta.BestParams,
		log.DurationMsKey, summary.TotalDuration.Milliseconds(),
	)
	return res, nil
}

// regressionTarget は数値の目的変数を取り出す
func regressionTarget(c *dataset.Column) ([]float64, error) {
	if c.Kind == dataset.Categorical {
		return nil, errors.NewValidationError(c.Name, "regression target must be numeric", c.Kind.String())
	}
	if n := c.MissingCount(); n > 0 {
		return nil, errors.NewValidationError(c.Name, "target column contains missing values", n)
	}
	return append([]float64(nil), c.Numbers...), nil
}

func evaluateClassification(s *report.Summary, res *Result, best *pipeline.Pipeline, XTest *dataset.Table) error {
	yTrue, yPred := mat.NewVecDense(len(res.YTest), res.YTest), mat.NewVecDense(len(res.Predictions), res.Predictions)
	acc, err := metrics.Accuracy(yTrue, yPred)
	if err != nil {
		return err
	}
	cr, err := metrics.PrecisionRecallF1(yTrue, yPred)
	if err != nil {
		return err
	}
	res.ClassReport = cr
	s.Metrics = []report.Metric{
		{Name: "Accuracy", Key: "accuracy", Value: acc, Repr: true},
		{Name: "Precision", Key: "precision", Value: cr.WeightedPrecision},
		{Name: "Recall", Key: "recall", Value: cr.WeightedRecall},
		{Name: "F1-score", Key: "f1", Value: cr.WeightedF1},
	}
	s.Extra = []report.Metric{{Name: "Error rate", Key: "error_rate", Value: 1 - acc}}

	// 二値分類では陽性クラス (符号 1) の確率から AUC と対数損失も求める
	clf, ok := best.Estimator.(model.Classifier)
	if !ok || best.LabelEncoder == nil || len(best.LabelEncoder.Classes) != 2 {
		return nil
	}
	col := -1
	for j, c := range clf.Classes() {
		if c == 1 {
			col = j
		}
	}
	if col < 0 {
		return nil
	}
	proba, err := best.PredictProba(XTest)
	if err != nil {
		return err
	}
	pos := metrics.ColumnToVec(mat.DenseCopyOf(proba).ColView(col))
	if auc, err := metrics.AUC(yTrue, pos); err == nil {
		s.Extra = append(s.Extra, report.Metric{Name: "ROC AUC", Key: "roc_auc", Value: auc})
	}
	if ll, err := metrics.BinaryLogLoss(yTrue, pos); err == nil {
		s.Extra = append(s.Extra, report.Metric{Name: "Log loss", Key: "log_loss", Value: ll})
	}
	return nil
}

func evaluateRegression(s *report.Summary, res *Result) error {
	yTrue, yPred := mat.NewVecDense(len(res.YTest), res.YTest), mat.NewVecDense(len(res.Predictions), res.Predictions)
	mse, err := metrics.MSE(yTrue, yPred)
	if err != nil {
		return err
	}
	mae, err := metrics.MAE(yTrue, yPred)
	if err != nil {
		return err
	}
	r2, err := metrics.R2Score(yTrue, yPred)
	if err != nil {
		return err
	}
	s.Metrics = []report.Metric{
		{Name: "RMSE", Key: "rmse", Value: math.Sqrt(mse)},
		{Name: "MAE", Key: "mae", Value: mae},
		{Name: "R2 Score", Key: "r2", Value: r2},
	}
	s.Extra = []report.Metric{{Name: "MSE", Key: "mse", Value: mse}}
	if mape, err := metrics.MAPE(yTrue, yPred); err == nil {
		s.Extra = append(s.Extra, report.Metric{Name: "MAPE", Key: "mape", Value: mape})
	}
	if ev, err := metrics.ExplainedVarianceScore(yTrue, yPred); err == nil {
		s.Extra = append(s.Extra, report.Metric{Name: "Explained variance", Key: "explained_variance", Value: ev})
	}
	return nil
}
