package model_selection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scitrain/core/parallel"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
	"github.com/YuminosukeSato/scitrain/sklearn/pipeline"
)

// ParameterGrid はパラメータ名ごとの候補値の直積を返す。
// キーはソート順に並べ、最後のキーが最も速く変化する。空のグリッドは1つの空の候補になる。
func ParameterGrid(grid map[string][]interface{}) ([]map[string]interface{}, error) {
	keys := make([]string, 0, len(grid))
	for k, v := range grid {
		if len(v) == 0 {
			return nil, errors.NewValidationError(k, "parameter grid values must be a non-empty sequence", v)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []map[string]interface{}{{}}
	for _, k := range keys {
		next := make([]map[string]interface{}, 0, len(out)*len(grid[k]))
		for _, base := range out {
			for _, v := range grid[k] {
				c := make(map[string]interface{}, len(base)+1)
				for bk, bv := range base {
					c[bk] = bv
				}
				c[k] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out, nil
}

// CVResults は候補ごとの交差検証の結果
type CVResults struct {
	Params        []map[string]interface{}
	SplitScores   [][]float64 // [候補][fold]
	MeanTestScore []float64
	StdTestScore  []float64
	RankTestScore []int
	MeanFitTime   []float64 // 秒
}

// GridSearchCV はパラメータグリッドの各候補を交差検証で評価し、最良の候補で再学習する。
// fold の学習に失敗した場合、そのスコアは NaN になり FitFailedWarning が出る。
type GridSearchCV struct {
	Pipeline  *pipeline.Pipeline
	ParamGrid map[string][]interface{}
	CV        Splitter
	Scoring   Scorer
	NJobs     int

	CVResults     *CVResults
	BestIndex     int
	BestParams    map[string]interface{}
	BestScore     float64
	BestEstimator *pipeline.Pipeline
	RefitTime     time.Duration
}

// NewGridSearchCV は新しいGridSearchCVを作成する
func NewGridSearchCV(p *pipeline.Pipeline, grid map[string][]interface{}, cv Splitter, scoring Scorer, nJobs int) *GridSearchCV {
	return &GridSearchCV{Pipeline: p, ParamGrid: grid, CV: cv, Scoring: scoring, NJobs: nJobs}
}

// Fit は全ての候補 × fold を並列に評価し、最良の候補を X, y 全体で再学習する
func (gs *GridSearchCV) Fit(ctx context.Context, X *dataset.Table, y mat.Matrix) error {
	n := X.NumRows()
	if yRows, _ := y.Dims(); yRows != n {
		return errors.NewDimensionError("GridSearchCV.Fit", n, yRows, 0)
	}
	candidates, err := ParameterGrid(gs.ParamGrid)
	if err != nil {
		return err
	}
	// 不正なパラメータは fold の失敗ではなく設定の誤りとして扱う
	for _, c := range candidates {
		if err := gs.Pipeline.Clone().SetParams(c); err != nil {
			return err
		}
	}
	folds, err := gs.CV.Split(mat.Col(nil, 0, y))
	if err != nil {
		return err
	}

	logger := log.GetLoggerWithName("model_selection")
	logger.Info(fmt.Sprintf("Fitting %d folds for each of %d candidates, totalling %d fits",
		len(folds), len(candidates), len(folds)*len(candidates)),
		log.CandidatesKey, len(candidates),
		log.FoldsKey, len(folds),
		log.NJobsKey, parallel.EffectiveJobs(gs.NJobs),
	)

	nFolds := len(folds)
	scores := make([][]float64, len(candidates))
	fitTimes := make([][]float64, len(candidates))
	for i := range scores {
		scores[i] = make([]float64, nFolds)
		fitTimes[i] = make([]float64, nFolds)
	}

	err = parallel.ForEach(ctx, len(candidates)*nFolds, gs.NJobs, func(ctx context.Context, u int) error {
		ci, fi := u/nFolds, u%nFolds
		start := time.Now()
		score, err := gs.fitAndScore(ctx, X, y, candidates[ci], folds[fi])
		fitTimes[ci][fi] = time.Since(start).Seconds()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errors.Warn(errors.NewFitFailedWarning(ci, fi, err))
			score = math.NaN()
		}
		scores[ci][fi] = score
		logger.Debug("fold scored",
			log.CandidateKey, ci,
			log.FoldKey, fi,
			"score", score,
		)
		return nil
	})
	if err != nil {
		return err
	}

	res := &CVResults{
		Params:        candidates,
		SplitScores:   scores,
		MeanTestScore: make([]float64, len(candidates)),
		StdTestScore:  make([]float64, len(candidates)),
		MeanFitTime:   make([]float64, len(candidates)),
	}
	allFailed := true
	for i := range candidates {
		// NaN を1つでも含む候補の平均は NaN
		res.MeanTestScore[i], res.StdTestScore[i] = stat.PopMeanStdDev(scores[i], nil)
		res.MeanFitTime[i] = stat.Mean(fitTimes[i], nil)
		for _, s := range scores[i] {
			if !math.IsNaN(s) {
				allFailed = false
			}
		}
	}
	if allFailed {
		return errors.NewModelError("GridSearchCV.Fit", "all fits failed",
			errors.Newf("all the %d fits failed", len(candidates)*nFolds))
	}
	res.RankTestScore = rankScores(res.MeanTestScore)
	gs.CVResults = res

	gs.BestIndex = 0
	for i, r := range res.RankTestScore {
		if r == 1 {
			gs.BestIndex = i
			break
		}
	}
	gs.BestParams = candidates[gs.BestIndex]
	gs.BestScore = res.MeanTestScore[gs.BestIndex]

	start := time.Now()
	best := gs.Pipeline.Clone()
	if err := best.SetParams(gs.BestParams); err != nil {
		return err
	}
	if err := best.Fit(ctx, X, y); err != nil {
		return errors.Wrap(err, "GridSearchCV.Fit: refit")
	}
	gs.RefitTime = time.Since(start)
	gs.BestEstimator = best

	logger.Info("Grid search finished",
		log.CVScoreKey, gs.BestScore,
		log.ParamsKey, gs.BestParams,
		log.DurationMsKey, gs.RefitTime.Milliseconds(),
	)
	return nil
}

func (gs *GridSearchCV) fitAndScore(ctx context.Context, X *dataset.Table, y mat.Matrix, params map[string]interface{}, fold Fold) (score float64, err error) {
	defer errors.Recover(&err, "GridSearchCV.fitAndScore")

	p := gs.Pipeline.Clone()
	if err := p.SetParams(params); err != nil {
		return 0, err
	}
	if err := p.Fit(ctx, X.Take(fold.TrainIndices), TakeRows(y, fold.TrainIndices)); err != nil {
		return 0, err
	}
	pred, err := p.Predict(X.Take(fold.TestIndices))
	if err != nil {
		return 0, err
	}
	return gs.Scoring.Score(TakeRows(y, fold.TestIndices), pred)
}

// Predict は最良のPipelineで予測する
func (gs *GridSearchCV) Predict(X *dataset.Table) (mat.Matrix, error) {
	if gs.BestEstimator == nil {
		return nil, errors.NewNotFittedError("GridSearchCV", "Predict")
	}
	return gs.BestEstimator.Predict(X)
}

// Score は最良のPipelineのスコアを返す
func (gs *GridSearchCV) Score(X *dataset.Table, y mat.Matrix) (float64, error) {
	pred, err := gs.Predict(X)
	if err != nil {
		return 0, err
	}
	return gs.Scoring.Score(y, pred)
}

// rankScores はスコアの降順の順位 (同点は同じ最小順位) を返す。NaN は最下位。
func rankScores(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	key := func(i int) float64 {
		if math.IsNaN(scores[i]) {
			return math.Inf(-1)
		}
		return scores[i]
	}
	sort.SliceStable(idx, func(a, b int) bool { return key(idx[a]) > key(idx[b]) })

	ranks := make([]int, len(scores))
	for pos, i := range idx {
		if pos > 0 && key(i) == key(idx[pos-1]) {
			ranks[i] = ranks[idx[pos-1]]
		} else {
			ranks[i] = pos + 1
		}
	}
	return ranks
}

// TakeRows は y の指定した行を取り出した n×1 の行列を返す
func TakeRows(y mat.Matrix, idx []int) *mat.Dense {
	_, c := y.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, y.At(r, j))
		}
	}
	return out
}
