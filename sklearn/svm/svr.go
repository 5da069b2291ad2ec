// Package svm はサポートベクターマシンによる回帰を提供します。
package svm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/metrics"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

func init() {
	gob.Register(&SVR{})
}

const (
	tau = 1e-12
	// defaultCacheBytes はカーネル行キャッシュの上限 (scikit-learn の cache_size=200MB)
	defaultCacheBytes = 200 << 20
)

// SVR は ε-insensitive 損失によるサポートベクター回帰。
// 双対問題を SMO (2次の情報を使う作業集合選択) で解く。
type SVR struct {
	state *model.StateManager

	// ハイパーパラメータ
	kernel  Kernel
	C       float64
	epsilon float64
	gamma   string  // "scale", "auto", または空文字で gammaValue を使う
	gammaV  float64 // 数値指定の gamma
	coef0   float64
	degree  int
	tol     float64
	maxIter int // 0以下は制限なし

	// 学習済みパラメータ
	supportVectors_ *mat.Dense
	dualCoef_       []float64
	intercept_      float64
	gamma_          float64
	nFeatures_      int
	nIter_          int
}

// Option はSVRの設定関数
type Option func(*SVR)

// WithKernel はカーネルを設定する
func WithKernel(k Kernel) Option { return func(s *SVR) { s.kernel = k } }

// WithC は正則化パラメータを設定する
func WithC(c float64) Option { return func(s *SVR) { s.C = c } }

// WithEpsilon は損失を生じないチューブの幅を設定する
func WithEpsilon(e float64) Option { return func(s *SVR) { s.epsilon = e } }

// WithGamma は "scale" または "auto" で gamma を設定する
func WithGamma(g string) Option { return func(s *SVR) { s.gamma = g } }

// WithGammaValue は gamma を数値で設定する
func WithGammaValue(g float64) Option {
	return func(s *SVR) { s.gamma, s.gammaV = "", g }
}

// WithDegree は多項式カーネルの次数を設定する
func WithDegree(d int) Option { return func(s *SVR) { s.degree = d } }

// WithCoef0 は poly / sigmoid カーネルの定数項を設定する
func WithCoef0(c float64) Option { return func(s *SVR) { s.coef0 = c } }

// WithTol は停止条件の許容誤差を設定する
func WithTol(t float64) Option { return func(s *SVR) { s.tol = t } }

// WithMaxIter は反復回数の上限を設定する（0以下は制限なし）
func WithMaxIter(n int) Option { return func(s *SVR) { s.maxIter = n } }

// NewSVR は scikit-learn と同じデフォルト
// (rbf, C=1, epsilon=0.1, gamma=scale, tol=1e-3) でSVRを作成する
func NewSVR(opts ...Option) *SVR {
	s := &SVR{
		state:   model.NewStateManager(),
		kernel:  KernelRBF,
		C:       1.0,
		epsilon: 0.1,
		gamma:   "scale",
		degree:  3,
		tol:     1e-3,
		maxIter: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SVR) validate() error {
	if _, err := ParseKernel(string(s.kernel)); err != nil {
		return err
	}
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	if s.epsilon < 0 {
		return errors.NewValidationError("epsilon", "must be non-negative", s.epsilon)
	}
	if s.tol <= 0 {
		return errors.NewValidationError("tol", "must be positive", s.tol)
	}
	if s.kernel == KernelPoly && s.degree < 0 {
		return errors.NewValidationError("degree", "must be non-negative", s.degree)
	}
	return nil
}

// Fit は双対問題を解いてサポートベクターと切片を求める
func (s *SVR) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "SVR.Fit")

	if err := s.validate(); err != nil {
		return err
	}
	l, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if l == 0 || nFeatures == 0 {
		return errors.NewModelError("SVR.Fit", "empty data", errors.ErrEmptyData)
	}
	if l != yRows {
		return errors.NewDimensionError("SVR.Fit", l, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("SVR.Fit", 1, yCols, 1)
	}
	if err := errors.CheckFinite("SVR.Fit", X); err != nil {
		return err
	}
	if err := errors.CheckFinite("SVR.Fit", y); err != nil {
		return err
	}

	Xd := mat.DenseCopyOf(X)
	rows := make([][]float64, l)
	for i := range rows {
		rows[i] = Xd.RawRowView(i)
	}
	gamma, err := resolveGamma(s.gamma, s.gammaV, Xd.RawMatrix().Data, nFeatures)
	if err != nil {
		return err
	}
	kf := kernelFunc{kind: s.kernel, gamma: gamma, coef0: s.coef0, degree: s.degree}
	targets := mat.Col(nil, 0, y)

	sol := newSolver(rows, targets, kf, s.C, s.epsilon, s.tol, s.maxIter)
	sol.solve()
	if sol.hitLimit {
		errors.Warn(errors.NewConvergenceWarning("SVR", sol.iter,
			"Solver terminated early: the iteration limit was reached. Consider pre-processing your data with StandardScaler"))
	}

	var svIdx []int
	var coef []float64
	for i := 0; i < l; i++ {
		c := sol.alpha[i] - sol.alpha[i+l]
		if c != 0 {
			svIdx = append(svIdx, i)
			coef = append(coef, c)
		}
	}
	if len(svIdx) > 0 {
		s.supportVectors_ = mat.NewDense(len(svIdx), nFeatures, nil)
		for k, i := range svIdx {
			s.supportVectors_.SetRow(k, rows[i])
		}
	} else {
		s.supportVectors_ = nil
	}
	s.dualCoef_ = coef
	s.intercept_ = -sol.rho()
	s.gamma_ = gamma
	s.nFeatures_ = nFeatures
	s.nIter_ = sol.iter
	s.state.SetFitted()
	s.state.SetDimensions(nFeatures, l)

	log.GetLoggerWithName("svm").Debug("SVR fitted",
		log.ModelNameKey, "SVR",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, l,
		log.FeaturesKey, nFeatures,
		log.IterationKey, sol.iter,
		"n_support", len(svIdx),
		"gamma", gamma,
	)
	return nil
}

// Predict は f(x) = Σ coef_i K(sv_i, x) + b を返す
func (s *SVR) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !s.state.IsFitted() {
		return nil, errors.NewNotFittedError("SVR", "Predict")
	}
	rows, cols := X.Dims()
	if cols != s.nFeatures_ {
		return nil, errors.NewDimensionError("SVR.Predict", s.nFeatures_, cols, 1)
	}
	kf := kernelFunc{kind: s.kernel, gamma: s.gamma_, coef0: s.coef0, degree: s.degree}
	out := mat.NewDense(rows, 1, nil)
	x := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(x, i, X)
		v := s.intercept_
		for k, c := range s.dualCoef_ {
			v += c * kf.eval(s.supportVectors_.RawRowView(k), x)
		}
		out.Set(i, 0, v)
	}
	return out, nil
}

// Score は決定係数 R² を返す
func (s *SVR) Score(X, y mat.Matrix) (float64, error) {
	pred, err := s.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(metrics.ColumnToVec(y), metrics.ColumnToVec(pred))
}

// SupportVectors はサポートベクターを返す（存在しない場合は nil）
func (s *SVR) SupportVectors() *mat.Dense { return s.supportVectors_ }

// DualCoef はサポートベクターの係数 (α_i - α*_i) を返す
func (s *SVR) DualCoef() []float64 { return append([]float64(nil), s.dualCoef_...) }

// Intercept は切片を返す
func (s *SVR) Intercept() float64 { return s.intercept_ }

// Gamma は学習時に使った gamma の値を返す
func (s *SVR) Gamma() float64 { return s.gamma_ }

// NIter は SMO の反復回数を返す
func (s *SVR) NIter() int { return s.nIter_ }

// IsFitted returns whether the model has been fitted
func (s *SVR) IsFitted() bool { return s.state.IsFitted() }

// GetParams returns the model hyperparameters
func (s *SVR) GetParams() map[string]interface{} {
	var gamma interface{} = s.gamma
	if s.gamma == "" {
		gamma = s.gammaV
	}
	return map[string]interface{}{
		"kernel":   string(s.kernel),
		"C":        s.C,
		"epsilon":  s.epsilon,
		"gamma":    gamma,
		"degree":   s.degree,
		"coef0":    s.coef0,
		"tol":      s.tol,
		"max_iter": s.maxIter,
	}
}

// SetParams sets the model hyperparameters. gamma は "scale", "auto" または数値。
func (s *SVR) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "kernel":
			var k string
			if k, err = model.ParamString(key, value); err == nil {
				s.kernel, err = ParseKernel(k)
			}
		case "C":
			s.C, err = model.ParamFloat(key, value)
		case "epsilon":
			s.epsilon, err = model.ParamFloat(key, value)
		case "gamma":
			err = s.setGamma(value)
		case "degree":
			s.degree, err = model.ParamInt(key, value)
		case "coef0":
			s.coef0, err = model.ParamFloat(key, value)
		case "tol":
			s.tol, err = model.ParamFloat(key, value)
		case "max_iter":
			s.maxIter, err = model.ParamInt(key, value)
		default:
			err = model.UnknownParam("SVR", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SVR) setGamma(value interface{}) error {
	if str, ok := value.(string); ok {
		if str == "scale" || str == "auto" {
			s.gamma = str
			return nil
		}
		if _, err := strconv.ParseFloat(str, 64); err != nil {
			return errors.NewValidationError("gamma", "must be 'scale', 'auto' or a positive number", value)
		}
	}
	g, err := model.ParamFloat("gamma", value)
	if err != nil {
		return err
	}
	if g <= 0 {
		return errors.NewValidationError("gamma", "must be positive", g)
	}
	s.gamma, s.gammaV = "", g
	return nil
}

// Clone は同じハイパーパラメータを持つ未学習のモデルを返す
func (s *SVR) Clone() model.Estimator {
	c := NewSVR(
		WithKernel(s.kernel),
		WithC(s.C),
		WithEpsilon(s.epsilon),
		WithDegree(s.degree),
		WithCoef0(s.coef0),
		WithTol(s.tol),
		WithMaxIter(s.maxIter),
	)
	c.gamma, c.gammaV = s.gamma, s.gammaV
	return c
}

// String returns the string representation of the model
func (s *SVR) String() string {
	return fmt.Sprintf("SVR(kernel=%s, C=%g, epsilon=%g, gamma=%v)", s.kernel, s.C, s.epsilon, s.GetParams()["gamma"])
}

type svrState struct {
	Kernel         Kernel
	C              float64
	Epsilon        float64
	GammaSpec      string
	GammaValue     float64
	Coef0          float64
	Degree         int
	Tol            float64
	MaxIter        int
	SupportVectors []float64
	NSupport       int
	DualCoef       []float64
	Intercept      float64
	Gamma          float64
	NIter          int
	State          model.ModelState
}

// GobEncode はSVRをエンコードする
func (s *SVR) GobEncode() ([]byte, error) {
	st := svrState{
		Kernel:     s.kernel,
		C:          s.C,
		Epsilon:    s.epsilon,
		GammaSpec:  s.gamma,
		GammaValue: s.gammaV,
		Coef0:      s.coef0,
		Degree:     s.degree,
		Tol:        s.tol,
		MaxIter:    s.maxIter,
		DualCoef:   s.dualCoef_,
		Intercept:  s.intercept_,
		Gamma:      s.gamma_,
		NIter:      s.nIter_,
		State:      s.state.GetState(),
	}
	if s.supportVectors_ != nil {
		st.NSupport, _ = s.supportVectors_.Dims()
		st.SupportVectors = mat.DenseCopyOf(s.supportVectors_).RawMatrix().Data
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, errors.Wrap(err, "SVR.GobEncode")
	}
	return buf.Bytes(), nil
}

// GobDecode はGobEncodeの出力からSVRを復元する
func (s *SVR) GobDecode(data []byte) error {
	var st svrState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "SVR.GobDecode")
	}
	s.state = model.NewStateManager()
	s.state.SetState(st.State)
	s.kernel = st.Kernel
	s.C = st.C
	s.epsilon = st.Epsilon
	s.gamma = st.GammaSpec
	s.gammaV = st.GammaValue
	s.coef0 = st.Coef0
	s.degree = st.Degree
	s.tol = st.Tol
	s.maxIter = st.MaxIter
	s.dualCoef_ = st.DualCoef
	s.intercept_ = st.Intercept
	s.gamma_ = st.Gamma
	s.nIter_ = st.NIter
	s.nFeatures_ = st.State.NFeatures
	s.supportVectors_ = nil
	if st.NSupport > 0 {
		s.supportVectors_ = mat.NewDense(st.NSupport, s.nFeatures_, st.SupportVectors)
	}
	return nil
}

// solver は libsvm と同じ定式化の ε-SVR 双対問題
//
//	min ½ αᵀQα + pᵀα  s.t. yᵀα = 0, 0 ≤ α ≤ C
//
// を 2l 個の変数で解く。i < l が α_i、i ≥ l が α*_i に対応する。
type solver struct {
	l       int
	y       []float64 // ±1
	p       []float64
	alpha   []float64
	grad    []float64
	qd      []float64
	C       float64
	eps     float64
	maxIter int
	kc      *kernelCache

	iter     int
	hitLimit bool
}

func newSolver(rows [][]float64, targets []float64, k kernelFunc, C, epsilon, tol float64, maxIter int) *solver {
	l := len(rows)
	s := &solver{
		l:     l,
		y:     make([]float64, 2*l),
		p:     make([]float64, 2*l),
		alpha: make([]float64, 2*l),
		grad:  make([]float64, 2*l),
		qd:    make([]float64, 2*l),
		C:     C,
		eps:   tol,
		kc:    newKernelCache(rows, k, defaultCacheBytes),
	}
	for i := 0; i < l; i++ {
		s.y[i], s.y[i+l] = 1, -1
		s.p[i] = epsilon - targets[i]
		s.p[i+l] = epsilon + targets[i]
		kii := k.eval(rows[i], rows[i])
		s.qd[i], s.qd[i+l] = kii, kii
	}
	copy(s.grad, s.p)

	s.maxIter = maxIter
	if maxIter <= 0 {
		s.maxIter = max(10000000, 100*l)
	}
	return s
}

// q は Q の t 行目 (長さ 2l) を返す
func (s *solver) q(t int) []float64 {
	kr := s.kc.row(t % s.l)
	out := make([]float64, 2*s.l)
	for j := 0; j < s.l; j++ {
		out[j] = s.y[t] * kr[j]
		out[j+s.l] = -s.y[t] * kr[j]
	}
	return out
}

func (s *solver) isUpper(t int) bool { return s.alpha[t] >= s.C }
func (s *solver) isLower(t int) bool { return s.alpha[t] <= 0 }

func (s *solver) solve() {
	for s.iter < s.maxIter {
		i, j, ok := s.selectWorkingSet()
		if !ok {
			return
		}
		s.iter++
		s.update(i, j)
	}
	s.hitLimit = true
}

func (s *solver) selectWorkingSet() (int, int, bool) {
	gmax, gmax2 := math.Inf(-1), math.Inf(-1)
	gmaxIdx, gminIdx := -1, -1
	objDiffMin := math.Inf(1)

	for t := range s.alpha {
		if s.y[t] == 1 {
			if !s.isUpper(t) && -s.grad[t] >= gmax {
				gmax, gmaxIdx = -s.grad[t], t
			}
		} else if !s.isLower(t) && s.grad[t] >= gmax {
			gmax, gmaxIdx = s.grad[t], t
		}
	}
	if gmaxIdx == -1 {
		return -1, -1, false
	}
	i := gmaxIdx
	qi := s.q(i)

	for j := range s.alpha {
		var gradDiff, quad float64
		if s.y[j] == 1 {
			if s.isLower(j) {
				continue
			}
			gradDiff = gmax + s.grad[j]
			gmax2 = math.Max(gmax2, s.grad[j])
			quad = s.qd[i] + s.qd[j] - 2*s.y[i]*qi[j]
		} else {
			if s.isUpper(j) {
				continue
			}
			gradDiff = gmax - s.grad[j]
			gmax2 = math.Max(gmax2, -s.grad[j])
			quad = s.qd[i] + s.qd[j] + 2*s.y[i]*qi[j]
		}
		if gradDiff <= 0 {
			continue
		}
		if quad <= 0 {
			quad = tau
		}
		if objDiff := -(gradDiff * gradDiff) / quad; objDiff <= objDiffMin {
			gminIdx, objDiffMin = j, objDiff
		}
	}
	if gmax+gmax2 < s.eps || gminIdx == -1 {
		return -1, -1, false
	}
	return i, gminIdx, true
}

func (s *solver) update(i, j int) {
	qi, qj := s.q(i), s.q(j)
	C := s.C
	oldI, oldJ := s.alpha[i], s.alpha[j]

	if s.y[i] != s.y[j] {
		quad := s.qd[i] + s.qd[j] + 2*qi[j]
		if quad <= 0 {
			quad = tau
		}
		delta := (-s.grad[i] - s.grad[j]) / quad
		diff := s.alpha[i] - s.alpha[j]
		s.alpha[i] += delta
		s.alpha[j] += delta
		if diff > 0 {
			if s.alpha[j] < 0 {
				s.alpha[j], s.alpha[i] = 0, diff
			}
		} else if s.alpha[i] < 0 {
			s.alpha[i], s.alpha[j] = 0, -diff
		}
		if diff > 0 {
			if s.alpha[i] > C {
				s.alpha[i], s.alpha[j] = C, C-diff
			}
		} else if s.alpha[j] > C {
			s.alpha[j], s.alpha[i] = C, C+diff
		}
	} else {
		quad := s.qd[i] + s.qd[j] - 2*qi[j]
		if quad <= 0 {
			quad = tau
		}
		delta := (s.grad[i] - s.grad[j]) / quad
		sum := s.alpha[i] + s.alpha[j]
		s.alpha[i] -= delta
		s.alpha[j] += delta
		if sum > C {
			if s.alpha[i] > C {
				s.alpha[i], s.alpha[j] = C, sum-C
			}
		} else if s.alpha[j] < 0 {
			s.alpha[j], s.alpha[i] = 0, sum
		}
		if sum > C {
			if s.alpha[j] > C {
				s.alpha[j], s.alpha[i] = C, sum-C
			}
		} else if s.alpha[i] < 0 {
			s.alpha[i], s.alpha[j] = 0, sum
		}
	}

	dI, dJ := s.alpha[i]-oldI, s.alpha[j]-oldJ
	for t := range s.grad {
		s.grad[t] += qi[t]*dI + qj[t]*dJ
	}
}

// rho は KKT 条件から切片の符号反転値を求める
func (s *solver) rho() float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	nFree, sumFree := 0, 0.0
	for t := range s.alpha {
		yg := s.y[t] * s.grad[t]
		switch {
		case s.isUpper(t):
			if s.y[t] == -1 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case s.isLower(t):
			if s.y[t] == 1 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			nFree++
			sumFree += yg
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}
