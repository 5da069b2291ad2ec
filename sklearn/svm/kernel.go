package svm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// Kernel はカーネル関数の種類
type Kernel string

const (
	KernelLinear  Kernel = "linear"
	KernelPoly    Kernel = "poly"
	KernelRBF     Kernel = "rbf"
	KernelSigmoid Kernel = "sigmoid"
)

// ParseKernel はカーネル名を検証する
func ParseKernel(s string) (Kernel, error) {
	switch k := Kernel(s); k {
	case KernelLinear, KernelPoly, KernelRBF, KernelSigmoid:
		return k, nil
	}
	return "", errors.NewValidationError("kernel", "must be 'linear', 'poly', 'rbf' or 'sigmoid'", s)
}

// kernelFunc は学習済みの係数でカーネル値を計算する
type kernelFunc struct {
	kind   Kernel
	gamma  float64
	coef0  float64
	degree int
}

func (k kernelFunc) eval(a, b []float64) float64 {
	switch k.kind {
	case KernelLinear:
		return floats.Dot(a, b)
	case KernelPoly:
		return math.Pow(k.gamma*floats.Dot(a, b)+k.coef0, float64(k.degree))
	case KernelSigmoid:
		return math.Tanh(k.gamma*floats.Dot(a, b) + k.coef0)
	default:
		d := 0.0
		for i := range a {
			t := a[i] - b[i]
			d += t * t
		}
		return math.Exp(-k.gamma * d)
	}
}

// resolveGamma は gamma の指定 ("scale", "auto", 数値) を値に変換する。
// "scale" は 1 / (n_features * X.var())、分散が 0 の場合は 1.0。
func resolveGamma(spec string, value float64, data []float64, nFeatures int) (float64, error) {
	switch spec {
	case "scale":
		_, v := stat.PopMeanVariance(data, nil)
		if v == 0 {
			return 1.0, nil
		}
		return 1.0 / (float64(nFeatures) * v), nil
	case "auto":
		return 1.0 / float64(nFeatures), nil
	case "":
		if value <= 0 {
			return 0, errors.NewValidationError("gamma", "must be positive", value)
		}
		return value, nil
	}
	return 0, errors.NewValidationError("gamma", "must be 'scale', 'auto' or a positive number", spec)
}

// kernelCache はカーネル行列の行を必要に応じて計算し、上限までキャッシュする
type kernelCache struct {
	rows    [][]float64
	k       kernelFunc
	cache   map[int][]float64
	order   []int
	maxRows int
}

func newKernelCache(rows [][]float64, k kernelFunc, cacheBytes int) *kernelCache {
	l := len(rows)
	maxRows := cacheBytes / (8 * max(l, 1))
	maxRows = max(maxRows, 2)
	return &kernelCache{rows: rows, k: k, cache: make(map[int][]float64), maxRows: maxRows}
}

// row は K(i, ·) を返す
func (c *kernelCache) row(i int) []float64 {
	if r, ok := c.cache[i]; ok {
		return r
	}
	r := make([]float64, len(c.rows))
	for j := range c.rows {
		r[j] = c.k.eval(c.rows[i], c.rows[j])
	}
	if len(c.order) >= c.maxRows {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}
	c.cache[i] = r
	c.order = append(c.order, i)
	return r
}
