package model

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// UniqueLabels は n×1 のラベル行列に現れる値を昇順で返す
func UniqueLabels(y mat.Matrix) []float64 {
	rows, _ := y.Dims()
	seen := make(map[float64]struct{})
	var out []float64
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
