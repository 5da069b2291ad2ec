package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率（1 - Accuracy）を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

func checkBinary(op string, y *mat.VecDense, n int) (nPos int, err error) {
	for i := 0; i < n; i++ {
		switch y.AtVec(i) {
		case 1:
			nPos++
		case 0:
		default:
			return 0, errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %v", y.AtVec(i)))
		}
	}
	return nPos, nil
}

// AUC はROC曲線下面積を計算する（Mann-Whitney の U 統計量、同順位は平均順位）。
// 片方のクラスしか存在しない場合は0.5を返し、警告を出す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	nPos, err := checkBinary("AUC", yTrue, n)
	if err != nil {
		return 0, err
	}
	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in yTrue", 0.5))
		return 0.5, nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b]) })

	var rankSumPos float64
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(idx[j+1]) == yScore.AtVec(idx[i]) {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(idx[k]) == 1 {
				rankSumPos += avgRank
			}
		}
		i = j + 1
	}

	u := rankSumPos - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), nil
}

// AUCMatrix は行列入力の先頭列に対してAUCを計算する
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	if yTrue == nil || yScore == nil {
		return 0, errors.NewValueError("AUCMatrix", "nil matrix")
	}
	return AUC(ColumnToVec(yTrue), ColumnToVec(yScore))
}

// BinaryLogLoss は二値分類の対数損失を計算する。確率は [eps, 1-eps] にクリップされる。
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if _, err := checkBinary("BinaryLogLoss", yTrue, n); err != nil {
		return 0, err
	}

	const eps = 1e-15
	var loss float64
	for i := 0; i < n; i++ {
		p := math.Min(math.Max(yProb.AtVec(i), eps), 1-eps)
		if yTrue.AtVec(i) == 1 {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
	}
	return loss / float64(n), nil
}

// ClassReport はクラスごとの適合率・再現率・F1スコアと、そのサポート重み付き平均
type ClassReport struct {
	Labels    []float64
	Precision []float64
	Recall    []float64
	F1        []float64
	Support   []int

	WeightedPrecision float64
	WeightedRecall    float64
	WeightedF1        float64
}

// PrecisionRecallF1 はyTrueとyPredに現れる全ラベルについて指標を計算する
// （scikit-learn の average='weighted', zero_division の既定動作と同じく、未定義の値は0）。
func PrecisionRecallF1(yTrue, yPred *mat.VecDense) (*ClassReport, error) {
	n, err := checkPair("PrecisionRecallF1", yTrue, yPred)
	if err != nil {
		return nil, err
	}

	set := make(map[float64]struct{})
	for i := 0; i < n; i++ {
		set[yTrue.AtVec(i)] = struct{}{}
		set[yPred.AtVec(i)] = struct{}{}
	}
	labels := make([]float64, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Float64s(labels)
	pos := make(map[float64]int, len(labels))
	for k, l := range labels {
		pos[l] = k
	}

	k := len(labels)
	tp := make([]int, k)
	predCount := make([]int, k)
	support := make([]int, k)
	for i := 0; i < n; i++ {
		t, p := pos[yTrue.AtVec(i)], pos[yPred.AtVec(i)]
		support[t]++
		predCount[p]++
		if t == p {
			tp[t]++
		}
	}

	r := &ClassReport{
		Labels:    labels,
		Precision: make([]float64, k),
		Recall:    make([]float64, k),
		F1:        make([]float64, k),
		Support:   support,
	}
	precisionUndefined, recallUndefined := false, false
	for c := 0; c < k; c++ {
		if predCount[c] > 0 {
			r.Precision[c] = float64(tp[c]) / float64(predCount[c])
		} else {
			precisionUndefined = true
		}
		if support[c] > 0 {
			r.Recall[c] = float64(tp[c]) / float64(support[c])
		} else {
			recallUndefined = true
		}
		if s := r.Precision[c] + r.Recall[c]; s > 0 {
			r.F1[c] = 2 * r.Precision[c] * r.Recall[c] / s
		}

		w := float64(support[c]) / float64(n)
		r.WeightedPrecision += w * r.Precision[c]
		r.WeightedRecall += w * r.Recall[c]
		r.WeightedF1 += w * r.F1[c]
	}

	if precisionUndefined {
		errors.Warn(errors.NewUndefinedMetricWarning("Precision", "labels with no predicted samples", 0))
	}
	if recallUndefined {
		errors.Warn(errors.NewUndefinedMetricWarning("Recall", "labels with no true samples", 0))
	}
	return r, nil
}

// ConfusionMatrix は k×k の混同行列を返す（行: 正解、列: 予測）。ラベルは 0..k-1 の整数であること。
func ConfusionMatrix(yTrue, yPred *mat.VecDense, k int) (*mat.Dense, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	cm := mat.NewDense(k, k, nil)
	for i := 0; i < n; i++ {
		t, p := int(yTrue.AtVec(i)), int(yPred.AtVec(i))
		if t < 0 || t >= k || p < 0 || p >= k {
			return nil, errors.NewValueError("ConfusionMatrix", fmt.Sprintf("label out of range [0, %d)", k))
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}
