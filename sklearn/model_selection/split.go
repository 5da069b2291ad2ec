// Package model_selection はデータ分割、交差検証とグリッドサーチを提供します。
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

// Fold は交差検証の1分割
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// Splitter は交差検証の分割器のインターフェース
type Splitter interface {
	// Split は y (長さ n) に対する分割を返す
	Split(y []float64) ([]Fold, error)
	GetNSplits() int
}

// TrainTestSplit は 0..n-1 をシード付きの乱数順列で学習用とテスト用に分ける。
// テストの件数は ceil(testSize * n)。
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTrain <= 0 || nTest <= 0 {
		return nil, nil, errors.NewValueError("TrainTestSplit", fmt.Sprintf(
			"With n_samples=%d, test_size=%g the resulting train set will be empty. Adjust test_size", n, testSize))
	}
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	perm := r.Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// KFold は連続した k 個のブロックに分割する。先頭の n%k 個の fold は1件多い。
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int) *KFold {
	return &KFold{NSplits: nSplits}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int { return kf.NSplits }

// Split generates train/test indices for each fold
func (kf *KFold) Split(y []float64) ([]Fold, error) {
	n := len(y)
	if err := checkSplits(kf.NSplits, n); err != nil {
		return nil, err
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(kf.RandomSeed), uint64(kf.RandomSeed)))
		r.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	testFold := make([]int, n)
	foldSize, remainder := n/kf.NSplits, n%kf.NSplits
	current := 0
	for f := 0; f < kf.NSplits; f++ {
		size := foldSize
		if f < remainder {
			size++
		}
		for _, idx := range indices[current : current+size] {
			testFold[idx] = f
		}
		current += size
	}
	return foldsFromAssignment(testFold, kf.NSplits, indices), nil
}

// StratifiedKFold は各クラスの比率を保つように分割する。
// クラスは出現順に並べ、ソートしたラベル列を fold に順番に配ったときの件数で割り当てる。
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int { return skf.NSplits }

// Split generates stratified train/test indices for each fold
func (skf *StratifiedKFold) Split(y []float64) ([]Fold, error) {
	n := len(y)
	k := skf.NSplits
	if err := checkSplits(k, n); err != nil {
		return nil, err
	}

	// 出現順のクラス番号に符号化
	order := make(map[float64]int)
	encoded := make([]int, n)
	for i, v := range y {
		c, ok := order[v]
		if !ok {
			c = len(order)
			order[v] = c
		}
		encoded[i] = c
	}
	nClasses := len(order)
	counts := make([]int, nClasses)
	for _, c := range encoded {
		counts[c]++
	}
	minCount, maxCount := n, 0
	for _, c := range counts {
		minCount = min(minCount, c)
		maxCount = max(maxCount, c)
	}
	if k > maxCount {
		return nil, errors.NewValueError("StratifiedKFold.Split", fmt.Sprintf(
			"n_splits=%d cannot be greater than the number of members in each class", k))
	}
	if k > minCount {
		log.GetLoggerWithName("model_selection").Warn(fmt.Sprintf(
			"The least populated class in y has only %d members, which is less than n_splits=%d", minCount, k),
			log.FoldsKey, k)
	}

	sorted := append([]int(nil), encoded...)
	sort.Ints(sorted)
	allocation := make([][]int, k) // allocation[fold][class]
	for f := 0; f < k; f++ {
		allocation[f] = make([]int, nClasses)
		for i := f; i < n; i += k {
			allocation[f][sorted[i]]++
		}
	}

	var r *rand.Rand
	if skf.Shuffle {
		r = rand.New(rand.NewPCG(uint64(skf.RandomSeed), uint64(skf.RandomSeed)))
	}
	testFold := make([]int, n)
	for c := 0; c < nClasses; c++ {
		foldsForClass := make([]int, 0, counts[c])
		for f := 0; f < k; f++ {
			for j := 0; j < allocation[f][c]; j++ {
				foldsForClass = append(foldsForClass, f)
			}
		}
		if r != nil {
			r.Shuffle(len(foldsForClass), func(i, j int) {
				foldsForClass[i], foldsForClass[j] = foldsForClass[j], foldsForClass[i]
			})
		}
		pos := 0
		for i, e := range encoded {
			if e == c {
				testFold[i] = foldsForClass[pos]
				pos++
			}
		}
	}

	identity := make([]int, n)
	for i := range identity {
		identity[i] = i
	}
	return foldsFromAssignment(testFold, k, identity), nil
}

func checkSplits(k, n int) error {
	if k < 2 {
		return errors.NewValidationError("n_splits", "k-fold cross-validation requires at least one train/test split by setting n_splits=2 or more", k)
	}
	if k > n {
		return errors.NewValueError("Split", fmt.Sprintf(
			"Cannot have number of splits n_splits=%d greater than the number of samples: n_samples=%d", k, n))
	}
	return nil
}

// foldsFromAssignment は各サンプルのテスト fold 番号から Fold を組み立てる。
// order の順序でインデックスを並べる。
func foldsFromAssignment(testFold []int, k int, order []int) []Fold {
	folds := make([]Fold, k)
	for _, idx := range order {
		f := testFold[idx]
		folds[f].TestIndices = append(folds[f].TestIndices, idx)
	}
	for f := range folds {
		for i := range testFold {
			if testFold[i] != f {
				folds[f].TrainIndices = append(folds[f].TrainIndices, i)
			}
		}
	}
	return folds
}
