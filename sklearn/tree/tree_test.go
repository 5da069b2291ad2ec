package tree

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
)

type labeled struct {
	X *mat.Dense
	y *mat.Dense
}

func dataset2D(labels []float64, xy ...float64) labeled {
	return labeled{
		X: mat.NewDense(len(labels), 2, xy),
		y: mat.NewDense(len(labels), 1, labels),
	}
}

func TestDecisionTreeClassifier_FitPredict(t *testing.T) {
	datasets := map[string]labeled{
		"two blobs": dataset2D([]float64{0, 0, 0, 1, 1, 1},
			0, 0, 0, 1, 1, 0, 2, 2, 2, 3, 3, 2),
		// 2つの特徴量が揃っているかどうかで決まる
		"xor": dataset2D([]float64{0, 0, 1, 1, 1, 1, 0, 0},
			0, 0, 0, 0.1, 0.1, 1, 0, 0.9, 1, 0, 0.9, 0, 1, 1, 0.9, 0.9),
		"three clusters": dataset2D([]float64{0, 0, 0, 1, 1, 1, 2, 2, 2},
			0, 0, 0, 1, 1, 0, 3, 3, 3, 4, 4, 3, 6, 6, 6, 7, 7, 6),
	}

	for name, d := range datasets {
		for _, criterion := range []string{"gini", "entropy"} {
			t.Run(name+"/"+criterion, func(t *testing.T) {
				dt := NewDecisionTreeClassifier(WithCriterion(criterion), WithMaxDepth(5))
				if err := dt.Fit(d.X, d.y); err != nil {
					t.Fatalf("Fit failed: %v", err)
				}
				if score := dt.Score(d.X, d.y); score != 1 {
					t.Errorf("training accuracy = %v, want 1", score)
				}

				nClasses := len(model.UniqueLabels(d.y))
				if got := len(dt.Classes()); got != nClasses {
					t.Errorf("Classes() has %d entries, want %d", got, nClasses)
				}
				proba, err := dt.PredictProba(d.X)
				if err != nil {
					t.Fatal(err)
				}
				rows, cols := proba.Dims()
				if cols != nClasses {
					t.Fatalf("proba has %d columns, want %d", cols, nClasses)
				}
				for i := 0; i < rows; i++ {
					row := mat.Row(nil, i, proba)
					var sum float64
					best := 0
					for j, p := range row {
						sum += p
						if p > row[best] {
							best = j
						}
					}
					if math.Abs(sum-1) > 1e-9 {
						t.Errorf("row %d sums to %v", i, sum)
					}
					if float64(best) != d.y.At(i, 0) {
						t.Errorf("row %d: argmax %d, label %v", i, best, d.y.At(i, 0))
					}
				}
			})
		}
	}
}

func TestDecisionTreeClassifier_Generalizes(t *testing.T) {
	d := dataset2D([]float64{0, 0, 0, 0, 1, 1, 1, 1},
		0, 0, 0, 1, 1, 0, 1, 1, 3, 3, 3, 4, 4, 3, 4, 4)
	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(d.X, d.y); err != nil {
		t.Fatal(err)
	}
	pred, err := dt.Predict(mat.NewDense(3, 2, []float64{0.5, 0.5, 3.5, 3.5, -1, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if got := mat.Col(nil, 0, pred); got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Errorf("predictions on unseen points = %v, want [0 1 0]", got)
	}
	if _, err := dt.Predict(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected error for wrong feature count")
	}
}

func TestDecisionTreeClassifier_PredictManyRows(t *testing.T) {
	d := dataset2D([]float64{0, 0, 0, 0, 1, 1, 1, 1},
		0, 0, 0, 1, 1, 0, 1, 1, 3, 3, 3, 4, 4, 3, 4, 4)
	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(d.X, d.y); err != nil {
		t.Fatal(err)
	}

	n := 3 * parallelApplyRows
	X := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		v := float64(i%5) - 0.5
		X.Set(i, 0, v)
		X.Set(i, 1, v)
	}
	pred, err := dt.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		one, err := dt.Predict(X.Slice(i, i+1, 0, 2))
		if err != nil {
			t.Fatal(err)
		}
		if pred.At(i, 0) != one.At(0, 0) {
			t.Fatalf("row %d: batch %v, single %v", i, pred.At(i, 0), one.At(0, 0))
		}
	}
}

func TestDecisionTreeClassifier_FeatureImportance(t *testing.T) {
	// 2列目だけがラベルを決め、他の列はノイズ
	X := mat.NewDense(8, 3, []float64{
		1, 0, 0,
		0, 0, 1,
		1, 0, 1,
		0, 0, 0,
		1, 1, 0,
		0, 1, 1,
		1, 1, 1,
		0, 1, 0,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})

	dt := NewDecisionTreeClassifier()
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	imp := dt.GetFeatureImportances()
	if len(imp) != 3 {
		t.Fatalf("got %d importances, want 3", len(imp))
	}
	if imp[1] != 1 || imp[0] != 0 || imp[2] != 0 {
		t.Errorf("a single perfect split should take all importance, got %v", imp)
	}
}

func TestDecisionTreeClassifier_Constraints(t *testing.T) {
	// 偶奇で交互に並ぶラベルは制約がなければ葉が n 個になる
	n := 16
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%4))
		y.Set(i, 0, float64(i%2))
	}

	tests := []struct {
		name      string
		opts      []Option
		maxDepth  int
		maxLeaves int
	}{
		{"unlimited", nil, n, n},
		{"max depth 1", []Option{WithMaxDepth(1)}, 1, 2},
		{"max depth 2", []Option{WithMaxDepth(2)}, 2, 4},
		{"min samples split", []Option{WithMinSamplesSplit(n)}, 1, 2},
		{"min samples leaf", []Option{WithMinSamplesLeaf(4)}, n, n / 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDecisionTreeClassifier(tt.opts...)
			if err := dt.Fit(X, y); err != nil {
				t.Fatal(err)
			}
			if d := dt.GetDepth(); d > tt.maxDepth {
				t.Errorf("depth = %d, want <= %d", d, tt.maxDepth)
			}
			if l := dt.GetNLeaves(); l > tt.maxLeaves {
				t.Errorf("leaves = %d, want <= %d", l, tt.maxLeaves)
			}
		})
	}
}

func TestDecisionTreeClassifier_GetSetParams(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	params := dt.GetParams()
	if params["criterion"] != "gini" || params["min_samples_split"] != 2 || params["min_samples_leaf"] != 1 {
		t.Errorf("unexpected defaults: %v", params)
	}

	tests := []struct {
		name    string
		params  map[string]interface{}
		key     string
		want    interface{}
		wantErr bool
	}{
		{"criterion", map[string]interface{}{"criterion": "entropy"}, "criterion", "entropy", false},
		{"max depth from float", map[string]interface{}{"max_depth": 5.0}, "max_depth", 5, false},
		{"max depth none", map[string]interface{}{"max_depth": nil}, "max_depth", 0, false},
		{"min samples split", map[string]interface{}{"min_samples_split": 4}, "min_samples_split", 4, false},
		{"max features int", map[string]interface{}{"max_features": 3}, "max_features", "3", false},
		{"max features fraction", map[string]interface{}{"max_features": 0.5}, "max_features", "0.5", false},
		{"random state", map[string]interface{}{"random_state": 7}, "random_state", int64(7), false},
		{"unknown", map[string]interface{}{"splitter": "best"}, "", nil, true},
		{"wrong type", map[string]interface{}{"min_samples_leaf": "two"}, "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDecisionTreeClassifier()
			err := dt.SetParams(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := dt.GetParams()[tt.key]; got != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.key, got, tt.want)
			}
		})
	}
}

func TestDecisionTreeClassifier_NotFitted(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if _, err := dt.Predict(X); err == nil {
		t.Error("Predict before Fit should fail")
	}
	if _, err := dt.PredictProba(X); err == nil {
		t.Error("PredictProba before Fit should fail")
	}
	if dt.IsFitted() {
		t.Error("new tree must not be fitted")
	}
}

// TestDecisionTreeClassifier_SampleWeight tests that zero-weight samples are ignored
func TestDecisionTreeClassifier_SampleWeight(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	dt := NewDecisionTreeClassifier(WithRandomState(0))
	// クラス 1 のサンプルを重み 0 にすると、木は単一の葉になる
	if err := dt.FitWeighted(X, y, []float64{1, 2, 0, 0}, []float64{0, 1}); err != nil {
		t.Fatalf("FitWeighted failed: %v", err)
	}
	if dt.GetNLeaves() != 1 {
		t.Errorf("expected a single leaf, got %d", dt.GetNLeaves())
	}
	probas, err := dt.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if _, cols := probas.Dims(); cols != 2 {
		t.Errorf("expected 2 probability columns from explicit classes, got %d", cols)
	}
	if probas.At(3, 0) != 1 || probas.At(3, 1) != 0 {
		t.Errorf("unexpected probabilities: %v", mat.Row(nil, 3, probas))
	}

	if err := dt.FitWeighted(X, y, []float64{0, 0, 0, 0}, nil); err == nil {
		t.Error("expected error for all-zero weights")
	}
	if err := dt.FitWeighted(X, y, []float64{1, -1, 1, 1}, nil); err == nil {
		t.Error("expected error for negative weights")
	}
}

func TestResolveMaxFeatures(t *testing.T) {
	tests := []struct {
		value   string
		n       int
		want    int
		wantErr bool
	}{
		{"", 10, 10, false},
		{"sqrt", 10, 3, false},
		{"sqrt", 1, 1, false},
		{"log2", 10, 3, false},
		{"4", 10, 4, false},
		{"40", 10, 10, false},
		{"0.5", 10, 5, false},
		{"0.01", 10, 1, false},
		{"0", 10, 0, true},
		{"1.5", 10, 0, true},
		{"cube", 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := resolveMaxFeatures(tt.value, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// TestDecisionTreeClassifier_RandomStateReproducible tests deterministic trees for a fixed seed
func TestDecisionTreeClassifier_RandomStateReproducible(t *testing.T) {
	X := mat.NewDense(30, 4, nil)
	y := mat.NewDense(30, 1, nil)
	for i := 0; i < 30; i++ {
		for j := 0; j < 4; j++ {
			X.Set(i, j, math.Mod(float64(i*(j+3)), 7))
		}
		y.Set(i, 0, float64(i%3))
	}

	fit := func() *DecisionTreeClassifier {
		dt := NewDecisionTreeClassifier(WithMaxFeatures("sqrt"), WithRandomState(7))
		if err := dt.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		return dt
	}
	a, b := fit(), fit()
	if a.NodeCount() != b.NodeCount() {
		t.Fatalf("node count differs: %d vs %d", a.NodeCount(), b.NodeCount())
	}
	for i := range a.nodes {
		if a.nodes[i].Feature != b.nodes[i].Feature || a.nodes[i].Threshold != b.nodes[i].Threshold {
			t.Fatalf("node %d differs", i)
		}
	}
}

func TestDecisionTreeClassifier_InvalidParams(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	y := mat.NewDense(2, 1, []float64{0, 1})
	tests := []struct {
		name string
		opt  Option
	}{
		{"criterion", WithCriterion("mse")},
		{"min_samples_split", WithMinSamplesSplit(1)},
		{"min_samples_leaf", WithMinSamplesLeaf(0)},
		{"max_features", WithMaxFeatures("many")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewDecisionTreeClassifier(tt.opt).Fit(X, y); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := NewDecisionTreeClassifier().SetParams(map[string]interface{}{"splitter": "random"}); err == nil {
		t.Error("expected error for unknown parameter")
	}
}

func TestDecisionTreeClassifier_GobRoundTrip(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0, 0, 1, 1, 0,
		3, 3, 3, 4, 4, 3,
		6, 6, 6, 7, 7, 6,
	})
	y := mat.NewDense(9, 1, []float64{0, 0, 0, 1, 1, 1, 2, 2, 2})
	dt := NewDecisionTreeClassifier(WithRandomState(1))
	if err := dt.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	var est model.Estimator = dt
	if err := gob.NewEncoder(&buf).Encode(&est); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var loaded model.Estimator
	if err := gob.NewDecoder(&buf).Decode(&loaded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want, _ := dt.PredictProba(X)
	got, err := loaded.(model.Classifier).PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("probabilities changed after gob round trip")
	}
	if loaded.GetParams()["random_state"] != int64(1) {
		t.Errorf("random_state lost: %v", loaded.GetParams())
	}
}

func BenchmarkDecisionTreeFit(b *testing.B) {
	X := mat.NewDense(500, 10, nil)
	y := mat.NewDense(500, 1, nil)
	for i := 0; i < 500; i++ {
		for j := 0; j < 10; j++ {
			X.Set(i, j, math.Sin(float64(i*(j+1))))
		}
		if X.At(i, 0)+X.At(i, 1) > 0 {
			y.Set(i, 0, 1)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = NewDecisionTreeClassifier(WithRandomState(0)).Fit(X, y)
	}
}
