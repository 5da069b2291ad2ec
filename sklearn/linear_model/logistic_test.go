package linear_model

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

func TestLogisticRegression_FitPredict(t *testing.T) {
	tests := []struct {
		name    string
		X       *mat.Dense
		y       []float64
		opts    []LogisticRegressionOption
		minAcc  float64
		logitsK int
	}{
		{
			name: "binary",
			X: mat.NewDense(8, 2, []float64{
				0.5, 0.5, 1, 1.5, 1.5, 1, 0.8, 0.2,
				3, 2.5, 2.5, 3, 3.5, 3.5, 3.2, 3.9,
			}),
			y:       []float64{0, 0, 0, 0, 1, 1, 1, 1},
			minAcc:  1,
			logitsK: 1,
		},
		{
			name: "three classes",
			X: mat.NewDense(9, 2, []float64{
				0, 0, 0, 1, 1, 0,
				4, 4, 4, 5, 5, 4,
				8, 0, 8, 1, 9, 0,
			}),
			y:       []float64{0, 0, 0, 1, 1, 1, 2, 2, 2},
			opts:    []LogisticRegressionOption{WithLRC(10)},
			minAcc:  1,
			logitsK: 3,
		},
		{
			name:    "unregularized",
			X:       mat.NewDense(6, 1, []float64{0, 1, 2, 4, 5, 6}),
			y:       []float64{0, 0, 1, 0, 1, 1},
			opts:    []LogisticRegressionOption{WithLRPenalty("none"), WithLRMaxIter(500)},
			minAcc:  0.6,
			logitsK: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y := mat.NewDense(len(tt.y), 1, tt.y)
			lr := NewLogisticRegression(tt.opts...)
			if err := lr.Fit(tt.X, y); err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			if acc := lr.Score(tt.X, y); acc < tt.minAcc {
				t.Errorf("training accuracy = %v, want >= %v", acc, tt.minAcc)
			}

			nClasses := len(model.UniqueLabels(y))
			proba, err := lr.PredictProba(tt.X)
			if err != nil {
				t.Fatal(err)
			}
			rows, cols := proba.Dims()
			if cols != nClasses {
				t.Fatalf("proba has %d columns, want %d", cols, nClasses)
			}
			for i := 0; i < rows; i++ {
				var sum float64
				for _, p := range mat.Row(nil, i, proba) {
					if p < 0 || p > 1 {
						t.Errorf("row %d has probability %v", i, p)
					}
					sum += p
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("row %d sums to %v", i, sum)
				}
			}

			logits, err := lr.DecisionFunction(tt.X)
			if err != nil {
				t.Fatal(err)
			}
			if _, k := logits.Dims(); k != tt.logitsK {
				t.Errorf("decision function has %d columns, want %d", k, tt.logitsK)
			}
		})
	}
}

func TestLogisticRegression_ProbabilityIsMonotone(t *testing.T) {
	X := mat.NewDense(8, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7})
	y := mat.NewDense(8, 1, []float64{0, 0, 1, 0, 1, 0, 1, 1})
	lr := NewLogisticRegression()
	if err := lr.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	grid := mat.NewDense(5, 1, []float64{-2, 0, 3.5, 7, 9})
	proba, err := lr.PredictProba(grid)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 5; i++ {
		if proba.At(i, 1) <= proba.At(i-1, 1) {
			t.Errorf("P(y=1) should increase with x: %v", mat.Col(nil, 1, proba))
			break
		}
	}
}

func TestLogisticRegression_Regularization(t *testing.T) {
	// 重なりのあるデータ: C を大きくするほど係数のノルムは大きくなる
	X := mat.NewDense(10, 2, []float64{
		0, 1, 1, 0, 2, 2, 3, 1, 4, 0,
		5, 2, 6, 1, 7, 2, 8, 0, 9, 1,
	})
	y := mat.NewDense(10, 1, []float64{0, 0, 1, 0, 0, 1, 1, 0, 1, 1})

	prev := -1.0
	for _, c := range []float64{0.01, 0.1, 1, 10} {
		lr := NewLogisticRegression(WithLRC(c), WithLRMaxIter(1000))
		if err := lr.Fit(X, y); err != nil {
			t.Fatalf("C=%v: %v", c, err)
		}
		var norm float64
		for _, w := range lr.coef_[0] {
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm <= prev {
			t.Errorf("C=%v: coefficient norm %v should exceed %v", c, norm, prev)
		}
		prev = norm
	}
}

func TestLogisticRegression_GetSetParams(t *testing.T) {
	lr := NewLogisticRegression()
	params := lr.GetParams()
	if params["C"] != 1.0 || params["max_iter"] != 100 || params["penalty"] != "l2" || params["solver"] != "lbfgs" {
		t.Errorf("unexpected defaults: %v", params)
	}

	if err := lr.SetParams(map[string]interface{}{
		"C":             2.0,
		"max_iter":      200,
		"penalty":       "none",
		"tol":           1e-5,
		"fit_intercept": false,
	}); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	got := lr.GetParams()
	want := map[string]interface{}{"C": 2.0, "max_iter": 200, "penalty": "none", "tol": 1e-5, "fit_intercept": false}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %#v, want %#v", k, got[k], v)
		}
	}
}

func TestLogisticRegression_NotFitted(t *testing.T) {
	lr := NewLogisticRegression()
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if _, err := lr.Predict(X); err == nil {
		t.Error("Predict before Fit should fail")
	}
	if _, err := lr.PredictProba(X); err == nil {
		t.Error("PredictProba before Fit should fail")
	}
	var nf *errors.NotFittedError
	if _, err := lr.DecisionFunction(X); !errors.As(err, &nf) {
		t.Errorf("DecisionFunction before Fit: got %v, want NotFittedError", err)
	}
}

// TestLogisticRegression_SetParamsFromConfig は設定ファイル由来の型を受け付けることを確認
func TestLogisticRegression_SetParamsFromConfig(t *testing.T) {
	lr := NewLogisticRegression()
	// YAML では整数の C や浮動小数点の max_iter が届く
	if err := lr.SetParams(map[string]interface{}{"C": 3, "max_iter": 50.0}); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	if lr.C != 3.0 || lr.maxIter != 50 {
		t.Errorf("unexpected params: C=%v max_iter=%v", lr.C, lr.maxIter)
	}

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"unknown key", map[string]interface{}{"alpha": 1.0}},
		{"non integral max_iter", map[string]interface{}{"max_iter": 1.5}},
		{"unsupported solver", map[string]interface{}{"solver": "saga"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewLogisticRegression().SetParams(tt.params); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLogisticRegression_InvalidPenalty(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	lr := NewLogisticRegression(WithLRPenalty("l1"))
	if err := lr.Fit(X, y); err == nil {
		t.Error("expected validation error for l1 penalty")
	}
}

func TestLogisticRegression_SingleClass(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{0, 1, 2})
	y := mat.NewDense(3, 1, []float64{1, 1, 1})
	if err := NewLogisticRegression().Fit(X, y); err == nil {
		t.Error("expected error for single class target")
	}
}

func TestLogisticRegression_ConvergenceWarning(t *testing.T) {
	var warnings []error
	errors.SetZerologWarnFunc(func(w error) { warnings = append(warnings, w) })
	defer errors.SetZerologWarnFunc(nil)

	X := mat.NewDense(6, 2, []float64{
		0.5, 0.5,
		1.0, 1.5,
		1.5, 1.0,
		3.0, 2.5,
		2.5, 3.0,
		3.5, 3.5,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	lr := NewLogisticRegression(WithLRMaxIter(1), WithLRTol(0))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	found := false
	for _, w := range warnings {
		var cw *errors.ConvergenceWarning
		if errors.As(w, &cw) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ConvergenceWarning, got %v", warnings)
	}
}

func TestLogisticRegression_NonContiguousLabels(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 0.5, 1, 5, 5.5, 6})
	y := mat.NewDense(6, 1, []float64{2, 2, 2, 7, 7, 7})
	lr := NewLogisticRegression(WithLRC(10))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	classes := lr.Classes()
	if len(classes) != 2 || classes[0] != 2 || classes[1] != 7 {
		t.Fatalf("unexpected classes: %v", classes)
	}
	pred, _ := lr.Predict(X)
	for i := 0; i < 6; i++ {
		if pred.At(i, 0) != y.At(i, 0) {
			t.Errorf("sample %d: expected %v, got %v", i, y.At(i, 0), pred.At(i, 0))
		}
	}
}

func TestLogisticRegression_GobRoundTrip(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0, 0, 1, 1, 0,
		2, 2, 2, 3, 3, 2,
		4, 4, 4, 5, 5, 4,
	})
	y := mat.NewDense(9, 1, []float64{0, 0, 0, 1, 1, 1, 2, 2, 2})
	lr := NewLogisticRegression(WithLRC(10))
	if err := lr.Fit(X, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	var buf bytes.Buffer
	var est model.Estimator = lr
	if err := gob.NewEncoder(&buf).Encode(&est); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var loaded model.Estimator
	if err := gob.NewDecoder(&buf).Decode(&loaded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	want, _ := lr.PredictProba(X)
	got, err := loaded.(model.Classifier).PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba after decode failed: %v", err)
	}
	if !mat.Equal(want, got) {
		t.Error("probabilities changed after gob round trip")
	}
}

func TestLogisticRegression_Clone(t *testing.T) {
	lr := NewLogisticRegression(WithLRC(5), WithLRMaxIter(300))
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	if err := lr.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	c := lr.Clone().(*LogisticRegression)
	if c.IsFitted() {
		t.Error("clone must be unfitted")
	}
	if c.C != 5 || c.maxIter != 300 {
		t.Errorf("clone lost hyperparameters: %v", c.GetParams())
	}
}
