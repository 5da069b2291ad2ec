package pipeline

import (
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/preprocessing"
	"github.com/YuminosukeSato/scitrain/sklearn/ensemble"
	"github.com/YuminosukeSato/scitrain/sklearn/linear_model"
)

func mixedTable(t *testing.T) (*dataset.Table, *dataset.Column) {
	t.Helper()
	age := []float64{22, 35, math.NaN(), 41, 29, 50, 33, 27, 45, 38}
	city := []string{"Tokyo", "Osaka", "Tokyo", "", "Osaka", "Nagoya", "Tokyo", "Osaka", "Nagoya", "Tokyo"}
	target := []string{"no", "yes", "no", "yes", "no", "yes", "no", "no", "yes", "yes"}
	tbl, err := dataset.NewTable(
		dataset.NewNumericColumn("age", age),
		dataset.NewCategoricalColumn("city", city),
	)
	if err != nil {
		t.Fatal(err)
	}
	return tbl, dataset.NewCategoricalColumn("target", target)
}

func encodeTarget(t *testing.T, c *dataset.Column) (*preprocessing.LabelEncoder, *mat.Dense) {
	t.Helper()
	le := preprocessing.NewLabelEncoder()
	codes, err := le.FitTransform(c)
	if err != nil {
		t.Fatal(err)
	}
	return le, mat.NewDense(len(codes), 1, codes)
}

func TestPipeline_FitPredict(t *testing.T) {
	tbl, target := mixedTable(t)
	le, y := encodeTarget(t, target)
	p := New(preprocessing.NewColumnTransformer(), StepClassifier,
		ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(10), ensemble.WithRandomState(0))).WithLabelEncoder(le)

	if p.IsFitted() {
		t.Error("new pipeline must not be fitted")
	}
	if err := p.Fit(context.Background(), tbl, y); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !p.IsFitted() {
		t.Error("pipeline should be fitted")
	}
	want := []string{"age", "city_Nagoya", "city_Osaka", "city_Tokyo"}
	got := p.FeatureNames()
	if len(got) != len(want) {
		t.Fatalf("FeatureNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FeatureNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	labels, err := p.PredictLabels(tbl)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range labels {
		if l != "no" && l != "yes" {
			t.Errorf("unexpected label %q", l)
		}
	}
	proba, err := p.PredictProba(tbl)
	if err != nil {
		t.Fatal(err)
	}
	if _, cols := proba.Dims(); cols != 2 {
		t.Errorf("expected 2 probability columns, got %d", cols)
	}
}

func TestPipeline_Params(t *testing.T) {
	p := New(preprocessing.NewColumnTransformer(), StepRegressor, linear_model.NewLinearRegression())
	if p.GetParams()["regressor__fit_intercept"] != true {
		t.Errorf("unexpected params: %v", p.GetParams())
	}

	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr bool
	}{
		{"prefixed", map[string]interface{}{"regressor__fit_intercept": false}, false},
		{"empty", nil, false},
		{"missing prefix", map[string]interface{}{"fit_intercept": false}, true},
		{"wrong step", map[string]interface{}{"classifier__fit_intercept": false}, true},
		{"empty name", map[string]interface{}{"regressor__": false}, true},
		{"unknown param", map[string]interface{}{"regressor__alpha": 1.0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Clone().SetParams(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := p.PredictProba(nil); err == nil {
		t.Error("regressor pipeline must not support PredictProba")
	}
	if _, err := p.PredictLabels(nil); err == nil {
		t.Error("pipeline without label encoder must not support PredictLabels")
	}
}

func TestPipeline_GobRoundTrip(t *testing.T) {
	tbl, target := mixedTable(t)
	le, y := encodeTarget(t, target)
	p := New(preprocessing.NewColumnTransformer(), StepClassifier, linear_model.NewLogisticRegression()).WithLabelEncoder(le)
	if err := p.Fit(context.Background(), tbl, y); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var loaded Pipeline
	if err := gob.NewDecoder(&buf).Decode(&loaded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want, _ := p.Predict(tbl)
	got, err := loaded.Predict(tbl)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("predictions changed after gob round trip")
	}
}

func TestPipeline_Canceled(t *testing.T) {
	tbl, target := mixedTable(t)
	_, y := encodeTarget(t, target)
	p := New(preprocessing.NewColumnTransformer(), StepClassifier, linear_model.NewLogisticRegression())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Fit(ctx, tbl, y); err == nil {
		t.Error("expected error for canceled context")
	}
}
