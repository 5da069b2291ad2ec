package trainer

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YuminosukeSato/scitrain/config"
	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/report"
)

var cities = []string{"Tokyo", "Osaka", "Nagoya"}

// classificationCSV は年齢が50以上なら 1 になる2値分類のデータ
func classificationCSV(n int) string {
	var b strings.Builder
	b.WriteString("age,city,target\n")
	for i := 0; i < n; i++ {
		age := 20 + (i*37)%60
		label := 0
		if age >= 50 {
			label = 1
		}
		city := cities[i%len(cities)]
		if i%11 == 0 {
			city = ""
		}
		fmt.Fprintf(&b, "%d,%s,%d\n", age, city, label)
	}
	return b.String()
}

// regressionCSV は y = 3x + 5 (Osaka) + わずかな揺らぎ
func regressionCSV(n int) string {
	var b strings.Builder
	b.WriteString("x,city,y\n")
	for i := 0; i < n; i++ {
		x := float64(i) / 4
		city := cities[i%len(cities)]
		y := 3*x + 0.01*math.Sin(float64(i))
		if city == "Osaka" {
			y += 5
		}
		fmt.Fprintf(&b, "%g,%s,%g\n", x, city, y)
	}
	return b.String()
}

func readTable(t *testing.T, src string) *dataset.Table {
	t.Helper()
	tbl, err := dataset.ReadCSV(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Classification(t *testing.T) {
	input := writeFile(t, "train.csv", classificationCSV(60))
	dir := t.TempDir()
	output := filepath.Join(dir, "model.gob")
	cfg := config.Default()
	cfg.MetricsFile = filepath.Join(dir, "metrics.prom")
	cfg.PlotFile = filepath.Join(dir, "f1.png")

	var stdout bytes.Buffer
	res, err := Run(context.Background(), Job{
		Task:      Classification,
		Algorithm: "random_forest",
		Target:    "target",
		Config:    cfg,
	}, input, output, &stdout)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	values, err := report.ParseOutput(&stdout)
	if err != nil {
		t.Fatalf("stdout is not parseable: %v\n%s", err, stdout.String())
	}
	for _, name := range []string{"Accuracy", "Precision", "Recall", "F1-score"} {
		v, ok := values[name]
		if !ok {
			t.Errorf("missing %s line", name)
			continue
		}
		if v < 0 || v > 1 {
			t.Errorf("%s = %v out of [0, 1]", name, v)
		}
	}
	if res.Summary.TestSamples != 12 || res.Summary.TrainSamples != 48 {
		t.Errorf("split sizes = %d/%d", res.Summary.TrainSamples, res.Summary.TestSamples)
	}
	if _, ok := res.Summary.Get("roc_auc"); !ok {
		t.Error("binary task should report roc_auc")
	}
	if got := res.Artifact.Meta.Classes; len(got) != 2 || got[0] != "0" || got[1] != "1" {
		t.Errorf("classes = %v", got)
	}
	if w, _ := res.Artifact.Meta.ModelWeights(); w != nil {
		t.Error("random forest has no linear weights")
	}

	for _, p := range []string{output, cfg.MetricsFile, cfg.PlotFile} {
		info, err := os.Stat(p)
		if err != nil {
			t.Errorf("%s not written: %v", p, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", p)
		}
	}
}

func TestRun_Regression(t *testing.T) {
	input := writeFile(t, "train.csv", regressionCSV(50))
	output := filepath.Join(t.TempDir(), "model.gob")

	var stdout bytes.Buffer
	res, err := Run(context.Background(), Job{
		Task:      Regression,
		Algorithm: "linear_regression",
		Target:    "y",
		Config:    config.Default(),
	}, input, output, &stdout)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 metric lines, got %q", stdout.String())
	}
	for i, prefix := range []string{"RMSE: ", "MAE: ", "R2 Score: "} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	r2, _ := res.Summary.Get("r2")
	if r2 < 0.99 {
		t.Errorf("R2 = %v, want near 1", r2)
	}
	if res.ClassReport != nil {
		t.Error("regression must not produce a class report")
	}

	w, err := res.Artifact.Meta.ModelWeights()
	if err != nil || w == nil {
		t.Fatalf("ModelWeights() = %v, %v", w, err)
	}
	if w.ModelType != "LinearRegression" || len(w.Features) != len(w.Coefficients) {
		t.Errorf("weights = %+v", w)
	}
	if len(w.Features) != len(res.Artifact.Meta.EncodedFeatures) {
		t.Errorf("weight features %v, encoded %v", w.Features, res.Artifact.Meta.EncodedFeatures)
	}
}

func TestTrain_SupportVectorMachine(t *testing.T) {
	tbl := readTable(t, regressionCSV(40))
	res, err := Train(context.Background(), tbl, Job{
		Task:      Regression,
		Algorithm: "svr",
		Target:    "y",
		Config:    config.Default(),
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if res.Summary.Algorithm != "support_vector_machine" {
		t.Errorf("algorithm = %q", res.Summary.Algorithm)
	}
	if _, ok := res.Summary.Get("rmse"); !ok {
		t.Error("missing rmse")
	}
}

func TestTrain_Deterministic(t *testing.T) {
	tbl := readTable(t, classificationCSV(60))
	job := Job{Task: Classification, Algorithm: "random_forest", Target: "target", Config: config.Default()}

	a, err := Train(context.Background(), tbl, job)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Train(context.Background(), tbl, job)
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(a.TestIndices) != fmt.Sprint(b.TestIndices) {
		t.Errorf("test split differs: %v vs %v", a.TestIndices, b.TestIndices)
	}
	if fmt.Sprint(a.Predictions) != fmt.Sprint(b.Predictions) {
		t.Errorf("predictions differ: %v vs %v", a.Predictions, b.Predictions)
	}
	for _, m := range a.Summary.Metrics {
		if v, _ := b.Summary.Get(m.Key); v != m.Value {
			t.Errorf("%s differs: %v vs %v", m.Name, m.Value, v)
		}
	}
	if a.Summary.RunID == b.Summary.RunID {
		t.Error("run ids must be unique")
	}
}

func TestTrain_ParamGrid(t *testing.T) {
	tbl := readTable(t, classificationCSV(60))
	cfg := config.Default()
	cfg.Folds = 3
	cfg.ParamGrid = map[string][]interface{}{
		"C":                []interface{}{0.1, 10.0},
		"classifier__tol": []interface{}{1e-4},
	}
	res, err := Train(context.Background(), tbl, Job{
		Task: Classification, Algorithm: "logistic_regression", Target: "target", Config: cfg,
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if n := len(res.Search.CVResults.Params); n != 2 {
		t.Errorf("candidates = %d, want 2", n)
	}
	params := res.Artifact.Meta.BestParams
	if _, ok := params["classifier__C"]; !ok {
		t.Errorf("best params = %v", params)
	}
	if _, ok := params["classifier__tol"]; !ok {
		t.Errorf("best params = %v", params)
	}
}

func TestArtifact_RoundTrip(t *testing.T) {
	tbl := readTable(t, classificationCSV(60))
	res, err := Train(context.Background(), tbl, Job{
		Task: Classification, Algorithm: "logistic_regression", Target: "target", Config: config.Default(),
	})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.gob")
	if err := res.Artifact.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if loaded.Meta.RunID != res.Summary.RunID || loaded.Meta.Algorithm != "logistic_regression" {
		t.Errorf("meta = %+v", loaded.Meta)
	}

	test := tbl.Drop("target").Take(res.TestIndices)
	got, err := loaded.Predict(test)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != res.Predictions[i] {
			t.Fatalf("prediction %d = %v, want %v", i, got[i], res.Predictions[i])
		}
	}

	if err := (&Artifact{}).Save(path); err == nil {
		t.Error("saving an artifact without pipeline should fail")
	}
	if _, err := LoadArtifact(filepath.Join(t.TempDir(), "missing.gob")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTrain_Errors(t *testing.T) {
	cls := readTable(t, classificationCSV(30))
	reg := readTable(t, "x,label\n1,a\n2,b\n3,a\n4,b\n5,a\n6,b\n7,a\n8,b\n9,a\n10,b\n")
	bad := config.Default()
	bad.Folds = 1

	tests := []struct {
		name  string
		table *dataset.Table
		job   Job
		check func(error) bool
	}{
		{
			name:  "missing target column",
			table: cls,
			job:   Job{Task: Classification, Algorithm: "random_forest", Target: "label"},
			check: func(err error) bool {
				var e *errors.ColumnNotFoundError
				return errors.As(err, &e) && e.Column == "label"
			},
		},
		{
			name:  "unknown algorithm",
			table: cls,
			job:   Job{Task: Classification, Algorithm: "random_forst", Target: "target"},
			check: func(err error) bool {
				var e *errors.UnsupportedAlgorithmError
				return errors.As(err, &e) && e.Suggestion == "random_forest"
			},
		},
		{
			name:  "algorithm of the other task",
			table: cls,
			job:   Job{Task: Classification, Algorithm: "linear_regression", Target: "target"},
			check: func(err error) bool {
				var e *errors.UnsupportedAlgorithmError
				return errors.As(err, &e)
			},
		},
		{
			name:  "categorical regression target",
			table: reg,
			job:   Job{Task: Regression, Algorithm: "linear_regression", Target: "label"},
			check: func(err error) bool {
				var e *errors.ValidationError
				return errors.As(err, &e)
			},
		},
		{
			name:  "invalid config",
			table: cls,
			job:   Job{Task: Classification, Algorithm: "random_forest", Target: "target", Config: bad},
			check: func(err error) bool {
				var e *errors.ValidationError
				return errors.As(err, &e)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Train(context.Background(), tt.table, tt.job)
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRun_BadInput(t *testing.T) {
	job := Job{Task: Classification, Algorithm: "random_forest", Target: "target"}
	var stdout bytes.Buffer
	if _, err := Run(context.Background(), job, filepath.Join(t.TempDir(), "data.json"), "out.gob", &stdout); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if stdout.Len() != 0 {
		t.Errorf("nothing should be printed on failure, got %q", stdout.String())
	}
}

func TestTrain_Canceled(t *testing.T) {
	tbl := readTable(t, classificationCSV(60))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, tbl, Job{Task: Classification, Algorithm: "random_forest", Target: "target"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
