package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.TestSize != 0.2 || cfg.RandomSeed != 42 || cfg.Folds != 5 || cfg.NJobs != 1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.ParamGrid) != 0 {
		t.Error("default grid must be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must be valid: %v", err)
	}
}

func TestDecode(t *testing.T) {
	src := `
test_size: 0.3
folds: 3
n_jobs: -1
param_grid:
  n_estimators: [100, 200]
  max_features: [sqrt, 0.5]
columns:
  categorical: [zip]
  fallback: true
`
	cfg, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if cfg.TestSize != 0.3 || cfg.Folds != 3 || cfg.NJobs != -1 {
		t.Errorf("values not applied: %+v", cfg)
	}
	// 指定されなかった値は既定のまま
	if cfg.RandomSeed != 42 || cfg.LogLevel != "info" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if got := cfg.ParamGrid["n_estimators"]; len(got) != 2 || got[0] != 100 {
		t.Errorf("param_grid.n_estimators = %#v", got)
	}
	if got := cfg.ParamGrid["max_features"]; got[0] != "sqrt" || got[1] != 0.5 {
		t.Errorf("param_grid.max_features = %#v", got)
	}
	if cfg.Columns.IsZero() || !cfg.Columns.Fallback || cfg.Columns.Categorical[0] != "zip" {
		t.Errorf("columns = %+v", cfg.Columns)
	}

	empty, err := Decode(strings.NewReader(""))
	if err != nil || empty.Folds != 5 {
		t.Errorf("empty document should give defaults: %+v (%v)", empty, err)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown key", "tests_size: 0.2\n"},
		{"test size too large", "test_size: 1.0\n"},
		{"test size zero", "test_size: 0\n"},
		{"one fold", "folds: 1\n"},
		{"zero jobs", "n_jobs: 0\n"},
		{"bad jobs", "n_jobs: -2\n"},
		{"bad level", "log_level: verbose\n"},
		{"empty grid axis", "param_grid:\n  C: []\n"},
		{"malformed", "folds: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.src)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.yaml")
	if err := os.WriteFile(path, []byte("random_seed: 7\nlog_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RandomSeed != 7 || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := Decode(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("re-decode failed: %v\n%s", err, out)
	}
	if again.RandomSeed != 7 || again.Folds != cfg.Folds {
		t.Errorf("YAML round trip mismatch: %+v", again)
	}
}
