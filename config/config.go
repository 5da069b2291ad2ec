// Package config は学習の実行設定 (分割比率、シード、fold 数、グリッドなど) を扱います。
//
// 設定は Default() から始まり、YAML ファイル、CLI フラグの順に上書きされます。
//
//	test_size: 0.2
//	random_seed: 42
//	folds: 5
//	n_jobs: 4
//	param_grid:
//	  n_estimators: [100, 200]
//	  min_samples_split: [5, 10]
package config

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
)

// デフォルト値
const (
	DefaultTestSize = 0.2
	DefaultSeed     = 42
	DefaultFolds    = 5
	DefaultNJobs    = 1
)

// Columns は特徴量列の役割を明示する設定。空の場合は列の型で振り分ける。
type Columns struct {
	Numeric     []string `yaml:"numeric,omitempty"`
	Categorical []string `yaml:"categorical,omitempty"`
	// Fallback が true の場合、指定されなかった列は型で振り分ける
	Fallback bool `yaml:"fallback,omitempty"`
}

// IsZero は列の指定がないかどうかを返す
func (c Columns) IsZero() bool {
	return len(c.Numeric) == 0 && len(c.Categorical) == 0
}

// Config は1回の学習の設定
type Config struct {
	TestSize   float64 `yaml:"test_size"`
	RandomSeed int64   `yaml:"random_seed"`
	Folds      int     `yaml:"folds"`
	// NJobs は並列数。-1 は全CPU。
	NJobs    int    `yaml:"n_jobs"`
	LogLevel string `yaml:"log_level"`

	// Scoring は空の場合タスクの既定 (accuracy / neg_mean_squared_error)
	Scoring string `yaml:"scoring,omitempty"`

	// ParamGrid は推定器のパラメータ名 (接頭辞 "classifier__" / "regressor__" は省略可) ごとの候補値
	ParamGrid map[string][]interface{} `yaml:"param_grid,omitempty"`

	Columns Columns `yaml:"columns,omitempty"`

	// IncludeBoolean が true の場合、真偽値列を数値列として扱う
	IncludeBoolean bool `yaml:"include_boolean,omitempty"`

	MetricsFile string `yaml:"metrics_file,omitempty"`
	PlotFile    string `yaml:"plot_file,omitempty"`
}

// Default は既定の設定を返す
func Default() *Config {
	return &Config{
		TestSize:   DefaultTestSize,
		RandomSeed: DefaultSeed,
		Folds:      DefaultFolds,
		NJobs:      DefaultNJobs,
		LogLevel:   "info",
	}
}

// Load は YAML ファイルを読み込み、Default() の値を上書きした設定を返す
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Decode は r から YAML を読み込む。未知のキーはエラーになる。
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の範囲を検証する
func (c *Config) Validate() error {
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return errors.NewValidationError("test_size", "must be in (0, 1)", c.TestSize)
	}
	if c.Folds < 2 {
		return errors.NewValidationError("folds", "must be at least 2", c.Folds)
	}
	if c.NJobs == 0 || c.NJobs < -1 {
		return errors.NewValidationError("n_jobs", "must be positive or -1", c.NJobs)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for k, v := range c.ParamGrid {
		if len(v) == 0 {
			return errors.NewValidationError("param_grid."+k, "must be a non-empty list", v)
		}
	}
	return nil
}

// Level は LogLevel を log.Level に変換する
func (c *Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

// YAML は設定を YAML にエンコードする
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "encode yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode yaml")
	}
	return buf.Bytes(), nil
}
