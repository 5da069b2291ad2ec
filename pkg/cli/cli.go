// Package cli は classify / regress コマンドの共通の引数解析と実行を提供します。
//
//	classify [flags] <algorithm> <target_column> <input_file_path> <output_file_path>
//	regress  [flags] <algorithm> <target_column> <input_file_path> <output_file_path>
//
// 評価指標は標準出力に、ログは標準エラーに書かれます。
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/YuminosukeSato/scitrain/config"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
	"github.com/YuminosukeSato/scitrain/trainer"
)

// NumArgs は必須の位置引数の数
const NumArgs = 4

// ErrUsage は位置引数の数が正しくない場合のエラー
var ErrUsage = errors.New("wrong number of arguments")

// UsageLine は name コマンドの使い方を返す
func UsageLine(name string) string {
	return fmt.Sprintf("Usage: %s <algorithm> <target_column> <input_file_path> <output_file_path>", name)
}

// NewCommand は task を学習するコマンドを作成する
func NewCommand(name string, task trainer.Task, stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     fmt.Sprintf("Train a %s model and save it as a gob artifact", task),
		ArgsUsage: "<algorithm> <target_column> <input_file_path> <output_file_path>",
		Description: fmt.Sprintf(`Loads a CSV, XLS, XLSX or .pkl table, splits it into train and test sets,
selects hyperparameters with cross-validated grid search and prints the test metrics.

Algorithms: %s

# Examples

  %s %s target data/train.csv model.gob
  %s --config train.yaml --seed 7 %s target data/train.xlsx model.gob`,
			strings.Join(trainer.Algorithms(task), ", "),
			name, trainer.Algorithms(task)[0],
			name, trainer.Algorithms(task)[0]),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file with test_size, random_seed, folds, n_jobs, param_grid and columns",
			},
			&cli.FloatFlag{
				Name:  "test-size",
				Value: config.DefaultTestSize,
				Usage: "Fraction of rows held out for evaluation",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Value: config.DefaultSeed,
				Usage: "Random seed for the train/test split and the estimators",
			},
			&cli.IntFlag{
				Name:  "folds",
				Value: config.DefaultFolds,
				Usage: "Number of cross-validation folds",
			},
			&cli.IntFlag{
				Name:  "n-jobs",
				Value: config.DefaultNJobs,
				Usage: "Parallel workers for grid search and forest training (-1 for all CPUs)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write the metrics as a Prometheus textfile to this path",
			},
			&cli.StringFlag{
				Name:  "plot-file",
				Usage: "Save an evaluation plot (png, svg, pdf) to this path",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != NumArgs {
				fmt.Fprintln(stdout, UsageLine(name))
				return ErrUsage
			}
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := log.SetupLogger(cfg.LogLevel, stderr); err != nil {
				return err
			}
			args := cmd.Args().Slice()
			job := trainer.Job{
				Task:      task,
				Algorithm: args[0],
				Target:    args[1],
				Config:    cfg,
			}
			_, err = trainer.Run(ctx, job, args[2], args[3], stdout)
			return err
		},
	}
}

// configFromFlags は --config の設定 (なければ既定値) に明示されたフラグを上書きする
func configFromFlags(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if cmd.IsSet("test-size") {
		cfg.TestSize = cmd.Float("test-size")
	}
	if cmd.IsSet("seed") {
		cfg.RandomSeed = cmd.Int64("seed")
	}
	if cmd.IsSet("folds") {
		cfg.Folds = cmd.Int("folds")
	}
	if cmd.IsSet("n-jobs") {
		cfg.NJobs = cmd.Int("n-jobs")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("metrics-file") {
		cfg.MetricsFile = cmd.String("metrics-file")
	}
	if cmd.IsSet("plot-file") {
		cfg.PlotFile = cmd.String("plot-file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Main はコマンドを実行して終了コードを返す。args は os.Args と同じく先頭がプログラム名。
func Main(ctx context.Context, name string, task trainer.Task, args []string, stdout, stderr io.Writer) int {
	if err := log.SetupLogger("info", stderr); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	err := NewCommand(name, task, stdout, stderr).Run(ctx, args)
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrUsage) {
		return 1
	}

	fields := []any{err, log.TaskKey, string(task)}
	var unsupported *errors.UnsupportedAlgorithmError
	if errors.As(err, &unsupported) && unsupported.Suggestion != "" {
		fields = append(fields, log.SuggestionKey, unsupported.Suggestion)
	}
	fields = append(fields, log.ErrorTypeKey, fmt.Sprintf("%T", errors.Cause(err)))
	log.GetLoggerWithName("cli").Error("Training failed", fields...)
	return 1
}
