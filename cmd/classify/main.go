// classify は分類モデル (random_forest, logistic_regression) を学習して保存します。
//
//	classify [flags] <algorithm> <target_column> <input_file_path> <output_file_path>
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/YuminosukeSato/scitrain/pkg/cli"
	"github.com/YuminosukeSato/scitrain/trainer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Main(ctx, "classify", trainer.Classification, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
