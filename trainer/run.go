package trainer

import (
	"context"
	"fmt"
	"io"

	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
	"github.com/YuminosukeSato/scitrain/pkg/log"
	"github.com/YuminosukeSato/scitrain/report"
)

// Run は input を読み込んで学習し、指標を stdout に書いてアーティファクトを output に保存する。
// 設定に MetricsFile / PlotFile があればそれらも書き出す。
func Run(ctx context.Context, job Job, input, output string, stdout io.Writer) (*Result, error) {
	table, err := dataset.Load(input)
	if err != nil {
		return nil, err
	}
	job.Input = input

	res, err := Train(ctx, table, job)
	if err != nil {
		return nil, err
	}
	if err := report.Write(stdout, res.Summary); err != nil {
		return nil, err
	}
	if err := res.Artifact.Save(output); err != nil {
		return nil, err
	}

	logger := log.GetLoggerWithName("trainer")
	logger.Info("Artifact saved", log.PathKey, output, log.RunIDKey, res.Summary.RunID)

	if job.Config != nil && job.Config.MetricsFile != "" {
		if err := report.WriteTextfile(job.Config.MetricsFile, res.Summary); err != nil {
			return nil, err
		}
		logger.Debug("Metrics textfile written", log.PathKey, job.Config.MetricsFile)
	}
	if job.Config != nil && job.Config.PlotFile != "" {
		err := errors.SafeExecute("trainer.writePlot", func() error {
			return writePlot(job.Config.PlotFile, res)
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("Plot written", log.PathKey, job.Config.PlotFile)
	}
	return res, nil
}

func writePlot(path string, res *Result) error {
	title := fmt.Sprintf("%s (%s)", res.Summary.Algorithm, res.Summary.Task)
	if res.ClassReport == nil {
		return report.PlotRegression(path, title, res.YTest, res.Predictions)
	}
	names := make([]string, len(res.ClassReport.Labels))
	classes := res.Artifact.Meta.Classes
	for i, code := range res.ClassReport.Labels {
		if c := int(code); c >= 0 && c < len(classes) {
			names[i] = classes[c]
		} else {
			names[i] = fmt.Sprint(code)
		}
	}
	return report.PlotClassScores(path, title, names, res.ClassReport.F1)
}
