package report

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

const namespace = "scitrain"

// Registry は Summary の値を持つ Prometheus レジストリを作る
func Registry(s *Summary) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"task": s.Task, "algorithm": s.Algorithm}

	evaluation := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "evaluation_metric",
		Help:        "Metric computed on the held-out test split",
		ConstLabels: labels,
	}, []string{"metric"})
	cvScore := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "cv_best_score",
		Help:        "Mean cross-validated score of the best candidate",
		ConstLabels: prometheus.Labels{"task": s.Task, "algorithm": s.Algorithm, "scoring": s.Scoring},
	})
	samples := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "samples",
		Help:        "Number of rows in each split",
		ConstLabels: labels,
	}, []string{"split"})
	durations := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "duration_seconds",
		Help:        "Wall-clock duration of each phase",
		ConstLabels: labels,
	}, []string{"phase"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "last_run_info",
		Help:        "Identifier of the run that wrote this file",
		ConstLabels: prometheus.Labels{"task": s.Task, "algorithm": s.Algorithm, "run_id": s.RunID},
	})

	for _, c := range []prometheus.Collector{evaluation, cvScore, samples, durations, lastRun} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}

	for _, list := range [][]Metric{s.Metrics, s.Extra} {
		for _, m := range list {
			evaluation.WithLabelValues(m.Key).Set(m.Value)
		}
	}
	cvScore.Set(s.CVScore)
	samples.WithLabelValues("train").Set(float64(s.TrainSamples))
	samples.WithLabelValues("test").Set(float64(s.TestSamples))
	durations.WithLabelValues("search").Set(s.SearchTime.Seconds())
	durations.WithLabelValues("total").Set(s.TotalDuration.Seconds())
	lastRun.Set(1)
	return reg, nil
}

// WriteTextfile は node_exporter の textfile collector 形式で Summary を書き出す
func WriteTextfile(path string, s *Summary) error {
	reg, err := Registry(s)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
