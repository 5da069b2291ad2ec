package report

import (
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

const plotSize = 5 * vg.Inch

// PlotRegression は予測値と実測値の散布図を y = x の線と共に保存する。
// 形式は path の拡張子 (png, svg, pdf) で決まる。
func PlotRegression(path, title string, yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) || len(yTrue) == 0 {
		return errors.NewDimensionError("PlotRegression", len(yTrue), len(yPred), 0)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Actual"
	p.Y.Label.Text = "Predicted"

	pts := make(plotter.XYs, len(yTrue))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range yTrue {
		pts[i].X, pts[i].Y = yTrue[i], yPred[i]
		lo = math.Min(lo, math.Min(yTrue[i], yPred[i]))
		hi = math.Max(hi, math.Max(yTrue[i], yPred[i]))
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "scatter")
	}
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(2)

	l, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "identity line")
	}
	l.LineStyle.Width = vg.Points(1)
	l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(s, l, plotter.NewGrid())
	if err := p.Save(plotSize, plotSize, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

// PlotClassScores はクラスごとの F1 スコアを棒グラフで保存する
func PlotClassScores(path, title string, labels []string, scores []float64) error {
	if len(labels) != len(scores) || len(labels) == 0 {
		return errors.NewDimensionError("PlotClassScores", len(labels), len(scores), 0)
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "F1-score"
	p.Y.Min, p.Y.Max = 0, 1

	bars, err := plotter.NewBarChart(plotter.Values(scores), vg.Points(20))
	if err != nil {
		return errors.Wrap(err, "bar chart")
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	if err := p.Save(plotSize, plotSize, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
