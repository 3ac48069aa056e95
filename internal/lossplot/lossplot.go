// Package lossplot renders a training loss history as an image.
package lossplot

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Save writes an "epochs vs loss" chart to path. The image format follows
// the file extension (png, svg, pdf, ...).
func Save(losses []float64, path string) error {
	if len(losses) == 0 {
		return fmt.Errorf("no losses to plot")
	}

	points := make(plotter.XYs, len(losses))
	for i, l := range losses {
		points[i].X = float64(i + 1)
		points[i].Y = l
	}

	p := plot.New()
	p.Title.Text = "epochs vs loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "mean loss"

	line, scatter, err := plotter.NewLinePoints(points)
	if err != nil {
		return fmt.Errorf("build loss series: %w", err)
	}
	scatter.GlyphStyle.Radius = vg.Length(2)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(line, scatter)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
