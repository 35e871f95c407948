package catalog

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotLightCurve renders flux against time as a PNG (or whatever format
// the filename's extension asks for).
func PlotLightCurve(points []LightCurvePoint, title, filename string) error {
	if len(points) == 0 {
		return fmt.Errorf("plot '%s': no points", filename)
	}

	t0, err := points[0].Time()
	if err != nil {
		return err
	}
	xys := make(plotter.XYs, 0, len(points))
	for _, pt := range points {
		t, err := pt.Time()
		if err != nil {
			return err
		}
		xys = append(xys, plotter.XY{X: t.Sub(t0).Seconds(), Y: pt.Flux})
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time since first frame (s)"
	p.Y.Label.Text = "Flux"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = colorful.Hsv(210, 0.8, 0.7)
	line.Width = vg.Points(1)

	dots, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	dots.GlyphStyle.Color = colorful.Hsv(10, 0.9, 0.8)
	dots.GlyphStyle.Radius = vg.Points(2)

	p.Add(line, dots)

	if err := p.Save(10*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("plot '%s': %w", filename, err)
	}
	return nil
}
