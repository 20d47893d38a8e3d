// Package report renders training diagnostics as PNG plots and plain text.
package report

import (
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "gonum.org/v1/plot/vg/vgimg"
)

// LossPlotFile is the file name used for the epoch loss curves.
const LossPlotFile = "ProgressTableCnn.png"

var (
	trainColor = color.RGBA{B: 200, A: 255}
	testColor  = color.RGBA{R: 200, A: 255}
)

// LossCurves plots training and held-out loss per epoch and saves it to path.
// Epochs are numbered from 1.
func LossCurves(path string, train, test []float64) error {
	if len(train) == 0 {
		return errors.New("report: no loss values to plot")
	}
	p := plot.New()
	p.Title.Text = "Training and Testing Loss by Epoch"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Categorical Crossentropy"
	p.Add(plotter.NewGrid())

	if err := addLine(p, "Training Loss", train, trainColor); err != nil {
		return err
	}
	if len(test) > 0 {
		if err := addLine(p, "Testing Loss", test, testColor); err != nil {
			return err
		}
	}
	p.Legend.Top = true

	ticks := make([]plot.Tick, len(train))
	for i := range train {
		ticks[i] = plot.Tick{Value: float64(i + 1), Label: strconv.Itoa(i + 1)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	return save(p, path, 12*vg.Inch, 8*vg.Inch)
}

func addLine(p *plot.Plot, name string, values []float64, c color.Color) error {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrapf(err, "report: %s line", name)
	}
	line.Color = c
	line.Width = vg.Points(2)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

func save(p *plot.Plot, path string, w, h vg.Length) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "report: create directory")
	}
	if err := p.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "report: save %s", path)
	}
	return nil
}
