package report

import (
	"fmt"
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// HeatmapFile names the confusion heatmap for an outer training iteration.
func HeatmapFile(iteration int) string {
	return fmt.Sprintf("confusion_iter%04d.png", iteration)
}

// blues runs from near-white to dark blue so high counts read as dark cells.
type blues []color.Color

func newBlues(n int) blues {
	lo := color.RGBA{R: 247, G: 251, B: 255, A: 255}
	hi := color.RGBA{R: 8, G: 48, B: 107, A: 255}
	out := make(blues, n)
	for i := range out {
		f := float64(i) / float64(n-1)
		mix := func(a, b uint8) uint8 { return uint8(float64(a) + f*(float64(b)-float64(a)) + 0.5) }
		out[i] = color.RGBA{R: mix(lo.R, hi.R), G: mix(lo.G, hi.G), B: mix(lo.B, hi.B), A: 255}
	}
	return out
}

func (b blues) Colors() []color.Color { return b }

var _ palette.Palette = blues(nil)

// cellTextColor is white on cells above half the maximum and black elsewhere.
func cellTextColor(v, peak float64) color.Color {
	if v > peak/2 {
		return color.White
	}
	return color.Black
}

// confusionGrid adapts a square matrix to plotter.GridXYZ. Row 0 of the
// matrix is drawn at the top.
type confusionGrid [][]float64

func (g confusionGrid) Dims() (c, r int)   { return len(g), len(g) }
func (g confusionGrid) Z(c, r int) float64 { return g[len(g)-1-r][c] }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }

// ConfusionHeatmap renders values (true class rows, predicted class
// columns) with per-cell annotations and saves it to path.
func ConfusionHeatmap(path string, values [][]float64, labels []string, normalized bool, title string) error {
	k := len(values)
	if k == 0 {
		return errors.New("report: empty confusion matrix")
	}
	for i, row := range values {
		if len(row) != k {
			return errors.Errorf("report: confusion row %d has %d columns, want %d", i, len(row), k)
		}
	}
	if len(labels) != k {
		return errors.Errorf("report: %d labels for %d classes", len(labels), k)
	}

	grid := confusionGrid(values)
	hm := plotter.NewHeatMap(grid, newBlues(64))
	hm.Min, hm.Max = 0, 0
	for _, row := range values {
		for _, v := range row {
			hm.Max = math.Max(hm.Max, v)
		}
	}
	if hm.Max == 0 {
		hm.Max = 1
	}

	format := "%.0f"
	if normalized {
		format = "%.2f"
	}
	cells := plotter.XYLabels{XYs: make(plotter.XYs, 0, k*k), Labels: make([]string, 0, k*k)}
	for i, row := range values {
		for j, v := range row {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(j), Y: float64(k - 1 - i)})
			cells.Labels = append(cells.Labels, fmt.Sprintf(format, v))
		}
	}
	annotations, err := plotter.NewLabels(cells)
	if err != nil {
		return errors.Wrap(err, "report: cell labels")
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].XAlign = draw.XCenter
		annotations.TextStyle[i].YAlign = draw.YCenter
		annotations.TextStyle[i].Color = cellTextColor(values[i/k][i%k], hm.Max)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted label"
	p.Y.Label.Text = "True label"
	p.Add(hm, annotations)

	xticks := make([]plot.Tick, k)
	yticks := make([]plot.Tick, k)
	for i, l := range labels {
		xticks[i] = plot.Tick{Value: float64(i), Label: l}
		yticks[i] = plot.Tick{Value: float64(k - 1 - i), Label: l}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xticks)
	p.Y.Tick.Marker = plot.ConstantTicks(yticks)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	side := vg.Length(k)*0.8*vg.Inch + 2*vg.Inch
	return save(p, path, side, side)
}
