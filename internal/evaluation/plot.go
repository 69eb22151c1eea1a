package evaluation

import (
	"fmt"
	"io"
	"strconv"

	"github.com/Veraticus/lookalike/internal/common"
	"github.com/Veraticus/lookalike/internal/model"
	"github.com/spf13/afero"
	chart "github.com/wcharczuk/go-chart"
	"github.com/wcharczuk/go-chart/drawing"
)

const (
	cellSize    = 120
	labelMargin = 110
	titleHeight = 50
	axisHeight  = 60
)

var (
	gridColor  = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	heatLow    = drawing.Color{R: 247, G: 251, B: 255, A: 255}
	heatHigh   = drawing.Color{R: 8, G: 48, B: 107, A: 255}
	textDark   = drawing.Color{R: 30, G: 30, B: 30, A: 255}
	textBright = drawing.ColorWhite
)

// SavePlot renders into path atomically.
func SavePlot(afs afero.Fs, path string, render func(io.Writer) error) error {
	if err := common.WriteFileAtomic(afs, path, 0o644, render); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// RenderConfusion draws m as an annotated heat map PNG with true classes on
// the rows and predicted classes on the columns.
func RenderConfusion(w io.Writer, m *model.ConfusionMatrix) error {
	names := m.Classes.Names()
	n := len(names)
	if n == 0 {
		return fmt.Errorf("%w: confusion matrix has no classes", common.ErrInput)
	}

	width := labelMargin + n*cellSize + 20
	height := titleHeight + n*cellSize + axisHeight

	r, err := chart.PNG(width, height)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	font, err := chart.GetDefaultFont()
	if err != nil {
		return fmt.Errorf("failed to load font: %w", err)
	}
	r.SetFont(font)

	fillRect(r, 0, 0, width, height, drawing.ColorWhite, drawing.ColorWhite)

	peak := 0
	for i := range m.Counts {
		for _, c := range m.Counts[i] {
			peak = max(peak, c)
		}
	}

	r.SetFontColor(textDark)
	r.SetFontSize(16)
	centerText(r, "Confusion Matrix", width/2, titleHeight/2)

	r.SetFontSize(12)
	for i := 0; i < n; i++ {
		top := titleHeight + i*cellSize
		centerText(r, names[i], labelMargin/2, top+cellSize/2)

		for j := 0; j < n; j++ {
			left := labelMargin + j*cellSize
			count := m.Counts[i][j]
			shade := 0.0
			if peak > 0 {
				shade = float64(count) / float64(peak)
			}
			fillRect(r, left, top, left+cellSize, top+cellSize, blend(heatLow, heatHigh, shade), gridColor)

			if shade > 0.5 {
				r.SetFontColor(textBright)
			} else {
				r.SetFontColor(textDark)
			}
			centerText(r, strconv.Itoa(count), left+cellSize/2, top+cellSize/2)
			r.SetFontColor(textDark)
		}
	}

	gridBottom := titleHeight + n*cellSize
	for j := 0; j < n; j++ {
		centerText(r, names[j], labelMargin+j*cellSize+cellSize/2, gridBottom+15)
	}
	centerText(r, "Predicted", labelMargin+n*cellSize/2, gridBottom+axisHeight-15)
	centerText(r, "Actual", labelMargin/2, titleHeight-10)

	if err := r.Save(w); err != nil {
		return fmt.Errorf("failed to encode confusion matrix: %w", err)
	}
	return nil
}

// RenderLossCurve plots per-batch training loss. At least two points are
// needed to draw a line.
func RenderLossCurve(w io.Writer, losses []float64) error {
	if len(losses) < 2 {
		return fmt.Errorf("%w: loss curve needs at least 2 points, got %d", common.ErrInput, len(losses))
	}

	xs := make([]float64, len(losses))
	lo, hi := losses[0], losses[0]
	for i, l := range losses {
		xs[i] = float64(i + 1)
		lo = min(lo, l)
		hi = max(hi, l)
	}

	yAxis := chart.YAxis{
		Name:      "Loss",
		NameStyle: chart.StyleShow(),
		Style:     chart.StyleShow(),
	}
	if hi == lo {
		// go-chart refuses a zero-height range.
		yAxis.Range = &chart.ContinuousRange{Min: lo - 0.5, Max: hi + 0.5}
	}

	graph := chart.Chart{
		Title:      "Training Loss",
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      "Batch",
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: yAxis,
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "batch loss",
				XValues: xs,
				YValues: losses,
				Style: chart.Style{
					Show:        true,
					StrokeColor: chart.ColorBlue,
				},
			},
		},
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render loss curve: %w", err)
	}
	return nil
}

func fillRect(r chart.Renderer, left, top, right, bottom int, fill, stroke drawing.Color) {
	r.SetFillColor(fill)
	r.SetStrokeColor(stroke)
	r.SetStrokeWidth(1)
	r.MoveTo(left, top)
	r.LineTo(right, top)
	r.LineTo(right, bottom)
	r.LineTo(left, bottom)
	r.LineTo(left, top)
	r.Close()
	r.FillStroke()
}

func centerText(r chart.Renderer, text string, cx, cy int) {
	box := r.MeasureText(text)
	r.Text(text, cx-box.Width()/2, cy+box.Height()/2)
}

func blend(from, to drawing.Color, t float64) drawing.Color {
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*t)
	}
	return drawing.Color{
		R: mix(from.R, to.R),
		G: mix(from.G, to.G),
		B: mix(from.B, to.B),
		A: 255,
	}
}
