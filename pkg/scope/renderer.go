package scope

import (
	"fmt"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/itohio/ffsweep/pkg/sweep"
)

var (
	gridColor     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor    = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	setpointColor = color.RGBA{R: 255, G: 165, B: 0, A: 255}   // Orange
	measuredColor = color.RGBA{R: 100, G: 200, B: 255, A: 255} // Light blue
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	bg *canvas.Rectangle

	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// plotArea is the rectangle inside the axis margins.
type plotArea struct {
	x, y, w, h float32
}

func (a plotArea) point(v viewport, t, iq float64) fyne.Position {
	x := a.x + float32((t-v.xMin)/(v.xMax-v.xMin))*a.w
	y := a.y + a.h - float32((iq-v.yMin)/(v.yMax-v.yMin))*a.h
	return fyne.NewPos(x, y)
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.bg.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh rebuilds the canvas objects from the current trace.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	samples := append([]sweep.Sample(nil), r.scope.display...)
	mode := r.scope.mode
	total := r.scope.total
	freq := r.scope.chirp.Frequency(r.scope.elapsed)
	v := r.scope.view
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.bg}

	const (
		marginLeft   = 60
		marginRight  = 20
		marginTop    = 20
		marginBottom = 40
	)
	area := plotArea{
		x: marginLeft,
		y: marginTop,
		w: size.Width - marginLeft - marginRight,
		h: size.Height - marginTop - marginBottom,
	}

	r.drawGrid(area, v)

	if len(samples) > 1 {
		r.drawTrace(area, v, samples, func(s sweep.Sample) float64 { return s.Setpoint }, setpointColor, 1.5)
		r.drawTrace(area, v, samples, func(s sweep.Sample) float64 { return s.Measured }, measuredColor, 2)
	}

	if mode.Name != "" {
		r.drawLegend(area, legendTitle(mode, total, freq))
	}
}

// drawGrid draws the oscilloscope-style grid.
func (r *scopeRenderer) drawGrid(a plotArea, v viewport) {
	const hLines = 8
	for i := range hLines + 1 {
		y := a.y + float32(i)*a.h/hLines
		r.addLine(fyne.NewPos(a.x, y), fyne.NewPos(a.x+a.w, y), gridColor, 1)

		value := v.yMax - float64(i)*(v.yMax-v.yMin)/hLines
		text := canvas.NewText(formatCurrent(value), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(a.x-5, y-6))
		r.objects = append(r.objects, text)
	}

	const vLines = 10
	for i := range vLines + 1 {
		x := a.x + float32(i)*a.w/vLines
		r.addLine(fyne.NewPos(x, a.y), fyne.NewPos(x, a.y+a.h), gridColor, 1)

		t := v.xMin + float64(i)*(v.xMax-v.xMin)/vLines
		text := canvas.NewText(formatSeconds(t), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, a.y+a.h+5))
		r.objects = append(r.objects, text)
	}
}

// drawTrace draws one channel as connected segments.
func (r *scopeRenderer) drawTrace(a plotArea, v viewport, samples []sweep.Sample, value func(sweep.Sample) float64, c color.Color, width float32) {
	prev := a.point(v, samples[0].Elapsed, value(samples[0]))
	for _, s := range samples[1:] {
		p := a.point(v, s.Elapsed, value(s))
		r.addLine(prev, p, c, width)
		prev = p
	}
}

func (r *scopeRenderer) drawLegend(a plotArea, title string) {
	entries := []struct {
		label string
		c     color.Color
	}{
		{title, labelColor},
		{"Iq_setpoint", setpointColor},
		{"Iq_measured", measuredColor},
	}
	for i, e := range entries {
		text := canvas.NewText(e.label, e.c)
		text.TextSize = 11
		text.Move(fyne.NewPos(a.x+10, a.y+10+float32(i)*14))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) addLine(p1, p2 fyne.Position, c color.Color, width float32) {
	line := canvas.NewLine(c)
	line.Position1 = p1
	line.Position2 = p2
	line.StrokeWidth = width
	r.objects = append(r.objects, line)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatCurrent(a float64) string {
	return fmt.Sprintf("%.2fA", a)
}

func formatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.2fs", s)
	}
	return fmt.Sprintf("%.1fs", s)
}
