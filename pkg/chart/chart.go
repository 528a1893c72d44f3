package chart

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/itohio/ffsweep/pkg/analysis"
	"github.com/itohio/ffsweep/pkg/sweep"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var ErrNoData = errors.New("chart: nothing to plot")

// Default image sizes.
const (
	TraceWidth  = 10 * vg.Inch
	TraceHeight = 4 * vg.Inch
	BodeWidth   = 10 * vg.Inch
	BodeHeight  = 8 * vg.Inch
)

// TimeTraces plots Iq_setpoint and Iq_measured of one pass against time.
func TimeTraces(rec *sweep.Recording) (*plot.Plot, error) {
	if rec.Len() == 0 {
		return nil, ErrNoData
	}

	t := rec.Time()
	setpoint := xys(t, rec.Setpoint())
	measured := xys(t, rec.Measured())

	p := plot.New()
	p.Title.Text = "Current tracking, " + rec.Mode.Label()
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "Iq (A)"
	stylePlot(p)

	if err := addLine(p, "Iq_setpoint", setpoint, 0); err != nil {
		return nil, err
	}
	if err := addLine(p, "Iq_measured", measured, 1); err != nil {
		return nil, err
	}

	return p, nil
}

// BodeMagnitude overlays the magnitude responses of several passes on a
// logarithmic frequency axis.
func BodeMagnitude(responses []analysis.Response) (*plot.Plot, error) {
	p := bodePlot("Current loop response", "magnitude (dB)")
	for i, r := range responses {
		if err := addLine(p, r.Mode.Label(), xys(r.Freq, r.Magnitude), i); err != nil {
			return nil, fmt.Errorf("%s: %w", r.Mode, err)
		}
	}
	return p, nil
}

// BodePhase overlays the phase responses of several passes.
func BodePhase(responses []analysis.Response) (*plot.Plot, error) {
	p := bodePlot("", "phase (deg)")
	for i, r := range responses {
		if err := addLine(p, r.Mode.Label(), xys(r.Freq, r.Phase), i); err != nil {
			return nil, fmt.Errorf("%s: %w", r.Mode, err)
		}
	}
	return p, nil
}

// BodeImage renders magnitude above phase and stamps the bandwidth of each
// pass in the corner.
func BodeImage(responses []analysis.Response, w, h vg.Length) (image.Image, error) {
	if len(responses) == 0 {
		return nil, ErrNoData
	}

	mag, err := BodeMagnitude(responses)
	if err != nil {
		return nil, err
	}
	phase, err := BodePhase(responses)
	if err != nil {
		return nil, err
	}

	img := RenderStack([]*plot.Plot{mag, phase}, w, h)

	lines := make([]string, 0, len(responses))
	for _, r := range responses {
		switch {
		case r.BandwidthFound:
			lines = append(lines, fmt.Sprintf("%-14s BW %6.1f Hz", r.Mode.Label(), r.Bandwidth))
		case len(r.Freq) > 0:
			lines = append(lines, fmt.Sprintf("%-14s BW > %.0f Hz", r.Mode.Label(), r.Freq[len(r.Freq)-1]))
		}
	}

	return Annotate(img, lines), nil
}

// Render draws a plot into an image of the given size.
func Render(p *plot.Plot, w, h vg.Length) image.Image {
	return RenderStack([]*plot.Plot{p}, w, h)
}

// RenderStack draws plots one above the other with aligned axes.
func RenderStack(plots []*plot.Plot, w, h vg.Length) image.Image {
	c := vgimg.New(w, h)
	dc := draw.New(c)

	rows := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		rows[i] = []*plot.Plot{p}
	}
	tiles := draw.Tiles{
		Rows: len(plots),
		Cols: 1,
		PadY: vg.Points(6),
	}

	canvases := plot.Align(rows, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}

	return c.Image()
}

// Annotate writes text lines in the top right corner of an image.
func Annotate(img image.Image, lines []string) image.Image {
	if len(lines) == 0 {
		return img
	}

	c := gg.NewContextForImage(img)

	const pad = 8.0
	lineHeight := c.FontHeight() * 1.4
	var width float64
	for _, l := range lines {
		if w, _ := c.MeasureString(l); w > width {
			width = w
		}
	}
	boxW := width + 2*pad
	boxH := lineHeight*float64(len(lines)) + 2*pad
	x := float64(c.Width()) - boxW - pad
	y := pad

	c.SetRGBA(1, 1, 1, 0.85)
	c.DrawRectangle(x, y, boxW, boxH)
	c.Fill()
	c.SetRGB(0.2, 0.2, 0.2)
	c.SetLineWidth(1)
	c.DrawRectangle(x, y, boxW, boxH)
	c.Stroke()

	c.SetRGB(0, 0, 0)
	for i, l := range lines {
		c.DrawStringAnchored(l, x+pad, y+pad+lineHeight*(float64(i)+0.5), 0, 0.5)
	}

	return c.Image()
}

// SavePNG writes an image as PNG, creating parent directories.
func SavePNG(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := gg.SavePNG(path, img); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return nil
}

// SaveAll writes a time trace per recording and the Bode overlay into dir.
func SaveAll(dir string, recs []*sweep.Recording, responses []analysis.Response) error {
	for _, rec := range recs {
		p, err := TimeTraces(rec)
		if err != nil {
			return fmt.Errorf("pass %s: %w", rec.Mode, err)
		}
		path := filepath.Join(dir, "trace_"+rec.Mode.Name+".png")
		if err := SavePNG(Render(p, TraceWidth, TraceHeight), path); err != nil {
			return err
		}
	}

	if len(responses) == 0 {
		return nil
	}
	img, err := BodeImage(responses, BodeWidth, BodeHeight)
	if err != nil {
		return err
	}
	return SavePNG(img, filepath.Join(dir, "bode.png"))
}

func bodePlot(title, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "frequency (Hz)"
	p.Y.Label.Text = ylabel
	stylePlot(p)
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	return p
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.X.Label.TextStyle.Font.Size = vg.Points(11)
	p.Y.Label.TextStyle.Font.Size = vg.Points(11)
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, i int) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(1.2)
	line.LineStyle.Color = plotutil.Color(i)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

func xys(x, y []float64) plotter.XYs {
	n := min(len(x), len(y))
	pts := make(plotter.XYs, n)
	for i := range n {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}
