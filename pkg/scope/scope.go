package scope

import (
	"fmt"
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/ffsweep/pkg/chirp"
	"github.com/itohio/ffsweep/pkg/sweep"
)

// DefaultMaxPoints limits the number of points drawn per trace.
const DefaultMaxPoints = 1000

// ScopeWidget is a custom Fyne widget that shows the current setpoint and
// measurement of the running pass, oscilloscope style.
type ScopeWidget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu       sync.RWMutex
	mode     sweep.Mode
	total    int
	elapsed  float64 // s, last sample
	duration float64
	chirp    chirp.Params

	// Display buffer (reused for downsampling)
	display []sweep.Sample

	// Auto-scaling
	view viewport

	maxDisplayPoints int
}

// viewport is the data range mapped onto the plot area.
type viewport struct {
	xMin, xMax float64 // s
	yMin, yMax float64 // A
}

// New creates a scope for passes driven by the chirp p. The time axis is at
// least p.Duration wide so the trace grows from left to right.
func New(p chirp.Params) *ScopeWidget {
	duration := p.Duration
	s := &ScopeWidget{
		duration:         duration,
		chirp:            p,
		display:          make([]sweep.Sample, 0, DefaultMaxPoints),
		maxDisplayPoints: DefaultMaxPoints,
	}
	s.view = autoScale(nil, duration)
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData replaces the displayed trace.
// This should be called from the runner callback using fyne.Do().
func (s *ScopeWidget) UpdateData(mode sweep.Mode, samples []sweep.Sample) {
	s.mu.Lock()
	s.mode = mode
	s.total = len(samples)
	s.elapsed = 0
	if len(samples) > 0 {
		s.elapsed = samples[len(samples)-1].Elapsed
	}
	s.display = sweep.Downsample(s.display, samples, s.maxDisplayPoints)
	s.view = autoScale(s.display, s.duration)
	s.mu.Unlock()

	// Outside the lock, the renderer takes a read lock
	s.Refresh()
}

// Reset removes the trace and prepares the scope for passes driven by p,
// e.g. between runs after the settings changed.
func (s *ScopeWidget) Reset(p chirp.Params) {
	s.mu.Lock()
	s.mode = sweep.Mode{}
	s.total = 0
	s.elapsed = 0
	s.chirp = p
	s.duration = p.Duration
	s.display = s.display[:0]
	s.view = autoScale(nil, s.duration)
	s.mu.Unlock()
	s.Refresh()
}

// autoScale fits both traces with a 10% vertical margin.
func autoScale(samples []sweep.Sample, duration float64) viewport {
	v := viewport{xMax: duration, yMin: -1, yMax: 1}
	if len(samples) == 0 {
		if v.xMax <= 0 {
			v.xMax = 1
		}
		return v
	}

	v.yMin, v.yMax = samples[0].Setpoint, samples[0].Setpoint
	for _, smp := range samples {
		v.yMin = min(v.yMin, smp.Setpoint, smp.Measured)
		v.yMax = max(v.yMax, smp.Setpoint, smp.Measured)
	}

	span := v.yMax - v.yMin
	if span == 0 {
		span = 1
	}
	v.yMin -= span * 0.1
	v.yMax += span * 0.1

	v.xMin = samples[0].Elapsed
	if last := samples[len(samples)-1].Elapsed; last > v.xMax {
		v.xMax = last
	}
	if v.xMax <= v.xMin {
		v.xMax = v.xMin + 1
	}
	return v
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		bg:      bg,
		objects: []fyne.CanvasObject{bg},
	}
}

// legendTitle describes the running pass and the chirp frequency reached.
func legendTitle(mode sweep.Mode, total int, freq float64) string {
	return fmt.Sprintf("%s, %d samples, %.1f Hz", mode.Label(), total, freq)
}
