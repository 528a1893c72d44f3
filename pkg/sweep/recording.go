package sweep

import (
	"sync"
	"time"
)

// Sample is one iteration of a sweep pass.
type Sample struct {
	Elapsed  float64 // s since the start of the pass
	Command  float64 // Torque written, Nm
	Setpoint float64 // Iq_setpoint, A
	Measured float64 // Iq_measured, A
}

// Recording holds the samples of one sweep pass.
// It is append-only while the pass runs; accessors return copies.
type Recording struct {
	Mode    Mode
	Period  time.Duration // Target sample period
	Started time.Time

	mu       sync.RWMutex
	samples  []Sample
	overruns int
}

// NewRecording creates an empty recording with room for capacity samples.
func NewRecording(mode Mode, period time.Duration, capacity int) *Recording {
	return &Recording{
		Mode:    mode,
		Period:  period,
		samples: make([]Sample, 0, capacity),
	}
}

// Append adds a sample to the end of the recording.
func (r *Recording) Append(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *Recording) addOverrun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overruns++
}

// Len returns the number of samples recorded so far.
func (r *Recording) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// Samples returns a copy of the recorded samples.
func (r *Recording) Samples() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Sample, len(r.samples))
	copy(result, r.samples)
	return result
}

// Time returns the elapsed timestamps in seconds.
func (r *Recording) Time() []float64 {
	return r.column(func(s Sample) float64 { return s.Elapsed })
}

// Setpoint returns the commanded current sequence.
func (r *Recording) Setpoint() []float64 {
	return r.column(func(s Sample) float64 { return s.Setpoint })
}

// Measured returns the measured current sequence.
func (r *Recording) Measured() []float64 {
	return r.column(func(s Sample) float64 { return s.Measured })
}

// Command returns the torque sequence written to the controller.
func (r *Recording) Command() []float64 {
	return r.column(func(s Sample) float64 { return s.Command })
}

func (r *Recording) column(get func(Sample) float64) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]float64, len(r.samples))
	for i, s := range r.samples {
		out[i] = get(s)
	}
	return out
}

// Timing summarizes the achieved sample spacing.
type Timing struct {
	MeanPeriod float64 // s
	MaxPeriod  float64 // s
	Overruns   int
}

// Timing computes the sample spacing statistics from the timestamps.
func (r *Recording) Timing() Timing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := Timing{Overruns: r.overruns}
	if len(r.samples) < 2 {
		return t
	}

	for i := 1; i < len(r.samples); i++ {
		dt := r.samples[i].Elapsed - r.samples[i-1].Elapsed
		if dt > t.MaxPeriod {
			t.MaxPeriod = dt
		}
	}
	span := r.samples[len(r.samples)-1].Elapsed - r.samples[0].Elapsed
	t.MeanPeriod = span / float64(len(r.samples)-1)

	return t
}
