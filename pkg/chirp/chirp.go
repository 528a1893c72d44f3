package chirp

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// Errors returned by Generate.
var (
	ErrInvalidFrequency  = errors.New("chirp: frequency must be positive")
	ErrFrequencyOrder    = errors.New("chirp: start frequency must be less than end frequency")
	ErrInvalidDuration   = errors.New("chirp: duration must be positive")
	ErrInvalidSampleRate = errors.New("chirp: sample rate must be positive")
	ErrTooShort          = errors.New("chirp: duration x sample rate must yield at least two samples")
)

// Params describes a logarithmic chirp.
type Params struct {
	FStart     float64 // Hz at t = 0
	FEnd       float64 // Hz at t = Duration
	Duration   float64 // s
	SampleRate float64 // Hz
	Phi        float64 // Phase offset in degrees
}

// Signal is a sampled chirp. Time and Values have the same length.
type Signal struct {
	Params Params
	Time   []float64 // s, evenly spaced from 0 to Duration inclusive
	Values []float64 // Unit amplitude
}

// Validate checks that the chirp parameters are usable.
func (p Params) Validate() error {
	if p.FStart <= 0 || p.FEnd <= 0 {
		return ErrInvalidFrequency
	}
	if p.FStart >= p.FEnd {
		return ErrFrequencyOrder
	}
	if p.Duration <= 0 {
		return ErrInvalidDuration
	}
	if p.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if p.Len() < 2 {
		return ErrTooShort
	}
	return nil
}

// Len returns the number of samples, duration x sample rate.
func (p Params) Len() int {
	return int(math.Round(p.Duration * p.SampleRate))
}

// Step returns the spacing of the time vector. Because the time vector
// includes both end points it is slightly larger than 1/SampleRate.
func (p Params) Step() float64 {
	n := p.Len()
	if n < 2 {
		return 0
	}
	return p.Duration / float64(n-1)
}

// Frequency returns the instantaneous frequency at time t.
//
//	f(t) = f0 * (f1/f0)^(t/T)
func (p Params) Frequency(t float64) float64 {
	return p.FStart * math.Pow(p.FEnd/p.FStart, t/p.Duration)
}

// Generate creates the logarithmic chirp:
//
//	x(t) = cos(2π f0 T / ln(f1/f0) * ((f1/f0)^(t/T) - 1) + φ)
//
// sampled on linspace(0, Duration, Duration*SampleRate).
func Generate(p Params) (Signal, error) {
	if err := p.Validate(); err != nil {
		return Signal{}, err
	}

	n := p.Len()
	step := p.Step()
	lnRatio := math.Log(p.FEnd / p.FStart)
	k := 2 * math.Pi * p.FStart * p.Duration / lnRatio
	phi := p.Phi * math.Pi / 180

	sig := Signal{
		Params: p,
		Time:   make([]float64, n),
		Values: make([]float64, n),
	}
	for i := range n {
		t := float64(i) * step
		sig.Time[i] = t
		sig.Values[i] = math.Cos(k*(math.Exp(t/p.Duration*lnRatio)-1) + phi)
	}

	return sig, nil
}

// Scaled returns a copy of the chirp values multiplied by gain.
func (s Signal) Scaled(gain float64) []float64 {
	out := make([]float64, len(s.Values))
	vecmath.ScaleBlock(out, s.Values, gain)
	return out
}
