package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"github.com/itohio/ffsweep/pkg/chirp"
	"github.com/itohio/ffsweep/pkg/config"
	"github.com/itohio/ffsweep/pkg/sweep"
)

var (
	ErrTooFewSamples = errors.New("analysis: not enough samples")
	ErrEmptyBand     = errors.New("analysis: no frequency bins inside the band")
)

const (
	// minSamples is the shortest recording worth transforming.
	minSamples = 8

	// MinMagnitude is the floor for bins where the output is zero.
	MinMagnitude = -300.0 // dB
)

// Params controls the frequency response estimate.
type Params struct {
	FStart     float64 // Hz, lower edge of the excited band
	FEnd       float64 // Hz, upper edge of the excited band
	SmoothBins int     // Moving-average width in bins, 0 or 1 disables smoothing
	Threshold  float64 // dB drop that defines the bandwidth
	Taper      float64 // Tukey alpha applied to both channels, 0 disables
}

// ParamsFromConfig builds analysis parameters from the sweep and analysis
// sections of the configuration.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		FStart:     cfg.Sweep.FStart,
		FEnd:       cfg.Sweep.FEnd,
		SmoothBins: cfg.Analysis.SmoothBins,
		Threshold:  cfg.Analysis.BandwidthThreshold,
		Taper:      cfg.Analysis.Taper,
	}
}

// Response is the estimated current-loop frequency response of one pass,
// H(f) = FFT(measured) / FFT(setpoint).
type Response struct {
	Mode      sweep.Mode
	Freq      []float64 // Hz
	Magnitude []float64 // dB
	Phase     []float64 // deg, unwrapped

	// Bandwidth is the first frequency where the magnitude falls Threshold
	// dB below the low-frequency gain. Zero with BandwidthFound false when
	// the response stays above it across the band.
	Bandwidth      float64
	BandwidthFound bool
	ReferenceGain  float64 // dB

	SamplePeriod float64 // s, used for the transform
	Timing       sweep.Timing
}

// Analyze estimates the frequency response of a recording.
//
// The sample spacing is taken from the recorded timestamps rather than the
// nominal period, so overruns that stretched the pass shift the frequency
// axis accordingly.
func Analyze(rec *sweep.Recording, p Params) (Response, error) {
	timing := rec.Timing()
	dT := timing.MeanPeriod
	if dT <= 0 {
		dT = rec.Period.Seconds()
	}

	setpoint := rec.Setpoint()
	measured := rec.Measured()
	if len(setpoint) < minSamples {
		return Response{}, fmt.Errorf("%w: %d", ErrTooFewSamples, len(setpoint))
	}

	if p.Taper > 0 {
		var err error
		if setpoint, measured, err = taper(setpoint, measured, p.Taper); err != nil {
			return Response{}, err
		}
	}

	freq, h, err := FRF(setpoint, measured, dT, p.FStart, p.FEnd)
	if err != nil {
		return Response{}, fmt.Errorf("pass %s: %w", rec.Mode, err)
	}
	if p.SmoothBins > 1 {
		h = SmoothComplex(h, p.SmoothBins)
	}

	mag := spectrum.Magnitude(h)
	for i, m := range mag {
		mag[i] = decibels(m)
	}
	phase := spectrum.UnwrapPhase(spectrum.Phase(h))
	for i, v := range phase {
		phase[i] = v * 180 / math.Pi
	}

	bw, found, ref := Bandwidth(freq, mag, p.Threshold)

	return Response{
		Mode:           rec.Mode,
		Freq:           freq,
		Magnitude:      mag,
		Phase:          phase,
		Bandwidth:      bw,
		BandwidthFound: found,
		ReferenceGain:  ref,
		SamplePeriod:   dT,
		Timing:         timing,
	}, nil
}

// FRF returns the ratio of the output and input spectra for the bins inside
// [fmin, fmax]. Bins where the input carries almost no energy are skipped.
func FRF(input, output []float64, dT, fmin, fmax float64) ([]float64, []complex128, error) {
	if len(input) != len(output) {
		return nil, nil, fmt.Errorf("%w: input %d, output %d", chirp.ErrLengthMismatch, len(input), len(output))
	}

	in, err := chirp.Transform(input, dT)
	if err != nil {
		return nil, nil, err
	}
	out, err := chirp.Transform(output, dT)
	if err != nil {
		return nil, nil, err
	}

	inMag := spectrum.Magnitude(in.Bins)
	var peak float64
	for i, f := range in.Freq {
		if f >= fmin && f <= fmax && inMag[i] > peak {
			peak = inMag[i]
		}
	}
	floor := peak * 1e-3

	var freq []float64
	var h []complex128
	for i, f := range in.Freq {
		if f < fmin || f > fmax || inMag[i] <= floor || inMag[i] == 0 {
			continue
		}
		freq = append(freq, f)
		h = append(h, out.Bins[i]/in.Bins[i])
	}
	if len(freq) == 0 {
		return nil, nil, ErrEmptyBand
	}

	return freq, h, nil
}

// Bandwidth finds the first frequency at which magDB drops threshold dB
// below the reference gain, interpolating linearly between bins. The
// reference gain is the mean of the lowest bins. It also returns the
// reference gain.
func Bandwidth(freq, magDB []float64, threshold float64) (float64, bool, float64) {
	if len(freq) == 0 || len(freq) != len(magDB) {
		return 0, false, 0
	}

	nref := len(magDB) / 20
	if nref < 1 {
		nref = 1
	}
	var ref float64
	for _, m := range magDB[:nref] {
		ref += m
	}
	ref /= float64(nref)

	limit := ref - threshold
	for i := nref; i < len(magDB); i++ {
		if magDB[i] >= limit {
			continue
		}
		// Interpolate between the last bin above and this one.
		m0, m1 := magDB[i-1], magDB[i]
		f0, f1 := freq[i-1], freq[i]
		if m0 == m1 {
			return f1, true, ref
		}
		return f0 + (f1-f0)*(m0-limit)/(m0-m1), true, ref
	}

	return 0, false, ref
}

// Compare orders responses by bandwidth, widest first. Responses whose
// magnitude never crossed the threshold rank above all others.
func Compare(responses []Response) []Response {
	out := make([]Response, len(responses))
	copy(out, responses)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BandwidthFound != b.BandwidthFound {
			return !a.BandwidthFound
		}
		return a.Bandwidth > b.Bandwidth
	})
	return out
}

// taper applies the same Tukey window to both channels so the recording
// edges do not leak into neighbouring bins.
func taper(input, output []float64, alpha float64) ([]float64, []float64, error) {
	w, err := window.Tukey(len(input), min(alpha, 1))
	if err != nil {
		return nil, nil, fmt.Errorf("analysis: taper: %w", err)
	}
	in, err := window.ApplyCoefficients(input, w)
	if err != nil {
		return nil, nil, err
	}
	out, err := window.ApplyCoefficients(output, w)
	if err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// decibels converts a linear magnitude, flooring silent bins at MinMagnitude.
func decibels(m float64) float64 {
	if m <= 0 {
		return MinMagnitude
	}
	return max(20*math.Log10(m), MinMagnitude)
}
