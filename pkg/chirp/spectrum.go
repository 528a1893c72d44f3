package chirp

import (
	"errors"
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-dsp/dsp/spectrum"
)

var (
	ErrEmptySignal    = errors.New("chirp: signal is empty")
	ErrInvalidStep    = errors.New("chirp: sample spacing must be positive")
	ErrLengthMismatch = errors.New("chirp: length mismatch")
)

// HalfSpectrum is the non-negative frequency part of a real signal's DFT.
type HalfSpectrum struct {
	Bins    []complex128 // FFTSize/2 + 1 bins, DC to Nyquist
	Freq    []float64    // Hz, same length as Bins
	FFTSize int          // Transform length
}

// Transform computes the half spectrum of signal sampled every dT seconds.
// The transform length is the signal length, so n samples give n/2+1 bins
// spaced 1/(n*dT) apart, the rfft layout. Non power of two lengths go
// through the mixed radix or Bluestein plans. A single sample is padded to
// two.
func Transform(signal []float64, dT float64) (HalfSpectrum, error) {
	if len(signal) == 0 {
		return HalfSpectrum{}, ErrEmptySignal
	}
	if dT <= 0 || math.IsNaN(dT) || math.IsInf(dT, 0) {
		return HalfSpectrum{}, ErrInvalidStep
	}

	fftSize := max(len(signal), 2)

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return HalfSpectrum{}, fmt.Errorf("chirp: failed to create FFT plan: %w", err)
	}

	in := make([]complex128, fftSize)
	for i, v := range signal {
		in[i] = complex(v, 0)
	}

	out := make([]complex128, fftSize)
	if err := plan.Forward(out, in); err != nil {
		return HalfSpectrum{}, fmt.Errorf("chirp: forward FFT failed: %w", err)
	}

	half := fftSize/2 + 1
	return HalfSpectrum{
		Bins:    out[:half:half],
		Freq:    Frequencies(fftSize, dT),
		FFTSize: fftSize,
	}, nil
}

// Frequencies returns the bin centre frequencies of an n-point real FFT,
// k / (n*dT) for k = 0..n/2.
func Frequencies(n int, dT float64) []float64 {
	half := n/2 + 1
	freq := make([]float64, half)
	for k := range freq {
		freq[k] = float64(k) / (float64(n) * dT)
	}
	return freq
}

// Spectrum returns |FFT(signal)| and the matching frequency axis.
// Both slices have the same length; freq runs from 0 to the Nyquist rate.
func Spectrum(signal []float64, dT float64) (amplitude, freq []float64, err error) {
	hs, err := Transform(signal, dT)
	if err != nil {
		return nil, nil, err
	}
	return spectrum.Magnitude(hs.Bins), hs.Freq, nil
}
