package chirp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpectrum_LengthsAndAxis(t *testing.T) {
	p := defaultParams()
	sig, err := Generate(p)
	require.NoError(t, err)

	amp, freq, err := Spectrum(sig.Values, p.Step())
	require.NoError(t, err)

	assert.Equal(t, len(amp), len(freq))
	assert.Equal(t, 0.0, freq[0])
	for i := 1; i < len(freq); i++ {
		assert.GreaterOrEqual(t, freq[i], freq[i-1], "freq[%d]", i)
	}
	assert.InDelta(t, 1/(2*p.Step()), freq[len(freq)-1], 1e-9, "last bin is Nyquist")
}

func TestSpectrum_EnergyInSweptBand(t *testing.T) {
	p := defaultParams()
	sig, err := Generate(p)
	require.NoError(t, err)

	amp, freq, err := Spectrum(sig.Values, p.Step())
	require.NoError(t, err)

	// One bin of slack on each side of [f_start, f_end].
	df := freq[1] - freq[0]
	var inside, total float64
	for i := range amp {
		e := amp[i] * amp[i]
		total += e
		if freq[i] >= p.FStart-2*df && freq[i] <= p.FEnd+2*df {
			inside += e
		}
	}
	require.Greater(t, total, 0.0)
	assert.Greater(t, inside/total, 0.9, "energy should be concentrated in the swept band")

	var above float64
	for i := range amp {
		if freq[i] > 1.5*p.FEnd {
			above += amp[i] * amp[i]
		}
	}
	assert.Less(t, above/total, 0.01, "negligible energy well above f_end")
}

func TestSpectrum_PureTone(t *testing.T) {
	const (
		fs = 256.0
		n  = 256
		f  = 16.0
	)
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * f * float64(i) / fs)
	}

	amp, freq, err := Spectrum(signal, 1/fs)
	require.NoError(t, err)
	require.Len(t, amp, n/2+1)

	peak := 0
	for i := range amp {
		if amp[i] > amp[peak] {
			peak = i
		}
	}
	assert.InDelta(t, f, freq[peak], 1e-9)
	assert.InDelta(t, float64(n)/2, amp[peak], 1e-6)
}

func TestSpectrum_Errors(t *testing.T) {
	_, _, err := Spectrum(nil, 0.01)
	assert.ErrorIs(t, err, ErrEmptySignal)

	_, _, err = Spectrum([]float64{1, 2, 3}, 0)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestSpectrum_BinCount(t *testing.T) {
	// 2000 samples, as the default 10 s sweep at 200 Hz, give 1001 bins
	// 0.1 Hz apart without padding.
	signal := make([]float64, 2000)
	signal[0] = 1

	amp, freq, err := Spectrum(signal, 0.005)
	require.NoError(t, err)
	require.Len(t, amp, 1001)
	assert.InDelta(t, 0.1, freq[1], 1e-12)
	assert.InDelta(t, 100.0, freq[1000], 1e-9)
	for i := range amp {
		assert.InDelta(t, 1.0, amp[i], 1e-9, "impulse is flat, bin %d", i)
	}

	hs, err := Transform([]float64{1, 2, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, hs.FFTSize)
	assert.Len(t, hs.Bins, 2)
	assert.InDelta(t, 6.0, real(hs.Bins[0]), 1e-9)
}

func TestFrequencies(t *testing.T) {
	freq := Frequencies(8, 0.125)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, freq)
}
