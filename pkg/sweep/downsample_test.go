package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownsample_NoDownsampling(t *testing.T) {
	src := []float64{1, 2, 3}

	result := Downsample(nil, src, 10)
	assert.Equal(t, src, result)

	dst := make([]float64, 0, 10)
	result = Downsample(dst, src, 10)
	assert.Equal(t, src, result)
	// Should reuse dst
	assert.Equal(t, cap(dst), cap(result))

	// The result does not alias the source.
	result[0] = 42
	assert.Equal(t, 1.0, src[0])
}

func TestDownsample_WithDownsampling(t *testing.T) {
	src := make([]Sample, 100)
	for i := range src {
		src[i] = Sample{Elapsed: float64(i) * 0.01, Measured: float64(i)}
	}

	dst := make([]Sample, 0, 20)
	result := Downsample(dst, src, 10)
	require.Len(t, result, 10)

	// Should always include first sample
	assert.Equal(t, src[0], result[0])
	// Samples come from across the whole range, in order.
	assert.GreaterOrEqual(t, result[len(result)-1].Measured, 80.0)
	for i := 1; i < len(result); i++ {
		assert.Greater(t, result[i].Elapsed, result[i-1].Elapsed)
	}
	assert.Equal(t, cap(dst), cap(result))
}

func TestDownsample_SmallDestination(t *testing.T) {
	src := make([]int, 50)
	for i := range src {
		src[i] = i
	}

	dst := make([]int, 0, 2)
	result := Downsample(dst, src, 5)
	assert.Equal(t, []int{0, 10, 20, 30, 40}, result)
}

func TestDownsample_ZeroPoints(t *testing.T) {
	assert.Empty(t, Downsample(nil, []int{1, 2, 3}, 0))
}
