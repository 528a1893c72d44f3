package analysis

// SmoothComplex returns the centred moving average of values over width
// bins. The window shrinks at the ends so the output keeps its length with no
// edge bias toward zero. Averaging the complex ratio rather than magnitude
// keeps the phase consistent with the magnitude.
func SmoothComplex(values []complex128, width int) []complex128 {
	out := make([]complex128, len(values))
	if width <= 1 {
		copy(out, values)
		return out
	}

	half := width / 2
	for i := range values {
		lo, hi := span(i, half, len(values))
		var sum complex128
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / complex(float64(hi-lo), 0)
	}
	return out
}

func span(i, half, n int) (int, int) {
	lo := i - half
	if lo < 0 {
		lo = 0
	}
	hi := i + half + 1
	if hi > n {
		hi = n
	}
	return lo, hi
}
