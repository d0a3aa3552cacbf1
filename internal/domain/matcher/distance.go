package matcher

import "math"

// squaredL2 returns the squared Euclidean distance between a and b.
// Callers guarantee equal lengths.
func squaredL2(a, b []float32) float64 {
	var sum float64
	i := 0
	// four lanes per step
	for ; i+4 <= len(a); i += 4 {
		d0 := float64(a[i] - b[i])
		d1 := float64(a[i+1] - b[i+1])
		d2 := float64(a[i+2] - b[i+2])
		d3 := float64(a[i+3] - b[i+3])
		sum += d0*d0 + d1*d1 + d2*d2 + d3*d3
	}
	for ; i < len(a); i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float32) float64 {
	return math.Sqrt(squaredL2(a, b))
}
