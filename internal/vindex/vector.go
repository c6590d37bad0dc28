package vindex

import "math"

// Dot returns the inner product of two vectors of equal length.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// NormalizeL2 returns a new vector normalized to unit L2 norm.
// A zero vector is copied unchanged.
func NormalizeL2(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	normalizeInPlace(out)
	return out
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := 1.0 / n
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
