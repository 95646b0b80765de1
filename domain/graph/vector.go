package graph

import "math"

// Normalize returns the L2-normalized copy of v. A zero vector is
// returned unchanged rather than dividing by zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Mismatched
// dimensions or zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Drift measures how far a new embedding moved from the old one:
// 1 − cosine(old, new), clamped to [0, 2].
func Drift(old, updated []float32) float64 {
	d := 1 - Cosine(old, updated)
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}
