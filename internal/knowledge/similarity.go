package knowledge

import "math"

// CosineSimilarity returns dot(a,b) / (|a|*|b|) in [-1, 1].
// It returns 0 when the lengths differ, either vector has zero norm or a
// component is NaN or infinite.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) {
		return 0
	}
	// rounding can push |score| a hair past 1
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}
