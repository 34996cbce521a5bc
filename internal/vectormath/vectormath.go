// Package vectormath provides the pure vector operations the grouping
// algorithms are built on: cosine similarity/distance, L2 normalization and
// centroids of normalized vectors. No allocation is shared with callers'
// inputs except where documented.
package vectormath

import (
	"math"
)

// epsNorm is the floor below which a norm is treated as zero.
const epsNorm = 1e-10

// CosineSimilarity returns dot(a,b)/(|a|*|b|) in [-1,1]. A zero-norm operand
// yields 0. Vectors of different lengths are compared over the overlapping
// prefix rather than treated as an error.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na < epsNorm || nb < epsNorm {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineDistance is 1 - CosineSimilarity.
func CosineDistance(a, b []float64) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Normalize returns a new vector scaled to unit L2 norm. Near-zero vectors
// are scaled by an epsilon-floored norm instead of dividing by zero.
func Normalize(v []float64) []float64 {
	if len(v) == 0 {
		return nil
	}
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm < epsNorm {
		norm = epsNorm
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Centroid normalizes each input vector, averages component-wise over the
// length of the longest input, and renormalizes the mean. Returns nil for an
// empty input.
func Centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	dim := 0
	for _, v := range vectors {
		if len(v) > dim {
			dim = len(v)
		}
	}
	if dim == 0 {
		return nil
	}
	mean := make([]float64, dim)
	for _, v := range vectors {
		nv := Normalize(v)
		for i, x := range nv {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	return Normalize(mean)
}
