package vectormath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity_SelfIsOne(t *testing.T) {
	v := []float64{0.3, -1.2, 4.5, 0.01}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	v := []float64{1, 2, 3}
	zero := []float64{0, 0, 0}
	assert.Equal(t, 0.0, CosineSimilarity(v, zero))
	assert.Equal(t, 0.0, CosineSimilarity(zero, zero))
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(a, []float64{-1, 0}), 1e-9)
}

func TestCosineSimilarity_LengthMismatchUsesPrefix(t *testing.T) {
	a := []float64{1, 0, 99, 99}
	b := []float64{1, 0}
	// Only the overlapping prefix is compared.
	assert.InDelta(t, CosineSimilarity(b, b), CosineSimilarity(a[:2], b), 1e-9)
	// And it never panics or errors.
	assert.NotPanics(t, func() { CosineSimilarity(a, b) })
	assert.Equal(t, 0.0, CosineSimilarity(nil, b))
}

func TestCosineDistance(t *testing.T) {
	a := []float64{1, 1}
	b := []float64{1, 1}
	assert.InDelta(t, 0.0, CosineDistance(a, b), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 4}
	n := Normalize(v)
	require.Len(t, n, 2)
	assert.InDelta(t, 0.6, n[0], 1e-9)
	assert.InDelta(t, 0.8, n[1], 1e-9)

	// Input is not mutated.
	assert.Equal(t, []float64{3, 4}, v)

	var norm float64
	for _, x := range n {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestNormalize_NearZero(t *testing.T) {
	n := Normalize([]float64{0, 0, 0})
	require.Len(t, n, 3)
	for _, x := range n {
		assert.False(t, math.IsNaN(x))
		assert.False(t, math.IsInf(x, 0))
	}
	assert.Nil(t, Normalize(nil))
}

func TestCentroid_SingleVectorEqualsNormalize(t *testing.T) {
	v := []float64{2, 0, 0}
	c := Centroid([][]float64{v})
	require.NotNil(t, c)
	assert.InDeltaSlice(t, Normalize(v), c, 1e-9)
}

func TestCentroid_Empty(t *testing.T) {
	assert.Nil(t, Centroid(nil))
	assert.Nil(t, Centroid([][]float64{}))
}

func TestCentroid_Mean(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 1}
	c := Centroid([][]float64{a, b})
	require.Len(t, c, 2)
	// Mean of two unit vectors at 90 degrees renormalizes to the diagonal.
	assert.InDelta(t, math.Sqrt(2)/2, c[0], 1e-9)
	assert.InDelta(t, math.Sqrt(2)/2, c[1], 1e-9)
}
