package grouping

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semgroup/internal/vectormath"
)

// vec builds a 2D vector from its components.
func vec(x, y float64) []float64 { return []float64{x, y} }

func TestBuildComponents_TwoPairsOneIsolate(t *testing.T) {
	// Items 1 and 2 point the same way (sim ~0.9+), 3 and 4 likewise, item 5
	// is orthogonal to everything.
	points := []Point{
		{ID: 1, Text: "running shoes", Vector: vec(1, 0.1)},
		{ID: 2, Text: "jogging shoes", Vector: vec(1, 0.2)},
		{ID: 3, Text: "red wine", Vector: vec(0.1, 1)},
		{ID: 4, Text: "white wine", Vector: vec(0.2, 1)},
		{ID: 5, Text: "quantum physics", Vector: vec(1, -1)},
	}
	clusters := BuildComponents(points, 0.8)
	require.Len(t, clusters, 2)
	for _, c := range clusters {
		assert.Len(t, c.Points, 2)
		assert.NotNil(t, c.Centroid)
		assert.NotEmpty(t, c.ID)
	}
	ids := map[int64]bool{}
	for _, c := range clusters {
		for _, p := range c.Points {
			ids[p.ID] = true
		}
	}
	assert.False(t, ids[5], "isolated item stays unclustered")
}

func TestBuildComponents_NeverEmitsSingletons(t *testing.T) {
	points := []Point{
		{ID: 1, Text: "a", Vector: vec(1, 0)},
		{ID: 2, Text: "b", Vector: vec(0, 1)},
		{ID: 3, Text: "c", Vector: vec(-1, 0)},
	}
	clusters := BuildComponents(points, 0.99)
	assert.Empty(t, clusters)
}

func TestBuildComponents_TransitiveLinkage(t *testing.T) {
	// a~b and b~c but a!~c: transitivity puts all three in one component.
	points := []Point{
		{ID: 1, Text: "a", Vector: vec(1, 0)},
		{ID: 2, Text: "b", Vector: vec(1, 0.5)},
		{ID: 3, Text: "c", Vector: vec(1, 1.1)},
	}
	clusters := BuildComponents(points, 0.89)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Points, 3)
}

func TestBuildComponents_DeduplicatesByTextAndSource(t *testing.T) {
	points := []Point{
		{ID: 1, Text: "Shoes ", Source: "s1", Vector: vec(1, 0)},
		{ID: 2, Text: "shoes", Source: "s1", Vector: vec(1, 0)},
		{ID: 3, Text: "shoes", Source: "s2", Vector: vec(1, 0.01)},
	}
	clusters := BuildComponents(points, 0.9)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Points, 2, "same text+source collapses, different source survives")
	assert.EqualValues(t, 1, clusters[0].Points[0].ID, "first occurrence wins")
}

func TestBuildComponents_MissingVectorsNeverLink(t *testing.T) {
	points := []Point{
		{ID: 1, Text: "a", Vector: vec(1, 0)},
		{ID: 2, Text: "b"}, // embedding failed upstream
		{ID: 3, Text: "c", Vector: vec(1, 0.05)},
	}
	clusters := BuildComponents(points, 0.9)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Points, 2)
}

func TestBuildDBSCAN_NoiseExcluded(t *testing.T) {
	points := []Point{
		{ID: 1, Text: "a", Vector: vec(1, 0.0)},
		{ID: 2, Text: "b", Vector: vec(1, 0.1)},
		{ID: 3, Text: "c", Vector: vec(1, 0.2)},
		{ID: 4, Text: "d", Vector: vec(-1, 1)}, // far from the dense region
	}
	clusters := BuildDBSCAN(points, 0.05, 2)
	require.Len(t, clusters, 1)
	assert.GreaterOrEqual(t, len(clusters[0].Points), 2)
	for _, p := range clusters[0].Points {
		assert.NotEqual(t, int64(4), p.ID, "noise point must not appear in any cluster")
	}
}

func TestBuildDBSCAN_BorderPointAbsorption(t *testing.T) {
	// b is within eps of the dense core a1/a2/a3 but its own neighborhood is
	// sparse: it joins as a border point without expanding.
	points := []Point{
		{ID: 1, Text: "a1", Vector: vec(1, 0.00)},
		{ID: 2, Text: "a2", Vector: vec(1, 0.02)},
		{ID: 3, Text: "a3", Vector: vec(1, 0.04)},
		{ID: 4, Text: "b", Vector: vec(1, 0.30)},
	}
	clusters := BuildDBSCAN(points, 0.032, 3)
	require.Len(t, clusters, 1)
	got := map[int64]bool{}
	for _, p := range clusters[0].Points {
		got[p.ID] = true
	}
	assert.True(t, got[1] && got[2] && got[3])
	assert.True(t, got[4], "border point is absorbed without expanding")
}

func TestBuildDBSCAN_OrphanedCoreEmitsNoSingleton(t *testing.T) {
	// q is a core point (its eps-neighborhood reaches minPts) whose neighbors
	// have all been absorbed as border points of earlier clusters, so the
	// cluster seeded from q would hold q alone. Singletons are never emitted.
	at := func(axis int, deg float64) []float64 {
		v := make([]float64, 4)
		rad := deg * math.Pi / 180
		v[0] = math.Cos(rad)
		v[axis] = math.Sin(rad)
		return v
	}
	var points []Point
	id := int64(1)
	for axis := 1; axis <= 3; axis++ {
		// A dense trio per axis plus one border point at 25 degrees: the
		// border point is within eps of both the trio and q.
		for _, deg := range []float64{55, 60, 65, 25} {
			points = append(points, Point{ID: id, Text: fmt.Sprintf("p%d", id), Vector: at(axis, deg)})
			id++
		}
	}
	points = append(points, Point{ID: 99, Text: "q", Vector: at(1, 0)})

	clusters := BuildDBSCAN(points, 0.15, 4)
	require.Len(t, clusters, 3)
	for _, c := range clusters {
		assert.GreaterOrEqual(t, len(c.Points), 2)
		for _, p := range c.Points {
			assert.NotEqual(t, int64(99), p.ID, "orphaned core point must stay unclustered")
		}
	}
}

func TestBuildDBSCAN_AllNoise(t *testing.T) {
	points := []Point{
		{ID: 1, Text: "a", Vector: vec(1, 0)},
		{ID: 2, Text: "b", Vector: vec(0, 1)},
	}
	assert.Empty(t, BuildDBSCAN(points, 0.01, 2))
}

func TestAddToExisting_BestFitJoinsAndRecomputesCentroid(t *testing.T) {
	existing := []Cluster{newCluster([]Point{
		{ID: 1, Text: "a", Vector: vec(1, 0)},
		{ID: 2, Text: "b", Vector: vec(1, 0.1)},
	}, time.Now())}
	before := append([]float64(nil), existing[0].Centroid...)

	clusters, outcomes := AddToExisting(
		[]Point{{ID: 3, Text: "c", Vector: vec(1, 0.2)}},
		existing,
		IncrementalOptions{Threshold: 0.9, DuplicateThreshold: 0.999},
	)
	require.Len(t, clusters, 1)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeAssigned, outcomes[0].Kind)
	assert.Equal(t, clusters[0].ID, outcomes[0].ClusterID)
	assert.Len(t, clusters[0].Points, 3)
	assert.NotEqual(t, before, clusters[0].Centroid, "centroid recomputed after join")
}

func TestAddToExisting_PairsNewPointsAcrossSources(t *testing.T) {
	clusters, outcomes := AddToExisting(
		[]Point{
			{ID: 1, Text: "a", Source: "s1", Vector: vec(1, 0)},
			{ID: 2, Text: "b", Source: "s2", Vector: vec(1, 0.05)},
		},
		nil,
		IncrementalOptions{Threshold: 0.9},
	)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Points, 2)
	assert.Equal(t, OutcomeNewCluster, outcomes[0].Kind)
	assert.Equal(t, OutcomeNewCluster, outcomes[1].Kind)
	assert.Equal(t, outcomes[0].ClusterID, outcomes[1].ClusterID)
}

func TestAddToExisting_SameSourceNeverPairs(t *testing.T) {
	clusters, outcomes := AddToExisting(
		[]Point{
			{ID: 1, Text: "a", Source: "s1", Vector: vec(1, 0)},
			{ID: 2, Text: "b", Source: "s1", Vector: vec(1, 0.05)},
		},
		nil,
		IncrementalOptions{Threshold: 0.9},
	)
	assert.Empty(t, clusters)
	assert.Equal(t, OutcomeUnassigned, outcomes[0].Kind)
	assert.Equal(t, OutcomeUnassigned, outcomes[1].Kind)
}

func TestAddToExisting_PartnerConsumedOnce(t *testing.T) {
	// Three mutually similar points from alternating sources: the first two
	// pair up, the third joins the freshly formed cluster by centroid fit.
	clusters, outcomes := AddToExisting(
		[]Point{
			{ID: 1, Text: "a", Source: "s1", Vector: vec(1, 0)},
			{ID: 2, Text: "b", Source: "s2", Vector: vec(1, 0.02)},
			{ID: 3, Text: "c", Source: "s1", Vector: vec(1, 0.04)},
		},
		nil,
		IncrementalOptions{Threshold: 0.9},
	)
	require.Len(t, clusters, 1)
	assert.Len(t, clusters[0].Points, 3)
	assert.Equal(t, OutcomeNewCluster, outcomes[0].Kind)
	assert.Equal(t, OutcomeNewCluster, outcomes[1].Kind)
	assert.Equal(t, OutcomeAssigned, outcomes[2].Kind)
}

func TestAddToExisting_DuplicateIdempotence(t *testing.T) {
	p := Point{ID: 1, Text: "running shoes", Source: "s1", Vector: vec(1, 0.1)}
	mate := Point{ID: 2, Text: "jogging shoes", Source: "s2", Vector: vec(1, 0.15)}
	opts := IncrementalOptions{Threshold: 0.9, DuplicateThreshold: 0.98}

	clusters, outcomes := AddToExisting([]Point{p, mate}, nil, opts)
	require.Len(t, clusters, 1)
	require.Equal(t, OutcomeNewCluster, outcomes[0].Kind)

	// Feeding the same item again in a second call: detected as a duplicate,
	// so it still belongs to exactly one cluster.
	again := Point{ID: 3, Text: "running shoes", Source: "s1", Vector: vec(1, 0.1)}
	clusters, outcomes = AddToExisting([]Point{again}, clusters, opts)
	require.Len(t, clusters, 1)
	assert.Equal(t, OutcomeDuplicate, outcomes[0].Kind)
	assert.Len(t, clusters[0].Points, 2)
}

func TestAddToExisting_NoVectorIsUnassigned(t *testing.T) {
	_, outcomes := AddToExisting([]Point{{ID: 1, Text: "a"}}, nil, IncrementalOptions{Threshold: 0.5})
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeUnassigned, outcomes[0].Kind)
}

func TestClassify(t *testing.T) {
	refs := []Reference{
		{Label: "footwear", Vector: vec(1, 0)},
		{Label: "drinks", Vector: vec(0, 1)},
	}
	points := []Point{
		{ID: 1, Text: "sneakers", Vector: vec(1, 0.1)},
		{ID: 2, Text: "merlot", Vector: vec(0.1, 1)},
		{ID: 3, Text: "diagonal", Vector: vec(1, 1)},
		{ID: 4, Text: "no vector"},
	}
	results := Classify(points, refs, 0.95)
	require.Len(t, results, 4)
	assert.True(t, results[0].Matched)
	assert.Equal(t, "footwear", results[0].Label)
	assert.True(t, results[1].Matched)
	assert.Equal(t, "drinks", results[1].Label)
	assert.False(t, results[2].Matched, "below minSimilarity")
	assert.Greater(t, results[2].Similarity, 0.0, "best similarity still reported")
	assert.False(t, results[3].Matched)
}

func TestCentroidsByLabel(t *testing.T) {
	samples := []Reference{
		{Label: "brand", Vector: vec(1, 0)},
		{Label: "brand", Vector: vec(0, 1)},
		{Label: "generic", Vector: vec(-1, 0)},
		{Label: "broken"},
	}
	refs := CentroidsByLabel(samples)
	require.Len(t, refs, 2)
	assert.Equal(t, "brand", refs[0].Label)
	assert.InDeltaSlice(t, vectormath.Centroid([][]float64{vec(1, 0), vec(0, 1)}), refs[0].Vector, 1e-9)
	assert.Equal(t, "generic", refs[1].Label)
}
