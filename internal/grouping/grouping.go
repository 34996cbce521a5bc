// Package grouping implements the similarity-based grouping algorithms:
// connected-components and DBSCAN clustering over cosine-similarity graphs,
// incremental nearest-centroid assignment with duplicate suppression, and
// nearest-reference classification. Every call is a pure function of its
// inputs; no state is persisted across calls.
package grouping

import (
	"time"

	"github.com/google/uuid"

	"semgroup/internal/cache"
	"semgroup/internal/vectormath"
)

// Point is one item entering a grouping algorithm. Vector may be nil when
// embedding failed; such points are never linked to anything.
type Point struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	Source string    `json:"source,omitempty"`
	Vector []float64 `json:"vector,omitempty"`
}

// Cluster is a group of points with a centroid maintained as the renormalized
// mean of the members' normalized vectors. Centroid is nil iff no member has
// a vector.
type Cluster struct {
	ID        string    `json:"id"`
	Points    []Point   `json:"points"`
	Centroid  []float64 `json:"centroid,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newClusterID() string { return uuid.NewString() }

func newCluster(points []Point, now time.Time) Cluster {
	c := Cluster{
		ID:        newClusterID(),
		Points:    points,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.recomputeCentroid()
	return c
}

// RebuildCluster reconstitutes a cluster from persisted membership, keeping
// its id and recomputing the centroid from whatever vectors the members
// carry. Used when prior results are loaded for incremental assignment.
func RebuildCluster(id string, points []Point, now time.Time) Cluster {
	c := Cluster{
		ID:        id,
		Points:    points,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.recomputeCentroid()
	return c
}

func (c *Cluster) recomputeCentroid() {
	var vecs [][]float64
	for _, p := range c.Points {
		if p.Vector != nil {
			vecs = append(vecs, p.Vector)
		}
	}
	c.Centroid = vectormath.Centroid(vecs)
}

// dedupe drops points repeating an earlier (normalized text, source) pair,
// keeping the first occurrence.
func dedupe(points []Point) []Point {
	type key struct{ text, source string }
	seen := make(map[key]bool, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		k := key{cache.NormalizeKey(p.Text), p.Source}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}

// BuildComponents clusters points by transitive similarity linkage: an edge
// joins every pair whose cosine similarity reaches threshold, and each
// connected component of two or more points becomes a cluster. Isolated
// points are left unclustered by policy. Quadratic in point count; clustering
// jobs operate on a single project's keyword set, not global data.
func BuildComponents(points []Point, threshold float64) []Cluster {
	points = dedupe(points)
	n := len(points)

	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		if points[i].Vector == nil {
			continue
		}
		for j := i + 1; j < n; j++ {
			if points[j].Vector == nil {
				continue
			}
			if vectormath.CosineSimilarity(points[i].Vector, points[j].Vector) >= threshold {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	now := time.Now()
	visited := make([]bool, n)
	var clusters []Cluster
	for i := 0; i < n; i++ {
		if visited[i] || len(adj[i]) == 0 {
			continue
		}
		// Depth-first traversal of one component.
		var members []Point
		stack := []int{i}
		visited[i] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, points[cur])
			for _, nb := range adj[cur] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		if len(members) >= 2 {
			clusters = append(clusters, newCluster(members, now))
		}
	}
	return clusters
}

// BuildDBSCAN clusters points density-based. eps is a cosine *distance*
// threshold (inverse sense from the similarity threshold in components
// mode). Points whose eps-neighborhood is smaller than minPts stay noise
// unless absorbed as border points, and noise is excluded from the output.
func BuildDBSCAN(points []Point, eps float64, minPts int) []Cluster {
	points = dedupe(points)
	n := len(points)
	if minPts < 2 {
		minPts = 2
	}

	neighborhood := func(i int) []int {
		// Includes the point itself.
		out := []int{i}
		if points[i].Vector == nil {
			return out
		}
		for j := 0; j < n; j++ {
			if j == i || points[j].Vector == nil {
				continue
			}
			if vectormath.CosineDistance(points[i].Vector, points[j].Vector) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	clusterCount := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		nb := neighborhood(i)
		if len(nb) < minPts {
			// Still eligible for absorption via border-point linkage later.
			labels[i] = noise
			continue
		}
		cid := clusterCount
		clusterCount++
		labels[i] = cid

		// Breadth-first expansion over density-reachable points.
		frontier := append([]int(nil), nb...)
		for len(frontier) > 0 {
			q := frontier[0]
			frontier = frontier[1:]
			if labels[q] == noise {
				labels[q] = cid // border point, no further expansion
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cid
			qnb := neighborhood(q)
			if len(qnb) >= minPts {
				frontier = append(frontier, qnb...)
			}
		}
	}

	now := time.Now()
	byID := make(map[int][]Point)
	for i, l := range labels {
		if l >= 0 {
			byID[l] = append(byID[l], points[i])
		}
	}
	clusters := make([]Cluster, 0, clusterCount)
	for cid := 0; cid < clusterCount; cid++ {
		// A core point can end up alone when its whole neighborhood was
		// already claimed as border points by earlier clusters. Singletons
		// are never emitted, same as components mode.
		if len(byID[cid]) < 2 {
			continue
		}
		clusters = append(clusters, newCluster(byID[cid], now))
	}
	return clusters
}
