package grouping

import (
	"time"

	"semgroup/internal/vectormath"
)

// IncrementalOptions tunes AddToExisting.
type IncrementalOptions struct {
	// Threshold is the minimum centroid similarity to join an existing
	// cluster, and the minimum pairwise similarity to seed a new one.
	Threshold float64
	// DuplicateThreshold is the similarity above which a new item matching an
	// existing same-source member is treated as a duplicate and skipped.
	DuplicateThreshold float64
}

// OutcomeKind states what happened to one new point.
type OutcomeKind string

const (
	OutcomeAssigned   OutcomeKind = "assigned"
	OutcomeNewCluster OutcomeKind = "new_cluster"
	OutcomeDuplicate  OutcomeKind = "duplicate"
	OutcomeUnassigned OutcomeKind = "unassigned"
)

// Outcome reports the disposition of one new point.
type Outcome struct {
	Point      Point       `json:"point"`
	Kind       OutcomeKind `json:"kind"`
	ClusterID  string      `json:"clusterId,omitempty"`
	Similarity float64     `json:"similarity,omitempty"`
}

// AddToExisting greedily folds new points into the existing cluster set, in
// input order. Per point: duplicate suppression against same-source members,
// then best-centroid fit, then pairing with a not-yet-used same-batch point
// from a different source, else left unassigned for a future call. This keeps
// amortized cost linear in new-point count against the cluster set instead of
// recomputing all pairwise similarities, at the cost of a greedy partition.
// The returned slice shares backing storage with clusters.
func AddToExisting(newPoints []Point, clusters []Cluster, opts IncrementalOptions) ([]Cluster, []Outcome) {
	newPoints = dedupe(newPoints)
	now := time.Now()
	outcomes := make([]Outcome, len(newPoints))
	consumed := make([]bool, len(newPoints))

	for i, p := range newPoints {
		if consumed[i] {
			continue // already paired into a new cluster by an earlier point
		}

		if p.Vector == nil {
			outcomes[i] = Outcome{Point: p, Kind: OutcomeUnassigned}
			continue
		}

		// Duplicate check against same-source members of existing clusters.
		if dup, sim := findDuplicate(p, clusters, opts.DuplicateThreshold); dup != "" {
			outcomes[i] = Outcome{Point: p, Kind: OutcomeDuplicate, ClusterID: dup, Similarity: sim}
			continue
		}

		// Best-fit against cluster centroids.
		bestIdx, bestSim := -1, 0.0
		for ci := range clusters {
			if clusters[ci].Centroid == nil {
				continue
			}
			if sim := vectormath.CosineSimilarity(p.Vector, clusters[ci].Centroid); sim > bestSim {
				bestIdx, bestSim = ci, sim
			}
		}
		if bestIdx >= 0 && bestSim >= opts.Threshold {
			clusters[bestIdx].Points = append(clusters[bestIdx].Points, p)
			clusters[bestIdx].recomputeCentroid()
			clusters[bestIdx].UpdatedAt = now
			outcomes[i] = Outcome{Point: p, Kind: OutcomeAssigned, ClusterID: clusters[bestIdx].ID, Similarity: bestSim}
			continue
		}

		// Pair with a later unconsumed same-batch point from another source.
		paired := false
		for j := i + 1; j < len(newPoints); j++ {
			q := newPoints[j]
			if consumed[j] || q.Vector == nil || q.Source == p.Source {
				continue
			}
			sim := vectormath.CosineSimilarity(p.Vector, q.Vector)
			if sim < opts.Threshold {
				continue
			}
			c := newCluster([]Point{p, q}, now)
			clusters = append(clusters, c)
			consumed[j] = true
			outcomes[i] = Outcome{Point: p, Kind: OutcomeNewCluster, ClusterID: c.ID, Similarity: sim}
			outcomes[j] = Outcome{Point: q, Kind: OutcomeNewCluster, ClusterID: c.ID, Similarity: sim}
			paired = true
			break
		}
		if !paired {
			outcomes[i] = Outcome{Point: p, Kind: OutcomeUnassigned}
		}
	}

	return clusters, outcomes
}

// findDuplicate returns the id of the first cluster holding a same-source
// member more similar than threshold, with that similarity.
func findDuplicate(p Point, clusters []Cluster, threshold float64) (string, float64) {
	if threshold <= 0 {
		return "", 0
	}
	for ci := range clusters {
		for _, m := range clusters[ci].Points {
			if m.Source != p.Source || m.Vector == nil {
				continue
			}
			if sim := vectormath.CosineSimilarity(p.Vector, m.Vector); sim > threshold {
				return clusters[ci].ID, sim
			}
		}
	}
	return "", 0
}
