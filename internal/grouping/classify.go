package grouping

import (
	"semgroup/internal/vectormath"
)

// Reference is one labeled vector in the reference set points are matched
// against (a category embedding, or a per-label centroid of type samples).
type Reference struct {
	Label  string    `json:"label"`
	Vector []float64 `json:"vector"`
}

// ClassResult is the nearest-reference outcome for one point. Matched is
// false when the point has no vector or no reference reached minSimilarity.
type ClassResult struct {
	Point      Point   `json:"point"`
	Label      string  `json:"label,omitempty"`
	Similarity float64 `json:"similarity"`
	Matched    bool    `json:"matched"`
}

// Classify assigns each point the label of its most similar reference,
// provided the best similarity reaches minSimilarity. Input order is
// preserved in the output.
func Classify(points []Point, refs []Reference, minSimilarity float64) []ClassResult {
	out := make([]ClassResult, len(points))
	for i, p := range points {
		out[i] = ClassResult{Point: p}
		if p.Vector == nil {
			continue
		}
		bestLabel, bestSim, found := "", 0.0, false
		for _, ref := range refs {
			if ref.Vector == nil {
				continue
			}
			sim := vectormath.CosineSimilarity(p.Vector, ref.Vector)
			if !found || sim > bestSim {
				bestLabel, bestSim, found = ref.Label, sim, true
			}
		}
		if found && bestSim >= minSimilarity {
			out[i].Label = bestLabel
			out[i].Similarity = bestSim
			out[i].Matched = true
		} else if found {
			out[i].Similarity = bestSim
		}
	}
	return out
}

// CentroidsByLabel collapses labeled sample vectors into one Reference per
// distinct label, using the centroid of that label's vectors. Used by typing
// jobs where several samples share a label.
func CentroidsByLabel(samples []Reference) []Reference {
	byLabel := make(map[string][][]float64)
	var order []string
	for _, s := range samples {
		if s.Vector == nil {
			continue
		}
		if _, ok := byLabel[s.Label]; !ok {
			order = append(order, s.Label)
		}
		byLabel[s.Label] = append(byLabel[s.Label], s.Vector)
	}
	out := make([]Reference, 0, len(order))
	for _, label := range order {
		out = append(out, Reference{Label: label, Vector: vectormath.Centroid(byLabel[label])})
	}
	return out
}
