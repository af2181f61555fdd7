// Package resonance ranks candidate agents against a demand vector by cosine
// similarity and partitions them into activated and filtered sets.
package resonance

import (
	"sort"

	"github.com/concordhq/concord/pkg/encoder"
)

// defaultEpsilon avoids division by zero when a vector has zero norm.
const defaultEpsilon = 1e-10

// Activation is one scored agent.
type Activation struct {
	AgentID string
	Score   float64
}

// Detector scores agent vectors against a demand vector.
type Detector struct {
	// Epsilon is added to the norm product. Zero selects the default.
	Epsilon float64
}

// NewDetector creates a detector with the default epsilon.
func NewDetector() *Detector { return &Detector{Epsilon: defaultEpsilon} }

// Detect scores every agent vector against the demand vector and returns the
// activated partition (score >= minScore, truncated to at most kStar) and the
// filtered partition (score < minScore). Both are sorted by descending score
// with ties broken by ascending agent id, so results are deterministic for a
// fixed input set.
func (d *Detector) Detect(demand encoder.Vector, agentVectors map[string]encoder.Vector, kStar int, minScore float64) (activated, filtered []Activation) {
	eps := d.Epsilon
	if eps <= 0 {
		eps = defaultEpsilon
	}

	demandNorm := encoder.Norm(demand)
	all := make([]Activation, 0, len(agentVectors))
	for id, v := range agentVectors {
		score := encoder.Dot(demand, v) / (demandNorm*encoder.Norm(v) + eps)
		all = append(all, Activation{AgentID: id, Score: score})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].AgentID < all[j].AgentID
	})

	for _, a := range all {
		if a.Score >= minScore {
			activated = append(activated, a)
		} else {
			filtered = append(filtered, a)
		}
	}
	if kStar >= 0 && len(activated) > kStar {
		activated = activated[:kStar]
	}
	return activated, filtered
}
