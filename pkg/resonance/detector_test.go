package resonance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/encoder"
)

func TestDetectScoresAndSorts(t *testing.T) {
	demand := encoder.Vector{1, 0}
	agents := map[string]encoder.Vector{
		"alice": {1, 0},    // cosine 1.0
		"bob":   {0.5, 0.5}, // cosine ~0.707
		"carol": {0, 1},    // cosine 0.0
	}

	activated, filtered := NewDetector().Detect(demand, agents, 5, 0.5)
	require.Len(t, activated, 2)
	assert.Equal(t, "alice", activated[0].AgentID)
	assert.Equal(t, "bob", activated[1].AgentID)
	assert.InDelta(t, 1.0, activated[0].Score, 1e-6)

	require.Len(t, filtered, 1)
	assert.Equal(t, "carol", filtered[0].AgentID)
}

func TestDetectTieBreaksByAgentID(t *testing.T) {
	demand := encoder.Vector{1, 0}
	agents := map[string]encoder.Vector{
		"zeta":  {1, 0},
		"alpha": {1, 0},
		"mid":   {1, 0},
	}
	activated, _ := NewDetector().Detect(demand, agents, 10, 0)
	require.Len(t, activated, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"},
		[]string{activated[0].AgentID, activated[1].AgentID, activated[2].AgentID})
}

func TestDetectTruncatesToKStar(t *testing.T) {
	demand := encoder.Vector{1, 0}
	agents := map[string]encoder.Vector{
		"a": {1, 0},
		"b": {0.9, 0.1},
		"c": {0.8, 0.2},
	}
	activated, filtered := NewDetector().Detect(demand, agents, 2, 0)
	assert.Len(t, activated, 2)
	// Truncation does not move agents into the filtered partition.
	assert.Empty(t, filtered)
}

func TestDetectZeroNormVectorIsSafe(t *testing.T) {
	demand := encoder.Vector{0, 0}
	agents := map[string]encoder.Vector{"a": {1, 0}}
	activated, filtered := NewDetector().Detect(demand, agents, 5, 0.5)
	assert.Empty(t, activated)
	require.Len(t, filtered, 1)
	assert.Equal(t, 0.0, filtered[0].Score)
}

func TestDetectEmptyAgents(t *testing.T) {
	activated, filtered := NewDetector().Detect(encoder.Vector{1}, nil, 5, 0)
	assert.Empty(t, activated)
	assert.Empty(t, filtered)
}

func TestDetectKStarZero(t *testing.T) {
	agents := map[string]encoder.Vector{"a": {1, 0}}
	activated, _ := NewDetector().Detect(encoder.Vector{1, 0}, agents, 0, 0)
	assert.Empty(t, activated)
}
