package registry

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/encoder"
	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/profile"
)

// countingEncoder returns a fixed unit vector and counts calls.
type countingEncoder struct {
	calls atomic.Int64
}

func (e *countingEncoder) Encode(_ context.Context, text string) (encoder.Vector, error) {
	e.calls.Add(1)
	if text == "" {
		return nil, encoder.ErrEmptyInput
	}
	return encoder.Vector{1, 0, 0}, nil
}

func (e *countingEncoder) BatchEncode(ctx context.Context, texts []string) ([]encoder.Vector, error) {
	out := make([]encoder.Vector, len(texts))
	for i, t := range texts {
		v, err := e.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *countingEncoder) Dim() int { return 3 }

func seededRegistry(enc encoder.Encoder) *AgentRegistry {
	r := NewAgentRegistry(enc, nil)
	r.Register(&profile.Profile{AgentID: "alice", DisplayName: "Alice", Summary: "ML"}, "startup")
	r.Register(&profile.Profile{AgentID: "bob", DisplayName: "Bob", Summary: "Frontend"}, "startup", "design")
	r.Register(&profile.Profile{AgentID: "carol", DisplayName: "Carol", Summary: "Ops"})
	return r
}

func TestByScope(t *testing.T) {
	r := seededRegistry(nil)
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.ByScope(ScopeAll))
	assert.Equal(t, []string{"alice", "bob"}, r.ByScope("scene:startup"))
	assert.Equal(t, []string{"bob"}, r.ByScope("scene:design"))
	assert.Empty(t, r.ByScope("scene:missing"))
	assert.Empty(t, r.ByScope("future-selector"), "reserved selectors match nothing")
}

func TestDisplayNames(t *testing.T) {
	r := seededRegistry(nil)
	names := r.DisplayNames("scene:startup")
	assert.Equal(t, map[string]string{"alice": "Alice", "bob": "Bob"}, names)
}

func TestGetProfileCopies(t *testing.T) {
	r := seededRegistry(nil)
	p, err := r.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	p.DisplayName = "mutated"

	again, err := r.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.DisplayName)

	_, err = r.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, profile.ErrUnknownAgent)
}

func TestAgentVectorsLazyEncodeAndCache(t *testing.T) {
	enc := &countingEncoder{}
	r := seededRegistry(enc)

	vectors, err := r.AgentVectors(context.Background(), ScopeAll)
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, int64(3), enc.calls.Load())

	// Second call is served from the cache.
	_, err = r.AgentVectors(context.Background(), ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, int64(3), enc.calls.Load())
}

func TestAgentVectorsFromArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.cvf")
	require.NoError(t, encoder.WriteVectorFile(path, map[string]encoder.Vector{
		"alice": {1, 0, 0},
		"bob":   {0, 1, 0},
		"carol": {0, 0, 1},
	}))

	enc := &countingEncoder{}
	r := seededRegistry(enc)
	require.NoError(t, r.LoadVectors(path))

	vectors, err := r.AgentVectors(context.Background(), ScopeAll)
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, int64(0), enc.calls.Load(), "precomputed vectors skip the encoder")
}

func TestAgentVectorsNoEncoder(t *testing.T) {
	r := seededRegistry(nil)
	_, err := r.AgentVectors(context.Background(), ScopeAll)
	assert.Error(t, err)
}

func TestSceneRegistryLifecycle(t *testing.T) {
	agents := seededRegistry(nil)
	scenes := NewSceneRegistry(agents)
	scenes.Register(models.Scene{SceneID: "startup", Name: "Startup Scene", DomainContext: "early stage"})

	scene, err := scenes.Get("startup")
	require.NoError(t, err)
	assert.Equal(t, 2, scene.AgentCount)

	_, err = scenes.Get("missing")
	assert.ErrorIs(t, err, ErrSceneNotFound)

	require.NoError(t, scenes.Connect("startup", "carol"))
	scene, err = scenes.Get("startup")
	require.NoError(t, err)
	assert.Equal(t, 3, scene.AgentCount)

	assert.ErrorIs(t, scenes.Connect("missing", "carol"), ErrSceneNotFound)
	assert.ErrorIs(t, scenes.Connect("startup", "nobody"), ErrAgentNotFound)

	list := scenes.List()
	require.Len(t, list, 1)
	assert.Equal(t, "startup", list[0].SceneID)
}
