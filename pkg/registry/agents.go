// Package registry tracks the agents and scenes a deployment knows about and
// answers scope queries for the engine.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/concordhq/concord/pkg/encoder"
	"github.com/concordhq/concord/pkg/profile"
)

// ScopeAll selects every registered agent. Scene scopes use the
// "scene:<scene_id>" form. Other selectors are reserved and match nothing.
const ScopeAll = "all"

const scenePrefix = "scene:"

// encodeConcurrency bounds parallel embedding calls during lazy vector fill.
const encodeConcurrency = 8

// ErrAgentNotFound indicates no agent is registered under the id.
var ErrAgentNotFound = errors.New("registry: agent not found")

// AgentRecord is one registered agent.
type AgentRecord struct {
	Profile *profile.Profile
	Scenes  map[string]struct{}
}

// AgentRegistry stores agent profiles, their scene tags and their embedding
// vectors. Vectors come from a precomputed archive when one is loaded,
// otherwise they are encoded lazily on first use and cached.
type AgentRegistry struct {
	mu      sync.RWMutex
	agents  map[string]*AgentRecord
	vectors map[string]encoder.Vector
	enc     encoder.Encoder
	logger  *slog.Logger
}

var _ profile.ProfileStore = (*AgentRegistry)(nil)

// NewAgentRegistry creates an empty registry. enc may be nil when every
// vector is precomputed.
func NewAgentRegistry(enc encoder.Encoder, logger *slog.Logger) *AgentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentRegistry{
		agents:  make(map[string]*AgentRecord),
		vectors: make(map[string]encoder.Vector),
		enc:     enc,
		logger:  logger.With("component", "registry"),
	}
}

// Register adds or replaces an agent with its scene tags.
func (r *AgentRegistry) Register(p *profile.Profile, scenes ...string) {
	rec := &AgentRecord{Profile: p, Scenes: make(map[string]struct{}, len(scenes))}
	for _, s := range scenes {
		rec.Scenes[s] = struct{}{}
	}
	r.mu.Lock()
	r.agents[p.AgentID] = rec
	delete(r.vectors, p.AgentID)
	r.mu.Unlock()
}

// Tag adds an agent to a scene.
func (r *AgentRegistry) Tag(agentID, sceneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	rec.Scenes[sceneID] = struct{}{}
	return nil
}

// GetProfile implements profile.ProfileStore.
func (r *AgentRegistry) GetProfile(_ context.Context, agentID string) (*profile.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return nil, &profile.UnknownAgentError{AgentID: agentID}
	}
	cp := *rec.Profile
	return &cp, nil
}

// ByScope returns the agent ids matching a scope selector, sorted.
func (r *AgentRegistry) ByScope(scope string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, rec := range r.agents {
		if matchesScope(rec, scope) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DisplayNames returns the display-name table for a scope.
func (r *AgentRegistry) DisplayNames(scope string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make(map[string]string)
	for id, rec := range r.agents {
		if matchesScope(rec, scope) {
			names[id] = rec.Profile.DisplayName
		}
	}
	return names
}

// Profiles returns copies of the profiles matching a scope, sorted by id.
func (r *AgentRegistry) Profiles(scope string) []*profile.Profile {
	ids := r.ByScope(scope)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*profile.Profile, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.agents[id]; ok {
			cp := *rec.Profile
			out = append(out, &cp)
		}
	}
	return out
}

// LoadVectors seeds the vector cache from a precomputed archive, validating
// the archive's dimension against the encoder when one is configured.
func (r *AgentRegistry) LoadVectors(path string) error {
	expectedDim := 0
	if r.enc != nil {
		expectedDim = r.enc.Dim()
	}
	vectors, err := encoder.LoadVectorFile(path, expectedDim)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for id, v := range vectors {
		r.vectors[id] = v
	}
	r.mu.Unlock()
	r.logger.Info("loaded precomputed agent vectors", "path", path, "count", len(vectors))
	return nil
}

// AgentVectors returns the embedding vectors for every agent in scope,
// encoding missing ones in parallel and caching the results.
func (r *AgentRegistry) AgentVectors(ctx context.Context, scope string) (map[string]encoder.Vector, error) {
	ids := r.ByScope(scope)

	out := make(map[string]encoder.Vector, len(ids))
	var missing []string
	r.mu.RLock()
	for _, id := range ids {
		if v, ok := r.vectors[id]; ok {
			out[id] = v
		} else {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}
	if r.enc == nil {
		return nil, fmt.Errorf("registry: %d agents lack vectors and no encoder is configured", len(missing))
	}

	encoded := make([]encoder.Vector, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(encodeConcurrency)
	for i, id := range missing {
		g.Go(func() error {
			p, err := r.GetProfile(gctx, id)
			if err != nil {
				return err
			}
			v, err := r.enc.Encode(gctx, profileText(p))
			if err != nil {
				return fmt.Errorf("registry: encode profile for %s: %w", id, err)
			}
			encoded[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	for i, id := range missing {
		r.vectors[id] = encoded[i]
		out[id] = encoded[i]
	}
	r.mu.Unlock()
	return out, nil
}

// profileText projects a profile to the text the encoder embeds.
func profileText(p *profile.Profile) string {
	parts := []string{p.DisplayName, p.Summary}
	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, p.Attributes[k]))
	}
	return strings.Join(parts, "\n")
}

func matchesScope(rec *AgentRecord, scope string) bool {
	switch {
	case scope == "" || scope == ScopeAll:
		return true
	case strings.HasPrefix(scope, scenePrefix):
		_, ok := rec.Scenes[strings.TrimPrefix(scope, scenePrefix)]
		return ok
	default:
		return false
	}
}
