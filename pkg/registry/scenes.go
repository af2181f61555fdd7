package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/concordhq/concord/pkg/models"
)

// ErrSceneNotFound indicates no scene is registered under the id.
var ErrSceneNotFound = errors.New("registry: scene not found")

// SceneRegistry stores scenes and connects agents to them. Agent membership
// lives on the agent records, so AgentCount is computed on read.
type SceneRegistry struct {
	mu     sync.RWMutex
	scenes map[string]models.Scene
	agents *AgentRegistry
}

// NewSceneRegistry creates a registry backed by the given agent registry.
func NewSceneRegistry(agents *AgentRegistry) *SceneRegistry {
	return &SceneRegistry{
		scenes: make(map[string]models.Scene),
		agents: agents,
	}
}

// Register adds or replaces a scene.
func (r *SceneRegistry) Register(scene models.Scene) {
	r.mu.Lock()
	r.scenes[scene.SceneID] = scene
	r.mu.Unlock()
}

// Get returns a scene with its current agent count.
func (r *SceneRegistry) Get(sceneID string) (models.Scene, error) {
	r.mu.RLock()
	scene, ok := r.scenes[sceneID]
	r.mu.RUnlock()
	if !ok {
		return models.Scene{}, fmt.Errorf("%w: %s", ErrSceneNotFound, sceneID)
	}
	scene.AgentCount = len(r.agents.ByScope(scenePrefix + sceneID))
	return scene, nil
}

// List returns all scenes sorted by id, agent counts filled in.
func (r *SceneRegistry) List() []models.Scene {
	r.mu.RLock()
	out := make([]models.Scene, 0, len(r.scenes))
	for _, scene := range r.scenes {
		out = append(out, scene)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SceneID < out[j].SceneID })
	for i := range out {
		out[i].AgentCount = len(r.agents.ByScope(scenePrefix + out[i].SceneID))
	}
	return out
}

// Connect tags an agent with a scene. Both must already be registered.
func (r *SceneRegistry) Connect(sceneID, agentID string) error {
	r.mu.RLock()
	_, ok := r.scenes[sceneID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSceneNotFound, sceneID)
	}
	return r.agents.Tag(agentID, sceneID)
}
