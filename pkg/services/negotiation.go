// Package services wires the engine, registries and session store into the
// operations the HTTP surface exposes.
package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/concordhq/concord/pkg/archive"
	"github.com/concordhq/concord/pkg/encoder"
	"github.com/concordhq/concord/pkg/engine"
	"github.com/concordhq/concord/pkg/llm"
	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/profile"
	"github.com/concordhq/concord/pkg/registry"
	"github.com/concordhq/concord/pkg/resonance"
	"github.com/concordhq/concord/pkg/session"
)

// NegotiationService starts negotiations and routes confirmations. One
// background task per negotiation drives the engine; the service tracks
// their cancel functions for shutdown.
type NegotiationService struct {
	store    *session.Manager
	engine   *engine.Engine
	agents   *registry.AgentRegistry
	scenes   *registry.SceneRegistry
	profiles profile.Source
	reasoner llm.ReasoningClient
	encoder  encoder.Encoder
	detector *resonance.Detector
	skills   engine.Skills
	archive  archive.Sink

	kStar        int
	minScore     float64
	defaultScope string
	logger       *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Options configures the negotiation service.
type Options struct {
	Store        *session.Manager
	Engine       *engine.Engine
	Agents       *registry.AgentRegistry
	Scenes       *registry.SceneRegistry
	Profiles     profile.Source
	Reasoner     llm.ReasoningClient
	Encoder      encoder.Encoder
	Detector     *resonance.Detector
	Skills       engine.Skills
	Archive      archive.Sink
	KStar        int
	MinScore     float64
	DefaultScope string
	Logger       *slog.Logger
}

// NewNegotiationService creates the service.
func NewNegotiationService(opts Options) *NegotiationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NegotiationService{
		store:        opts.Store,
		engine:       opts.Engine,
		agents:       opts.Agents,
		scenes:       opts.Scenes,
		profiles:     opts.Profiles,
		reasoner:     opts.Reasoner,
		encoder:      opts.Encoder,
		detector:     opts.Detector,
		skills:       opts.Skills,
		archive:      opts.Archive,
		kStar:        opts.KStar,
		minScore:     opts.MinScore,
		defaultScope: opts.DefaultScope,
		logger:       logger.With("component", "negotiation_service"),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Start creates a session and launches the engine in the background. It
// returns the new entry plus the number of candidate agents in scope.
func (s *NegotiationService) Start(intent, userID, scope string) (*session.Entry, int) {
	if strings.TrimSpace(scope) == "" {
		scope = s.defaultScope
	}

	sess := models.NewSession(uuid.NewString(), models.DemandSnapshot{
		RawIntent: intent,
		UserID:    userID,
		Scope:     scope,
	}, s.engine.Defaults())
	entry := s.store.Create(sess)
	agentCount := len(s.agents.ByScope(scope))

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[sess.NegotiationID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, sess.NegotiationID)
			s.mu.Unlock()
			cancel()
		}()
		if err := s.engine.Run(ctx, entry, s.buildDeps(ctx, scope)); err != nil {
			s.logger.Warn("negotiation finished with error",
				"negotiation_id", sess.NegotiationID, "error", err)
		}
	}()

	return entry, agentCount
}

// buildDeps resolves the scope into the per-negotiation dependency set.
func (s *NegotiationService) buildDeps(ctx context.Context, scope string) engine.Deps {
	deps := engine.Deps{
		Profiles:     s.profiles,
		Reasoner:     s.reasoner,
		Encoder:      s.encoder,
		Detector:     s.detector,
		Skills:       s.skills,
		DisplayNames: s.agents.DisplayNames(scope),
		KStar:        s.kStar,
		MinScore:     s.minScore,
		Archive:      s.archive,
		Logger:       s.logger,
	}

	vectors, err := s.agents.AgentVectors(ctx, scope)
	if err != nil {
		// The negotiation still runs, with zero candidates.
		s.logger.Warn("agent vector resolution failed", "scope", scope, "error", err)
	} else {
		deps.AgentVectors = vectors
	}

	if sceneID, ok := strings.CutPrefix(scope, "scene:"); ok {
		if scene, err := s.scenes.Get(sceneID); err == nil {
			deps.SceneContext = scene.DomainContext
		}
	}
	return deps
}

// Confirm delivers a formulation confirmation.
func (s *NegotiationService) Confirm(negotiationID string, editedText *string) error {
	return s.store.ConfirmFormulation(negotiationID, editedText)
}

// Cancel aborts a running negotiation. Returns false when nothing is
// running under the id.
func (s *NegotiationService) Cancel(negotiationID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[negotiationID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every running negotiation.
func (s *NegotiationService) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
}
