// Package engine drives a negotiation through its lifecycle: formulation,
// the confirmation gate, encoding and resonance, the parallel offer barrier,
// the coordinator synthesis loop and finalization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/concordhq/concord/pkg/archive"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/profile"
	"github.com/concordhq/concord/pkg/resonance"
	"github.com/concordhq/concord/pkg/session"
	"github.com/concordhq/concord/pkg/skills"
)

// Stage names used in errors and traces.
const (
	stageFormulation = "formulation"
	stageGate        = "confirmation_gate"
	stageResonance   = "resonance"
	stageOffers      = "offers"
	stageSynthesis   = "synthesis"
	stageFinalize    = "finalize"
)

// archiveTimeout bounds the post-completion snapshot write.
const archiveTimeout = 10 * time.Second

// Engine runs negotiations. One Engine serves many concurrent negotiations;
// all per-session state lives on the session entry.
type Engine struct {
	defaults models.SessionConfig
	logger   *slog.Logger
}

// New creates an engine with the given default timeouts and round cap.
func New(defaults models.SessionConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.OfferTimeout <= 0 {
		defaults.OfferTimeout = 30 * time.Second
	}
	if defaults.ConfirmTimeout <= 0 {
		defaults.ConfirmTimeout = 60 * time.Second
	}
	if defaults.MaxCoordinatorRounds <= 0 {
		defaults.MaxCoordinatorRounds = 1
	}
	return &Engine{defaults: defaults, logger: logger.With("component", "engine")}
}

// Defaults returns the engine's default session config.
func (e *Engine) Defaults() models.SessionConfig { return e.defaults }

// Run drives one negotiation to completion. It always leaves the session in
// state completed and the event stream finished; failures land in
// metadata["error"] and are also returned.
func (e *Engine) Run(ctx context.Context, entry *session.Entry, deps Deps) error {
	sess := entry.Session
	logger := e.logger.With("negotiation_id", sess.NegotiationID)
	if deps.Logger != nil {
		logger = deps.Logger.With("negotiation_id", sess.NegotiationID)
	}

	err := e.run(ctx, entry, deps, logger)
	if err != nil {
		e.failNegotiation(entry, err, logger)
	}
	entry.Stream.Finish()
	e.archiveAsync(entry, deps, logger)
	return err
}

func (e *Engine) run(ctx context.Context, entry *session.Entry, deps Deps, logger *slog.Logger) error {
	sess := entry.Session
	id := sess.NegotiationID

	// Stage 1: formulation.
	start := time.Now()
	if err := sess.TransitionTo(models.StateFormulating); err != nil {
		return newError(CodeEngine, stageFormulation, id, err)
	}
	formulated, err := e.formulate(ctx, sess, deps)
	if err != nil {
		return err
	}
	if err := sess.SetFormulatedText(formulated); err != nil {
		return newError(CodeEngine, stageFormulation, id, err)
	}
	entry.Stream.Publish(events.New(events.EventTypeFormulationReady, id, events.FormulationReadyData{
		RawIntent:      sess.Demand.RawIntent,
		FormulatedText: formulated,
	}))
	sess.Trace.Append(stageFormulation, time.Since(start), sess.Demand.RawIntent, formulated, nil)

	// Confirmation gate.
	start = time.Now()
	if err := sess.TransitionTo(models.StateFormulated); err != nil {
		return newError(CodeEngine, stageGate, id, err)
	}
	if err := e.awaitConfirmation(ctx, entry); err != nil {
		return err
	}
	sess.Trace.Append(stageGate, time.Since(start), "", sess.FormulatedText(), nil)

	// Stage 2: encoding and resonance.
	start = time.Now()
	if err := sess.TransitionTo(models.StateEncoding); err != nil {
		return newError(CodeEngine, stageResonance, id, err)
	}
	activatedCount, err := e.selectParticipants(ctx, entry, deps)
	if err != nil {
		return err
	}
	sess.Trace.Append(stageResonance, time.Since(start), sess.FormulatedText(),
		fmt.Sprintf("%d agents activated", activatedCount), nil)

	// Stage 3: parallel offers and barrier.
	start = time.Now()
	if err := sess.TransitionTo(models.StateOffering); err != nil {
		return newError(CodeEngine, stageOffers, id, err)
	}
	e.collectOffers(ctx, entry, deps, logger)
	if err := sess.TransitionTo(models.StateBarrierWaiting); err != nil {
		return newError(CodeEngine, stageOffers, id, err)
	}
	participants := sess.ParticipantSnapshot()
	replied, exited := countParticipants(participants)
	if len(participants) > 0 {
		entry.Stream.Publish(events.New(events.EventTypeBarrierComplete, id, events.BarrierCompleteData{
			TotalParticipants: len(participants),
			OffersReceived:    replied,
			ExitedCount:       exited,
		}))
	}
	sess.Trace.Append(stageOffers, time.Since(start), fmt.Sprintf("%d participants", len(participants)),
		fmt.Sprintf("%d replied, %d exited", replied, exited), nil)

	// Stage 4: coordinator synthesis.
	start = time.Now()
	if err := sess.TransitionTo(models.StateSynthesizing); err != nil {
		return newError(CodeEngine, stageSynthesis, id, err)
	}
	plan, err := e.runCoordinator(ctx, entry, deps, logger)
	if err != nil {
		return err
	}
	sess.SetPlan(plan)
	sess.Trace.Append(stageSynthesis, time.Since(start), "", plan,
		map[string]any{"rounds": sess.Rounds()})

	return e.finalize(entry)
}

// formulate runs the formulation skill, falling back to the raw intent when
// no skill is wired.
func (e *Engine) formulate(ctx context.Context, sess *models.Session, deps Deps) (string, error) {
	demand := sess.DemandSnapshot()
	if deps.Skills.Formulation == nil || deps.Profiles == nil {
		return demand.RawIntent, nil
	}
	result, err := deps.Skills.Formulation.Execute(ctx, demand.RawIntent, demand.UserID, deps.Profiles)
	if err != nil {
		return "", &Error{
			Code: CodeSkill, Stage: stageFormulation, NegotiationID: sess.NegotiationID,
			Skill: deps.Skills.Formulation.Name(), Err: err,
		}
	}
	return result.FormulatedText, nil
}

// awaitConfirmation blocks on the session's gate until the user confirms,
// the timeout auto-confirms, or the outer context is cancelled.
func (e *Engine) awaitConfirmation(ctx context.Context, entry *session.Entry) error {
	sess := entry.Session
	timeout := sess.Config.ConfirmTimeout
	if timeout <= 0 {
		timeout = e.defaults.ConfirmTimeout
	}

	gateCh := entry.Gate.Arm()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-gateCh:
		if c.Text != nil {
			sess.ReplaceFormulatedText(*c.Text)
		}
		return nil
	case <-timer.C:
		entry.Gate.Disarm()
		// A confirmation may have slipped in before Disarm took the lock.
		select {
		case c := <-gateCh:
			if c.Text != nil {
				sess.ReplaceFormulatedText(*c.Text)
			}
		default:
		}
		return nil
	case <-ctx.Done():
		entry.Gate.Disarm()
		return newError(CodeEngine, stageGate, sess.NegotiationID, ctx.Err())
	}
}

// selectParticipants encodes the demand, runs resonance detection and
// registers activated agents as participants. With no candidate vectors the
// stage is skipped entirely and the negotiation proceeds with zero
// participants.
func (e *Engine) selectParticipants(ctx context.Context, entry *session.Entry, deps Deps) (int, error) {
	sess := entry.Session
	if len(deps.AgentVectors) == 0 {
		return 0, nil
	}
	if deps.Encoder == nil {
		return 0, newError(CodeConfig, stageResonance, sess.NegotiationID,
			errors.New("agent vectors provided but no encoder configured"))
	}

	demandVector, err := deps.Encoder.Encode(ctx, sess.FormulatedText())
	if err != nil {
		return 0, newError(CodeEncoding, stageResonance, sess.NegotiationID, err)
	}

	detector := deps.Detector
	if detector == nil {
		detector = resonance.NewDetector()
	}
	activated, _ := detector.Detect(demandVector, deps.AgentVectors, deps.KStar, deps.MinScore)

	agents := make([]events.ActivatedAgent, 0, len(activated))
	for _, a := range activated {
		name := deps.DisplayNames[a.AgentID]
		if name == "" {
			name = a.AgentID
		}
		sess.AddParticipant(a.AgentID, name, a.Score)
		agents = append(agents, events.ActivatedAgent{
			AgentID:        a.AgentID,
			DisplayName:    name,
			ResonanceScore: a.Score,
		})
	}
	entry.Stream.Publish(events.New(events.EventTypeResonanceActivated, sess.NegotiationID,
		events.ResonanceActivatedData{ActivatedCount: len(agents), Agents: agents}))
	return len(agents), nil
}

// collectOffers fans out one offer request per active participant, each under
// its own timeout, and waits for all of them. Per-agent failures mark that
// participant exited and never abort siblings.
func (e *Engine) collectOffers(ctx context.Context, entry *session.Entry, deps Deps, logger *slog.Logger) {
	sess := entry.Session
	timeout := sess.Config.OfferTimeout
	if timeout <= 0 {
		timeout = e.defaults.OfferTimeout
	}

	var wg sync.WaitGroup
	for _, p := range sess.ParticipantSnapshot() {
		if p.State != models.ParticipantActive {
			continue
		}
		wg.Add(1)
		go func(p models.Participant) {
			defer wg.Done()
			agentCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			result, err := e.requestOffer(agentCtx, deps, p, sess.FormulatedText())
			if err != nil {
				logger.Warn("participant exited", "agent_id", p.AgentID, "error", err)
				sess.MarkExited(p.AgentID)
				return
			}
			offer := models.NewOffer(p.AgentID, result.Content, result.Capabilities, result.Confidence)
			sess.MarkReplied(p.AgentID, offer)
			entry.Stream.Publish(events.New(events.EventTypeOfferReceived, sess.NegotiationID,
				events.OfferReceivedData{
					AgentID:      p.AgentID,
					DisplayName:  p.DisplayName,
					Content:      offer.Content,
					Capabilities: offer.Capabilities,
				}))
		}(p)
	}
	wg.Wait()
}

// requestOffer asks one agent for its offer, preferring the offer skill and
// falling back to a plain profile-source chat.
func (e *Engine) requestOffer(ctx context.Context, deps Deps, p models.Participant, demandText string) (*skills.OfferResult, error) {
	if deps.Skills.Offer != nil {
		prof, err := deps.Profiles.GetProfile(ctx, p.AgentID)
		if err != nil {
			return nil, err
		}
		return deps.Skills.Offer.Execute(ctx, prof, demandText, deps.Profiles)
	}
	text, err := deps.Profiles.Chat(ctx, p.AgentID,
		[]profile.Message{{Role: "user", Content: "Demand: " + demandText}}, "")
	if err != nil {
		return nil, err
	}
	return &skills.OfferResult{Content: text, Capabilities: []string{}, Confidence: 0.5}, nil
}

// finalize moves the session to completed and emits the terminal plan.ready
// event. Finalizing twice is an engine error.
func (e *Engine) finalize(entry *session.Entry) error {
	sess := entry.Session
	start := time.Now()
	if err := sess.TransitionTo(models.StateCompleted); err != nil {
		return newError(CodeEngine, stageFinalize, sess.NegotiationID, err)
	}
	entry.Stream.Publish(events.New(events.EventTypePlanReady, sess.NegotiationID, events.PlanReadyData{
		PlanText:            sess.Plan(),
		CoordinatorRounds:   sess.Rounds(),
		ParticipatingAgents: sess.RepliedAgentIDs(),
	}))
	sess.Trace.Append("synthesis_complete", time.Since(start), "", sess.Plan(), nil)
	return nil
}

// failNegotiation short-circuits a failed session to completed with the
// error recorded in metadata. Subscribers still see a finite stream.
func (e *Engine) failNegotiation(entry *session.Entry, cause error, logger *slog.Logger) {
	sess := entry.Session
	if errors.Is(cause, context.Canceled) {
		sess.SetMetadata("error", "cancelled")
	} else {
		sess.SetMetadata("error", cause.Error())
	}
	if sess.CurrentState() != models.StateCompleted {
		if err := sess.TransitionTo(models.StateCompleted); err != nil {
			logger.Error("failed to force terminal state", "error", err)
		}
	}
	logger.Error("negotiation failed", "error", cause)
}

// archiveAsync snapshots the finished session into the archive sink.
func (e *Engine) archiveAsync(entry *session.Entry, deps Deps, logger *slog.Logger) {
	if deps.Archive == nil {
		return
	}
	snap := snapshotSession(entry)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := deps.Archive.Save(ctx, snap); err != nil {
			logger.Warn("archive save failed", "error", err)
		}
	}()
}

func snapshotSession(entry *session.Entry) *archive.Snapshot {
	sess := entry.Session
	demand := sess.DemandSnapshot()
	return &archive.Snapshot{
		NegotiationID:       sess.NegotiationID,
		ParentNegotiationID: sess.ParentNegotiationID,
		State:               string(sess.CurrentState()),
		UserID:              demand.UserID,
		Scope:               demand.Scope,
		DemandRaw:           demand.RawIntent,
		DemandFormulated:    demand.FormulatedText,
		PlanOutput:          sess.Plan(),
		CoordinatorRounds:   sess.Rounds(),
		Participants:        sess.ParticipantSnapshot(),
		Trace:               sess.Trace.Snapshot(),
		Events:              entry.Stream.History(),
		Metadata:            sess.MetadataSnapshot(),
		CreatedAt:           sess.CreatedAt,
		CompletedAt:         sess.CompletedTime(),
	}
}

func countParticipants(participants []models.Participant) (replied, exited int) {
	for _, p := range participants {
		switch p.State {
		case models.ParticipantReplied:
			replied++
		case models.ParticipantExited:
			exited++
		}
	}
	return replied, exited
}
