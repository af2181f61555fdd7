package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/encoder"
	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/llm"
	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/profile"
	"github.com/concordhq/concord/pkg/session"
	"github.com/concordhq/concord/pkg/skills"
)

// fakeSource is a scriptable profile source with per-agent delays and errors.
type fakeSource struct {
	profiles map[string]*profile.Profile
	replies  map[string]string
	delays   map[string]time.Duration
	errs     map[string]error
}

func (f *fakeSource) GetProfile(_ context.Context, agentID string) (*profile.Profile, error) {
	p, ok := f.profiles[agentID]
	if !ok {
		return nil, &profile.UnknownAgentError{AgentID: agentID}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeSource) Chat(ctx context.Context, agentID string, _ []profile.Message, _ string) (string, error) {
	if _, ok := f.profiles[agentID]; !ok {
		return "", &profile.UnknownAgentError{AgentID: agentID}
	}
	if d, ok := f.delays[agentID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := f.errs[agentID]; ok {
		return "", err
	}
	if reply, ok := f.replies[agentID]; ok {
		return reply, nil
	}
	return "no reply configured", nil
}

func (f *fakeSource) ChatStream(ctx context.Context, agentID string, messages []profile.Message, systemPrompt string) (<-chan string, error) {
	text, err := f.Chat(ctx, agentID, messages, systemPrompt)
	if err != nil {
		return nil, err
	}
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return ch, nil
}

// fakeReasoner returns queued responses and records every request.
type fakeReasoner struct {
	responses []*llm.ChatResponse
	errs      []error
	requests  []llm.ChatRequest
}

func (r *fakeReasoner) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	i := len(r.requests)
	r.requests = append(r.requests, req)
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i < len(r.responses) {
		return r.responses[i], nil
	}
	return nil, llm.ErrEmptyResponse
}

// fakeEncoder returns a fixed demand vector.
type fakeEncoder struct{}

func (fakeEncoder) Encode(_ context.Context, text string) (encoder.Vector, error) {
	if text == "" {
		return nil, encoder.ErrEmptyInput
	}
	return encoder.Vector{1, 0}, nil
}

func (e fakeEncoder) BatchEncode(ctx context.Context, texts []string) ([]encoder.Vector, error) {
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

func (fakeEncoder) Dim() int { return 2 }

func outputPlan(plan string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ToolCalls:  []llm.ToolCall{{ID: "call_1", Name: skills.ToolOutputPlan, Arguments: map[string]any{"plan_text": plan}}},
		StopReason: "tool_calls",
	}
}

func askAgent(agentID, question string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ToolCalls:  []llm.ToolCall{{ID: "call_a", Name: skills.ToolAskAgent, Arguments: map[string]any{"agent_id": agentID, "question": question}}},
		StopReason: "tool_calls",
	}
}

// Cosine scores against the {1,0} demand vector: alice 1.0, bob 0.7, carol 0.6.
func testVectors() map[string]encoder.Vector {
	return map[string]encoder.Vector{
		"alice": {1, 0},
		"bob":   {0.7, 0.7141428},
		"carol": {0.6, 0.8},
	}
}

func testSource() *fakeSource {
	return &fakeSource{
		profiles: map[string]*profile.Profile{
			"alice": {AgentID: "alice", DisplayName: "Alice", Summary: "ML"},
			"bob":   {AgentID: "bob", DisplayName: "Bob", Summary: "Frontend"},
			"carol": {AgentID: "carol", DisplayName: "Carol", Summary: "Ops"},
		},
		replies: map[string]string{
			"alice": "I can build the ML stack",
			"bob":   "I can build the frontend",
			"carol": "I can run operations",
		},
		delays: map[string]time.Duration{},
		errs:   map[string]error{},
	}
}

type harness struct {
	engine *Engine
	store  *session.Manager
	entry  *session.Entry
	deps   Deps
}

func newHarness(t *testing.T, reasoner *fakeReasoner, maxRounds int, mutate func(*harness)) *harness {
	t.Helper()
	cfg := models.SessionConfig{
		OfferTimeout:         2 * time.Second,
		ConfirmTimeout:       20 * time.Millisecond,
		MaxCoordinatorRounds: maxRounds,
	}
	store := session.NewManager()
	sess := models.NewSession("neg-test", models.DemandSnapshot{
		RawIntent: "I need a technical co-founder who can build an AI product",
		UserID:    "user-1",
		Scope:     "all",
	}, cfg)

	h := &harness{
		engine: New(cfg, nil),
		store:  store,
		entry:  store.Create(sess),
		deps: Deps{
			Profiles:     testSource(),
			Reasoner:     reasoner,
			Encoder:      fakeEncoder{},
			AgentVectors: testVectors(),
			DisplayNames: map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"},
			KStar:        5,
			MinScore:     0.0,
		},
	}
	if mutate != nil {
		mutate(h)
	}
	return h
}

func eventsOfType(history []events.Event, eventType string) []events.Event {
	var out []events.Event
	for _, ev := range history {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func assertUniversalInvariants(t *testing.T, h *harness) {
	t.Helper()
	sess := h.entry.Session

	assert.Equal(t, models.StateCompleted, sess.CurrentState())
	require.NotNil(t, sess.Trace.CompletedAt)
	assert.False(t, sess.Trace.CompletedAt.Before(sess.Trace.StartedAt))

	prev := time.Time{}
	for _, entry := range sess.Trace.Snapshot() {
		assert.GreaterOrEqual(t, entry.DurationMS, int64(0))
		assert.False(t, entry.Timestamp.Before(prev), "trace timestamps must be non-decreasing")
		prev = entry.Timestamp
	}

	for _, p := range sess.ParticipantSnapshot() {
		assert.Contains(t, []models.ParticipantState{models.ParticipantReplied, models.ParticipantExited}, p.State)
		if p.State == models.ParticipantReplied {
			assert.NotNil(t, p.Offer)
		} else {
			assert.Nil(t, p.Offer)
		}
	}

	history := h.entry.Stream.History()
	for _, ev := range history {
		assert.Equal(t, sess.NegotiationID, ev.NegotiationID)
	}
	if barriers := eventsOfType(history, events.EventTypeBarrierComplete); len(barriers) > 0 {
		data := barriers[0].Data.(events.BarrierCompleteData)
		assert.Equal(t, data.TotalParticipants, data.OffersReceived+data.ExitedCount)
	}

	assert.LessOrEqual(t, sess.Rounds(), sess.MaxCoordinatorRounds+1)
}

func TestScenarioHappyPath(t *testing.T) {
	plan := "Recommended team: alice (ML), bob (Frontend), carol (Ops)."
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan(plan)}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	sess := h.entry.Session
	assert.Equal(t, models.StateCompleted, sess.CurrentState())
	assert.Equal(t, plan, sess.Plan())

	history := h.entry.Stream.History()
	assert.Len(t, eventsOfType(history, events.EventTypeCoordinatorToolCall), 1)
	assert.Len(t, eventsOfType(history, events.EventTypeOfferReceived), 3)

	barriers := eventsOfType(history, events.EventTypeBarrierComplete)
	require.Len(t, barriers, 1)
	data := barriers[0].Data.(events.BarrierCompleteData)
	assert.Equal(t, 3, data.OffersReceived)
	assert.Equal(t, 0, data.ExitedCount)

	plans := eventsOfType(history, events.EventTypePlanReady)
	require.Len(t, plans, 1)
	planData := plans[0].Data.(events.PlanReadyData)
	assert.Equal(t, plan, planData.PlanText)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, planData.ParticipatingAgents)

	assertUniversalInvariants(t, h)
}

func TestScenarioAgentTimeout(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("plan")}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.entry.Session.Config.OfferTimeout = 100 * time.Millisecond
		h.deps.Profiles.(*fakeSource).delays["carol"] = 10 * time.Second
	})

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	var carol models.Participant
	for _, p := range h.entry.Session.ParticipantSnapshot() {
		if p.AgentID == "carol" {
			carol = p
		}
	}
	assert.Equal(t, models.ParticipantExited, carol.State)

	history := h.entry.Stream.History()
	for _, ev := range eventsOfType(history, events.EventTypeOfferReceived) {
		assert.NotEqual(t, "carol", ev.Data.(events.OfferReceivedData).AgentID)
	}

	barriers := eventsOfType(history, events.EventTypeBarrierComplete)
	require.Len(t, barriers, 1)
	data := barriers[0].Data.(events.BarrierCompleteData)
	assert.Equal(t, 2, data.OffersReceived)
	assert.Equal(t, 1, data.ExitedCount)
	assert.NotEmpty(t, h.entry.Session.Plan())

	assertUniversalInvariants(t, h)
}

func TestScenarioMultiRoundCoordinator(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		askAgent("alice", "elaborate on your ML experience?"),
		outputPlan("After deeper eval: alice is the ideal co-founder."),
	}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	sess := h.entry.Session
	assert.Equal(t, 2, sess.Rounds())
	assert.Equal(t, "After deeper eval: alice is the ideal co-founder.", sess.Plan())

	toolCalls := eventsOfType(h.entry.Stream.History(), events.EventTypeCoordinatorToolCall)
	require.Len(t, toolCalls, 2)
	assert.Equal(t, skills.ToolAskAgent, toolCalls[0].Data.(events.CoordinatorToolCallData).ToolName)
	assert.Equal(t, skills.ToolOutputPlan, toolCalls[1].Data.(events.CoordinatorToolCallData).ToolName)

	historyMeta, ok := sess.MetadataValue("coordinator_history")
	require.True(t, ok)
	entries := historyMeta.([]skills.HistoryEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, skills.ToolAskAgent, entries[0].Tool)
	assert.Equal(t, "I can build the ML stack", entries[0].Result)

	assert.Len(t, eventsOfType(h.entry.Stream.History(), events.EventTypePlanReady), 1)
	assertUniversalInvariants(t, h)
}

func TestScenarioRoundLimitForcing(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		askAgent("alice", "q1"),
		askAgent("bob", "q2"),
		outputPlan("Forced plan."),
	}}
	h := newHarness(t, reasoner, 2, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	sess := h.entry.Session
	assert.Equal(t, "Forced plan.", sess.Plan())
	assert.Equal(t, 3, sess.Rounds())

	// The forced third call offers only the terminal-compatible tools.
	require.Len(t, reasoner.requests, 3)
	require.Len(t, reasoner.requests[2].Tools, 2)
	names := []string{reasoner.requests[2].Tools[0].Name, reasoner.requests[2].Tools[1].Name}
	assert.Contains(t, names, skills.ToolOutputPlan)
	assert.Contains(t, names, skills.ToolCreateMachine)

	assertUniversalInvariants(t, h)
}

func TestScenarioZeroSurvivingAgents(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("plan without offers")}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		src := h.deps.Profiles.(*fakeSource)
		src.errs["alice"] = errors.New("chat failed")
		src.errs["bob"] = errors.New("chat failed")
		src.errs["carol"] = errors.New("chat failed")
	})

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	history := h.entry.Stream.History()
	barriers := eventsOfType(history, events.EventTypeBarrierComplete)
	require.Len(t, barriers, 1)
	data := barriers[0].Data.(events.BarrierCompleteData)
	assert.Equal(t, 0, data.OffersReceived)
	assert.Equal(t, 3, data.ExitedCount)

	assert.NotEmpty(t, reasoner.requests, "coordinator still runs with an empty offer set")
	assert.Equal(t, "plan without offers", h.entry.Session.Plan())
	assertUniversalInvariants(t, h)
}

func TestScenarioNoAgentsInScope(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("plan for empty scope")}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.deps.AgentVectors = nil
	})

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	sess := h.entry.Session
	assert.Equal(t, models.StateCompleted, sess.CurrentState())
	assert.Empty(t, sess.ParticipantSnapshot())

	history := h.entry.Stream.History()
	assert.Empty(t, eventsOfType(history, events.EventTypeResonanceActivated))
	assert.Empty(t, eventsOfType(history, events.EventTypeOfferReceived))
	assert.Empty(t, eventsOfType(history, events.EventTypeBarrierComplete))
	assert.Len(t, eventsOfType(history, events.EventTypePlanReady), 1)
	assert.Equal(t, "plan for empty scope", sess.Plan())
	assertUniversalInvariants(t, h)
}

func TestResonanceEventOrderAndScores(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("p")}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	activations := eventsOfType(h.entry.Stream.History(), events.EventTypeResonanceActivated)
	require.Len(t, activations, 1)
	data := activations[0].Data.(events.ResonanceActivatedData)
	require.Equal(t, 3, data.ActivatedCount)
	assert.Equal(t, "alice", data.Agents[0].AgentID)
	assert.InDelta(t, 1.0, data.Agents[0].ResonanceScore, 1e-3)
	assert.Equal(t, "bob", data.Agents[1].AgentID)
	assert.InDelta(t, 0.7, data.Agents[1].ResonanceScore, 1e-3)
	assert.Equal(t, "carol", data.Agents[2].AgentID)
	assert.InDelta(t, 0.6, data.Agents[2].ResonanceScore, 1e-3)
}

func TestConfirmationEditReplacesFormulatedText(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("p")}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.entry.Session.Config.ConfirmTimeout = 2 * time.Second
	})

	_, sub := h.entry.Stream.Subscribe()
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background(), h.entry, h.deps) }()

	// Wait for formulation.ready, then confirm with edited text.
	for ev := range sub.Events() {
		if ev.EventType == events.EventTypeFormulationReady {
			break
		}
	}
	edited := "An edited, sharper demand"
	require.NoError(t, h.store.ConfirmFormulation("neg-test", &edited))

	require.NoError(t, <-done)
	assert.Equal(t, edited, h.entry.Session.FormulatedText())

	// Confirming after the gate is spent reports not-awaiting.
	err := h.store.ConfirmFormulation("neg-test", &edited)
	assert.ErrorIs(t, err, session.ErrNotAwaitingConfirmation)
}

func TestFormulationSkillFailureShortCircuits(t *testing.T) {
	reasoner := &fakeReasoner{}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.deps.Skills.Formulation = &skills.FormulationSkill{}
		src := h.deps.Profiles.(*fakeSource)
		src.profiles["user-1"] = &profile.Profile{AgentID: "user-1", DisplayName: "User"}
		src.errs["user-1"] = errors.New("adapter down")
	})

	err := h.engine.Run(context.Background(), h.entry, h.deps)
	require.Error(t, err)

	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, CodeSkill, eerr.Code)

	sess := h.entry.Session
	assert.Equal(t, models.StateCompleted, sess.CurrentState())
	_, ok := sess.MetadataValue("error")
	assert.True(t, ok)

	// The stream is finished, so subscribers observe a finite sequence.
	_, sub := h.entry.Stream.Subscribe()
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestUnknownToolShortCircuits(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "x", Name: "launch_rockets", Arguments: map[string]any{}}}},
	}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.deps.Skills.Coordinator = &skills.CoordinatorSkill{}
	})

	err := h.engine.Run(context.Background(), h.entry, h.deps)
	require.Error(t, err)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, CodeSkill, eerr.Code)
	assert.Equal(t, models.StateCompleted, h.entry.Session.CurrentState())
}

func TestSynthesisCompleteTraceEntry(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("the plan")}}
	h := newHarness(t, reasoner, 5, nil)
	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	var found *models.TraceEntry
	for _, te := range h.entry.Session.Trace.Snapshot() {
		if te.StepName == "synthesis_complete" {
			te := te
			found = &te
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "the plan", found.OutputSummary)
	assert.GreaterOrEqual(t, found.DurationMS, int64(0))
}

func TestUnknownToolWithoutSkillShortCircuits(t *testing.T) {
	// No coordinator skill wired: the direct reasoning path must still
	// reject a tool outside the whitelist instead of ignoring it.
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "x", Name: "launch_rockets", Arguments: map[string]any{}}}},
	}}
	h := newHarness(t, reasoner, 5, nil)

	err := h.engine.Run(context.Background(), h.entry, h.deps)
	require.Error(t, err)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, CodeSkill, eerr.Code)
	assert.Equal(t, models.StateCompleted, h.entry.Session.CurrentState())

	// The invalid call never surfaces as a coordinator.tool_call event.
	assert.Empty(t, eventsOfType(h.entry.Stream.History(), events.EventTypeCoordinatorToolCall))
}

func TestDirectReasonerCarriesHistoryAndMasking(t *testing.T) {
	// Without a wired coordinator skill, round 2 must still see the round-1
	// tool result and the masked offer summary.
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		askAgent("alice", "elaborate?"),
		outputPlan("plan"),
	}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.deps.SceneContext = "early stage startups"
	})

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	require.Len(t, reasoner.requests, 2)
	first := reasoner.requests[0].Messages[0].Content
	assert.Contains(t, first, "I can build the ML stack", "round 1 sees raw offers")
	assert.Contains(t, first, "early stage startups")

	second := reasoner.requests[1].Messages[0].Content
	assert.NotContains(t, second, "I can build the frontend", "round 2 offers are masked")
	assert.Contains(t, second, "3 offers received from")
	assert.Contains(t, second, "ask_agent")
	assert.Contains(t, second, "I can build the ML stack", "round 1 tool result carried in history")
}

func TestFreeTextDegradesToPlan(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		{Content: "Here is the plan in prose.", StopReason: "stop"},
	}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))
	assert.Equal(t, "Here is the plan in prose.", h.entry.Session.Plan())

	toolCalls := eventsOfType(h.entry.Stream.History(), events.EventTypeCoordinatorToolCall)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, skills.ToolOutputPlan, toolCalls[0].Data.(events.CoordinatorToolCallData).ToolName)
}

func TestRoundLimitPlaceholderPlan(t *testing.T) {
	// Every call, the forced one included, fails.
	reasoner := &fakeReasoner{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	h := newHarness(t, reasoner, 2, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))
	assert.Equal(t, placeholderPlan, h.entry.Session.Plan())
	assertUniversalInvariants(t, h)
}

func TestCreateSubDemandEmitsEvent(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: skills.ToolCreateSubDemand,
			Arguments: map[string]any{"gap_description": "no designer available"}}}},
		outputPlan("plan with sub-negotiation"),
	}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	started := eventsOfType(h.entry.Stream.History(), events.EventTypeSubNegotiationStarted)
	require.Len(t, started, 1)
	data := started[0].Data.(events.SubNegotiationStartedData)
	assert.NotEmpty(t, data.SubNegotiationID)
	assert.Equal(t, "no designer available", data.GapDescription)

	assert.Len(t, h.entry.Session.SubSessionIDs, 1)
}

func TestCreateMachineRecordsArtifact(t *testing.T) {
	machine := `{"steps": ["a", "b"]}`
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{
			{ID: "m1", Name: skills.ToolCreateMachine, Arguments: map[string]any{"machine_json": machine}},
			{ID: "p1", Name: skills.ToolOutputPlan, Arguments: map[string]any{"plan_text": "done"}},
		}},
	}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	v, ok := h.entry.Session.MetadataValue("machine_json")
	require.True(t, ok)
	assert.Equal(t, machine, v)
	assert.Equal(t, "done", h.entry.Session.Plan())
}

func TestAskAgentFailureSynthesizesResult(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{
		askAgent("ghost", "anyone there?"),
		outputPlan("plan"),
	}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	historyMeta, ok := h.entry.Session.MetadataValue("coordinator_history")
	require.True(t, ok)
	entries := historyMeta.([]skills.HistoryEntry)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Result, "did not respond")
	assertUniversalInvariants(t, h)
}

func TestCancellationForcesTerminalState(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("p")}}
	h := newHarness(t, reasoner, 5, func(h *harness) {
		h.entry.Session.Config.ConfirmTimeout = time.Minute
	})

	_, sub := h.entry.Stream.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, h.entry, h.deps) }()

	for ev := range sub.Events() {
		if ev.EventType == events.EventTypeFormulationReady {
			break
		}
	}
	cancel()

	err := <-done
	require.Error(t, err)
	assert.Equal(t, models.StateCompleted, h.entry.Session.CurrentState())
	v, ok := h.entry.Session.MetadataValue("error")
	require.True(t, ok)
	assert.Equal(t, "cancelled", v)

	// Remaining events drain to a closed channel.
	for range sub.Events() {
	}
}

func TestRunTwiceIsEngineError(t *testing.T) {
	reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("p")}}
	h := newHarness(t, reasoner, 5, nil)

	require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

	err := h.engine.Run(context.Background(), h.entry, h.deps)
	require.Error(t, err)
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, CodeEngine, eerr.Code)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestDeterministicPlanAcrossRuns(t *testing.T) {
	run := func() (string, []string) {
		reasoner := &fakeReasoner{responses: []*llm.ChatResponse{outputPlan("stable plan")}}
		h := newHarness(t, reasoner, 5, nil)
		require.NoError(t, h.engine.Run(context.Background(), h.entry, h.deps))

		var types []string
		for _, ev := range h.entry.Stream.History() {
			types = append(types, ev.EventType)
		}
		return h.entry.Session.Plan(), types
	}

	plan1, types1 := run()
	plan2, types2 := run()
	assert.Equal(t, plan1, plan2)

	// Offer events may interleave differently; compare as multisets.
	assert.ElementsMatch(t, types1, types2)
	assert.Equal(t, events.EventTypePlanReady, types1[len(types1)-1])
}
