package models

import (
	"errors"
	"sync"
	"time"
)

// Session lifecycle errors.
var (
	// ErrSessionCompleted indicates a mutation was attempted on a session
	// that already reached its terminal state.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrFormulatedTextSet indicates a second attempt to set the formulated
	// text, which is written exactly once.
	ErrFormulatedTextSet = errors.New("formulated text already set")
)

// SessionConfig carries the per-session tunables that override the process
// defaults.
type SessionConfig struct {
	OfferTimeout         time.Duration
	ConfirmTimeout       time.Duration
	MaxCoordinatorRounds int
}

// Session is the root aggregate of a negotiation: demand snapshot, lifecycle
// state, participants, coordinator round counters, plan output and trace.
// Event history lives on the session's event stream, owned by the session
// store alongside this aggregate.
//
// All field mutation goes through the methods below; the single engine task
// driving the negotiation is the only writer, readers take snapshots.
type Session struct {
	NegotiationID        string
	Demand               DemandSnapshot
	State                NegotiationState
	Participants         []*Participant
	CoordinatorRounds    int
	MaxCoordinatorRounds int
	PlanOutput           string
	ParentNegotiationID  string
	Depth                int
	SubSessionIDs        []string
	Trace                *TraceChain
	CreatedAt            time.Time
	CompletedAt          *time.Time
	Metadata             map[string]any

	Config SessionConfig

	mu sync.RWMutex
}

// NewSession creates a session in state created with a fresh trace chain.
func NewSession(negotiationID string, demand DemandSnapshot, cfg SessionConfig) *Session {
	return &Session{
		NegotiationID:        negotiationID,
		Demand:               demand,
		State:                StateCreated,
		MaxCoordinatorRounds: cfg.MaxCoordinatorRounds,
		Trace:                NewTraceChain(negotiationID),
		CreatedAt:            time.Now(),
		Metadata:             make(map[string]any),
		Config:               cfg,
	}
}

// TransitionTo moves the session to the next lifecycle state, rejecting any
// pair not in the transition table. Entering completed stamps CompletedAt on
// both the session and its trace chain.
func (s *Session) TransitionTo(next NegotiationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.State.CanTransitionTo(next) {
		return &TransitionError{From: s.State, To: next}
	}
	s.State = next
	if next == StateCompleted {
		now := time.Now()
		s.CompletedAt = &now
		s.Trace.Complete()
	}
	return nil
}

// CurrentState returns the session state.
func (s *Session) CurrentState() NegotiationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SetFormulatedText writes the formulated demand text. Set exactly once;
// a later confirmed edit goes through ReplaceFormulatedText.
func (s *Session) SetFormulatedText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Demand.FormulatedText != "" {
		return ErrFormulatedTextSet
	}
	s.Demand.FormulatedText = text
	return nil
}

// ReplaceFormulatedText overwrites the formulated text with a user-confirmed
// edit before the negotiation proceeds past the confirmation gate.
func (s *Session) ReplaceFormulatedText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Demand.FormulatedText = text
}

// AddParticipant appends a participant in state active.
func (s *Session) AddParticipant(agentID, displayName string, score float64) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Participant{
		AgentID:        agentID,
		DisplayName:    displayName,
		ResonanceScore: score,
		State:          ParticipantActive,
	}
	s.Participants = append(s.Participants, p)
	return p
}

// MarkReplied transitions a participant to replied with its offer.
func (s *Session) MarkReplied(agentID string, offer *Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Participants {
		if p.AgentID == agentID {
			p.State = ParticipantReplied
			p.Offer = offer
			return
		}
	}
}

// MarkExited transitions a participant to exited (timeout or failure).
func (s *Session) MarkExited(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Participants {
		if p.AgentID == agentID {
			p.State = ParticipantExited
			p.Offer = nil
			return
		}
	}
}

// ParticipantSnapshot returns a deep copy of the participants.
func (s *Session) ParticipantSnapshot() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		cp := *p
		if p.Offer != nil {
			offer := *p.Offer
			cp.Offer = &offer
		}
		out = append(out, cp)
	}
	return out
}

// RepliedAgentIDs returns the agent ids of participants in state replied.
func (s *Session) RepliedAgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.State == ParticipantReplied {
			ids = append(ids, p.AgentID)
		}
	}
	return ids
}

// Offers returns copies of the offers from replied participants.
func (s *Session) Offers() []Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Offer, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.State == ParticipantReplied && p.Offer != nil {
			out = append(out, *p.Offer)
		}
	}
	return out
}

// SetPlan records the coordinator's plan output.
func (s *Session) SetPlan(plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlanOutput = plan
}

// Plan returns the plan output.
func (s *Session) Plan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PlanOutput
}

// SetCoordinatorRounds records how many reasoning calls have run.
func (s *Session) SetCoordinatorRounds(rounds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CoordinatorRounds = rounds
}

// Rounds returns the coordinator round count.
func (s *Session) Rounds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CoordinatorRounds
}

// AddSubSession records a child negotiation id spawned by create_sub_demand.
func (s *Session) AddSubSession(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubSessionIDs = append(s.SubSessionIDs, subID)
}

// SetMetadata writes a metadata key. Metadata stays mutable after completion;
// everything else is frozen once the session is terminal.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Metadata[key] = value
}

// MetadataSnapshot returns a shallow copy of the metadata map.
func (s *Session) MetadataSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		out[k] = v
	}
	return out
}

// MetadataValue reads a metadata key.
func (s *Session) MetadataValue(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Metadata[key]
	return v, ok
}

// CompletedTime returns when the session reached completed, or nil.
func (s *Session) CompletedTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.CompletedAt == nil {
		return nil
	}
	t := *s.CompletedAt
	return &t
}

// FormulatedText returns the formulated demand text (empty until stage 1).
func (s *Session) FormulatedText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Demand.FormulatedText
}

// DemandSnapshot returns a copy of the demand.
func (s *Session) DemandSnapshot() DemandSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.Demand
	return d
}
