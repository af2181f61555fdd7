package models

import (
	"errors"
	"fmt"
)

// NegotiationState is a lifecycle state of a negotiation session.
type NegotiationState string

const (
	StateCreated        NegotiationState = "created"
	StateFormulating    NegotiationState = "formulating"
	StateFormulated     NegotiationState = "formulated"
	StateEncoding       NegotiationState = "encoding"
	StateOffering       NegotiationState = "offering"
	StateBarrierWaiting NegotiationState = "barrier_waiting"
	StateSynthesizing   NegotiationState = "synthesizing"
	StateCompleted      NegotiationState = "completed"
)

// ErrInvalidTransition indicates a state change not allowed by the lifecycle
// table. Wrapped by TransitionError, which carries the offending pair.
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError reports a rejected state transition.
type TransitionError struct {
	From NegotiationState
	To   NegotiationState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// allowedTransitions is the lifecycle table. Every state may additionally
// short-circuit to completed on unrecoverable error; completed is terminal.
var allowedTransitions = map[NegotiationState][]NegotiationState{
	StateCreated:        {StateFormulating, StateCompleted},
	StateFormulating:    {StateFormulated, StateCompleted},
	StateFormulated:     {StateEncoding, StateCompleted},
	StateEncoding:       {StateOffering, StateCompleted},
	StateOffering:       {StateBarrierWaiting, StateCompleted},
	StateBarrierWaiting: {StateSynthesizing, StateCompleted},
	StateSynthesizing:   {StateSynthesizing, StateCompleted},
	StateCompleted:      nil,
}

// CanTransitionTo reports whether the lifecycle table allows s -> next.
func (s NegotiationState) CanTransitionTo(next NegotiationState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state is terminal.
func (s NegotiationState) Terminal() bool { return s == StateCompleted }

// ParticipantState is a lifecycle state of an agent participant.
type ParticipantState string

const (
	ParticipantActive  ParticipantState = "active"
	ParticipantReplied ParticipantState = "replied"
	ParticipantExited  ParticipantState = "exited"
)
