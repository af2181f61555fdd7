// Package events provides the typed negotiation event stream: per-session
// fan-out to bounded subscriber queues, history replay for late subscribers,
// and WebSocket delivery.
//
// Every engine step emits exactly one event in the order the step ran.
// Subscribers observe events in emit order; a subscriber that connects late
// first receives the full history as a replay, then joins the live stream.
// The replay is always a prefix of the sequence a from-the-start subscriber
// would have seen.
package events

import "time"

// Event types emitted by the negotiation engine.
const (
	EventTypeFormulationReady      = "formulation.ready"
	EventTypeResonanceActivated    = "resonance.activated"
	EventTypeOfferReceived         = "offer.received"
	EventTypeBarrierComplete       = "barrier.complete"
	EventTypeCoordinatorToolCall   = "coordinator.tool_call"
	EventTypeSubNegotiationStarted = "sub_negotiation.started"
	EventTypePlanReady             = "plan.ready"
)

// Event is a single immutable frame on a negotiation's event stream.
// The JSON shape is the wire format delivered over WebSocket.
type Event struct {
	EventType     string    `json:"event_type"`
	NegotiationID string    `json:"negotiation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Data          any       `json:"data"`
}

// New builds an event stamped with the current wall time.
func New(eventType, negotiationID string, data any) Event {
	return Event{
		EventType:     eventType,
		NegotiationID: negotiationID,
		Timestamp:     time.Now(),
		Data:          data,
	}
}
