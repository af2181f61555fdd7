package session

import (
	"errors"
	"sync"
)

// ErrNotAwaitingConfirmation indicates a confirmation arrived while the
// negotiation was not paused at the formulation gate. Second confirmations
// and confirmations before formulation both land here.
var ErrNotAwaitingConfirmation = errors.New("session: negotiation is not awaiting confirmation")

// Confirmation is the user's response at the formulation gate. Text is
// non-nil when the user edited the formulated demand.
type Confirmation struct {
	Text *string
}

// ConfirmGate is a one-shot rendezvous between the engine, which pauses a
// negotiation after formulation, and the API, which delivers the user's
// confirmation. Arm, Confirm and Disarm may race freely; exactly one
// confirmation is ever delivered.
type ConfirmGate struct {
	mu    sync.Mutex
	ch    chan Confirmation
	armed bool
}

// NewConfirmGate creates a disarmed gate.
func NewConfirmGate() *ConfirmGate {
	return &ConfirmGate{ch: make(chan Confirmation, 1)}
}

// Arm opens the gate for exactly one confirmation and returns the channel
// the engine selects on alongside its timeout.
func (g *ConfirmGate) Arm() <-chan Confirmation {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	return g.ch
}

// Disarm closes the gate without a confirmation, used when the confirm
// timeout fires and the engine auto-confirms.
func (g *ConfirmGate) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
}

// Confirm delivers the user's confirmation. Returns
// ErrNotAwaitingConfirmation when the gate is not armed or was already
// consumed.
func (g *ConfirmGate) Confirm(text *string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return ErrNotAwaitingConfirmation
	}
	g.armed = false
	g.ch <- Confirmation{Text: text}
	return nil
}
