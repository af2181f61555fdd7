// Package session owns the in-memory store of negotiation sessions, their
// event streams and their confirmation gates.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/models"
)

// ErrNotFound indicates no session exists for the negotiation id.
var ErrNotFound = errors.New("session: negotiation not found")

// NotFoundError wraps ErrNotFound with the negotiation id.
type NotFoundError struct {
	NegotiationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session: negotiation %q not found", e.NegotiationID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Entry bundles everything the store holds per negotiation.
type Entry struct {
	Session *models.Session
	Stream  *events.Stream
	Gate    *ConfirmGate
}

// Manager is the session store. It also implements events.StreamLookup for
// the websocket connection manager.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

var _ events.StreamLookup = (*Manager)(nil)

// NewManager creates an empty store.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]*Entry)}
}

// Create registers a new session with a fresh event stream and confirmation
// gate, and returns the entry.
func (m *Manager) Create(sess *models.Session) *Entry {
	entry := &Entry{
		Session: sess,
		Stream:  events.NewStream(events.DefaultQueueDepth, events.DefaultSendTimeout),
		Gate:    NewConfirmGate(),
	}
	m.mu.Lock()
	m.entries[sess.NegotiationID] = entry
	m.mu.Unlock()
	return entry
}

// Get returns the entry for a negotiation id.
func (m *Manager) Get(negotiationID string) (*Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[negotiationID]
	m.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{NegotiationID: negotiationID}
	}
	return entry, nil
}

// Stream implements events.StreamLookup.
func (m *Manager) Stream(negotiationID string) (*events.Stream, bool) {
	m.mu.RLock()
	entry, ok := m.entries[negotiationID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.Stream, true
}

// ConfirmFormulation delivers a user confirmation to the negotiation's gate.
// edited is non-nil when the user rewrote the formulated demand.
func (m *Manager) ConfirmFormulation(negotiationID string, edited *string) error {
	entry, err := m.Get(negotiationID)
	if err != nil {
		return err
	}
	return entry.Gate.Confirm(edited)
}

// List returns all sessions ordered by creation time, newest first.
func (m *Manager) List() []*models.Session {
	m.mu.RLock()
	out := make([]*models.Session, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Session)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].NegotiationID < out[j].NegotiationID
	})
	return out
}

// Count returns the number of stored sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// PruneCompleted removes sessions completed before the cutoff and returns
// how many were removed. Their streams are finished first so lingering
// subscribers see a clean end of stream.
func (m *Manager) PruneCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.entries {
		if entry.Session.CurrentState() != models.StateCompleted {
			continue
		}
		completedAt := entry.Session.CompletedTime()
		if completedAt == nil || completedAt.After(cutoff) {
			continue
		}
		entry.Stream.Finish()
		delete(m.entries, id)
		removed++
	}
	return removed
}
