package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// StatusUnknownNegotiation is the WebSocket close code sent when a client
// connects for a negotiation id the session store does not know.
const StatusUnknownNegotiation websocket.StatusCode = 4004

// StreamLookup resolves a negotiation id to its event stream.
// Implemented by the session store.
type StreamLookup interface {
	Stream(negotiationID string) (*Stream, bool)
}

// ConnectionManager owns the WebSocket side of event delivery. One instance
// per process; each accepted connection serves a single negotiation channel.
type ConnectionManager struct {
	streams StreamLookup

	mu          sync.RWMutex
	connections map[string]*Connection

	writeTimeout time.Duration
}

// Connection represents a single WebSocket client following one negotiation.
type Connection struct {
	ID            string
	NegotiationID string
	conn          *websocket.Conn
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager that resolves streams via
// the given lookup and bounds each WebSocket write by writeTimeout.
func NewConnectionManager(streams StreamLookup, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		streams:      streams,
		connections:  make(map[string]*Connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection serves one WebSocket client: replays the negotiation's
// event history in order, then streams live events until the negotiation
// finishes or the client disconnects. Blocks until the connection closes.
//
// Replay-then-live has no gap: Subscribe snapshots the history and registers
// the live subscription under the stream's single mutex.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, negotiationID string) {
	stream, ok := m.streams.Stream(negotiationID)
	if !ok {
		_ = conn.Close(StatusUnknownNegotiation, "unknown negotiation")
		return
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.New().String(),
		NegotiationID: negotiationID,
		conn:          conn,
		ctx:           ctx,
		cancel:        cancel,
	}
	m.register(c)
	defer m.unregister(c)

	replay, sub := stream.Subscribe()
	defer sub.Close()

	for _, ev := range replay {
		if err := m.sendEvent(c, ev); err != nil {
			slog.Warn("Failed to send replay event",
				"connection_id", c.ID, "negotiation_id", negotiationID, "error", err)
			return
		}
	}

	// Read loop in the background solely to detect client disconnect; clients
	// do not send application messages on this socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				// Stream finished or this subscriber was dropped; the
				// client has seen a finite sequence either way.
				_ = conn.Close(websocket.StatusNormalClosure, "stream complete")
				return
			}
			if err := m.sendEvent(c, ev); err != nil {
				slog.Warn("Failed to send live event",
					"connection_id", c.ID, "negotiation_id", negotiationID, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ActiveConnections returns the count of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) sendEvent(c *Connection, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}
