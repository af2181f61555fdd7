package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultQueueDepth is the per-subscriber send queue capacity.
	DefaultQueueDepth = 128

	// DefaultSendTimeout bounds how long Publish waits on a full subscriber
	// queue before dropping that subscriber. Keeps a stalled consumer from
	// head-of-line blocking the engine.
	DefaultSendTimeout = time.Second
)

// Subscription is a handle onto a session's live event stream. The channel is
// closed when the stream finishes or the subscriber is dropped for falling
// behind. Callers must drain or Close to release the slot.
type Subscription struct {
	id string
	ch chan Event

	closeOnce sync.Once
	stream    *Stream
}

// Events returns the receive side of the subscription queue.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close detaches the subscription from its stream and closes the channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.stream.unsubscribe(s)
}

// Stream is the per-negotiation event channel: an append-only history plus a
// fan-out to bounded subscriber queues.
//
// All mutation happens under a single mutex, which is what guarantees the
// replay-prefix property: a subscriber registered between two Publish calls
// receives exactly the events published before registration as replay and
// every later event live, with no gap and no duplicate.
type Stream struct {
	mu       sync.Mutex
	history  []Event
	subs     map[string]*Subscription
	finished bool

	queueDepth  int
	sendTimeout time.Duration
}

// NewStream creates a stream with the given subscriber queue depth and
// per-send deadline. Zero values select the defaults.
func NewStream(queueDepth int, sendTimeout time.Duration) *Stream {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Stream{
		subs:        make(map[string]*Subscription),
		queueDepth:  queueDepth,
		sendTimeout: sendTimeout,
	}
}

// Publish appends the event to the history and delivers it to every live
// subscriber. A subscriber whose queue stays full past the send deadline is
// dropped (its channel closed) rather than stalling the publisher.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.history = append(s.history, ev)

	for id, sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			// Queue full. Give the consumer one bounded chance to catch up.
			if !s.sendBlocking(sub, ev) {
				slog.Warn("Dropping slow event subscriber",
					"negotiation_id", ev.NegotiationID, "subscription_id", id)
				delete(s.subs, id)
				close(sub.ch)
			}
		}
	}
}

// sendBlocking attempts a send with the per-send deadline. Called with the
// stream mutex held; the timer bounds how long the lock is kept.
func (s *Stream) sendBlocking(sub *Subscription, ev Event) bool {
	t := time.NewTimer(s.sendTimeout)
	defer t.Stop()
	select {
	case sub.ch <- ev:
		return true
	case <-t.C:
		return false
	}
}

// Subscribe registers a new subscriber and returns a copy of the history as
// it stood at registration. If the stream is already finished, the returned
// subscription's channel is closed immediately after the replay snapshot.
func (s *Stream) Subscribe() ([]Event, *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replay := make([]Event, len(s.history))
	copy(replay, s.history)

	sub := &Subscription{
		id:     uuid.New().String(),
		ch:     make(chan Event, s.queueDepth),
		stream: s,
	}
	if s.finished {
		close(sub.ch)
		return replay, sub
	}
	s.subs[sub.id] = sub
	return replay, sub
}

// History returns a copy of the events published so far.
func (s *Stream) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}

// SubscriberCount returns the number of live subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Finish marks the stream terminal and closes every subscriber channel after
// all published events have been queued. Every subscriber, past or future,
// observes a finite stream. Idempotent.
func (s *Stream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}

func (s *Stream) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	_, live := s.subs[sub.id]
	delete(s.subs, sub.id)
	s.mu.Unlock()

	if live {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}
