package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishN(s *Stream, n int) {
	for i := 0; i < n; i++ {
		s.Publish(New(EventTypeCoordinatorToolCall, "neg-1", map[string]any{"i": i}))
	}
}

func TestSubscribeReplaysHistoryThenStreamsLive(t *testing.T) {
	s := NewStream(DefaultQueueDepth, DefaultSendTimeout)
	publishN(s, 3)

	replay, sub := s.Subscribe()
	defer sub.Close()
	require.Len(t, replay, 3)

	s.Publish(New(EventTypePlanReady, "neg-1", nil))
	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventTypePlanReady, ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected live event")
	}
}

func TestReplayIsPrefixOfFullSequence(t *testing.T) {
	s := NewStream(DefaultQueueDepth, DefaultSendTimeout)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Publish(New(EventTypeCoordinatorToolCall, "neg-1", map[string]any{"seq": i}))
		}
		s.Finish()
	}()

	time.Sleep(time.Millisecond)
	replay, sub := s.Subscribe()
	var live []Event
	for ev := range sub.Events() {
		live = append(live, ev)
	}
	<-done

	observed := append(append([]Event{}, replay...), live...)
	require.Len(t, observed, 50)
	for i, ev := range observed {
		data := ev.Data.(map[string]any)
		assert.Equal(t, i, data["seq"], "events must arrive in publish order with no gap at the replay boundary")
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	s := NewStream(2, 10*time.Millisecond)
	_, sub := s.Subscribe()

	// Never read: the queue fills, the bounded send times out, and the
	// subscriber is dropped with a closed channel.
	publishN(s, 10)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				assert.Equal(t, 0, s.SubscriberCount())
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber was never dropped")
		}
	}
}

func TestFinishClosesSubscribers(t *testing.T) {
	s := NewStream(DefaultQueueDepth, DefaultSendTimeout)
	_, sub := s.Subscribe()

	s.Finish()
	s.Finish() // idempotent

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestSubscribeAfterFinish(t *testing.T) {
	s := NewStream(DefaultQueueDepth, DefaultSendTimeout)
	publishN(s, 2)
	s.Finish()

	replay, sub := s.Subscribe()
	assert.Len(t, replay, 2)
	_, ok := <-sub.Events()
	assert.False(t, ok, "post-finish subscriptions see a closed channel after replay")
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	s := NewStream(DefaultQueueDepth, DefaultSendTimeout)
	_, sub := s.Subscribe()
	require.Equal(t, 1, s.SubscriberCount())

	sub.Close()
	sub.Close() // safe to close twice
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestEventEnvelope(t *testing.T) {
	ev := New(EventTypeOfferReceived, "neg-9", OfferReceivedData{AgentID: "alice"})
	assert.Equal(t, "offer.received", ev.EventType)
	assert.Equal(t, "neg-9", ev.NegotiationID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestHistoryIsACopy(t *testing.T) {
	s := NewStream(DefaultQueueDepth, DefaultSendTimeout)
	publishN(s, 1)
	h := s.History()
	h[0].NegotiationID = "mutated"
	assert.Equal(t, "neg-1", s.History()[0].NegotiationID)
}

func TestManyEventsKeepOrderPerSubscriber(t *testing.T) {
	s := NewStream(256, time.Second)
	_, sub := s.Subscribe()

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			s.Publish(New("test", "neg-1", fmt.Sprintf("%d", i)))
		}
		s.Finish()
	}()

	i := 0
	for ev := range sub.Events() {
		assert.Equal(t, fmt.Sprintf("%d", i), ev.Data)
		i++
	}
	assert.Equal(t, n, i)
}
