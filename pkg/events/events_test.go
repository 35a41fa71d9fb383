package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(16)
	defer cancel()

	b.Publish(Event{Type: TypeThought, AgentID: "admin-1"})

	e := receive(t, ch)
	assert.Equal(t, TypeThought, e.Type)
	assert.Equal(t, "admin-1", e.AgentID)
	assert.Equal(t, uint64(1), e.Seq)
	assert.False(t, e.Time.IsZero())
}

func TestSequenceIsMonotonic(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(16)
	defer cancel()

	b.Publish(Event{Type: TypeStatusChange})
	b.Publish(Event{Type: TypeStateChange})
	b.Publish(Event{Type: TypeFinalMessage})

	assert.Equal(t, uint64(1), receive(t, ch).Seq)
	assert.Equal(t, uint64(2), receive(t, ch).Seq)
	assert.Equal(t, uint64(3), receive(t, ch).Seq)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: TypeToolResult})
		b.Publish(Event{Type: TypeToolResult})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, uint64(1), receive(t, ch).Seq)
	select {
	case e := <-ch:
		t.Fatalf("expected second event dropped, got seq %d", e.Seq)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(4)

	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	b.Publish(Event{Type: TypeError})
}

func TestDiscardSink(t *testing.T) {
	var s Sink = Discard{}
	s.Publish(Event{Type: TypeFailover})
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
