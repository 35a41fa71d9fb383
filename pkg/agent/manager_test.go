package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/events"
	"github.com/kadirpekel/colony/pkg/protocol"
)

type countingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *countingSink) Publish(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *countingSink) byType(typ events.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newWorker(id string) *Agent {
	a := &Agent{ID: id, Type: protocol.AgentTypeWorker}
	a.SetStatus(protocol.StatusIdle)
	return a
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := NewManager(nil)

	require.NoError(t, m.Register(newWorker("w1")))
	assert.Error(t, m.Register(newWorker("w1")))

	m.Remove("w1")
	assert.NoError(t, m.Register(newWorker("w1")))
}

func TestScheduleCycleRunsRunner(t *testing.T) {
	m := NewManager(nil)
	a := newWorker("w1")
	require.NoError(t, m.Register(a))

	done := make(chan struct{})
	m.SetRunner(func(_ context.Context, got *Agent, retryCount int) FollowUp {
		assert.Same(t, a, got)
		assert.Equal(t, 0, retryCount)
		close(done)
		return FollowUp{}
	})

	require.True(t, m.ScheduleCycle(context.Background(), a, 0))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner never ran")
	}
}

func TestScheduleCycleLoopsWhileRescheduled(t *testing.T) {
	m := NewManager(nil)
	a := newWorker("w1")
	require.NoError(t, m.Register(a))

	var runs atomic.Int32
	done := make(chan struct{})
	m.SetRunner(func(_ context.Context, _ *Agent, retryCount int) FollowUp {
		n := runs.Add(1)
		if n < 3 {
			return FollowUp{Reschedule: true, RetryCount: retryCount + 1}
		}
		close(done)
		return FollowUp{}
	})

	m.ScheduleCycle(context.Background(), a, 0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reschedule loop never finished")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestScheduleCycleDropsWhileBusy(t *testing.T) {
	m := NewManager(nil)
	a := newWorker("w1")
	require.NoError(t, m.Register(a))
	m.SetRunner(func(_ context.Context, _ *Agent, _ int) FollowUp { return FollowUp{} })

	require.True(t, a.TryBeginCycle())
	defer a.EndCycle()

	assert.False(t, m.ScheduleCycle(context.Background(), a, 0),
		"an in-flight cycle blocks new schedules")
}

func TestScheduleCycleWithoutRunner(t *testing.T) {
	m := NewManager(nil)
	a := newWorker("w1")
	require.NoError(t, m.Register(a))

	assert.False(t, m.ScheduleCycle(context.Background(), a, 0))
	assert.True(t, a.TryBeginCycle(), "a dropped schedule releases no guard")
	a.EndCycle()
}

func TestScheduleCycleHonorsRetryDelay(t *testing.T) {
	m := NewManager(nil)
	a := newWorker("w1")
	require.NoError(t, m.Register(a))

	var stamps []time.Time
	done := make(chan struct{})
	m.SetRunner(func(_ context.Context, _ *Agent, _ int) FollowUp {
		stamps = append(stamps, time.Now())
		if len(stamps) == 1 {
			return FollowUp{Reschedule: true, Delay: 50 * time.Millisecond}
		}
		close(done)
		return FollowUp{}
	})

	m.ScheduleCycle(context.Background(), a, 0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed reschedule never ran")
	}
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 50*time.Millisecond)
}

func TestSendMessageAppendsAndSchedules(t *testing.T) {
	m := NewManager(nil)
	sender := newWorker("worker-1")
	pm := &Agent{ID: "pm-1", Type: protocol.AgentTypePM}
	pm.SetStatus(protocol.StatusIdle)
	require.NoError(t, m.Register(sender))
	require.NoError(t, m.Register(pm))

	scheduled := make(chan struct{})
	m.SetRunner(func(_ context.Context, a *Agent, _ int) FollowUp {
		assert.Equal(t, "pm-1", a.ID)
		close(scheduled)
		return FollowUp{}
	})

	require.NoError(t, m.SendMessage(context.Background(), "worker-1", "pm-1", "task finished"))

	last, ok := pm.LastMessage()
	require.True(t, ok)
	assert.Equal(t, protocol.RoleUser, last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "[message from worker-1]"))
	assert.Contains(t, last.Content, "task finished")

	select {
	case <-scheduled:
	case <-time.After(time.Second):
		t.Fatal("idle recipient was not scheduled")
	}
}

func TestSendMessageBusyRecipientNotScheduled(t *testing.T) {
	m := NewManager(nil)
	pm := &Agent{ID: "pm-1", Type: protocol.AgentTypePM}
	pm.SetStatus(protocol.StatusProcessing)
	require.NoError(t, m.Register(pm))

	m.SetRunner(func(_ context.Context, _ *Agent, _ int) FollowUp {
		t.Error("busy recipients must not be scheduled")
		return FollowUp{}
	})

	require.NoError(t, m.SendMessage(context.Background(), "worker-1", "pm-1", "ping"))
	assert.Equal(t, 1, pm.HistoryLen(), "the message still lands in history")
}

func TestSendMessageUnknownRecipient(t *testing.T) {
	m := NewManager(nil)
	assert.Error(t, m.SendMessage(context.Background(), "worker-1", "ghost", "hello"))
}

func TestSetAgentStatusDeduplicates(t *testing.T) {
	sink := &countingSink{}
	m := NewManager(sink)
	a := &Agent{ID: "w1", Type: protocol.AgentTypeWorker}

	m.SetAgentStatus(a, protocol.StatusProcessing)
	m.SetAgentStatus(a, protocol.StatusProcessing)
	m.SetAgentStatus(a, protocol.StatusIdle)

	assert.Equal(t, protocol.StatusIdle, a.Status())
	assert.Equal(t, 2, sink.byType(events.TypeStatusChange))
}

func TestSendMessagePublishesUIEvent(t *testing.T) {
	sink := &countingSink{}
	m := NewManager(sink)
	pm := &Agent{ID: "pm-1", Type: protocol.AgentTypePM}
	pm.SetStatus(protocol.StatusProcessing)
	require.NoError(t, m.Register(pm))

	require.NoError(t, m.SendMessage(context.Background(), "worker-1", "pm-1", "status?"))
	assert.Equal(t, 1, sink.byType(events.TypeUIMessage))
}
