// Package events fans observable agent activity out to UI sinks: status
// changes, tool results, interventions, failovers, and errors. Delivery is
// non-blocking; a slow subscriber drops events rather than stalling a
// cycle.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type tags an event.
type Type string

const (
	TypeStatusChange Type = "status_change"
	TypeStateChange  Type = "state_change"
	TypeThought      Type = "agent_thought"
	TypeToolResult   Type = "tool_result"
	TypeFinalMessage Type = "final_message"
	TypeIntervention Type = "intervention"
	TypeFailover     Type = "failover"
	TypeError        Type = "error"
	TypeUIMessage    Type = "ui_message"
	TypeTask         Type = "task_scheduled"
)

// Event is one observable occurrence. Seq is a process-wide monotonic
// sequence number stamped at publish time.
type Event struct {
	Type    Type           `json:"type"`
	AgentID string         `json:"agent_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
}

// Sink receives published events.
type Sink interface {
	Publish(e Event)
}

// Broadcaster fans events out to subscribers. The zero value is not usable;
// construct with NewBroadcaster.
type Broadcaster struct {
	mu     sync.Mutex
	seq    atomic.Uint64
	nextID int
	subs   map[int]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Publish stamps the event and delivers it to every subscriber without
// blocking. Full subscriber buffers lose the event.
func (b *Broadcaster) Publish(e Event) {
	e.Seq = b.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("Event dropped for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// func removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Discard is a Sink that drops everything; tests and headless runs use it.
type Discard struct{}

func (Discard) Publish(Event) {}
