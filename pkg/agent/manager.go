package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/colony/pkg/events"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// FollowUp is a cycle's scheduling decision: whether to run another cycle
// for the same agent, with which retry count, after which delay.
type FollowUp struct {
	Reschedule bool
	RetryCount int
	Delay      time.Duration
}

// CycleRunner executes one cycle for an agent and returns the follow-up
// decision. The cycle handler implements it; the manager stays decoupled
// from cycle internals.
type CycleRunner func(ctx context.Context, a *Agent, retryCount int) FollowUp

// Manager owns the agent set, schedules cycles with a per-agent in-flight
// guard, and routes inter-agent messages.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	runner CycleRunner
	sink   events.Sink
}

func NewManager(sink events.Sink) *Manager {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Manager{
		agents: make(map[string]*Agent),
		sink:   sink,
	}
}

// SetRunner installs the cycle runner. Wired once at startup, before any
// cycle is scheduled.
func (m *Manager) SetRunner(r CycleRunner) {
	m.runner = r
}

// Register adds an agent to the set.
func (m *Manager) Register(a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[a.ID]; exists {
		return fmt.Errorf("agent %q already registered", a.ID)
	}
	m.agents[a.ID] = a
	return nil
}

// Remove drops an agent from the set.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
}

// Get returns an agent by id.
func (m *Manager) Get(id string) (*Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

// List returns all agents.
func (m *Manager) List() []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out
}

// Count returns the number of registered agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// ScheduleCycle starts a cycle task for the agent. When a cycle is already
// in flight the attempt is dropped with a warning; rescheduling decisions
// from the running cycle itself are honored back-to-back under the same
// guard.
func (m *Manager) ScheduleCycle(ctx context.Context, a *Agent, retryCount int) bool {
	if m.runner == nil {
		slog.Error("No cycle runner installed, dropping schedule", "agent", a.ID)
		return false
	}
	if !a.TryBeginCycle() {
		slog.Warn("Cycle already in flight, dropping schedule", "agent", a.ID)
		return false
	}

	go func() {
		defer a.EndCycle()

		rc := retryCount
		for {
			fu := m.runner(ctx, a, rc)
			if !fu.Reschedule || ctx.Err() != nil {
				return
			}
			if fu.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(fu.Delay):
				}
			}
			rc = fu.RetryCount
		}
	}()
	return true
}

// SendMessage routes a message between agents: the content is appended to
// the recipient's history as user input and the recipient is scheduled if
// idle.
func (m *Manager) SendMessage(ctx context.Context, fromID, toID, content string) error {
	recipient, ok := m.Get(toID)
	if !ok {
		return fmt.Errorf("recipient agent %q not found", toID)
	}

	recipient.Append(protocol.Message{
		Role:    protocol.RoleUser,
		Content: fmt.Sprintf("[message from %s] %s", fromID, content),
	})

	m.Publish(events.Event{
		Type:    events.TypeUIMessage,
		AgentID: toID,
		Payload: map[string]any{"from": fromID, "content": content},
	})

	if recipient.Status() == protocol.StatusIdle {
		m.ScheduleCycle(ctx, recipient, 0)
	}
	return nil
}

// Publish broadcasts an observable event to the UI sink.
func (m *Manager) Publish(e events.Event) {
	m.sink.Publish(e)
}

// SetAgentStatus updates the status and broadcasts the change.
func (m *Manager) SetAgentStatus(a *Agent, status protocol.Status) {
	if a.Status() == status {
		return
	}
	a.SetStatus(status)
	m.Publish(events.Event{
		Type:    events.TypeStatusChange,
		AgentID: a.ID,
		Payload: map[string]any{"status": string(status)},
	})
}
