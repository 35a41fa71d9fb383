// Package agent owns the agent model, the lifecycle manager that creates
// and destroys agents, and the agent manager that schedules cycles and
// routes inter-agent messages.
package agent

import (
	"sync"
	"time"

	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// Agent is one stateful LLM-backed actor. Mutable fields are guarded by
// mu; the history is owned exclusively by the agent and mutated only by
// its own cycle or by the manager during failover.
type Agent struct {
	ID        string
	Type      protocol.AgentType
	Persona   string
	Bootstrap bool

	// cycleMu is the per-agent in-flight guard: at most one cycle runs at
	// a time; schedule attempts while held are dropped.
	cycleMu sync.Mutex

	mu              sync.Mutex
	state           string
	status          protocol.Status
	provider        string
	model           string
	temperature     float64
	providerOptions map[string]any
	history         []protocol.Message
	team            string
	project         string
	sandboxPath     string
	adapter         llms.Provider

	// Per-cycle transient counters, reset by the scheduler.
	emptyWorkCycles  int
	workCycleCount   int
	failedModels     map[string]bool
	toolIntervention bool
	lastFailure      string
}

// TryBeginCycle attempts to claim the agent's single cycle slot.
func (a *Agent) TryBeginCycle() bool {
	return a.cycleMu.TryLock()
}

// EndCycle releases the cycle slot.
func (a *Agent) EndCycle() {
	a.cycleMu.Unlock()
}

func (a *Agent) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) SetState(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}

func (a *Agent) Status() protocol.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) SetStatus(status protocol.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

func (a *Agent) Team() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.team
}

func (a *Agent) SetTeam(team string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.team = team
}

// Project returns the project id the agent is bound to, set when a
// workflow creates or adopts a project.
func (a *Agent) Project() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.project
}

func (a *Agent) SetProject(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.project = id
}

func (a *Agent) SandboxPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sandboxPath
}

// ActiveModel returns the agent's current (provider instance, model id,
// temperature).
func (a *Agent) ActiveModel() (provider, model string, temperature float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provider, a.model, a.temperature
}

// ProviderOptions returns the raw provider options map.
func (a *Agent) ProviderOptions() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.providerOptions
}

// Adapter returns the attached provider adapter.
func (a *Agent) Adapter() llms.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapter
}

// SwapActiveModel rewrites the agent's active configuration and attaches a
// new adapter, closing the previous one. Failover uses this.
func (a *Agent) SwapActiveModel(provider, model string, options map[string]any, adapter llms.Provider) {
	a.mu.Lock()
	old := a.adapter
	a.provider = provider
	a.model = model
	a.providerOptions = options
	a.adapter = adapter
	a.mu.Unlock()

	if old != nil && old != adapter {
		old.Close()
	}
}

// CloseAdapter closes the attached adapter, aborting any in-flight stream.
func (a *Agent) CloseAdapter() {
	a.mu.Lock()
	adapter := a.adapter
	a.adapter = nil
	a.mu.Unlock()

	if adapter != nil {
		adapter.Close()
	}
}

// Append adds one message to the agent's history.
func (a *Agent) Append(msg protocol.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	a.history = append(a.history, msg)
}

// HistoryCopy returns a deep copy of the history for prompt assembly.
func (a *Agent) HistoryCopy() []protocol.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return protocol.CloneHistory(a.history)
}

// HistoryLen returns the current history length.
func (a *Agent) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// LastMessage returns the most recent history entry.
func (a *Agent) LastMessage() (protocol.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return protocol.Message{}, false
	}
	return a.history[len(a.history)-1], true
}

// MarkFailedModel records a canonical model id as failed this cycle.
func (a *Agent) MarkFailedModel(canonical string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failedModels == nil {
		a.failedModels = make(map[string]bool)
	}
	a.failedModels[canonical] = true
}

// FailedModels returns a copy of the models failed this cycle.
func (a *Agent) FailedModels() map[string]bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]bool, len(a.failedModels))
	for k := range a.failedModels {
		out[k] = true
	}
	return out
}

// ClearFailedModels resets the per-cycle failed model set.
func (a *Agent) ClearFailedModels() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedModels = nil
}

// LastFailure returns the summarized error class of the previous cycle's
// failover, empty when the last turn was clean.
func (a *Agent) LastFailure() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFailure
}

func (a *Agent) SetLastFailure(summary string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastFailure = summary
}

// EmptyWorkCycles returns the consecutive empty work-cycle count.
func (a *Agent) EmptyWorkCycles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emptyWorkCycles
}

// BumpEmptyWorkCycles increments and returns the counter.
func (a *Agent) BumpEmptyWorkCycles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emptyWorkCycles++
	return a.emptyWorkCycles
}

func (a *Agent) ResetEmptyWorkCycles() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emptyWorkCycles = 0
}

// BumpWorkCycleCount increments and returns the total work-cycle counter.
func (a *Agent) BumpWorkCycleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workCycleCount++
	return a.workCycleCount
}

func (a *Agent) ResetWorkCycleCount() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workCycleCount = 0
}

// ToolInterventionApplied reports whether a tool-repetition intervention
// was already appended for the current streak.
func (a *Agent) ToolInterventionApplied() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.toolIntervention
}

func (a *Agent) SetToolInterventionApplied(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toolIntervention = v
}

// Snapshot is a read-only view of an agent for the status endpoint.
type Snapshot struct {
	ID       string             `json:"id"`
	Type     protocol.AgentType `json:"type"`
	Persona  string             `json:"persona,omitempty"`
	State    string             `json:"state"`
	Status   protocol.Status    `json:"status"`
	Provider string             `json:"provider"`
	Model    string             `json:"model"`
	Team     string             `json:"team,omitempty"`
	Project  string             `json:"project,omitempty"`
	Messages int                `json:"messages"`
}

// Snapshot returns the agent's current observable state.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ID:       a.ID,
		Type:     a.Type,
		Persona:  a.Persona,
		State:    a.state,
		Status:   a.status,
		Provider: a.provider,
		Model:    a.model,
		Team:     a.team,
		Project:  a.project,
		Messages: len(a.history),
	}
}
