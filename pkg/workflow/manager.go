package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/registry"
	"github.com/kadirpekel/colony/pkg/xmltext"
)

// AgentView is the slice of an agent the workflow layer sees: identity and
// preconditions, no mutable handle.
type AgentView struct {
	ID    string
	Type  protocol.AgentType
	State string
	Team  string
}

// Context carries one workflow invocation.
type Context struct {
	Agent   AgentView
	Trigger xmltext.Element

	// Raw is the assistant's full response text the trigger was found in.
	Raw string
}

// Result is what a workflow hands back to the cycle for application.
type Result struct {
	Success bool
	Message string

	// NextState, when set, moves the agent; it takes precedence over a
	// <request_state> tag in the same response.
	NextState string

	// NextStatus, when set, overrides the agent's post-cycle status.
	NextStatus protocol.Status

	// Project, when set, binds the agent to the project id for subsequent
	// tool calls.
	Project string

	UIMessage       string
	TasksToSchedule []string
}

// Workflow is a named, typed reaction to a trigger tag in agent output.
type Workflow struct {
	// TriggerTag is the top-level XML element name that fires the workflow.
	TriggerTag string

	// AgentType and AgentState are preconditions; both must match.
	AgentType  protocol.AgentType
	AgentState string

	Run func(ctx context.Context, wctx *Context) (*Result, error)
}

// stateRequestPattern parses <request_state state='NAME'/>; self-closing
// optional, underscores allowed in NAME.
var stateRequestPattern = regexp.MustCompile(`<request_state\s+state\s*=\s*['"]([A-Za-z0-9_]+)['"]\s*/?\s*>`)

// ParseStateRequest extracts the requested state name from a response.
func ParseStateRequest(text string) (string, bool) {
	m := stateRequestPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Manager owns the state graphs, the state→prompt mapping, and the
// registered workflows.
type Manager struct {
	cfg       *config.Config
	workflows *registry.BaseRegistry[*Workflow]
	projects  *projectTable
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		cfg:       cfg,
		workflows: registry.NewBaseRegistry[*Workflow](),
		projects:  newProjectTable(),
	}
	m.registerBuiltins()
	return m
}

// Register adds a workflow keyed by its trigger tag.
func (m *Manager) Register(w *Workflow) error {
	if w.Run == nil {
		return fmt.Errorf("workflow %s: run func is required", w.TriggerTag)
	}
	return m.workflows.Register(w.TriggerTag, w)
}

// TriggerTags returns the registered trigger tag names.
func (m *Manager) TriggerTags() []string {
	return m.workflows.Names()
}

// StartState returns the startup state of an agent type.
func (m *Manager) StartState(t protocol.AgentType) string {
	g := GraphFor(t)
	if g == nil {
		return ""
	}
	return g.Start
}

// ValidState reports whether the state belongs to the type's state set.
func (m *Manager) ValidState(t protocol.AgentType, state string) bool {
	g := GraphFor(t)
	if g == nil {
		return false
	}
	_, ok := g.States[state]
	return ok
}

// CanTransition reports whether from→to is a legal edge.
func (m *Manager) CanTransition(t protocol.AgentType, from, to string) bool {
	g := GraphFor(t)
	if g == nil {
		return false
	}
	s, ok := g.States[from]
	if !ok {
		return false
	}
	for _, next := range s.Transitions {
		if next == to {
			return true
		}
	}
	return false
}

// PromptFor returns the system prompt of a (type, state) pair.
func (m *Manager) PromptFor(t protocol.AgentType, state string) (string, error) {
	g := GraphFor(t)
	if g == nil {
		return "", fmt.Errorf("unknown agent type %q", t)
	}
	s, ok := g.States[state]
	if !ok {
		return "", fmt.Errorf("unknown state %q for agent type %s", state, t)
	}
	return s.Prompt, nil
}

// BudgetFor returns the max-token budget for a (type, state) pair, config
// override first, then the state default.
func (m *Manager) BudgetFor(t protocol.AgentType, state string) int {
	if m.cfg != nil {
		if b := m.cfg.BudgetFor(t, state); b > 0 {
			return b
		}
	}
	g := GraphFor(t)
	if g == nil {
		return 0
	}
	s, ok := g.States[state]
	if !ok {
		return 0
	}
	return s.MaxTokens
}

// Dispatch scans the assistant's raw response for registered trigger tags
// and runs the first workflow whose type and state preconditions hold.
// Returns nil when nothing fired.
func (m *Manager) Dispatch(ctx context.Context, agent AgentView, raw string) (*Result, error) {
	for _, el := range xmltext.Extract(raw, m.workflows.Names()) {
		w, ok := m.workflows.Get(el.Name)
		if !ok {
			continue
		}
		if w.AgentType != agent.Type || w.AgentState != agent.State {
			slog.Info("Workflow trigger ignored, preconditions not met",
				"trigger", el.Name, "agent", agent.ID,
				"agent_type", agent.Type, "agent_state", agent.State)
			return &Result{
				Success: false,
				Message: fmt.Sprintf("The <%s> workflow is not available to a %s agent in state %s.",
					el.Name, agent.Type, agent.State),
			}, nil
		}

		slog.Info("Workflow triggered", "trigger", el.Name, "agent", agent.ID)
		return w.Run(ctx, &Context{Agent: agent, Trigger: el, Raw: raw})
	}
	return nil, nil
}
