// Package cycle implements the per-agent cycle engine: prompt assembly,
// LLM streaming, output parsing, tool execution, outcome determination,
// and next-step scheduling with loop detection.
package cycle

import (
	"time"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// Context carries one cycle's mutable state from assembly through the
// scheduling decision. It holds non-owning handles; its lifetime is the
// cycle.
type Context struct {
	Agent      *agent.Agent
	RetryCount int

	// History is the prepared local copy sent to the provider; the agent's
	// real history is never mutated during assembly.
	History      []protocol.Message
	SystemPrompt string
	StartedAt    time.Time

	Provider string
	Model    string

	// Outcome flags, set by parsing, tool execution, and classification.
	CompletedSuccessfully    bool
	TriggerFailover          bool
	NeedsReactivation        bool
	ExecutedToolSuccessfully bool
	StateChangeRequested     bool
	ThoughtProduced          bool
	ActionTaken              bool
	Retryable                bool

	Err *llms.ProviderError

	// overrideStatus, when set by a workflow result, replaces the idle
	// status applied after the cycle.
	overrideStatus protocol.Status
}

// canonicalModel returns the restart-stable id of the cycle's model.
func (c *Context) canonicalModel() string {
	_, suffix := llms.SplitModelID(c.Model)
	return llms.ModelKey{Provider: c.Provider, Suffix: suffix}.Canonical()
}
