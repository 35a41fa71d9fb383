// Package protocol defines the message, tool call, and tool result types
// shared by the cycle engine, the tool executor, and the LLM providers.
package protocol

import (
	"time"
)

// Role tags a message in an agent's history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	// RoleFrameworkNotification marks messages injected by the framework
	// itself (startup nudges, state-change notices).
	RoleFrameworkNotification Role = "system_framework_notification"

	// RoleIntervention marks loop-detection interventions. These are also
	// persisted so operators can audit why an agent was redirected.
	RoleIntervention Role = "system_intervention"
)

// ToolCall is a parsed request by the assistant to invoke a tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResultStatus is the terminal status of a tool invocation.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	ToolCallID string           `json:"tool_call_id"`
	Name       string           `json:"name"`
	Content    string           `json:"content"`
	Status     ToolResultStatus `json:"status"`
}

// Message is one entry in an agent's history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

func NewToolMessage(result ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.Content,
		ToolCallID: result.ToolCallID,
		Timestamp:  time.Now(),
	}
}

// CloneHistory returns a deep enough copy of a history for prompt assembly:
// the slice, each message's tool call slice, and each call's args map are
// copied so mutations on the copy never touch the agent's real history.
func CloneHistory(history []Message) []Message {
	out := make([]Message, len(history))
	for i, msg := range history {
		out[i] = msg
		if len(msg.ToolCalls) > 0 {
			calls := make([]ToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				calls[j] = tc
				if tc.Args != nil {
					args := make(map[string]any, len(tc.Args))
					for k, v := range tc.Args {
						args[k] = v
					}
					calls[j].Args = args
				}
			}
			out[i].ToolCalls = calls
		}
	}
	return out
}

// LastAssistant returns the most recent assistant message.
func LastAssistant(history []Message) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return history[i], true
		}
	}
	return Message{}, false
}

// HasToolCall reports whether any assistant message in the history carries
// a tool call with the given id.
func HasToolCall(history []Message, callID string) bool {
	for _, msg := range history {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return true
			}
		}
	}
	return false
}
