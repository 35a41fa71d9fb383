package protocol

// AgentType identifies which state graph and tool authorization level an
// agent runs with.
type AgentType string

const (
	AgentTypeAdmin  AgentType = "admin"
	AgentTypePM     AgentType = "pm"
	AgentTypeWorker AgentType = "worker"
)

// Valid reports whether the agent type is one of the known types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeAdmin, AgentTypePM, AgentTypeWorker:
		return true
	}
	return false
}

// Status is an agent's operational status.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusProcessing         Status = "processing"
	StatusAwaitingToolResult Status = "awaiting_tool_result"
	StatusExecutingTool      Status = "executing_tool"
	StatusAwaitingCGReview   Status = "awaiting_cg_review"
	StatusAwaitingUserReview Status = "awaiting_user_review_cg"
	StatusError              Status = "error"
)
