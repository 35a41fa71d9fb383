// Package workflow owns the per-agent-type state graphs, the state→prompt
// mapping with token budgets, and the dispatch of workflows triggered by
// XML tags in agent output.
package workflow

import (
	"github.com/kadirpekel/colony/pkg/protocol"
)

// State is one node of an agent type's state graph.
type State struct {
	Name string

	// Prompt is the system prompt injected as history[0] in this state.
	Prompt string

	// MaxTokens is the default LLM budget for cycles in this state; the
	// config may override it per (type, state).
	MaxTokens int

	// Transitions lists the states legally reachable from here.
	Transitions []string
}

// Graph is one agent type's state machine.
type Graph struct {
	Start  string
	States map[string]*State
}

// Admin state names.
const (
	AdminStartup      = "startup"
	AdminConversation = "admin_conversation"
	AdminPlanning     = "planning"
	AdminDelegated    = "work_delegated"
	AdminWork         = "work"
	AdminStandby      = "admin_standby"
)

// PM state names.
const (
	PMStartup           = "pm_startup"
	PMPlanDecomposition = "pm_plan_decomposition"
	PMBuildTeamTasks    = "pm_build_team_tasks"
	PMActivateWorkers   = "pm_activate_workers"
	PMManage            = "pm_manage"
	PMStandby           = "pm_standby"
	PMWork              = "pm_work"
)

// Worker state names.
const (
	WorkerStartup = "worker_startup"
	WorkerWork    = "worker_work"
	WorkerWait    = "worker_wait"
)

var adminGraph = &Graph{
	Start: AdminStartup,
	States: map[string]*State{
		AdminStartup: {
			Name: AdminStartup,
			Prompt: "You are the Admin agent of a multi-agent team. You are starting up.\n" +
				"Introduce yourself briefly, then request the admin_conversation state with " +
				"<request_state state='admin_conversation'/> to begin working with the user.",
			MaxTokens:   1024,
			Transitions: []string{AdminConversation},
		},
		AdminConversation: {
			Name: AdminConversation,
			Prompt: "You are the Admin agent in conversation with the user.\n" +
				"Discuss goals and answer questions. When the user wants a project built, " +
				"request the planning state with <request_state state='planning'/>.",
			MaxTokens:   4096,
			Transitions: []string{AdminPlanning},
		},
		AdminPlanning: {
			Name: AdminPlanning,
			Prompt: "You are the Admin agent planning a project.\n" +
				"Produce a plan as a <plan> element with a <title> child and the plan body. " +
				"When the plan is accepted it will be delegated to a project manager.",
			MaxTokens:   8192,
			Transitions: []string{AdminConversation, AdminDelegated},
		},
		AdminDelegated: {
			Name: AdminDelegated,
			Prompt: "You are the Admin agent. The current plan has been delegated.\n" +
				"Monitor progress and request <request_state state='work'/> to work on " +
				"tasks yourself.",
			MaxTokens:   4096,
			Transitions: []string{AdminWork},
		},
		AdminWork: {
			Name: AdminWork,
			Prompt: "You are the Admin agent actively working on tasks.\n" +
				"Use your tools to make concrete progress every turn. Think with <think>...</think>, " +
				"act with tool calls, and when the work is done request " +
				"<request_state state='admin_standby'/>.",
			MaxTokens:   8192,
			Transitions: []string{AdminDelegated, AdminStandby},
		},
		AdminStandby: {
			Name: AdminStandby,
			Prompt: "You are the Admin agent on standby.\n" +
				"Wait for user input or team messages. Request <request_state state='work'/> " +
				"when there is something to do.",
			MaxTokens:   1024,
			Transitions: []string{AdminWork},
		},
	},
}

var pmGraph = &Graph{
	Start: PMStartup,
	States: map[string]*State{
		PMStartup: {
			Name: PMStartup,
			Prompt: "You are a Project Manager agent starting a new project.\n" +
				"Read the delegated plan in your history and produce a <task_list> element " +
				"containing one <task> child per concrete work item.",
			MaxTokens:   4096,
			Transitions: []string{PMPlanDecomposition},
		},
		PMPlanDecomposition: {
			Name: PMPlanDecomposition,
			Prompt: "You are a Project Manager decomposing the plan.\n" +
				"Refine your task list and order tasks by dependency. When decomposition is " +
				"complete, request <request_state state='pm_build_team_tasks'/>.",
			MaxTokens:   8192,
			Transitions: []string{PMBuildTeamTasks},
		},
		PMBuildTeamTasks: {
			Name: PMBuildTeamTasks,
			Prompt: "You are a Project Manager assigning tasks to your team.\n" +
				"Use your tools to record task assignments, then request " +
				"<request_state state='pm_activate_workers'/>.",
			MaxTokens:   4096,
			Transitions: []string{PMActivateWorkers},
		},
		PMActivateWorkers: {
			Name: PMActivateWorkers,
			Prompt: "You are a Project Manager activating your workers.\n" +
				"Send each worker its first task with send_message, then request " +
				"<request_state state='pm_manage'/>.",
			MaxTokens:   4096,
			Transitions: []string{PMManage},
		},
		PMManage: {
			Name: PMManage,
			Prompt: "You are a Project Manager supervising active work.\n" +
				"Review worker messages, unblock them, and reassign tasks as needed. Request " +
				"<request_state state='pm_standby'/> when the team needs no attention.",
			MaxTokens:   8192,
			Transitions: []string{PMStandby},
		},
		PMStandby: {
			Name: PMStandby,
			Prompt: "You are a Project Manager on standby.\n" +
				"Wait for worker messages. Request <request_state state='pm_manage'/> to resume " +
				"supervision or <request_state state='pm_work'/> to work directly.",
			MaxTokens:   1024,
			Transitions: []string{PMManage, PMWork},
		},
		PMWork: {
			Name: PMWork,
			Prompt: "You are a Project Manager working a task directly.\n" +
				"Use your tools to complete it, then request <request_state state='pm_standby'/>.",
			MaxTokens:   8192,
			Transitions: []string{PMStandby},
		},
	},
}

var workerGraph = &Graph{
	Start: WorkerStartup,
	States: map[string]*State{
		WorkerStartup: {
			Name: WorkerStartup,
			Prompt: "You are a Worker agent joining a team.\n" +
				"Check in with your project manager, then request " +
				"<request_state state='worker_work'/> to begin.",
			MaxTokens:   1024,
			Transitions: []string{WorkerWork},
		},
		WorkerWork: {
			Name: WorkerWork,
			Prompt: "You are a Worker agent executing your assigned task.\n" +
				"Use your tools to make progress every turn. Report results to your project " +
				"manager with send_message, and request <request_state state='worker_wait'/> " +
				"when you need new instructions.",
			MaxTokens:   8192,
			Transitions: []string{WorkerWait},
		},
		WorkerWait: {
			Name: WorkerWait,
			Prompt: "You are a Worker agent waiting for instructions.\n" +
				"When a new task arrives, request <request_state state='worker_work'/>.",
			MaxTokens:   1024,
			Transitions: []string{WorkerWork},
		},
	},
}

// GraphFor returns the state graph of an agent type.
func GraphFor(t protocol.AgentType) *Graph {
	switch t {
	case protocol.AgentTypeAdmin:
		return adminGraph
	case protocol.AgentTypePM:
		return pmGraph
	case protocol.AgentTypeWorker:
		return workerGraph
	}
	return nil
}

// PersistentStates are the (type, state) pairs reactivated automatically
// after a clean cycle.
var PersistentStates = map[protocol.AgentType]string{
	protocol.AgentTypeAdmin:  AdminWork,
	protocol.AgentTypePM:     PMManage,
	protocol.AgentTypeWorker: WorkerWork,
}

// IsPersistent reports whether the pair is a persistent state.
func IsPersistent(t protocol.AgentType, state string) bool {
	return PersistentStates[t] == state
}
