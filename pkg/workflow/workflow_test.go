package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/xmltext"
)

func newTestManager() *Manager {
	return NewManager(&config.Config{})
}

func TestGraphsHaveValidTransitions(t *testing.T) {
	for _, agentType := range []protocol.AgentType{
		protocol.AgentTypeAdmin, protocol.AgentTypePM, protocol.AgentTypeWorker,
	} {
		g := GraphFor(agentType)
		require.NotNil(t, g, agentType)
		require.Contains(t, g.States, g.Start)

		for name, s := range g.States {
			assert.Equal(t, name, s.Name)
			assert.NotEmpty(t, s.Prompt, "state %s has no prompt", name)
			assert.Positive(t, s.MaxTokens, "state %s has no budget", name)
			for _, next := range s.Transitions {
				assert.Contains(t, g.States, next, "state %s points at unknown state %s", name, next)
				assert.NotEqual(t, name, next, "state %s transitions to itself", name)
			}
		}
	}
}

func TestStartStates(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, AdminStartup, m.StartState(protocol.AgentTypeAdmin))
	assert.Equal(t, PMStartup, m.StartState(protocol.AgentTypePM))
	assert.Equal(t, WorkerStartup, m.StartState(protocol.AgentTypeWorker))
	assert.Empty(t, m.StartState(protocol.AgentType("ghost")))
}

func TestCanTransition(t *testing.T) {
	m := newTestManager()

	assert.True(t, m.CanTransition(protocol.AgentTypeAdmin, AdminConversation, AdminPlanning))
	assert.True(t, m.CanTransition(protocol.AgentTypeAdmin, AdminPlanning, AdminConversation))
	assert.True(t, m.CanTransition(protocol.AgentTypeAdmin, AdminWork, AdminStandby))
	assert.False(t, m.CanTransition(protocol.AgentTypeAdmin, AdminStartup, AdminWork))
	assert.False(t, m.CanTransition(protocol.AgentTypeAdmin, AdminWork, AdminWork))

	assert.True(t, m.CanTransition(protocol.AgentTypePM, PMStandby, PMWork))
	assert.False(t, m.CanTransition(protocol.AgentTypePM, PMManage, PMWork))

	assert.True(t, m.CanTransition(protocol.AgentTypeWorker, WorkerWork, WorkerWait))
	assert.False(t, m.CanTransition(protocol.AgentTypeWorker, WorkerWait, WorkerStartup))
}

func TestAdminDelegatedIsEntryOnlyFromPlanning(t *testing.T) {
	m := newTestManager()

	assert.True(t, m.CanTransition(protocol.AgentTypeAdmin, AdminPlanning, AdminDelegated))
	assert.True(t, m.CanTransition(protocol.AgentTypeAdmin, AdminDelegated, AdminWork))
	assert.True(t, m.CanTransition(protocol.AgentTypeAdmin, AdminWork, AdminDelegated))
	assert.False(t, m.CanTransition(protocol.AgentTypeAdmin, AdminDelegated, AdminPlanning),
		"plan revision goes through work, not straight back to planning")

	prompt, err := m.PromptFor(protocol.AgentTypeAdmin, AdminDelegated)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "planning", "the prompt must not advertise an edge that does not exist")
}

func TestPersistentStates(t *testing.T) {
	assert.True(t, IsPersistent(protocol.AgentTypeAdmin, AdminWork))
	assert.True(t, IsPersistent(protocol.AgentTypePM, PMManage))
	assert.True(t, IsPersistent(protocol.AgentTypeWorker, WorkerWork))
	assert.False(t, IsPersistent(protocol.AgentTypeAdmin, AdminStandby))
	assert.False(t, IsPersistent(protocol.AgentTypeWorker, WorkerWait))
}

func TestBudgetForConfigOverride(t *testing.T) {
	m := NewManager(&config.Config{
		Budgets: map[string]int{"admin.work": 2048},
	})

	assert.Equal(t, 2048, m.BudgetFor(protocol.AgentTypeAdmin, AdminWork))
	assert.Equal(t, adminGraph.States[AdminPlanning].MaxTokens,
		m.BudgetFor(protocol.AgentTypeAdmin, AdminPlanning))
	assert.Zero(t, m.BudgetFor(protocol.AgentTypeAdmin, "no_such_state"))
}

func TestParseStateRequest(t *testing.T) {
	state, ok := ParseStateRequest(`Done here. <request_state state='planning'/>`)
	require.True(t, ok)
	assert.Equal(t, "planning", state)

	state, ok = ParseStateRequest(`<request_state state="worker_wait">`)
	require.True(t, ok)
	assert.Equal(t, "worker_wait", state)

	_, ok = ParseStateRequest("no request here")
	assert.False(t, ok)
}

func TestDispatchRunsMatchingWorkflow(t *testing.T) {
	m := newTestManager()

	res, err := m.Dispatch(context.Background(), AgentView{
		ID: "admin-1", Type: protocol.AgentTypeAdmin, State: AdminPlanning,
	}, "Here is the plan.\n<plan><title>Search Index</title>\n1. crawl\n2. index\n</plan>")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, AdminDelegated, res.NextState)
	assert.Equal(t, ProjectID("Search Index"), res.Project)
	assert.NotEmpty(t, res.TasksToSchedule)
}

func TestDispatchPreconditionsNotMet(t *testing.T) {
	m := newTestManager()

	// Right tag, wrong state: the agent gets a failure message back instead
	// of a silent no-op.
	res, err := m.Dispatch(context.Background(), AgentView{
		ID: "admin-1", Type: protocol.AgentTypeAdmin, State: AdminConversation,
	}, "<plan><title>Too Early</title>body</plan>")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not available")
	assert.Empty(t, res.NextState)
}

func TestDispatchNoTrigger(t *testing.T) {
	m := newTestManager()

	res, err := m.Dispatch(context.Background(), AgentView{
		ID: "worker-1", Type: protocol.AgentTypeWorker, State: WorkerWork,
	}, "just prose, no triggers")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestPlanMissingTitle(t *testing.T) {
	m := newTestManager()

	res, err := m.Dispatch(context.Background(), AgentView{
		ID: "admin-1", Type: protocol.AgentTypeAdmin, State: AdminPlanning,
	}, "<plan>body without a title</plan>")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "<title>")
}

func TestPlanReplayIsIdempotent(t *testing.T) {
	m := newTestManager()
	raw := "<plan><title>Replay Me</title>step one</plan>"
	agent := AgentView{ID: "admin-1", Type: protocol.AgentTypeAdmin, State: AdminPlanning}

	first, err := m.Dispatch(context.Background(), agent, raw)
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.Equal(t, AdminDelegated, first.NextState)

	second, err := m.Dispatch(context.Background(), agent, raw)
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Contains(t, second.Message, "already exists")
	assert.Equal(t, first.Project, second.Project, "replay re-binds the same project")
	assert.Empty(t, second.NextState, "replay must not re-run side effects")
	assert.Empty(t, second.TasksToSchedule)
}

func TestProjectIDDeterministic(t *testing.T) {
	assert.Equal(t, ProjectID("Search Index"), ProjectID("  search index  "))
	assert.NotEqual(t, ProjectID("alpha"), ProjectID("beta"))
	assert.Regexp(t, `^proj-[0-9a-f]{8}$`, ProjectID("alpha"))
}

func TestPreprocessPlanInjectsRawBody(t *testing.T) {
	el, ok := xmltext.ExtractFirst("<plan><title>T</title>\nstep one\nstep two\n</plan>", "plan")
	require.True(t, ok)

	processed := preprocessPlan(el)
	body, found := processed.ChildText(RawPlanBodyChild)
	require.True(t, found)
	assert.Equal(t, "step one\nstep two", body)
	assert.NotContains(t, body, "<title>")

	// Already-processed elements pass through unchanged.
	again := preprocessPlan(processed)
	assert.Equal(t, processed.Children, again.Children)
}

func TestTaskListRequiresTasks(t *testing.T) {
	m := newTestManager()
	agent := AgentView{ID: "pm-1", Type: protocol.AgentTypePM, State: PMStartup}

	res, err := m.Dispatch(context.Background(), agent, "<task_list></task_list>")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)

	res, err = m.Dispatch(context.Background(), agent,
		"<task_list><task>build the parser</task><task>write tests</task></task_list>")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, PMPlanDecomposition, res.NextState)
	assert.Equal(t, []string{"build the parser", "write tests"}, res.TasksToSchedule)
}

func TestRegisterRejectsNilRun(t *testing.T) {
	m := newTestManager()
	err := m.Register(&Workflow{TriggerTag: "broken"})
	assert.Error(t, err)
}
