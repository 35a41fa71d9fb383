package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/protocol"
)

func echoTool(name string, level AuthLevel) *Tool {
	return &Tool{
		Name:      name,
		AuthLevel: level,
		Summary:   "Echoes its input.",
		Params: []ParamSpec{
			{Name: "value", Type: "string", Required: true, Description: "Value to echo"},
		},
		Handler: func(_ context.Context, call Call) (string, error) {
			return call.StringArg("value"), nil
		},
	}
}

func workerCaller() Caller {
	return Caller{ID: "worker-1", Type: protocol.AgentTypeWorker}
}

func TestAuthorizationMatrix(t *testing.T) {
	cases := []struct {
		level  AuthLevel
		caller protocol.AgentType
		want   bool
	}{
		{AuthWorker, protocol.AgentTypeWorker, true},
		{AuthWorker, protocol.AgentTypePM, true},
		{AuthWorker, protocol.AgentTypeAdmin, true},
		{AuthPM, protocol.AgentTypeWorker, false},
		{AuthPM, protocol.AgentTypePM, true},
		{AuthPM, protocol.AgentTypeAdmin, true},
		{AuthAdmin, protocol.AgentTypeWorker, false},
		{AuthAdmin, protocol.AgentTypePM, false},
		{AuthAdmin, protocol.AgentTypeAdmin, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.level.Authorized(tc.caller),
			"level %s, caller %s", tc.level, tc.caller)
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(echoTool("echo", AuthWorker)))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "echo",
		map[string]any{"value": "hello"})

	assert.Equal(t, protocol.ToolResultSuccess, result.Status)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "echo", result.Name)
}

func TestExecuteUnauthorized(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(echoTool("visible", AuthWorker)))
	require.NoError(t, e.Register(echoTool("restricted", AuthAdmin)))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "restricted",
		map[string]any{"value": "x"})

	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "unauthorized")
	assert.Contains(t, result.Content, "visible", "the error lists the caller's own tools")
	assert.NotContains(t, result.Content, "Tools available to you: restricted")
}

func TestExecuteUnknownToolSuggestions(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(echoTool("send_message", AuthWorker)))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "send_mesage", nil)

	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "Did you mean 'send_message'?")
	assert.Contains(t, result.Content, "tool_information", "always points at discovery")
}

func TestExecuteSynonymSuggestion(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(echoTool("send_message", AuthWorker)))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "msg", nil)

	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "Did you mean 'send_message'?")
}

func TestExecuteMissingRequiredArg(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(echoTool("echo", AuthWorker)))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "echo", nil)

	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "missing_argument")
	assert.Contains(t, result.Content, "<echo><value>VALUE</value></echo>", "shows a corrected example")
}

func TestExecuteInvalidEnumWithSynonym(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(&Tool{
		Name:      "file_ops",
		AuthLevel: AuthWorker,
		Summary:   "File operations.",
		Params: []ParamSpec{
			{Name: "action", Type: "string", Required: true,
				Description: "Operation", Enum: []string{"list", "read", "write"}},
		},
		Handler: func(_ context.Context, _ Call) (string, error) { return "ok", nil },
	}))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "file_ops",
		map[string]any{"action": "ls"})

	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "Use 'list' instead of 'ls'.")
}

func TestExecuteTypeValidation(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(&Tool{
		Name:      "counter",
		AuthLevel: AuthWorker,
		Summary:   "Counts.",
		Params: []ParamSpec{
			{Name: "n", Type: "int", Required: true, Description: "Count"},
		},
		Handler: func(_ context.Context, _ Call) (string, error) { return "ok", nil },
	}))

	bad := e.Execute(context.Background(), workerCaller(), "call_1", "counter",
		map[string]any{"n": "not-a-number"})
	assert.Equal(t, protocol.ToolResultError, bad.Status)
	assert.Contains(t, bad.Content, "must be a int")

	good := e.Execute(context.Background(), workerCaller(), "call_2", "counter",
		map[string]any{"n": "42"})
	assert.Equal(t, protocol.ToolResultSuccess, good.Status)
}

func TestExecuteHandlerErrorWrapped(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(&Tool{
		Name:      "broken",
		AuthLevel: AuthWorker,
		Summary:   "Always fails.",
		Handler: func(_ context.Context, _ Call) (string, error) {
			return "", errors.New("disk on fire")
		},
	}))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "broken", nil)
	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "execution_failed")
	assert.Contains(t, result.Content, "disk on fire")
}

func TestExecuteHandlerPanicRecovered(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(&Tool{
		Name:      "panicky",
		AuthLevel: AuthWorker,
		Summary:   "Panics.",
		Handler: func(_ context.Context, _ Call) (string, error) {
			panic("boom")
		},
	}))

	result := e.Execute(context.Background(), workerCaller(), "call_1", "panicky", nil)
	assert.Equal(t, protocol.ToolResultError, result.Status)
	assert.Contains(t, result.Content, "panicked")
}

func TestVisibleToFiltersByLevel(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(echoTool("everyone", AuthWorker)))
	require.NoError(t, e.Register(echoTool("managers", AuthPM)))
	require.NoError(t, e.Register(echoTool("admins", AuthAdmin)))

	assert.Equal(t, []string{"everyone"}, namesOf(e.VisibleTo(protocol.AgentTypeWorker)))
	assert.Equal(t, []string{"everyone", "managers"}, namesOf(e.VisibleTo(protocol.AgentTypePM)))
	assert.Equal(t, []string{"everyone", "managers", "admins"}, namesOf(e.VisibleTo(protocol.AgentTypeAdmin)))
}

func TestRegisterRequiresHandler(t *testing.T) {
	e := NewExecutor()
	assert.Error(t, e.Register(&Tool{Name: "no-handler"}))
}

func TestToolErrorRender(t *testing.T) {
	terr := &ToolError{
		ErrorType:         ErrInvalidArgument,
		Message:           "bad value",
		Suggestions:       []string{"try something else"},
		CorrectedExamples: []string{"<t><a>x</a></t>"},
		AlternativeTools:  []string{"other"},
	}

	rendered := terr.Render()
	assert.Contains(t, rendered, "TOOL ERROR (invalid_argument): bad value")
	assert.Contains(t, rendered, "1. try something else")
	assert.Contains(t, rendered, "<t><a>x</a></t>")
	assert.Contains(t, rendered, "Tools available to you: other")
}

func TestCloseMatches(t *testing.T) {
	candidates := []string{"file_system", "send_message", "tool_information"}

	assert.Equal(t, []string{"file_system"}, closeMatches("file_sistem", candidates, defaultCutoff, 3))
	assert.Empty(t, closeMatches("zzz", candidates, defaultCutoff, 3))
}
