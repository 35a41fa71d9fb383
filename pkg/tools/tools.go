// Package tools implements the tool registry and executor. Tool calls
// arrive as parsed XML from the cycle engine; results go back into the
// agent's history as tool-role messages. Failures come back as structured,
// agent-addressed errors with suggestions the model can act on.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/registry"
)

// AuthLevel is the minimum privilege required to call a tool.
type AuthLevel string

const (
	AuthAdmin  AuthLevel = "admin"
	AuthPM     AuthLevel = "pm"
	AuthWorker AuthLevel = "worker"
)

// rank orders privilege: admin > pm > worker.
func (l AuthLevel) rank() int {
	switch l {
	case AuthAdmin:
		return 3
	case AuthPM:
		return 2
	default:
		return 1
	}
}

func callerRank(t protocol.AgentType) int {
	switch t {
	case protocol.AgentTypeAdmin:
		return 3
	case protocol.AgentTypePM:
		return 2
	default:
		return 1
	}
}

// Authorized reports whether an agent of the given type may call a tool at
// this level.
func (l AuthLevel) Authorized(caller protocol.AgentType) bool {
	return callerRank(caller) >= l.rank()
}

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Name        string
	Type        string // string, int, number, bool
	Required    bool
	Description string

	// Enum constrains the value to a fixed action set when non-empty.
	Enum []string
}

// Caller identifies the agent behind an invocation.
type Caller struct {
	ID      string
	Type    protocol.AgentType
	Sandbox string
	Project string
	Session string
}

// Call is one invocation as seen by a handler. Args hold the parsed XML
// child elements; values are strings unless the parser produced structure.
type Call struct {
	Caller Caller
	ID     string
	Args   map[string]any
}

// StringArg returns a string argument, empty when absent.
func (c Call) StringArg(name string) string {
	v, ok := c.Args[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Handler executes a call and returns agent-visible output. Returning a
// *ToolError preserves the structured shape; any other error is wrapped.
type Handler func(ctx context.Context, call Call) (string, error)

// Tool is one registered tool.
type Tool struct {
	Name        string
	AuthLevel   AuthLevel
	Summary     string
	Description string
	Params      []ParamSpec
	Handler     Handler
}

// Example renders a literal call the agent can copy.
func (t *Tool) Example() string {
	var b strings.Builder
	b.WriteString("<" + t.Name + ">")
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		value := strings.ToUpper(p.Name)
		if len(p.Enum) > 0 {
			value = p.Enum[0]
		}
		b.WriteString("<" + p.Name + ">" + value + "</" + p.Name + ">")
	}
	b.WriteString("</" + t.Name + ">")
	return b.String()
}

// Usage renders the full help text for one tool.
func (t *Tool) Usage() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (%s)\n%s\n", t.Name, t.AuthLevel, t.Summary)
	if t.Description != "" {
		b.WriteString(t.Description + "\n")
	}
	if len(t.Params) > 0 {
		b.WriteString("Parameters:\n")
		for _, p := range t.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&b, " [one of: %s]", strings.Join(p.Enum, ", "))
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("Example: " + t.Example() + "\n")
	return b.String()
}

// Executor dispatches parsed tool calls to registered handlers.
type Executor struct {
	tools *registry.BaseRegistry[*Tool]
}

func NewExecutor() *Executor {
	return &Executor{tools: registry.NewBaseRegistry[*Tool]()}
}

func (e *Executor) Register(t *Tool) error {
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}
	return e.tools.Register(t.Name, t)
}

// Get returns a registered tool by name.
func (e *Executor) Get(name string) (*Tool, bool) {
	return e.tools.Get(name)
}

// Names returns all registered tool names.
func (e *Executor) Names() []string {
	return e.tools.Names()
}

// VisibleTo lists the tools an agent type is authorized to call, in
// registration order.
func (e *Executor) VisibleTo(t protocol.AgentType) []*Tool {
	var out []*Tool
	for _, tool := range e.tools.List() {
		if tool.AuthLevel.Authorized(t) {
			out = append(out, tool)
		}
	}
	return out
}

// Execute runs one tool call to completion and always yields a result; all
// failure modes are folded into an error-status result the agent can read.
func (e *Executor) Execute(ctx context.Context, caller Caller, callID, name string, args map[string]any) protocol.ToolResult {
	tool, ok := e.tools.Get(name)
	if !ok {
		return errResult(callID, name, e.unknownToolError(name))
	}

	if !tool.AuthLevel.Authorized(caller.Type) {
		return errResult(callID, name, &ToolError{
			ErrorType: ErrUnauthorized,
			Message: fmt.Sprintf("Tool '%s' requires %s authorization; you are a %s agent.",
				name, tool.AuthLevel, caller.Type),
			AlternativeTools: namesOf(e.VisibleTo(caller.Type)),
		})
	}

	if terr := validateArgs(tool, args); terr != nil {
		return errResult(callID, name, terr)
	}

	output, err := e.run(ctx, tool, Call{Caller: caller, ID: callID, Args: args})
	if err != nil {
		var terr *ToolError
		if !asToolError(err, &terr) {
			terr = &ToolError{ErrorType: ErrExecutionFailed, Message: err.Error()}
		}
		slog.Warn("Tool execution failed",
			"tool", name, "agent", caller.ID, "error_type", terr.ErrorType)
		return errResult(callID, name, terr)
	}

	return protocol.ToolResult{
		ToolCallID: callID,
		Name:       name,
		Content:    output,
		Status:     protocol.ToolResultSuccess,
	}
}

// run isolates handler panics so one broken tool cannot take the agent
// loop down.
func (e *Executor) run(ctx context.Context, tool *Tool, call Call) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, call)
}

func (e *Executor) unknownToolError(name string) *ToolError {
	terr := &ToolError{
		ErrorType: ErrUnknownTool,
		Message:   fmt.Sprintf("No tool named '%s' is registered.", name),
	}

	if syn, ok := actionSynonyms[name]; ok {
		if tool, exists := e.tools.Get(syn); exists {
			terr.Suggestions = append(terr.Suggestions, fmt.Sprintf("Did you mean '%s'?", syn))
			terr.CorrectedExamples = append(terr.CorrectedExamples, tool.Example())
		}
	}
	for _, match := range closeMatches(name, e.tools.Names(), defaultCutoff, 3) {
		suggestion := fmt.Sprintf("Did you mean '%s'?", match)
		if !contains(terr.Suggestions, suggestion) {
			terr.Suggestions = append(terr.Suggestions, suggestion)
		}
	}
	terr.Suggestions = append(terr.Suggestions,
		"Call <tool_information><action>list_tools</action></tool_information> to see your available tools.")
	return terr
}

func validateArgs(tool *Tool, args map[string]any) *ToolError {
	for _, p := range tool.Params {
		raw, present := args[p.Name]
		if !present {
			if p.Required {
				return &ToolError{
					ErrorType: ErrMissingArgument,
					Message: fmt.Sprintf("Tool '%s' requires the '%s' parameter (%s).",
						tool.Name, p.Name, p.Description),
					CorrectedExamples: []string{tool.Example()},
				}
			}
			continue
		}

		if terr := checkType(tool, p, raw); terr != nil {
			return terr
		}

		if len(p.Enum) > 0 {
			value, _ := raw.(string)
			if !contains(p.Enum, value) {
				return invalidActionError(tool, p, value)
			}
		}
	}
	return nil
}

func checkType(tool *Tool, p ParamSpec, raw any) *ToolError {
	s, isString := raw.(string)
	bad := func() *ToolError {
		return &ToolError{
			ErrorType: ErrInvalidArgument,
			Message: fmt.Sprintf("Parameter '%s' of tool '%s' must be a %s, got %q.",
				p.Name, tool.Name, p.Type, fmt.Sprint(raw)),
			CorrectedExamples: []string{tool.Example()},
		}
	}

	switch p.Type {
	case "int":
		if isString {
			if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
				return bad()
			}
		}
	case "number":
		if isString {
			if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
				return bad()
			}
		}
	case "bool":
		if isString {
			if _, err := strconv.ParseBool(strings.TrimSpace(s)); err != nil {
				return bad()
			}
		}
	}
	return nil
}

// invalidActionError builds the suggestion list for a bad action value:
// synonym table first, then close matches against the legal action set.
func invalidActionError(tool *Tool, p ParamSpec, value string) *ToolError {
	terr := &ToolError{
		ErrorType: ErrInvalidArgument,
		Message: fmt.Sprintf("'%s' is not a valid %s for tool '%s'. Valid values: %s.",
			value, p.Name, tool.Name, strings.Join(p.Enum, ", ")),
	}

	if syn, ok := actionSynonyms[value]; ok && contains(p.Enum, syn) {
		terr.Suggestions = append(terr.Suggestions, fmt.Sprintf("Use '%s' instead of '%s'.", syn, value))
		terr.CorrectedExamples = append(terr.CorrectedExamples, exampleWithAction(tool, p.Name, syn))
	}
	for _, match := range closeMatches(value, p.Enum, defaultCutoff, 3) {
		suggestion := fmt.Sprintf("Did you mean '%s'?", match)
		if !contains(terr.Suggestions, suggestion) {
			terr.Suggestions = append(terr.Suggestions, suggestion)
			terr.CorrectedExamples = append(terr.CorrectedExamples, exampleWithAction(tool, p.Name, match))
		}
	}
	return terr
}

func exampleWithAction(tool *Tool, param, action string) string {
	var b strings.Builder
	b.WriteString("<" + tool.Name + ">")
	for _, p := range tool.Params {
		if p.Name == param {
			b.WriteString("<" + p.Name + ">" + action + "</" + p.Name + ">")
			continue
		}
		if p.Required {
			b.WriteString("<" + p.Name + ">" + strings.ToUpper(p.Name) + "</" + p.Name + ">")
		}
	}
	b.WriteString("</" + tool.Name + ">")
	return b.String()
}

func errResult(callID, name string, terr *ToolError) protocol.ToolResult {
	return protocol.ToolResult{
		ToolCallID: callID,
		Name:       name,
		Content:    terr.Render(),
		Status:     protocol.ToolResultError,
	}
}

func namesOf(tools []*Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
