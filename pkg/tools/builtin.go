package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// infoMaxChars caps tool_information output so help text cannot blow the
// agent's context window.
const infoMaxChars = 8000

const truncationMarker = "\n[... output truncated; ask for a single tool with <tool_name> to see its full usage ...]"

// RegisterToolInformation registers the self-describing tool_information
// tool. It only ever shows tools the caller is authorized to use.
func (e *Executor) RegisterToolInformation() error {
	return e.Register(&Tool{
		Name:      "tool_information",
		AuthLevel: AuthWorker,
		Summary:   "List your available tools or get full usage for one of them.",
		Description: "Use action 'list_tools' for a name+summary listing, or 'get_info' with " +
			"an optional 'tool_name' for full usage of one or all of your tools.",
		Params: []ParamSpec{
			{Name: "action", Type: "string", Required: true,
				Description: "What to do", Enum: []string{"list_tools", "get_info"}},
			{Name: "tool_name", Type: "string",
				Description: "Tool to describe with get_info; omit for all authorized tools"},
		},
		Handler: func(_ context.Context, call Call) (string, error) {
			visible := e.VisibleTo(call.Caller.Type)

			switch call.StringArg("action") {
			case "list_tools":
				var b strings.Builder
				b.WriteString("Available tools:\n")
				for _, t := range visible {
					fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Summary)
				}
				return capOutput(b.String()), nil

			default: // get_info; the enum already rejected anything else
				name := call.StringArg("tool_name")
				if name == "" {
					var b strings.Builder
					for _, t := range visible {
						b.WriteString(t.Usage())
						b.WriteString("\n")
					}
					return capOutput(b.String()), nil
				}

				for _, t := range visible {
					if t.Name == name {
						return capOutput(t.Usage()), nil
					}
				}
				return "", &ToolError{
					ErrorType:        ErrUnknownTool,
					Message:          fmt.Sprintf("No tool named '%s' is available to you.", name),
					Suggestions:      suggestionsFor(name, namesOf(visible)),
					AlternativeTools: namesOf(visible),
				}
			}
		},
	})
}

func capOutput(s string) string {
	if len(s) <= infoMaxChars {
		return s
	}
	return s[:infoMaxChars] + truncationMarker
}

func suggestionsFor(name string, candidates []string) []string {
	var out []string
	for _, m := range closeMatches(name, candidates, defaultCutoff, 3) {
		out = append(out, fmt.Sprintf("Did you mean '%s'?", m))
	}
	return out
}

// RegisterFileSystem registers the sandboxed file_system tool. All paths
// resolve inside the calling agent's sandbox directory.
func (e *Executor) RegisterFileSystem() error {
	return e.Register(&Tool{
		Name:      "file_system",
		AuthLevel: AuthWorker,
		Summary:   "List, read, and write files inside your sandbox.",
		Description: "Paths are relative to your sandbox; escaping it is rejected. " +
			"'write' requires 'content', 'mkdir' creates directories recursively.",
		Params: []ParamSpec{
			{Name: "action", Type: "string", Required: true,
				Description: "File operation", Enum: []string{"list", "read", "write", "mkdir", "remove"}},
			{Name: "path", Type: "string", Required: true, Description: "Path inside your sandbox"},
			{Name: "content", Type: "string", Description: "Content for write"},
		},
		Handler: fileSystemHandler,
	})
}

func fileSystemHandler(_ context.Context, call Call) (string, error) {
	if call.Caller.Sandbox == "" {
		return "", &ToolError{
			ErrorType: ErrExecutionFailed,
			Message:   "You have no sandbox directory; file_system is unavailable.",
		}
	}

	path, err := resolveSandboxPath(call.Caller.Sandbox, call.StringArg("path"))
	if err != nil {
		return "", err
	}

	switch call.StringArg("action") {
	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", pathError("list", call.StringArg("path"), err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return "(empty directory)", nil
		}
		return strings.Join(names, "\n"), nil

	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", pathError("read", call.StringArg("path"), err)
		}
		return string(data), nil

	case "write":
		content := call.StringArg("content")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", pathError("write", call.StringArg("path"), err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", pathError("write", call.StringArg("path"), err)
		}
		return fmt.Sprintf("Wrote %d bytes to %s", len(content), call.StringArg("path")), nil

	case "mkdir":
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", pathError("mkdir", call.StringArg("path"), err)
		}
		return "Created directory " + call.StringArg("path"), nil

	default: // remove
		if err := os.RemoveAll(path); err != nil {
			return "", pathError("remove", call.StringArg("path"), err)
		}
		return "Removed " + call.StringArg("path"), nil
	}
}

// resolveSandboxPath joins and confines a relative path to the sandbox.
func resolveSandboxPath(sandbox, rel string) (string, error) {
	joined := filepath.Join(sandbox, filepath.Clean("/"+rel))
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", &ToolError{ErrorType: ErrInvalidArgument, Message: "Invalid path: " + rel}
	}
	absSandbox, err := filepath.Abs(sandbox)
	if err != nil {
		return "", &ToolError{ErrorType: ErrExecutionFailed, Message: "Sandbox path is invalid."}
	}
	if abs != absSandbox && !strings.HasPrefix(abs, absSandbox+string(filepath.Separator)) {
		return "", &ToolError{
			ErrorType: ErrInvalidArgument,
			Message:   fmt.Sprintf("Path '%s' escapes your sandbox; use a path inside it.", rel),
		}
	}
	return abs, nil
}

func pathError(action, path string, err error) *ToolError {
	terr := &ToolError{
		ErrorType: ErrExecutionFailed,
		Message:   fmt.Sprintf("file_system %s failed for '%s': %v", action, path, err),
	}
	if os.IsNotExist(err) {
		terr.Suggestions = []string{
			"Use <file_system><action>list</action><path>.</path></file_system> to see what exists.",
		}
	}
	return terr
}

// Messenger routes a message from one agent to another. The agent manager
// implements it; tools stay decoupled from agent ownership.
type Messenger interface {
	SendMessage(ctx context.Context, fromID, toID, content string) error
}

// RegisterSendMessage registers the inter-agent send_message tool.
func (e *Executor) RegisterSendMessage(m Messenger) error {
	return e.Register(&Tool{
		Name:      "send_message",
		AuthLevel: AuthWorker,
		Summary:   "Send a message to another agent on your team.",
		Description: "The recipient receives your message as user input and is scheduled " +
			"if idle.",
		Params: []ParamSpec{
			{Name: "recipient", Type: "string", Required: true, Description: "Recipient agent id"},
			{Name: "content", Type: "string", Required: true, Description: "Message body"},
		},
		Handler: func(ctx context.Context, call Call) (string, error) {
			recipient := call.StringArg("recipient")
			if err := m.SendMessage(ctx, call.Caller.ID, recipient, call.StringArg("content")); err != nil {
				return "", &ToolError{
					ErrorType: ErrExecutionFailed,
					Message:   fmt.Sprintf("Could not deliver message to '%s': %v", recipient, err),
					Suggestions: []string{
						"Check the recipient id; it must be an existing agent.",
					},
				}
			}
			return "Message delivered to " + recipient, nil
		},
	})
}
