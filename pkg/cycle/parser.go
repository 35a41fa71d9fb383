package cycle

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/workflow"
	"github.com/kadirpekel/colony/pkg/xmltext"
)

// thinkPattern extracts the single <think> block. Its content is never
// scanned for tool calls or triggers.
var thinkPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// Parsed is the structured view of one assistant response.
type Parsed struct {
	Raw       string
	Thought   string
	Remaining string

	Calls        []protocol.ToolCall
	StateRequest string

	// Final is the response content when nothing structured matched.
	Final string
}

// Parse extracts, in order: one <think> block, top-level tool-call
// elements for the registered tool names, and a <request_state> tag. The
// workflow trigger scan runs separately against Remaining.
func Parse(raw string, toolNames []string) Parsed {
	p := Parsed{Raw: raw, Remaining: raw}

	if m := thinkPattern.FindStringSubmatchIndex(raw); m != nil {
		p.Thought = strings.TrimSpace(raw[m[2]:m[3]])
		p.Remaining = raw[:m[0]] + raw[m[1]:]
	}

	for _, el := range xmltext.Extract(p.Remaining, toolNames) {
		p.Calls = append(p.Calls, protocol.ToolCall{
			ID:   "call_" + uuid.NewString()[:8],
			Name: el.Name,
			Args: xmltext.Args(el),
		})
	}

	if state, ok := workflow.ParseStateRequest(p.Remaining); ok {
		p.StateRequest = state
	}

	if len(p.Calls) == 0 && p.StateRequest == "" {
		p.Final = strings.TrimSpace(p.Remaining)
	}
	return p
}

// SerializeCall renders a tool call back to its XML form, children in
// sorted key order. Parsing the output yields an equal call (modulo the
// synthetic id).
func SerializeCall(c protocol.ToolCall) string {
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<" + c.Name + ">")
	for _, k := range keys {
		switch v := c.Args[k].(type) {
		case []any:
			for _, item := range v {
				writeChild(&b, k, item)
			}
		default:
			writeChild(&b, k, v)
		}
	}
	b.WriteString("</" + c.Name + ">")
	return b.String()
}

func writeChild(b *strings.Builder, name string, v any) {
	s, _ := v.(string)
	b.WriteString("<" + name + ">" + s + "</" + name + ">")
}
