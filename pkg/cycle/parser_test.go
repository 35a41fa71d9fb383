package cycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/protocol"
)

var testToolNames = []string{"file_system", "send_message", "tool_information"}

func TestParseThought(t *testing.T) {
	p := Parse("<think>I should list the directory first.</think>Let me look around.", testToolNames)

	assert.Equal(t, "I should list the directory first.", p.Thought)
	assert.NotContains(t, p.Remaining, "<think>")
	assert.Empty(t, p.Calls)
	assert.Equal(t, "Let me look around.", p.Final)
}

func TestParseToolCalls(t *testing.T) {
	raw := `<think>two steps</think>
<file_system><action>list</action><path>.</path></file_system>
<send_message><to>pm-1</to><content>starting</content></send_message>`

	p := Parse(raw, testToolNames)

	require.Len(t, p.Calls, 2)
	assert.Equal(t, "file_system", p.Calls[0].Name)
	assert.Equal(t, "list", p.Calls[0].Args["action"])
	assert.Equal(t, "send_message", p.Calls[1].Name)
	assert.Equal(t, "pm-1", p.Calls[1].Args["to"])
	assert.Empty(t, p.Final, "responses with calls have no final message")

	for _, c := range p.Calls {
		assert.True(t, strings.HasPrefix(c.ID, "call_"), c.ID)
	}
	assert.NotEqual(t, p.Calls[0].ID, p.Calls[1].ID)
}

func TestParseToolInsideThinkIsIgnored(t *testing.T) {
	raw := `<think>maybe <file_system><action>list</action></file_system> would work</think>done thinking`

	p := Parse(raw, testToolNames)
	assert.Empty(t, p.Calls, "tool markup inside <think> must not execute")
	assert.Equal(t, "done thinking", p.Final)
}

func TestParseStateRequestTag(t *testing.T) {
	p := Parse("All set. <request_state state='planning'/>", testToolNames)

	assert.Equal(t, "planning", p.StateRequest)
	assert.Empty(t, p.Final, "a state request is not a final message")
}

func TestParseEmptyArgsCall(t *testing.T) {
	p := Parse("<tool_information></tool_information>", testToolNames)

	require.Len(t, p.Calls, 1)
	assert.Empty(t, p.Calls[0].Args)
}

func TestParsePlainFinal(t *testing.T) {
	p := Parse("  Here is my answer.  ", testToolNames)

	assert.Empty(t, p.Calls)
	assert.Empty(t, p.StateRequest)
	assert.Equal(t, "Here is my answer.", p.Final)
}

func TestSerializeCallSortedAndRoundTrips(t *testing.T) {
	call := protocol.ToolCall{
		Name: "file_system",
		Args: map[string]any{"path": "a.txt", "action": "read"},
	}

	s := SerializeCall(call)
	assert.Equal(t, "<file_system><action>read</action><path>a.txt</path></file_system>", s)

	p := Parse(s, testToolNames)
	require.Len(t, p.Calls, 1)
	assert.Equal(t, call.Name, p.Calls[0].Name)
	assert.Equal(t, call.Args, p.Calls[0].Args)
}

func TestSerializeCallExpandsLists(t *testing.T) {
	s := SerializeCall(protocol.ToolCall{
		Name: "send_message",
		Args: map[string]any{"to": []any{"worker-1", "worker-2"}},
	})
	assert.Equal(t, "<send_message><to>worker-1</to><to>worker-2</to></send_message>", s)
}

func TestCallSignatureStableAcrossIDs(t *testing.T) {
	a := protocol.ToolCall{ID: "call_aaaa", Name: "file_system", Args: map[string]any{"action": "list", "path": "."}}
	b := protocol.ToolCall{ID: "call_bbbb", Name: "file_system", Args: map[string]any{"path": ".", "action": "list"}}

	assert.Equal(t, callSignature(a), callSignature(b))
}
