package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies a tool failure for the agent.
type ErrorType string

const (
	ErrUnknownTool     ErrorType = "unknown_tool"
	ErrUnauthorized    ErrorType = "unauthorized"
	ErrMissingArgument ErrorType = "missing_argument"
	ErrInvalidArgument ErrorType = "invalid_argument"
	ErrExecutionFailed ErrorType = "execution_failed"
)

// ToolError is the structured, agent-addressed failure shape. Render
// produces the text that goes into the tool result so the model can
// self-correct on the next turn.
type ToolError struct {
	ErrorType         ErrorType `json:"error_type"`
	Message           string    `json:"message"`
	Suggestions       []string  `json:"suggestions,omitempty"`
	CorrectedExamples []string  `json:"corrected_examples,omitempty"`
	AlternativeTools  []string  `json:"alternative_tools,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
}

// Render formats the error for the agent's history.
func (e *ToolError) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TOOL ERROR (%s): %s", e.ErrorType, e.Message)
	for i, s := range e.Suggestions {
		fmt.Fprintf(&b, "\n%d. %s", i+1, s)
	}
	if len(e.CorrectedExamples) > 0 {
		b.WriteString("\nCorrected examples:")
		for _, ex := range e.CorrectedExamples {
			b.WriteString("\n  " + ex)
		}
	}
	if len(e.AlternativeTools) > 0 {
		b.WriteString("\nTools available to you: " + strings.Join(e.AlternativeTools, ", "))
	}
	return b.String()
}

func asToolError(err error, target **ToolError) bool {
	return errors.As(err, target)
}

// actionSynonyms maps verbs models habitually invent to the action or tool
// name actually registered.
var actionSynonyms = map[string]string{
	"search": "search_knowledge",
	"save":   "write",
	"make":   "mkdir",
	"create": "write",
	"ls":     "list",
	"dir":    "list",
	"cat":    "read",
	"open":   "read",
	"delete": "remove",
	"msg":    "send_message",
	"tools":  "tool_information",
	"help":   "tool_information",
}

// defaultCutoff is the minimum similarity ratio for a close-match
// suggestion.
const defaultCutoff = 0.6

// closeMatches returns up to n candidates whose similarity to target meets
// the cutoff, best first.
func closeMatches(target string, candidates []string, cutoff float64, n int) []string {
	type scored struct {
		name  string
		ratio float64
	}

	var matches []scored
	for _, c := range candidates {
		if r := similarity(target, c); r >= cutoff {
			matches = append(matches, scored{c, r})
		}
	}

	// Insertion sort by ratio descending; candidate lists are tiny.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].ratio > matches[j-1].ratio; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	if len(matches) > n {
		matches = matches[:n]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}

// similarity is 1 - levenshtein/maxlen, case-insensitive.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
