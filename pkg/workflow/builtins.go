package workflow

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/xmltext"
)

// RawPlanBodyChild is the synthesized child carrying the free-form plan
// body: everything inside <plan> except the <title> element. The trigger
// element is pre-processed before the workflow runs, so the workflow (and
// anything replaying its input) always sees the child present.
const RawPlanBodyChild = "_raw_plan_body_"

// projectTable keeps created project ids so a replayed plan trigger does
// not duplicate side effects.
type projectTable struct {
	mu       sync.Mutex
	projects map[string]string // id -> title
}

func newProjectTable() *projectTable {
	return &projectTable{projects: make(map[string]string)}
}

// create registers a project id; the second return is false when the id
// already existed.
func (t *projectTable) create(id, title string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.projects[id]; ok {
		return false
	}
	t.projects[id] = title
	return true
}

// ProjectID derives the deterministic project id from a title, stable
// across reschedules so workflow application is idempotent.
func ProjectID(title string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(title))))
	return "proj-" + hex.EncodeToString(sum[:4])
}

func (m *Manager) registerBuiltins() {
	// Registration of the built-in graph workflows cannot fail: tags are
	// unique literals.
	_ = m.Register(&Workflow{
		TriggerTag: "plan",
		AgentType:  protocol.AgentTypeAdmin,
		AgentState: AdminPlanning,
		Run:        m.runPlan,
	})
	_ = m.Register(&Workflow{
		TriggerTag: "task_list",
		AgentType:  protocol.AgentTypePM,
		AgentState: PMStartup,
		Run:        m.runTaskList,
	})
}

// runPlan handles the Admin project-creation trigger.
func (m *Manager) runPlan(_ context.Context, wctx *Context) (*Result, error) {
	el := preprocessPlan(wctx.Trigger)

	title, ok := el.ChildText("title")
	if !ok || title == "" {
		return &Result{
			Success: false,
			Message: "Your <plan> is missing a <title> child. Add one and emit the plan again.",
		}, nil
	}
	body, _ := el.ChildText(RawPlanBodyChild)

	id := ProjectID(title)
	if !m.projects.create(id, title) {
		// Replayed trigger; the project already exists.
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Project '%s' (%s) already exists; no new project was created.", title, id),
			Project: id,
		}, nil
	}

	return &Result{
		Success:   true,
		Message:   fmt.Sprintf("Project '%s' created with id %s. The plan has been delegated to a project manager.", title, id),
		NextState: AdminDelegated,
		Project:   id,
		UIMessage: fmt.Sprintf("Project created: %s", title),
		TasksToSchedule: []string{
			fmt.Sprintf("delegate plan of project %s: %s", id, summarize(body, 200)),
		},
	}, nil
}

// preprocessPlan injects the _raw_plan_body_ child: the plan's inner
// content with the <title> element removed.
func preprocessPlan(el xmltext.Element) xmltext.Element {
	if _, ok := el.ChildText(RawPlanBodyChild); ok {
		return el
	}

	inner := el.Raw
	if open := strings.Index(inner, ">"); open >= 0 {
		inner = inner[open+1:]
	}
	if end := strings.LastIndex(inner, "</plan>"); end >= 0 {
		inner = inner[:end]
	}
	if title, ok := xmltext.ExtractFirst(inner, "title"); ok {
		inner = xmltext.Strip(inner, title)
	}

	el.Children = append(el.Children, xmltext.Child{
		Name: RawPlanBodyChild,
		Text: strings.TrimSpace(inner),
	})
	return el
}

// runTaskList handles the PM kickoff trigger.
func (m *Manager) runTaskList(_ context.Context, wctx *Context) (*Result, error) {
	var tasks []string
	for _, c := range wctx.Trigger.Children {
		if c.Name == "task" && strings.TrimSpace(c.Text) != "" {
			tasks = append(tasks, strings.TrimSpace(c.Text))
		}
	}
	if len(tasks) == 0 {
		return &Result{
			Success: false,
			Message: "Your <task_list> contains no <task> children. Emit at least one task.",
		}, nil
	}

	return &Result{
		Success:         true,
		Message:         fmt.Sprintf("Task list accepted with %d tasks. Proceed to plan decomposition.", len(tasks)),
		NextState:       PMPlanDecomposition,
		UIMessage:       fmt.Sprintf("PM %s registered %d tasks", wctx.Agent.ID, len(tasks)),
		TasksToSchedule: tasks,
	}, nil
}

func summarize(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
