package cycle

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/events"
	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/workflow"
)

// approvalHoldMarker suppresses Admin reactivation while a project waits
// for the user.
const approvalHoldMarker = "awaiting user approval"

// nextStep is the post-cycle decision tree: failover, reactivate, retry,
// escalate, completion policy, idle. Evaluated strictly in that order.
func (h *Handler) nextStep(ctx context.Context, cctx *Context) agent.FollowUp {
	a := cctx.Agent

	switch {
	case cctx.TriggerFailover:
		return h.runFailover(ctx, cctx)

	case cctx.NeedsReactivation:
		if h.suppressReactivation(ctx, cctx) {
			h.idle(cctx)
			return agent.FollowUp{}
		}
		return agent.FollowUp{Reschedule: true}

	case cctx.Retryable && cctx.RetryCount < h.cfg.MaxCycleRetries:
		slog.Info("Retrying cycle after transient error",
			"agent", a.ID, "attempt", cctx.RetryCount+1, "max", h.cfg.MaxCycleRetries,
			"delay", h.cfg.RetryDelay)
		return agent.FollowUp{Reschedule: true, RetryCount: cctx.RetryCount + 1, Delay: h.cfg.RetryDelay}

	case cctx.Retryable:
		// Retries exhausted; escalate to failover.
		slog.Warn("Cycle retries exhausted, escalating to failover", "agent", a.ID)
		return h.runFailover(ctx, cctx)

	case cctx.CompletedSuccessfully:
		return h.completionStep(ctx, cctx)

	default:
		h.idle(cctx)
		return agent.FollowUp{}
	}
}

func (h *Handler) runFailover(ctx context.Context, cctx *Context) agent.FollowUp {
	a := cctx.Agent

	if err := h.failover.Failover(ctx, a, cctx.Err); err != nil {
		slog.Error("Failover exhausted, marking agent as error", "agent", a.ID, "error", err)
		h.metrics.FailoversTotal.WithLabelValues("exhausted").Inc()
		h.manager.SetAgentStatus(a, protocol.StatusError)
		h.manager.Publish(events.Event{
			Type:    events.TypeError,
			AgentID: a.ID,
			Payload: map[string]any{"error": err.Error(), "kind": string(cctx.Err.Kind)},
		})
		return agent.FollowUp{}
	}

	h.metrics.FailoversTotal.WithLabelValues("success").Inc()
	h.manager.Publish(events.Event{
		Type:    events.TypeFailover,
		AgentID: a.ID,
		Payload: map[string]any{"kind": string(cctx.Err.Kind)},
	})
	return agent.FollowUp{Reschedule: true}
}

// suppressReactivation holds an Admin agent whose project is waiting for
// the user, and applies Admin work loop detection on cycles that took
// actions.
func (h *Handler) suppressReactivation(ctx context.Context, cctx *Context) bool {
	a := cctx.Agent

	if a.Type == protocol.AgentTypeAdmin {
		if last, ok := a.LastMessage(); ok &&
			last.Role == protocol.RoleFrameworkNotification &&
			strings.Contains(last.Content, approvalHoldMarker) {
			slog.Info("Reactivation suppressed, project awaiting user approval", "agent", a.ID)
			return true
		}
		if a.State() == workflow.AdminWork {
			return h.adminWorkLoopCheck(ctx, cctx)
		}
	}
	return false
}

// completionStep applies the clean-completion policy: persistent states
// reactivate, PM startup and planning states are nudged forward, everyone
// else idles.
func (h *Handler) completionStep(ctx context.Context, cctx *Context) agent.FollowUp {
	a := cctx.Agent
	state := a.State()

	if workflow.IsPersistent(a.Type, state) && !cctx.StateChangeRequested {
		if a.Type == protocol.AgentTypeAdmin && state == workflow.AdminWork {
			if h.adminWorkLoopCheck(ctx, cctx) {
				h.idle(cctx)
				return agent.FollowUp{}
			}
		}
		return agent.FollowUp{Reschedule: true}
	}

	if a.Type == protocol.AgentTypePM {
		if state == workflow.PMStartup && !cctx.ActionTaken && !cctx.ThoughtProduced {
			h.appendFramework(ctx, a,
				"You must begin the startup workflow: read the delegated plan and emit a <task_list> with one <task> per work item.")
			return agent.FollowUp{Reschedule: true}
		}
		switch state {
		case workflow.PMPlanDecomposition, workflow.PMBuildTeamTasks, workflow.PMActivateWorkers:
			if !cctx.ActionTaken && !cctx.ExecutedToolSuccessfully {
				h.appendFramework(ctx, a,
					"You produced no action in state '"+state+"'. Use your tools or request the next state to keep the project moving.")
				return agent.FollowUp{Reschedule: true}
			}
		}
	}

	h.idle(cctx)
	return agent.FollowUp{}
}

func (h *Handler) idle(cctx *Context) {
	status := protocol.StatusIdle
	if cctx.overrideStatus != "" {
		status = cctx.overrideStatus
	}
	h.manager.SetAgentStatus(cctx.Agent, status)
}

// Loop detection thresholds for Admin agents stuck in work.
const (
	emptyCyclesFirstIntervention  = 2
	emptyCyclesForcedTransition   = 5
	workCycleSummaryNudge         = 12
	toolRepetitionThreshold       = 3
	toolScanWindow                = 8
	listToolsPairThreshold        = 2
)

// adminWorkLoopCheck updates the Admin work counters and applies
// interventions. Returns true when reactivation must be suppressed for
// this step. A forced state change takes effect on the next cycle.
func (h *Handler) adminWorkLoopCheck(ctx context.Context, cctx *Context) bool {
	a := cctx.Agent

	if count := a.BumpWorkCycleCount(); count == workCycleSummaryNudge {
		h.intervene(ctx, a,
			"You have been in the work state for "+strconv.Itoa(workCycleSummaryNudge)+" cycles. "+
				"Summarize what you have completed, what remains, and wait for direction before continuing.")
		return true
	}

	empty := !cctx.ExecutedToolSuccessfully && !cctx.ThoughtProduced && !cctx.ActionTaken
	if empty {
		switch n := a.BumpEmptyWorkCycles(); {
		case n == emptyCyclesFirstIntervention:
			h.intervene(ctx, a,
				"Your last two work cycles produced no thoughts, tool calls, or actions. "+
					"Make concrete progress with a tool call, or request a state change.")
		case n > emptyCyclesFirstIntervention && n < emptyCyclesForcedTransition:
			h.intervene(ctx, a,
				"You are still producing empty work cycles. Either act now with a tool, for example "+
					"<file_system><action>list</action><path>.</path></file_system>, or leave the work state with "+
					"<request_state state='admin_conversation'/>.")
		case n >= emptyCyclesForcedTransition:
			h.forceState(ctx, cctx, workflow.AdminConversation,
				"You produced "+strconv.Itoa(n)+" consecutive empty work cycles and have been returned to conversation.")
			a.ResetEmptyWorkCycles()
		}
	} else {
		a.ResetEmptyWorkCycles()
	}

	return h.toolRepetitionCheck(ctx, cctx)
}

// toolRepetitionCheck scans the recent assistant messages for a repeated
// tool-call signature, and for the tool_information/list_tools stall
// pattern that warrants an emergency override.
func (h *Handler) toolRepetitionCheck(ctx context.Context, cctx *Context) bool {
	a := cctx.Agent

	signatures := make(map[string]int)
	listToolsCalls := 0

	history := a.HistoryCopy()
	scanned := 0
	for i := len(history) - 1; i >= 0 && scanned < toolScanWindow; i-- {
		msg := history[i]
		if msg.Role != protocol.RoleAssistant {
			continue
		}
		scanned++
		for _, call := range msg.ToolCalls {
			signatures[callSignature(call)]++
			if call.Name == "tool_information" {
				if action, _ := call.Args["action"].(string); action == "list_tools" {
					listToolsCalls++
				}
			}
		}
	}

	if listToolsCalls >= listToolsPairThreshold && a.ToolInterventionApplied() {
		h.forceState(ctx, cctx, workflow.AdminConversation,
			"Emergency override: you keep listing your tools instead of using them. "+
				"You have been returned to conversation; discuss what you intend to do before working again.")
		a.SetToolInterventionApplied(false)
		a.ResetEmptyWorkCycles()
		return false
	}

	for sig, count := range signatures {
		if count >= toolRepetitionThreshold && !a.ToolInterventionApplied() {
			h.intervene(ctx, a,
				"You have issued the same tool call "+strconv.Itoa(count)+" times ("+sig+"). "+
					"Repeating it will not change the result; try a different approach.")
			a.SetToolInterventionApplied(true)
			break
		}
	}
	return false
}

// intervene appends a system_intervention message, persists it, and
// broadcasts it.
func (h *Handler) intervene(ctx context.Context, a *agent.Agent, content string) {
	a.Append(protocol.Message{Role: protocol.RoleIntervention, Content: content})
	if err := h.store.LogIntervention(ctx, h.sessionID, a.ID, content); err != nil {
		slog.Warn("Intervention logging failed", "agent", a.ID, "error", err)
	}
	h.metrics.Interventions.Inc()
	h.manager.Publish(events.Event{
		Type:    events.TypeIntervention,
		AgentID: a.ID,
		Payload: map[string]any{"content": content},
	})
	slog.Warn("Loop-detection intervention", "agent", a.ID)
}

// forceState moves the agent regardless of graph edges. Loop detection is
// the only caller; the target is always a member of the type's state set.
func (h *Handler) forceState(ctx context.Context, cctx *Context, to, reason string) {
	a := cctx.Agent
	from := a.State()

	h.intervene(ctx, a, reason)
	a.SetState(to)
	cctx.StateChangeRequested = true

	h.manager.Publish(events.Event{
		Type:    events.TypeStateChange,
		AgentID: a.ID,
		Payload: map[string]any{"from": from, "to": to, "forced": true},
	})
	slog.Warn("Forced state transition", "agent", a.ID, "from", from, "to", to)
}

// callSignature normalizes a tool call for repetition comparison.
func callSignature(c protocol.ToolCall) string {
	return c.Name + "/" + SerializeCall(protocol.ToolCall{Name: c.Name, Args: c.Args})
}

