package cycle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/events"
	"github.com/kadirpekel/colony/pkg/failover"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/observability"
	"github.com/kadirpekel/colony/pkg/perf"
	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/store"
	"github.com/kadirpekel/colony/pkg/tools"
	"github.com/kadirpekel/colony/pkg/workflow"
)

// Handler runs one end-to-end cycle: assemble → stream → parse → tools and
// workflows → outcome → next step.
type Handler struct {
	cfg       *config.Config
	workflows *workflow.Manager
	tools     *tools.Executor
	manager   *agent.Manager
	failover  *failover.Handler
	store     store.Store
	perf      *perf.Tracker
	metrics   *observability.Metrics
	tracer    trace.Tracer
	sessionID string
}

func NewHandler(cfg *config.Config, workflows *workflow.Manager, executor *tools.Executor,
	manager *agent.Manager, fo *failover.Handler, st store.Store, tracker *perf.Tracker,
	metrics *observability.Metrics, sessionID string) *Handler {
	return &Handler{
		cfg:       cfg,
		workflows: workflows,
		tools:     executor,
		manager:   manager,
		failover:  fo,
		store:     st,
		perf:      tracker,
		metrics:   metrics,
		tracer:    observability.Tracer(),
		sessionID: sessionID,
	}
}

// Run executes one cycle and returns the follow-up decision. It is
// installed as the manager's CycleRunner.
func (h *Handler) Run(ctx context.Context, a *agent.Agent, retryCount int) agent.FollowUp {
	cctx := &Context{Agent: a, RetryCount: retryCount, StartedAt: time.Now()}
	cctx.Provider, cctx.Model, _ = a.ActiveModel()

	ctx, span := h.tracer.Start(ctx, "cycle", trace.WithAttributes(
		attribute.String("agent.id", a.ID),
		attribute.String("agent.state", a.State()),
		attribute.String("llm.model", cctx.Model),
		attribute.Int("cycle.retry", retryCount),
	))
	defer span.End()

	h.manager.SetAgentStatus(a, protocol.StatusProcessing)

	if err := h.assemble(cctx); err != nil {
		slog.Error("Cycle aborted during assembly", "agent", a.ID, "error", err)
		h.manager.SetAgentStatus(a, protocol.StatusError)
		return agent.FollowUp{}
	}

	raw, perr := h.stream(ctx, cctx)
	latency := time.Since(cctx.StartedAt)

	if perr != nil {
		h.perf.RecordFailure(cctx.canonicalModel(), latency)
		h.metrics.LLMErrors.WithLabelValues(string(perr.Kind)).Inc()
		cctx.Err = perr
		determineErrorOutcome(cctx, perr.Kind)
		slog.Warn("Cycle stream failed",
			"agent", a.ID, "model", cctx.Model, "kind", perr.Kind, "error", perr.Message)
	} else {
		h.perf.RecordSuccess(cctx.canonicalModel(), latency)
		h.apply(ctx, cctx, Parse(raw, h.tools.Names()))
		a.SetLastFailure("")
		a.ClearFailedModels()
	}

	fu := h.nextStep(ctx, cctx)

	h.metrics.CycleDuration.Observe(time.Since(cctx.StartedAt).Seconds())
	h.metrics.CyclesTotal.WithLabelValues(string(a.Type), outcomeLabel(cctx)).Inc()
	return fu
}

// stream calls the provider adapter and accumulates chunk text until the
// stream ends or errors.
func (h *Handler) stream(ctx context.Context, cctx *Context) (string, *llms.ProviderError) {
	a := cctx.Agent

	adapter := a.Adapter()
	if adapter == nil {
		return "", &llms.ProviderError{Kind: llms.KindProviderUnreachable, Message: "agent has no provider adapter"}
	}

	options, err := llms.DecodeProviderOptions(a.ProviderOptions())
	if err != nil {
		// Options were validated at creation; a failure here means the map
		// was corrupted since.
		return "", &llms.ProviderError{Kind: llms.KindBadRequest, Message: err.Error()}
	}

	_, model, temperature := a.ActiveModel()
	_, suffix := llms.SplitModelID(model)

	ch, err := adapter.StreamCompletion(ctx, llms.CompletionRequest{
		Messages:    cctx.History,
		Model:       suffix,
		Temperature: temperature,
		MaxTokens:   h.workflows.BudgetFor(a.Type, a.State()),
		Options:     options,
	})
	if err != nil {
		return "", &llms.ProviderError{Kind: llms.KindUnknown, Message: err.Error()}
	}

	var b strings.Builder
	for ev := range ch {
		switch ev.Type {
		case llms.EventChunk:
			b.WriteString(ev.Text)
		case llms.EventStatus:
			slog.Debug("Stream status", "agent", a.ID, "status", ev.Text)
		case llms.EventError:
			return b.String(), ev.Err
		}
	}
	return b.String(), nil
}

// apply folds the parsed response into the agent: thought event, the
// assistant message, tool execution, workflow dispatch, and the state
// request. Tool failures never abort the batch.
func (h *Handler) apply(ctx context.Context, cctx *Context, parsed Parsed) {
	a := cctx.Agent

	if parsed.Thought != "" {
		cctx.ThoughtProduced = true
		h.manager.Publish(events.Event{
			Type:    events.TypeThought,
			AgentID: a.ID,
			Payload: map[string]any{"thought": parsed.Thought},
		})
	}

	// The raw response is appended once, before any of its tool results.
	assistant := protocol.Message{
		Role:      protocol.RoleAssistant,
		Content:   parsed.Raw,
		ToolCalls: parsed.Calls,
	}
	a.Append(assistant)
	h.logInteraction(ctx, a, assistant, nil)

	if len(parsed.Calls) > 0 {
		h.executeTools(ctx, cctx, parsed.Calls)
	}

	workflowMovedState := h.dispatchWorkflow(ctx, cctx, parsed.Remaining)

	if parsed.StateRequest != "" && !workflowMovedState {
		h.applyStateRequest(ctx, cctx, parsed.StateRequest)
	}

	if len(parsed.Calls) == 0 && !cctx.ActionTaken {
		cctx.CompletedSuccessfully = true
		if parsed.Final != "" {
			h.manager.Publish(events.Event{
				Type:    events.TypeFinalMessage,
				AgentID: a.ID,
				Payload: map[string]any{"content": parsed.Final},
			})
		}
	}
}

// executeTools dispatches every parsed call in emission order. Each result
// becomes a tool-role message carrying the same call id.
func (h *Handler) executeTools(ctx context.Context, cctx *Context, calls []protocol.ToolCall) {
	a := cctx.Agent
	h.manager.SetAgentStatus(a, protocol.StatusExecutingTool)

	caller := tools.Caller{
		ID:      a.ID,
		Type:    a.Type,
		Sandbox: a.SandboxPath(),
		Project: a.Project(),
		Session: h.sessionID,
	}

	for i, call := range calls {
		started := time.Now()
		result := h.tools.Execute(ctx, caller, call.ID, call.Name, call.Args)

		h.metrics.ToolCalls.WithLabelValues(call.Name, string(result.Status)).Inc()
		h.metrics.ToolDuration.Observe(time.Since(started).Seconds())

		if result.Status == protocol.ToolResultSuccess {
			cctx.ExecutedToolSuccessfully = true
		}

		msg := protocol.NewToolMessage(result)
		a.Append(msg)
		h.logInteraction(ctx, a, msg, []protocol.ToolResult{result})

		h.manager.Publish(events.Event{
			Type:    events.TypeToolResult,
			AgentID: a.ID,
			Payload: map[string]any{
				"tool":     call.Name,
				"call_id":  call.ID,
				"status":   string(result.Status),
				"sequence": i + 1,
				"of":       len(calls),
			},
		})
	}

	cctx.ActionTaken = true
	cctx.NeedsReactivation = true
}

// dispatchWorkflow scans for trigger tags and applies the result. Returns
// whether the workflow moved the agent's state, which takes precedence
// over a <request_state> tag in the same response.
func (h *Handler) dispatchWorkflow(ctx context.Context, cctx *Context, text string) bool {
	a := cctx.Agent

	view := workflow.AgentView{ID: a.ID, Type: a.Type, State: a.State(), Team: a.Team()}
	result, err := h.workflows.Dispatch(ctx, view, text)
	if err != nil {
		slog.Error("Workflow execution failed", "agent", a.ID, "error", err)
		h.appendFramework(ctx, a, "A workflow you triggered failed internally; continue without it.")
		return false
	}
	if result == nil {
		return false
	}

	cctx.ActionTaken = true
	cctx.NeedsReactivation = true
	if result.Message != "" {
		h.appendFramework(ctx, a, result.Message)
	}
	if result.UIMessage != "" {
		h.manager.Publish(events.Event{
			Type:    events.TypeUIMessage,
			AgentID: a.ID,
			Payload: map[string]any{"content": result.UIMessage},
		})
	}
	for _, task := range result.TasksToSchedule {
		h.manager.Publish(events.Event{
			Type:    events.TypeTask,
			AgentID: a.ID,
			Payload: map[string]any{"task": task},
		})
	}

	if !result.Success {
		return false
	}

	if result.Project != "" {
		a.SetProject(result.Project)
	}

	moved := false
	if result.NextState != "" && h.workflows.ValidState(a.Type, result.NextState) {
		from := a.State()
		a.SetState(result.NextState)
		cctx.StateChangeRequested = true
		moved = true
		h.manager.Publish(events.Event{
			Type:    events.TypeStateChange,
			AgentID: a.ID,
			Payload: map[string]any{"from": from, "to": result.NextState},
		})
	}
	if result.NextStatus != "" {
		cctx.overrideStatus = result.NextStatus
	}
	return moved
}

// applyStateRequest handles <request_state>. Illegal transitions are
// ignored, logged, and answered with a framework message.
func (h *Handler) applyStateRequest(ctx context.Context, cctx *Context, requested string) {
	a := cctx.Agent
	from := a.State()

	if !h.workflows.CanTransition(a.Type, from, requested) {
		slog.Warn("Illegal state transition requested",
			"agent", a.ID, "from", from, "to", requested)
		h.appendFramework(ctx, a,
			"State change to '"+requested+"' is not allowed from '"+from+"'. Stay in your current state and continue.")
		return
	}

	a.SetState(requested)
	cctx.ActionTaken = true
	cctx.StateChangeRequested = true
	cctx.NeedsReactivation = true

	h.manager.Publish(events.Event{
		Type:    events.TypeStateChange,
		AgentID: a.ID,
		Payload: map[string]any{"from": from, "to": requested},
	})
	slog.Info("Agent state changed", "agent", a.ID, "from", from, "to", requested)
}

// appendFramework appends a framework notification to the agent's real
// history and logs it.
func (h *Handler) appendFramework(ctx context.Context, a *agent.Agent, content string) {
	msg := protocol.Message{Role: protocol.RoleFrameworkNotification, Content: content}
	a.Append(msg)
	h.logInteraction(ctx, a, msg, nil)
}

func (h *Handler) logInteraction(ctx context.Context, a *agent.Agent, msg protocol.Message, results []protocol.ToolResult) {
	err := h.store.LogInteraction(ctx, store.Interaction{
		SessionID:   h.sessionID,
		AgentID:     a.ID,
		Role:        msg.Role,
		Content:     msg.Content,
		ToolCalls:   msg.ToolCalls,
		ToolResults: results,
	})
	if err != nil {
		slog.Warn("Interaction logging failed", "agent", a.ID, "error", err)
	}
}

// determineErrorOutcome classifies a stream error into the recovery path.
func determineErrorOutcome(cctx *Context, kind llms.ErrorKind) {
	switch kind {
	case llms.KindTimeout, llms.KindConnectionReset, llms.KindAPIStatus5xx:
		cctx.Retryable = true
	case llms.KindProviderUnreachable,
		llms.KindAuthInvalid, llms.KindPermissionDenied, llms.KindRateLimited,
		llms.KindBadRequest, llms.KindAPIStatus4xxOther, llms.KindUnknown:
		cctx.TriggerFailover = true
	default:
		cctx.TriggerFailover = true
	}
}

func outcomeLabel(cctx *Context) string {
	switch {
	case cctx.TriggerFailover:
		return "failover"
	case cctx.Retryable:
		return "retryable"
	case cctx.ExecutedToolSuccessfully:
		return "tool"
	case cctx.StateChangeRequested:
		return "state_change"
	case cctx.CompletedSuccessfully:
		return "success"
	default:
		return "other"
	}
}
