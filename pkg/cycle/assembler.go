package cycle

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/colony/pkg/protocol"
)

// assemble prepares the history copy for the LLM call: the current state
// prompt at index 0, and for Admin agents a short framework status message
// at index 1. The agent's real history is untouched.
func (h *Handler) assemble(cctx *Context) error {
	a := cctx.Agent

	prompt, err := h.workflows.PromptFor(a.Type, a.State())
	if err != nil {
		return fmt.Errorf("prompt assembly failed: %w", err)
	}
	cctx.SystemPrompt = prompt

	history := a.HistoryCopy()
	if len(history) > 0 && history[0].Role == protocol.RoleSystem {
		history[0].Content = prompt
	} else {
		history = append([]protocol.Message{protocol.NewMessage(protocol.RoleSystem, prompt)}, history...)
	}

	if a.Type == protocol.AgentTypeAdmin {
		status := "Framework status: last turn OK."
		if failure := a.LastFailure(); failure != "" {
			status = fmt.Sprintf("Framework status: the previous cycle failed over (%s).", failure)
		}
		rest := append([]protocol.Message{protocol.NewMessage(protocol.RoleSystem, status)}, history[1:]...)
		history = append(history[:1:1], rest...)
	}

	if budget := h.cfg.ContextTokens; budget > 0 {
		protect := 1
		if a.Type == protocol.AgentTypeAdmin {
			protect = 2
		}
		var dropped int
		history, dropped = trimToBudget(history, protect, budget)
		if dropped > 0 {
			slog.Info("History trimmed to context budget",
				"agent", a.ID, "dropped", dropped, "budget", budget)
		}
	}

	cctx.History = history

	slog.Debug("Cycle prompt assembled",
		"agent", a.ID, "state", a.State(), "messages", len(history),
		"est_tokens", estimateTokens(history))
	return nil
}
