// Package failover swaps an agent's (provider, model, key) after a cycle
// failure: key rotation for key-related errors, ranked model reselection
// for everything else.
package failover

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/keys"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/selection"
)

// Handler applies failover decisions to agents.
type Handler struct {
	cfg    *config.Config
	keys   *keys.Manager
	picker *selection.Picker
}

func NewHandler(cfg *config.Config, km *keys.Manager, picker *selection.Picker) *Handler {
	return &Handler{cfg: cfg, keys: km, picker: picker}
}

// keyRelated reports whether the error is recoverable by rotating the API
// key rather than abandoning the model.
func keyRelated(kind llms.ErrorKind) bool {
	switch kind {
	case llms.KindAuthInvalid, llms.KindPermissionDenied, llms.KindRateLimited:
		return true
	}
	return false
}

// Failover rewrites the agent's active configuration after a failed cycle.
// Key-related errors quarantine the current key and keep the model when a
// fresh key exists; otherwise the next ranked model is chosen, skipping
// models already failed this cycle. Returns an error when no candidate is
// left.
func (h *Handler) Failover(_ context.Context, a *agent.Agent, perr *llms.ProviderError) error {
	provider, model, _ := a.ActiveModel()
	base, suffix := llms.SplitModelID(model)
	if base == "" {
		suffix = model
	}
	canonical := llms.ModelKey{Provider: provider, Suffix: suffix}.Canonical()

	if keyRelated(perr.Kind) {
		if key, ok := h.keys.ActiveKeyConfig(provider); ok {
			h.keys.QuarantineKey(provider, key.APIKey, h.cfg.KeyQuarantine)
		}
		if _, ok := h.keys.ActiveKeyConfig(provider); ok {
			// A fresh key exists; the model itself is fine, keep it.
			slog.Info("Failover rotated API key", "agent", a.ID, "provider", provider, "kind", perr.Kind)
			a.SetLastFailure(string(perr.Kind))
			return nil
		}
	}

	a.MarkFailedModel(canonical)

	candidate, ok := h.picker.Pick(a.FailedModels())
	if !ok {
		return fmt.Errorf("no failover candidate left for agent %s (tier %s, %d failed this cycle)",
			a.ID, h.cfg.ModelTier, len(a.FailedModels()))
	}

	adapter, err := agent.BuildAdapter(h.cfg, h.keys, candidate.Provider)
	if err != nil {
		return fmt.Errorf("failed to attach failover provider %s: %w", candidate.Provider, err)
	}

	a.SwapActiveModel(candidate.Provider, candidate.Model(), a.ProviderOptions(), adapter)
	a.SetLastFailure(string(perr.Kind))

	slog.Info("Failover selected new model",
		"agent", a.ID, "from", canonical, "to", candidate.Canonical, "kind", perr.Kind)
	return nil
}
