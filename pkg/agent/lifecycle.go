package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/keys"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/selection"
	"github.com/kadirpekel/colony/pkg/workflow"
)

// Lifecycle creates and destroys agents: id assignment, provider/model
// validation and selection, adapter attachment, sandbox creation, and
// registration with the manager.
type Lifecycle struct {
	cfg       *config.Config
	registry  *llms.ModelRegistry
	keys      *keys.Manager
	picker    *selection.Picker
	workflows *workflow.Manager
	manager   *Manager
}

func NewLifecycle(cfg *config.Config, registry *llms.ModelRegistry, km *keys.Manager,
	picker *selection.Picker, workflows *workflow.Manager, manager *Manager) *Lifecycle {
	return &Lifecycle{
		cfg:       cfg,
		registry:  registry,
		keys:      km,
		picker:    picker,
		workflows: workflows,
		manager:   manager,
	}
}

// CreateRequest describes one agent to create.
type CreateRequest struct {
	ID        string
	Config    config.AgentBootstrap
	Bootstrap bool
	Team      string

	// LoadingFromSession marks an agent restored from persisted config; the
	// startup state is still applied fresh, in-flight cycles are never
	// resumed.
	LoadingFromSession bool
}

// CreateAgent validates and registers a new agent. Every creation path
// validates the model; selection only runs when provider or model is
// absent.
func (l *Lifecycle) CreateAgent(req CreateRequest) (*Agent, error) {
	bc := req.Config
	if !bc.Type.Valid() {
		return nil, fmt.Errorf("invalid agent type %q", bc.Type)
	}

	id := req.ID
	if id == "" {
		id = bc.ID
	}
	if id == "" {
		id = generateID(bc.Type)
	}
	if _, exists := l.manager.Get(id); exists {
		return nil, fmt.Errorf("agent %q already exists", id)
	}

	providerName, model, err := l.resolveModel(bc.Provider, bc.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}

	if _, err := llms.DecodeProviderOptions(bc.ProviderOptions); err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}

	adapter, err := l.buildAdapter(providerName)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}

	temperature := l.cfg.DefaultTemperature
	if bc.Temperature != nil {
		temperature = *bc.Temperature
	}

	sandbox := filepath.Join(l.cfg.SandboxRoot, id)
	if err := os.MkdirAll(sandbox, 0o755); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("agent %s: failed to create sandbox: %w", id, err)
	}

	team := req.Team
	if team == "" {
		team = bc.Team
	}

	a := &Agent{
		ID:              id,
		Type:            bc.Type,
		Persona:         bc.Persona,
		Bootstrap:       req.Bootstrap,
		state:           l.workflows.StartState(bc.Type),
		status:          protocol.StatusIdle,
		provider:        providerName,
		model:           model,
		temperature:     temperature,
		providerOptions: bc.ProviderOptions,
		team:            team,
		sandboxPath:     sandbox,
		adapter:         adapter,
	}

	if err := l.manager.Register(a); err != nil {
		adapter.Close()
		return nil, err
	}

	slog.Info("Agent created",
		"agent", id, "type", bc.Type, "provider", providerName, "model", model,
		"bootstrap", req.Bootstrap)
	return a, nil
}

// DeleteAgent destroys an agent: closes its adapter, removes team
// membership, and unregisters it. Bootstrap agents cannot be deleted.
func (l *Lifecycle) DeleteAgent(id string) error {
	a, ok := l.manager.Get(id)
	if !ok {
		return fmt.Errorf("agent %q not found", id)
	}
	if a.Bootstrap {
		return fmt.Errorf("agent %q is a bootstrap agent and cannot be deleted", id)
	}

	a.SetTeam("")
	a.CloseAdapter()
	l.manager.Remove(id)

	slog.Info("Agent deleted", "agent", id)
	return nil
}

// resolveModel validates an explicit (provider, model) pair or selects one
// automatically when either is missing.
func (l *Lifecycle) resolveModel(providerName, model string) (string, string, error) {
	if providerName == "" || model == "" {
		candidate, ok := l.picker.Pick(nil)
		if !ok {
			return "", "", fmt.Errorf("no model available for tier %s", l.cfg.ModelTier)
		}
		return candidate.Provider, candidate.Model(), nil
	}

	base, suffix := llms.SplitModelID(model)
	if config.IsLocalBase(providerName) {
		if base != providerName {
			return "", "", fmt.Errorf("local model id %q must start with %q", model, providerName+"/")
		}
	} else if base != "" {
		return "", "", fmt.Errorf("remote model id %q must not carry a local prefix (%s)",
			model, strings.Join(config.LocalProviderBases, ", "))
	}

	if !l.registry.IsModelAvailable(providerName, suffix) {
		return "", "", fmt.Errorf("model %q is not available on provider %q", model, providerName)
	}
	return providerName, model, nil
}

// buildAdapter instantiates a provider adapter for the instance.
func (l *Lifecycle) buildAdapter(providerName string) (llms.Provider, error) {
	return BuildAdapter(l.cfg, l.keys, providerName)
}

// BuildAdapter instantiates a provider adapter for a configured provider
// instance. Failover uses it to attach replacements.
func BuildAdapter(cfg *config.Config, km *keys.Manager, providerName string) (llms.Provider, error) {
	pc, ok := cfg.ProviderByName(providerName)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", providerName)
	}

	var source llms.KeySource
	if !pc.Local {
		source = km.Source(providerName)
	}
	return llms.NewProvider(*pc, source)
}

// generateID builds an agent id from the creation timestamp and a random
// suffix, stable format across restarts.
func generateID(t protocol.AgentType) string {
	return fmt.Sprintf("%s-%s-%s", t, time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}
