// Package runtime wires the components into one explicit value constructed
// at startup: no singletons, no global mutable state. Everything the cycle
// engine touches hangs off the Runtime.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/cycle"
	"github.com/kadirpekel/colony/pkg/events"
	"github.com/kadirpekel/colony/pkg/failover"
	"github.com/kadirpekel/colony/pkg/keys"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/observability"
	"github.com/kadirpekel/colony/pkg/perf"
	"github.com/kadirpekel/colony/pkg/selection"
	"github.com/kadirpekel/colony/pkg/server"
	"github.com/kadirpekel/colony/pkg/store"
	"github.com/kadirpekel/colony/pkg/tools"
	"github.com/kadirpekel/colony/pkg/workflow"
)

// Runtime is the assembled orchestration core.
type Runtime struct {
	Config    *config.Config
	SessionID string

	Store     store.Store
	Keys      *keys.Manager
	Perf      *perf.Tracker
	Registry  *llms.ModelRegistry
	Tools     *tools.Executor
	Workflows *workflow.Manager
	Events    *events.Broadcaster
	Agents    *agent.Manager
	Lifecycle *agent.Lifecycle
	Failover  *failover.Handler
	Cycle     *cycle.Handler
	Metrics   *observability.Metrics

	server *server.Server

	// KeysFile, when set, is watched and hot-reloaded.
	KeysFile string
}

// New constructs and wires a runtime from configuration. Model discovery
// runs once here; bootstrap agents are created in Start.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	r := &Runtime{
		Config:    cfg,
		SessionID: uuid.NewString(),
		Store:     st,
		Keys:      keys.NewManager(cfg),
		Perf:      perf.NewTracker(),
		Registry:  llms.NewModelRegistry(cfg),
		Tools:     tools.NewExecutor(),
		Workflows: workflow.NewManager(cfg),
		Events:    events.NewBroadcaster(),
		Metrics:   observability.NewMetrics(nil),
	}

	if err := r.Registry.Refresh(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("model discovery failed: %w", err)
	}

	r.Agents = agent.NewManager(r.Events)
	picker := selection.NewPicker(cfg, r.Registry, r.Keys, r.Perf)
	r.Lifecycle = agent.NewLifecycle(cfg, r.Registry, r.Keys, picker, r.Workflows, r.Agents)
	r.Failover = failover.NewHandler(cfg, r.Keys, picker)

	if err := r.registerBuiltinTools(); err != nil {
		st.Close()
		return nil, err
	}

	r.Cycle = cycle.NewHandler(cfg, r.Workflows, r.Tools, r.Agents, r.Failover,
		r.Store, r.Perf, r.Metrics, r.SessionID)
	r.Agents.SetRunner(r.Cycle.Run)

	if cfg.Server.Enabled {
		r.server = server.New(cfg.Server, r.Agents, r.Registry)
	}

	return r, nil
}

func (r *Runtime) registerBuiltinTools() error {
	if err := r.Tools.RegisterToolInformation(); err != nil {
		return err
	}
	if err := r.Tools.RegisterFileSystem(); err != nil {
		return err
	}
	return r.Tools.RegisterSendMessage(r.Agents)
}

// Start creates the bootstrap agents, schedules their startup cycles, and
// runs the background services until the context is canceled.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.bootstrapAgents(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if r.server != nil {
		g.Go(func() error { return r.server.Start(ctx) })
	}
	if r.KeysFile != "" {
		if err := r.Keys.Watch(ctx, r.KeysFile); err != nil {
			slog.Warn("Keys file watch unavailable", "error", err)
		}
	}

	slog.Info("Runtime started",
		"session", r.SessionID, "agents", r.Agents.Count(), "tier", r.Config.ModelTier)

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// bootstrapAgents creates every configured agent. Model validation runs on
// every path, bootstrap included.
func (r *Runtime) bootstrapAgents(ctx context.Context) error {
	for _, bc := range r.Config.Agents {
		a, err := r.Lifecycle.CreateAgent(agent.CreateRequest{
			Config:    bc,
			Bootstrap: true,
		})
		if err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}

		provider, model, temperature := a.ActiveModel()
		if err := r.Store.SaveAgentConfig(ctx, store.AgentConfig{
			ID:          a.ID,
			Type:        a.Type,
			Persona:     a.Persona,
			Provider:    provider,
			Model:       model,
			Temperature: temperature,
			Team:        a.Team(),
		}); err != nil {
			slog.Warn("Agent config persistence failed", "agent", a.ID, "error", err)
		}

		r.Metrics.AgentsActive.Set(float64(r.Agents.Count()))
		r.Agents.ScheduleCycle(ctx, a, 0)
	}
	return nil
}

// Close releases the runtime's resources: agents' adapters and the store.
func (r *Runtime) Close() error {
	for _, a := range r.Agents.List() {
		a.CloseAdapter()
	}
	return r.Store.Close()
}
