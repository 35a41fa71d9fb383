package agent

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/keys"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/perf"
	"github.com/kadirpekel/colony/pkg/protocol"
	"github.com/kadirpekel/colony/pkg/selection"
	"github.com/kadirpekel/colony/pkg/workflow"
)

func testLifecycle(t *testing.T) (*Lifecycle, *Manager, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		SandboxRoot: t.TempDir(),
		Providers: []config.ProviderConfig{
			{
				Name:    "openrouter",
				APIKeys: []config.KeyConfig{{APIKey: "or-key"}},
				Models:  []string{"alpha-70b", "beta-7b"},
			},
		},
	}
	cfg.SetDefaults()

	registry := llms.NewModelRegistry(cfg)
	require.NoError(t, registry.Refresh(context.Background()))

	km := keys.NewManager(cfg)
	picker := selection.NewPicker(cfg, registry, km, perf.NewTracker())
	manager := NewManager(nil)
	return NewLifecycle(cfg, registry, km, picker, workflow.NewManager(cfg), manager), manager, cfg
}

func TestCreateAgentExplicitModel(t *testing.T) {
	lc, manager, cfg := testLifecycle(t)

	a, err := lc.CreateAgent(CreateRequest{
		ID: "worker-1",
		Config: config.AgentBootstrap{
			Type:     protocol.AgentTypeWorker,
			Provider: "openrouter",
			Model:    "beta-7b",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "worker-1", a.ID)
	assert.Equal(t, "worker_startup", a.State())
	assert.Equal(t, protocol.StatusIdle, a.Status())

	provider, model, temperature := a.ActiveModel()
	assert.Equal(t, "openrouter", provider)
	assert.Equal(t, "beta-7b", model)
	assert.Equal(t, cfg.DefaultTemperature, temperature)
	assert.NotNil(t, a.Adapter())

	info, err := os.Stat(filepath.Join(cfg.SandboxRoot, "worker-1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(cfg.SandboxRoot, "worker-1"), a.SandboxPath())

	registered, ok := manager.Get("worker-1")
	require.True(t, ok)
	assert.Same(t, a, registered)
}

func TestCreateAgentAutoSelectsModel(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	a, err := lc.CreateAgent(CreateRequest{
		Config: config.AgentBootstrap{Type: protocol.AgentTypePM},
	})
	require.NoError(t, err)

	_, model, _ := a.ActiveModel()
	assert.Equal(t, "alpha-70b", model, "the biggest unscored model wins")
	assert.Equal(t, "pm_startup", a.State())
}

func TestCreateAgentGeneratedID(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	a, err := lc.CreateAgent(CreateRequest{
		Config: config.AgentBootstrap{Type: protocol.AgentTypeWorker},
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^worker-\d{8}-\d{6}-[0-9a-f]{8}$`), a.ID)
}

func TestCreateAgentInvalidType(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	_, err := lc.CreateAgent(CreateRequest{
		Config: config.AgentBootstrap{Type: protocol.AgentType("overseer")},
	})
	assert.ErrorContains(t, err, "invalid agent type")
}

func TestCreateAgentUnknownModel(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	_, err := lc.CreateAgent(CreateRequest{
		Config: config.AgentBootstrap{
			Type:     protocol.AgentTypeWorker,
			Provider: "openrouter",
			Model:    "nonexistent-model",
		},
	})
	assert.ErrorContains(t, err, "not available")
}

func TestCreateAgentLocalPrefixRules(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	// Remote ids must be bare suffixes.
	_, err := lc.CreateAgent(CreateRequest{
		Config: config.AgentBootstrap{
			Type:     protocol.AgentTypeWorker,
			Provider: "openrouter",
			Model:    "ollama/alpha-70b",
		},
	})
	assert.ErrorContains(t, err, "must not carry a local prefix")
}

func TestCreateAgentRejectsUnknownProviderOptions(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	_, err := lc.CreateAgent(CreateRequest{
		Config: config.AgentBootstrap{
			Type:            protocol.AgentTypeWorker,
			Provider:        "openrouter",
			Model:           "beta-7b",
			ProviderOptions: map[string]any{"temprature": 0.5},
		},
	})
	assert.Error(t, err)
}

func TestCreateAgentDuplicateID(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	req := CreateRequest{
		ID:     "worker-1",
		Config: config.AgentBootstrap{Type: protocol.AgentTypeWorker},
	}
	_, err := lc.CreateAgent(req)
	require.NoError(t, err)

	_, err = lc.CreateAgent(req)
	assert.ErrorContains(t, err, "already exists")
}

func TestDeleteAgent(t *testing.T) {
	lc, manager, _ := testLifecycle(t)

	_, err := lc.CreateAgent(CreateRequest{
		ID:     "worker-1",
		Config: config.AgentBootstrap{Type: protocol.AgentTypeWorker},
	})
	require.NoError(t, err)

	require.NoError(t, lc.DeleteAgent("worker-1"))
	_, ok := manager.Get("worker-1")
	assert.False(t, ok)

	assert.ErrorContains(t, lc.DeleteAgent("worker-1"), "not found")
}

func TestDeleteAgentBootstrapProtected(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	_, err := lc.CreateAgent(CreateRequest{
		ID:        "admin-main",
		Config:    config.AgentBootstrap{Type: protocol.AgentTypeAdmin},
		Bootstrap: true,
	})
	require.NoError(t, err)

	assert.ErrorContains(t, lc.DeleteAgent("admin-main"), "cannot be deleted")
}

func TestCreateAgentTeamAssignment(t *testing.T) {
	lc, _, _ := testLifecycle(t)

	a, err := lc.CreateAgent(CreateRequest{
		ID:     "worker-1",
		Config: config.AgentBootstrap{Type: protocol.AgentTypeWorker},
		Team:   "team-alpha",
	})
	require.NoError(t, err)
	assert.Equal(t, "team-alpha", a.Team())
}
