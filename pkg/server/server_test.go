package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/llms"
	"github.com/kadirpekel/colony/pkg/protocol"
)

func testServer(t *testing.T) (*Server, *agent.Manager) {
	t.Helper()

	cfg := &config.Config{
		Providers: []config.ProviderConfig{{
			Name:    "openrouter",
			APIKeys: []config.KeyConfig{{APIKey: "or-key"}},
			Models:  []string{"alpha-70b", "beta-7b"},
		}},
	}
	cfg.SetDefaults()

	registry := llms.NewModelRegistry(cfg)
	require.NoError(t, registry.Refresh(context.Background()))

	manager := agent.NewManager(nil)
	return New(cfg.Server, manager, registry), manager
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s, manager := testServer(t)
	a := &agent.Agent{ID: "worker-1", Type: protocol.AgentTypeWorker}
	require.NoError(t, manager.Register(a))

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["agents"])
}

func TestAgentsList(t *testing.T) {
	s, manager := testServer(t)
	a := &agent.Agent{ID: "pm-1", Type: protocol.AgentTypePM}
	a.SetState("pm_manage")
	require.NoError(t, manager.Register(a))

	rec := get(t, s, "/agents")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshots []agent.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 1)
	assert.Equal(t, "pm-1", snapshots[0].ID)
	assert.Equal(t, "pm_manage", snapshots[0].State)
}

func TestAgentByID(t *testing.T) {
	s, manager := testServer(t)
	require.NoError(t, manager.Register(&agent.Agent{ID: "worker-1", Type: protocol.AgentTypeWorker}))

	rec := get(t, s, "/agents/worker-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot agent.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "worker-1", snapshot.ID)
}

func TestAgentNotFound(t *testing.T) {
	s, _ := testServer(t)

	rec := get(t, s, "/agents/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModelsCatalog(t *testing.T) {
	s, _ := testServer(t)

	rec := get(t, s, "/models")
	require.Equal(t, http.StatusOK, rec.Code)

	var models []struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Local    bool   `json:"local"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	require.Len(t, models, 2)
	for _, m := range models {
		assert.Equal(t, "openrouter", m.Provider)
		assert.False(t, m.Local)
	}
}
