// Package server exposes the runtime's status surface over HTTP: health,
// agent snapshots, discovered models, and prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/colony/pkg/agent"
	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/llms"
)

// Server is the status/metrics HTTP endpoint.
type Server struct {
	http     *http.Server
	manager  *agent.Manager
	registry *llms.ModelRegistry
}

func New(cfg config.ServerConfig, manager *agent.Manager, registry *llms.ModelRegistry) *Server {
	s := &Server{manager: manager, registry: registry}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/agents", s.handleAgents)
	r.Get("/agents/{id}", s.handleAgent)
	r.Get("/models", s.handleModels)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("status server failed: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.manager.Count(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	agents := s.manager.List()
	snapshots := make([]agent.Snapshot, 0, len(agents))
	for _, a := range agents {
		snapshots = append(snapshots, a.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := s.manager.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a.Snapshot())
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Local    bool   `json:"local"`
	}

	var out []modelEntry
	for _, inst := range s.registry.Instances() {
		for _, m := range inst.Models {
			out = append(out, modelEntry{Provider: inst.Name, Model: m.Suffix, Local: inst.Local})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Response encoding failed", "error", err)
	}
}
