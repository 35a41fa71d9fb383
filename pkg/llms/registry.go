package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/colony/pkg/config"
)

// ModelInfo is one model offered by a provider instance.
type ModelInfo struct {
	Suffix   string
	Metadata map[string]any
}

// ProviderInstance is one reachable provider and its model list.
type ProviderInstance struct {
	Name   string
	URL    string
	Local  bool
	Models []ModelInfo
}

// ModelKey identifies a model as (provider instance, model suffix).
type ModelKey struct {
	Provider string
	Suffix   string
}

// Canonical returns the restart-stable model id: "base/suffix" for local
// providers, bare suffix for remote ones.
func (k ModelKey) Canonical() string {
	if config.IsLocalBase(k.Provider) {
		return k.Provider + "/" + k.Suffix
	}
	return k.Suffix
}

// SplitModelID splits a model id into (base, suffix). Remote ids have no
// base prefix and come back with an empty base.
func SplitModelID(model string) (string, string) {
	for _, base := range config.LocalProviderBases {
		if strings.HasPrefix(model, base+"/") {
			return base, strings.TrimPrefix(model, base+"/")
		}
	}
	return "", model
}

// IsLocalModelID reports whether the model id carries a local base prefix.
func IsLocalModelID(model string) bool {
	base, _ := SplitModelID(model)
	return base != ""
}

// ModelRegistry discovers reachable provider instances and their models.
// It is read-mostly; Refresh is explicit.
type ModelRegistry struct {
	mu        sync.RWMutex
	cfg       *config.Config
	client    *http.Client
	instances map[string]*ProviderInstance
}

func NewModelRegistry(cfg *config.Config) *ModelRegistry {
	return &ModelRegistry{
		cfg:       cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		instances: make(map[string]*ProviderInstance),
	}
}

// Refresh re-discovers providers. Local instances are probed live and
// dropped when unreachable; remote instances use their static catalog.
func (r *ModelRegistry) Refresh(ctx context.Context) error {
	discovered := make(map[string]*ProviderInstance)

	for _, pc := range r.cfg.Providers {
		if pc.Local {
			models, err := r.probeLocal(ctx, pc)
			if err != nil {
				slog.Warn("Local provider unreachable, skipping", "provider", pc.Name, "error", err)
				continue
			}
			discovered[pc.Name] = &ProviderInstance{
				Name:   pc.Name,
				URL:    pc.BaseURL,
				Local:  true,
				Models: models,
			}
			continue
		}

		models := make([]ModelInfo, 0, len(pc.Models))
		for _, m := range pc.Models {
			models = append(models, ModelInfo{Suffix: m})
		}
		discovered[pc.Name] = &ProviderInstance{
			Name:   pc.Name,
			URL:    pc.BaseURL,
			Models: models,
		}
	}

	r.mu.Lock()
	r.instances = discovered
	r.mu.Unlock()

	slog.Info("Model registry refreshed", "providers", len(discovered))
	return nil
}

// probeLocal enumerates models from a local endpoint. Ollama exposes
// /api/tags; anything else is assumed OpenAI-compatible (/v1/models).
func (r *ModelRegistry) probeLocal(ctx context.Context, pc config.ProviderConfig) ([]ModelInfo, error) {
	if pc.Name == "ollama" {
		return r.probeOllama(ctx, pc.BaseURL)
	}
	return r.probeOpenAICompatible(ctx, pc.BaseURL)
}

func (r *ModelRegistry) probeOllama(ctx context.Context, baseURL string) ([]ModelInfo, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s/api/tags", resp.StatusCode, baseURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var tags struct {
		Models []struct {
			Name    string `json:"name"`
			Details struct {
				ParameterSize string `json:"parameter_size"`
				Family        string `json:"family"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			Suffix: m.Name,
			Metadata: map[string]any{
				"parameter_size": m.Details.ParameterSize,
				"family":         m.Details.Family,
			},
		})
	}
	return models, nil
}

func (r *ModelRegistry) probeOpenAICompatible(ctx context.Context, baseURL string) ([]ModelInfo, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s/v1/models", resp.StatusCode, baseURL)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	models := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, ModelInfo{Suffix: m.ID})
	}
	return models, nil
}

// IsModelAvailable reports whether the provider instance is reachable and
// offers the model suffix.
func (r *ModelRegistry) IsModelAvailable(providerInstance, suffix string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[providerInstance]
	if !ok {
		return false
	}
	for _, m := range inst.Models {
		if m.Suffix == suffix {
			return true
		}
	}
	return false
}

// ReachableProviderURL returns the base URL of a reachable provider.
func (r *ModelRegistry) ReachableProviderURL(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[name]
	if !ok {
		return "", false
	}
	return inst.URL, true
}

// Instances returns a snapshot of the discovered provider instances.
func (r *ModelRegistry) Instances() []*ProviderInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ProviderInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Instance returns one provider instance by name.
func (r *ModelRegistry) Instance(name string) (*ProviderInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[name]
	return inst, ok
}

// setInstances is a test hook.
func (r *ModelRegistry) setInstances(instances map[string]*ProviderInstance) {
	r.mu.Lock()
	r.instances = instances
	r.mu.Unlock()
}
