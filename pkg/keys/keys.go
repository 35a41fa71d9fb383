// Package keys manages API key rotation and quarantine per provider. The
// cycle scheduler quarantines a key on auth or rate-limit failures; the
// provider adapters pull the currently active key through a KeySource.
package keys

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/colony/pkg/config"
)

// keyState tracks one key's quarantine window. A zero quarantinedUntil
// means active.
type keyState struct {
	key              config.KeyConfig
	quarantinedUntil time.Time
}

// Manager holds the per-provider key lists and their quarantine table.
// All mutations are serialized; local providers carry no keys and are
// never depleted.
type Manager struct {
	mu        sync.Mutex
	providers map[string][]*keyState
	local     map[string]bool
	now       func() time.Time
}

type Option func(*Manager)

// WithNowFunc overrides the clock. Tests use this to expire quarantines.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		providers: make(map[string][]*keyState),
		local:     make(map[string]bool),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, pc := range cfg.Providers {
		m.loadProvider(pc)
	}
	return m
}

func (m *Manager) loadProvider(pc config.ProviderConfig) {
	m.local[pc.Name] = pc.Local

	states := make([]*keyState, 0, len(pc.APIKeys))
	for _, k := range pc.APIKeys {
		states = append(states, &keyState{key: k})
	}
	m.providers[pc.Name] = states
}

// ActiveKeyConfig returns the first non-quarantined key for the provider,
// in configured order. Expired quarantines are cleared on the way.
func (m *Manager) ActiveKeyConfig(provider string) (config.KeyConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, ks := range m.providers[provider] {
		if !ks.quarantinedUntil.IsZero() && now.After(ks.quarantinedUntil) {
			ks.quarantinedUntil = time.Time{}
			slog.Info("API key quarantine expired", "provider", provider)
		}
		if ks.quarantinedUntil.IsZero() {
			return ks.key, true
		}
	}
	return config.KeyConfig{}, false
}

// Source returns a KeySource bound to one provider, for the adapter.
func (m *Manager) Source(provider string) func() (config.KeyConfig, bool) {
	return func() (config.KeyConfig, bool) {
		return m.ActiveKeyConfig(provider)
	}
}

// QuarantineKey benches the named key for the duration. Unknown keys are
// ignored.
func (m *Manager) QuarantineKey(provider, apiKey string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ks := range m.providers[provider] {
		if ks.key.APIKey == apiKey {
			ks.quarantinedUntil = m.now().Add(d)
			slog.Warn("API key quarantined",
				"provider", provider, "until", ks.quarantinedUntil.Format(time.RFC3339))
			return
		}
	}
}

// IsProviderDepleted reports whether every key of the provider is
// quarantined. Local providers need no keys and are never depleted.
func (m *Manager) IsProviderDepleted(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local[provider] {
		return false
	}

	states, ok := m.providers[provider]
	if !ok || len(states) == 0 {
		return true
	}

	now := m.now()
	for _, ks := range states {
		if ks.quarantinedUntil.IsZero() || now.After(ks.quarantinedUntil) {
			return false
		}
	}
	return true
}

// Reload replaces a provider's key list. Keys that survive the reload keep
// their quarantine state.
func (m *Manager) Reload(pc config.ProviderConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := make(map[string]time.Time)
	for _, ks := range m.providers[pc.Name] {
		old[ks.key.APIKey] = ks.quarantinedUntil
	}

	m.local[pc.Name] = pc.Local
	states := make([]*keyState, 0, len(pc.APIKeys))
	for _, k := range pc.APIKeys {
		states = append(states, &keyState{key: k, quarantinedUntil: old[k.APIKey]})
	}
	m.providers[pc.Name] = states

	slog.Info("Provider keys reloaded", "provider", pc.Name, "keys", len(states))
}
