// Package config defines the YAML configuration surface of the colony
// runtime: agent bootstrap entries, provider endpoints and API keys,
// per-state token budgets, retry policy, and the model tier.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/colony/pkg/protocol"
)

// ModelTier restricts which models lifecycle and failover may select.
type ModelTier string

const (
	TierLocal ModelTier = "LOCAL"
	TierFree  ModelTier = "FREE"
	TierAny   ModelTier = "any"
)

// LocalProviderBases are the provider bases whose model ids carry a
// "base/" prefix and which require no authentication.
var LocalProviderBases = []string{"ollama", "litellm"}

// Config is the root configuration.
type Config struct {
	// Agents are the bootstrap agents created at startup.
	Agents []AgentBootstrap `yaml:"agents"`

	// DefaultTemperature applies when a bootstrap entry omits one.
	DefaultTemperature float64 `yaml:"default_temperature,omitempty"`

	// MaxCycleRetries bounds retryable-error retries within one cycle.
	MaxCycleRetries int `yaml:"max_cycle_retries,omitempty"`

	// RetryDelay is slept between retryable attempts.
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`

	// ModelTier restricts model selection (LOCAL, FREE, any).
	ModelTier ModelTier `yaml:"model_tier,omitempty"`

	// KeyQuarantine is how long a depleted or rejected API key is benched.
	KeyQuarantine time.Duration `yaml:"key_quarantine,omitempty"`

	// ContextTokens caps the assembled prompt size; older history is
	// trimmed to fit. 0 disables trimming.
	ContextTokens int `yaml:"context_tokens,omitempty"`

	// Budgets overrides per (agent_type, state) max-token budgets,
	// keyed "type.state" (e.g. "admin.work", "pm.pm_manage").
	Budgets map[string]int `yaml:"budgets,omitempty"`

	// Providers configures provider instances.
	Providers []ProviderConfig `yaml:"providers,omitempty"`

	// SandboxRoot is the parent directory for per-agent sandboxes.
	SandboxRoot string `yaml:"sandbox_root,omitempty"`

	Store  StoreConfig  `yaml:"store,omitempty"`
	Server ServerConfig `yaml:"server,omitempty"`
}

// AgentBootstrap describes one agent created at startup.
type AgentBootstrap struct {
	ID      string             `yaml:"id,omitempty"`
	Type    protocol.AgentType `yaml:"type"`
	Persona string             `yaml:"persona,omitempty"`

	// Provider is the provider instance name; empty selects automatically.
	Provider string `yaml:"provider,omitempty"`

	// Model is the model id; local ids must carry the provider base prefix
	// ("ollama/...", "litellm/..."), remote ids must not.
	Model string `yaml:"model,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`

	// ProviderOptions is passed through to the provider adapter.
	ProviderOptions map[string]any `yaml:"provider_options,omitempty"`

	Team string `yaml:"team,omitempty"`
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	// Name identifies the instance ("ollama", "litellm", "openrouter", ...).
	Name string `yaml:"name"`

	// BaseURL is the API endpoint. Local instances are probed at startup.
	BaseURL string `yaml:"base_url,omitempty"`

	// Local marks a discovered local endpoint (no authentication).
	Local bool `yaml:"local,omitempty"`

	// APIKeys rotate on auth failures; supports ${VAR} expansion.
	APIKeys []KeyConfig `yaml:"api_keys,omitempty"`

	// Models is the static catalog for remote providers that cannot be
	// enumerated. Local instances are enumerated live.
	Models []string `yaml:"models,omitempty"`
}

// KeyConfig is one API key entry.
type KeyConfig struct {
	APIKey  string `yaml:"api_key"`
	Referer string `yaml:"referer,omitempty"`
}

// StoreConfig selects the interaction log backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// ServerConfig configures the status/metrics HTTP endpoint.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// Load reads, expands, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.DefaultTemperature == 0 {
		c.DefaultTemperature = 0.7
	}
	if c.MaxCycleRetries == 0 {
		c.MaxCycleRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ModelTier == "" {
		c.ModelTier = TierAny
	}
	if c.KeyQuarantine == 0 {
		c.KeyQuarantine = 5 * time.Minute
	}
	if c.ContextTokens == 0 {
		c.ContextTokens = 16384
	}
	if c.SandboxRoot == "" {
		c.SandboxRoot = "sandboxes"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "colony.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8420
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.ModelTier {
	case TierLocal, TierFree, TierAny:
	default:
		return fmt.Errorf("invalid model_tier %q (valid: LOCAL, FREE, any)", c.ModelTier)
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid store driver %q (valid: sqlite, memory)", c.Store.Driver)
	}

	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if !a.Type.Valid() {
			return fmt.Errorf("agents[%d]: invalid agent type %q (valid: admin, pm, worker)", i, a.Type)
		}
		if a.ID != "" {
			if seen[a.ID] {
				return fmt.Errorf("agents[%d]: duplicate agent id %q", i, a.ID)
			}
			seen[a.ID] = true
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			return fmt.Errorf("agents[%d]: temperature must be between 0 and 2", i)
		}
	}

	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if !p.Local && len(p.APIKeys) == 0 {
			return fmt.Errorf("providers[%d] (%s): remote providers require at least one api key", i, p.Name)
		}
	}

	return nil
}

// ProviderByName returns the provider config with the given name.
func (c *Config) ProviderByName(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// BudgetFor returns the configured token budget override for a
// (type, state) pair, or 0 when none is set.
func (c *Config) BudgetFor(agentType protocol.AgentType, state string) int {
	if c.Budgets == nil {
		return 0
	}
	return c.Budgets[fmt.Sprintf("%s.%s", agentType, state)]
}

// IsLocalBase reports whether the provider base is a local one.
func IsLocalBase(base string) bool {
	for _, b := range LocalProviderBases {
		if b == base {
			return true
		}
	}
	return false
}
