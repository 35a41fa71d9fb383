// Package store persists interaction logs and agent configurations behind
// an opaque interface. The cycle engine only logs and queries; schema and
// backend are interchangeable (sqlite for real runs, memory for tests).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/colony/pkg/config"
	"github.com/kadirpekel/colony/pkg/protocol"
)

// Interaction is one logged history entry.
type Interaction struct {
	SessionID   string
	AgentID     string
	Role        protocol.Role
	Content     string
	ToolCalls   []protocol.ToolCall
	ToolResults []protocol.ToolResult
	CreatedAt   time.Time
}

// AgentConfig is the persisted shape of an agent's active configuration.
type AgentConfig struct {
	ID          string
	Type        protocol.AgentType
	Persona     string
	Provider    string
	Model       string
	Temperature float64
	Team        string
}

// Store is the log/query interface the core consumes.
type Store interface {
	// LogInteraction appends one history entry to the session log.
	LogInteraction(ctx context.Context, in Interaction) error

	// LogIntervention records a loop-detection intervention so operators
	// can audit why an agent was redirected.
	LogIntervention(ctx context.Context, sessionID, agentID, content string) error

	// Interactions returns the most recent entries for a session, oldest
	// first. limit <= 0 returns everything.
	Interactions(ctx context.Context, sessionID string, limit int) ([]Interaction, error)

	// SaveAgentConfig upserts an agent's active configuration.
	SaveAgentConfig(ctx context.Context, ac AgentConfig) error

	// AgentConfigs returns all persisted agent configurations.
	AgentConfigs(ctx context.Context) ([]AgentConfig, error)

	Close() error
}

// Open builds the store selected by the configuration.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
