package store

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/colony/pkg/protocol"
)

// MemoryStore keeps everything in process memory. Tests and ephemeral runs
// use it in place of SQLite.
type MemoryStore struct {
	mu           sync.Mutex
	interactions []Interaction
	configs      map[string]AgentConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]AgentConfig)}
}

func (s *MemoryStore) LogInteraction(_ context.Context, in Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	s.interactions = append(s.interactions, in)
	return nil
}

func (s *MemoryStore) LogIntervention(ctx context.Context, sessionID, agentID, content string) error {
	return s.LogInteraction(ctx, Interaction{
		SessionID: sessionID,
		AgentID:   agentID,
		Role:      protocol.RoleIntervention,
		Content:   content,
	})
}

func (s *MemoryStore) Interactions(_ context.Context, sessionID string, limit int) ([]Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Interaction
	for _, in := range s.interactions {
		if in.SessionID == sessionID {
			out = append(out, in)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) SaveAgentConfig(_ context.Context, ac AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[ac.ID] = ac
	return nil
}

func (s *MemoryStore) AgentConfigs(_ context.Context) ([]AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AgentConfig, 0, len(s.configs))
	for _, ac := range s.configs {
		out = append(out, ac)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
