package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/colony/pkg/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	tool_results TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id, id);

CREATE TABLE IF NOT EXISTS agent_configs (
	agent_id TEXT PRIMARY KEY,
	agent_type TEXT NOT NULL,
	persona TEXT,
	provider TEXT,
	model TEXT,
	temperature REAL,
	team TEXT,
	updated_at TIMESTAMP NOT NULL
);
`

// SQLiteStore persists logs in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "colony.db"
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// SQLite writes are single-connection; serialize them here instead of
	// bubbling SQLITE_BUSY up into the cycle engine.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LogInteraction(ctx context.Context, in Interaction) error {
	calls, err := marshalOrNil(in.ToolCalls)
	if err != nil {
		return err
	}
	results, err := marshalOrNil(in.ToolResults)
	if err != nil {
		return err
	}

	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (session_id, agent_id, role, content, tool_calls, tool_results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.SessionID, in.AgentID, string(in.Role), in.Content, calls, results, created)
	if err != nil {
		return fmt.Errorf("failed to log interaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogIntervention(ctx context.Context, sessionID, agentID, content string) error {
	return s.LogInteraction(ctx, Interaction{
		SessionID: sessionID,
		AgentID:   agentID,
		Role:      protocol.RoleIntervention,
		Content:   content,
	})
}

func (s *SQLiteStore) Interactions(ctx context.Context, sessionID string, limit int) ([]Interaction, error) {
	query := `SELECT session_id, agent_id, role, content, tool_calls, tool_results, created_at
		  FROM interactions WHERE session_id = ?
		  ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var role string
		var calls, results sql.NullString
		if err := rows.Scan(&in.SessionID, &in.AgentID, &role, &in.Content, &calls, &results, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		in.Role = protocol.Role(role)
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &in.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		if results.Valid && results.String != "" {
			if err := json.Unmarshal([]byte(results.String), &in.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to decode tool results: %w", err)
			}
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into oldest-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) SaveAgentConfig(ctx context.Context, ac AgentConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_configs (agent_id, agent_type, persona, provider, model, temperature, team, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			persona = excluded.persona,
			provider = excluded.provider,
			model = excluded.model,
			temperature = excluded.temperature,
			team = excluded.team,
			updated_at = excluded.updated_at`,
		ac.ID, string(ac.Type), ac.Persona, ac.Provider, ac.Model, ac.Temperature, ac.Team, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save agent config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AgentConfigs(ctx context.Context) ([]AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, agent_type, persona, provider, model, temperature, team FROM agent_configs ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent configs: %w", err)
	}
	defer rows.Close()

	var out []AgentConfig
	for rows.Next() {
		var ac AgentConfig
		var agentType string
		if err := rows.Scan(&ac.ID, &agentType, &ac.Persona, &ac.Provider, &ac.Model, &ac.Temperature, &ac.Team); err != nil {
			return nil, fmt.Errorf("failed to scan agent config: %w", err)
		}
		ac.Type = protocol.AgentType(agentType)
		out = append(out, ac)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case []protocol.ToolCall:
		if len(t) == 0 {
			return nil, nil
		}
	case []protocol.ToolResult:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode field: %w", err)
	}
	return string(data), nil
}
