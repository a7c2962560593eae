package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shishin/internal/model"
)

// CreateAgent registers an agent credential. The api_key_hash column stores
// an argon2id PHC string, never the raw key.
func (db *DB) CreateAgent(ctx context.Context, agentID, name string, role model.AgentRole, apiKeyHash string) (model.Agent, error) {
	a := model.Agent{
		ID:         uuid.New(),
		AgentID:    agentID,
		Name:       name,
		Role:       role,
		APIKeyHash: apiKeyHash,
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agents (id, agent_id, name, role, api_key_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		a.ID, a.AgentID, a.Name, a.Role, a.APIKeyHash,
	).Scan(&a.CreatedAt)
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: insert agent: %w", err)
	}
	return a, nil
}

// GetAgentByAgentID returns the agent with the given external agent_id,
// or ErrNotFound.
func (db *DB) GetAgentByAgentID(ctx context.Context, agentID string) (model.Agent, error) {
	var a model.Agent
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_id, name, role, api_key_hash, created_at
		 FROM agents WHERE agent_id = $1`, agentID,
	).Scan(&a.ID, &a.AgentID, &a.Name, &a.Role, &a.APIKeyHash, &a.CreatedAt)
	if err == pgx.ErrNoRows {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// CountAgents returns the number of registered agents. Startup uses it to
// decide whether to seed the bootstrap admin.
func (db *DB) CountAgents(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count agents: %w", err)
	}
	return n, nil
}
