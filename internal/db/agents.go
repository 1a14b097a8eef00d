package db

import (
	"context"
	"fmt"
	"time"
)

// Agent statuses.
const (
	AgentStatusPendingClaim = "pending_claim"
	AgentStatusActive       = "active"
	AgentStatusInactive     = "inactive"
)

// Agent represents a registered prediction agent.
type Agent struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Persona          string     `json:"persona"`
	Prompt           string     `json:"prompt"`
	Score            int64      `json:"score"`
	Status           string     `json:"status"`
	Secret           string     `json:"-"` // API key, never serialized
	ClaimToken       string     `json:"-"`
	VerificationCode string     `json:"-"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

const agentColumns = `id, name, persona, prompt, score, status, secret,
	claim_token, verification_code, claimed_at, created_at`

// InsertAgent inserts a new agent. A duplicate id yields ErrDuplicate.
func (db *DB) InsertAgent(ctx context.Context, a *Agent) error {
	query := `
		INSERT INTO agents (id, name, persona, prompt, score, status, secret,
			claim_token, verification_code, claimed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := db.pool.Exec(ctx, query,
		a.ID, a.Name, a.Persona, a.Prompt, a.Score, a.Status, a.Secret,
		a.ClaimToken, a.VerificationCode, a.ClaimedAt, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id.
func (db *DB) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return db.getAgentWhere(ctx, "id = $1", id)
}

// GetAgentBySecret retrieves an agent by exact API key match.
func (db *DB) GetAgentBySecret(ctx context.Context, secret string) (*Agent, error) {
	return db.getAgentWhere(ctx, "secret = $1", secret)
}

// GetAgentByClaimToken retrieves an agent by claim token.
func (db *DB) GetAgentByClaimToken(ctx context.Context, token string) (*Agent, error) {
	return db.getAgentWhere(ctx, "claim_token = $1", token)
}

func (db *DB) getAgentWhere(ctx context.Context, where string, arg interface{}) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE ` + where

	var a Agent
	err := db.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
		&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

// ClaimAgent activates a pending agent. Claiming an already-active agent is
// a no-op, so the claim link stays idempotent.
func (db *DB) ClaimAgent(ctx context.Context, token string, now time.Time) (*Agent, error) {
	agent, err := db.GetAgentByClaimToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if agent.Status == AgentStatusActive {
		return agent, nil
	}

	query := `UPDATE agents SET status = $1, claimed_at = $2 WHERE id = $3`
	if _, err := db.pool.Exec(ctx, query, AgentStatusActive, now, agent.ID); err != nil {
		return nil, fmt.Errorf("failed to claim agent: %w", err)
	}
	agent.Status = AgentStatusActive
	agent.ClaimedAt = &now
	return agent, nil
}

// CountActiveAgents counts active agents holding a non-empty secret. Rounds
// only start when at least one exists.
func (db *DB) CountActiveAgents(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM agents WHERE status = $1 AND secret <> ''`

	var count int
	if err := db.pool.QueryRow(ctx, query, AgentStatusActive).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active agents: %w", err)
	}
	return count, nil
}

// ListAgentsByScore returns all agents ordered by score descending.
func (db *DB) ListAgentsByScore(ctx context.Context) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY score DESC, id ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(
			&a.ID, &a.Name, &a.Persona, &a.Prompt, &a.Score, &a.Status, &a.Secret,
			&a.ClaimToken, &a.VerificationCode, &a.ClaimedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}
