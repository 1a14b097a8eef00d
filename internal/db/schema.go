package db

import (
	"context"
	"fmt"
)

// schema is the full DDL. Statements are idempotent so EnsureSchema can run
// on every startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		persona TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		score BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending_claim',
		secret TEXT NOT NULL UNIQUE,
		claim_token TEXT NOT NULL DEFAULT '',
		verification_code TEXT NOT NULL DEFAULT '',
		claimed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS rounds (
		round_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		duration_min INT NOT NULL,
		start_price DOUBLE PRECISION NOT NULL,
		end_price DOUBLE PRECISION,
		status TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(status)`,
	`CREATE TABLE IF NOT EXISTS judgments (
		round_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence INT NOT NULL,
		comment TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		intervals TEXT[] NOT NULL DEFAULT '{}',
		analysis_start_ms BIGINT,
		analysis_end_ms BIGINT,
		reason_rule JSONB,
		reason_timeframe TEXT,
		reason_pattern TEXT,
		reason_direction TEXT,
		reason_horizon_bars INT,
		reason_t_close_ms BIGINT,
		reason_target_close_ms BIGINT,
		reason_base_close DOUBLE PRECISION,
		reason_pattern_holds INT,
		reason_target_close DOUBLE PRECISION,
		reason_delta_pct DOUBLE PRECISION,
		reason_outcome TEXT,
		reason_correct INT,
		reason_evaluated_at TIMESTAMPTZ,
		reason_eval_error TEXT,
		PRIMARY KEY (round_id, agent_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_judgments_round ON judgments(round_id)`,
	`CREATE INDEX IF NOT EXISTS idx_judgments_agent ON judgments(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_judgments_target_close ON judgments(reason_target_close_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_judgments_reason_correct ON judgments(reason_correct)`,
	`CREATE TABLE IF NOT EXISTS verdicts (
		id BIGSERIAL PRIMARY KEY,
		round_id TEXT NOT NULL,
		result TEXT NOT NULL,
		delta_pct DOUBLE PRECISION NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verdicts_round ON verdicts(round_id)`,
	`CREATE TABLE IF NOT EXISTS score_events (
		id BIGSERIAL PRIMARY KEY,
		round_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		correct BOOLEAN NOT NULL,
		confidence INT NOT NULL,
		score_change BIGINT NOT NULL,
		reason TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_score_events_agent_round ON score_events(agent_id, round_id)`,
	`CREATE TABLE IF NOT EXISTS flip_cards (
		id BIGSERIAL PRIMARY KEY,
		round_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		result TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence INT NOT NULL,
		score_change BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_flip_cards_round_ts ON flip_cards(round_id, ts)`,
	`CREATE TABLE IF NOT EXISTS meta (
		id INT PRIMARY KEY,
		last_price DOUBLE PRECISION,
		current_price DOUBLE PRECISION,
		last_delta_pct DOUBLE PRECISION,
		last_price_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS feed_diagnostics (
		feed TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
