package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/predictarena/predictarena/internal/reason"
)

// Judgment is one agent's forecast for one round, including the denormalized
// reason rule and its evaluation columns.
type Judgment struct {
	RoundID    string    `json:"round_id"`
	AgentID    string    `json:"agent_id"`
	Direction  string    `json:"direction"`
	Confidence int       `json:"confidence"`
	Comment    string    `json:"comment"`
	Timestamp  time.Time `json:"timestamp"`
	Intervals  []string  `json:"intervals,omitempty"`

	AnalysisStartMs *int64 `json:"analysis_start_time,omitempty"`
	AnalysisEndMs   *int64 `json:"analysis_end_time,omitempty"`

	ReasonRule *reason.Rule `json:"reason_rule,omitempty"`

	ReasonTCloseMs      *int64     `json:"reason_t_close_ms,omitempty"`
	ReasonTargetCloseMs *int64     `json:"reason_target_close_ms,omitempty"`
	ReasonBaseClose     *float64   `json:"reason_base_close,omitempty"`
	ReasonPatternHolds  *int       `json:"reason_pattern_holds,omitempty"` // ternary 0/1/null
	ReasonTargetClose   *float64   `json:"reason_target_close,omitempty"`
	ReasonDeltaPct      *float64   `json:"reason_delta_pct,omitempty"`
	ReasonOutcome       *string    `json:"reason_outcome,omitempty"`
	ReasonCorrect       *int       `json:"reason_correct,omitempty"`
	ReasonEvaluatedAt   *time.Time `json:"reason_evaluated_at,omitempty"`
	ReasonEvalError     *string    `json:"reason_eval_error,omitempty"`
}

const judgmentColumns = `round_id, agent_id, direction, confidence, comment, ts, intervals,
	analysis_start_ms, analysis_end_ms,
	reason_timeframe, reason_pattern, reason_direction, reason_horizon_bars,
	reason_t_close_ms, reason_target_close_ms, reason_base_close, reason_pattern_holds,
	reason_target_close, reason_delta_pct, reason_outcome, reason_correct,
	reason_evaluated_at, reason_eval_error`

// ReplaceJudgment deletes any prior row for (round, agent) and inserts the
// new one in a single batch, keeping the pair unique. The reason rule is
// stored both as JSON and as decomposed columns; they are written together.
func (db *DB) ReplaceJudgment(ctx context.Context, j *Judgment) error {
	if j.ReasonRule == nil {
		return fmt.Errorf("judgment requires a reason rule")
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM judgments WHERE round_id = $1 AND agent_id = $2`, j.RoundID, j.AgentID)
	batch.Queue(`
		INSERT INTO judgments (round_id, agent_id, direction, confidence, comment, ts, intervals,
			analysis_start_ms, analysis_end_ms, reason_rule,
			reason_timeframe, reason_pattern, reason_direction, reason_horizon_bars,
			reason_t_close_ms, reason_target_close_ms, reason_base_close, reason_pattern_holds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		j.RoundID, j.AgentID, j.Direction, j.Confidence, j.Comment, j.Timestamp, j.Intervals,
		j.AnalysisStartMs, j.AnalysisEndMs, j.ReasonRule,
		j.ReasonRule.Timeframe, j.ReasonRule.Pattern, j.ReasonRule.Direction, j.ReasonRule.HorizonBars,
		j.ReasonTCloseMs, j.ReasonTargetCloseMs, j.ReasonBaseClose, j.ReasonPatternHolds,
	)
	batch.Queue(`
		DELETE FROM judgments WHERE (round_id, agent_id) NOT IN (
			SELECT round_id, agent_id FROM judgments ORDER BY ts DESC LIMIT $1
		)`,
		db.retention.JudgmentLimit,
	)

	if err := db.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to replace judgment: %w", err)
	}
	return nil
}

// ListJudgmentsByRound returns all judgments of a round, newest first.
func (db *DB) ListJudgmentsByRound(ctx context.Context, roundID string) ([]*Judgment, error) {
	query := `SELECT ` + judgmentColumns + ` FROM judgments WHERE round_id = $1 ORDER BY ts DESC`

	rows, err := db.pool.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list judgments: %w", err)
	}
	defer rows.Close()

	var judgments []*Judgment
	for rows.Next() {
		j, err := scanJudgment(rows)
		if err != nil {
			return nil, err
		}
		judgments = append(judgments, j)
	}
	return judgments, rows.Err()
}

// CountJudgmentsByRound counts submissions for a round.
func (db *DB) CountJudgmentsByRound(ctx context.Context, roundID string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM judgments WHERE round_id = $1`, roundID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count judgments: %w", err)
	}
	return count, nil
}

func scanJudgment(rows pgx.Rows) (*Judgment, error) {
	var j Judgment
	var tf, pat, dir *string
	var horizon *int
	err := rows.Scan(
		&j.RoundID, &j.AgentID, &j.Direction, &j.Confidence, &j.Comment, &j.Timestamp, &j.Intervals,
		&j.AnalysisStartMs, &j.AnalysisEndMs,
		&tf, &pat, &dir, &horizon,
		&j.ReasonTCloseMs, &j.ReasonTargetCloseMs, &j.ReasonBaseClose, &j.ReasonPatternHolds,
		&j.ReasonTargetClose, &j.ReasonDeltaPct, &j.ReasonOutcome, &j.ReasonCorrect,
		&j.ReasonEvaluatedAt, &j.ReasonEvalError,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan judgment: %w", err)
	}
	if tf != nil && pat != nil && dir != nil && horizon != nil {
		j.ReasonRule = &reason.Rule{Timeframe: *tf, Pattern: *pat, Direction: *dir, HorizonBars: *horizon}
	}
	return &j, nil
}

// PendingReasonJudgments implements reason.SweepStore: rows whose horizon has
// been reached but whose outcome is still null, oldest target first.
func (db *DB) PendingReasonJudgments(ctx context.Context, nowMs int64, limit int) ([]reason.PendingJudgment, error) {
	query := `
		SELECT round_id, agent_id, reason_timeframe, reason_pattern, reason_direction,
		       reason_target_close_ms, reason_base_close
		FROM judgments
		WHERE reason_target_close_ms IS NOT NULL
		  AND reason_target_close_ms <= $1
		  AND reason_correct IS NULL
		ORDER BY reason_target_close_ms ASC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending judgments: %w", err)
	}
	defer rows.Close()

	var pending []reason.PendingJudgment
	for rows.Next() {
		var p reason.PendingJudgment
		if err := rows.Scan(
			&p.RoundID, &p.AgentID, &p.Timeframe, &p.Pattern, &p.Direction,
			&p.TargetCloseMs, &p.BaseClose,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending judgment: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// ApplyReasonOutcome stores a horizon evaluation result and clears any prior
// evaluation error.
func (db *DB) ApplyReasonOutcome(ctx context.Context, roundID, agentID string, upd reason.OutcomeUpdate) error {
	correct := 0
	if upd.Correct {
		correct = 1
	}

	query := `
		UPDATE judgments
		SET reason_target_close = $1, reason_delta_pct = $2, reason_outcome = $3,
		    reason_correct = $4, reason_evaluated_at = $5, reason_eval_error = NULL
		WHERE round_id = $6 AND agent_id = $7
	`
	_, err := db.pool.Exec(ctx, query,
		upd.TargetClose, upd.DeltaPct, upd.Outcome, correct, upd.EvaluatedAt, roundID, agentID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply reason outcome: %w", err)
	}
	return nil
}

// SetReasonEvalError records an evaluation failure message on the row.
func (db *DB) SetReasonEvalError(ctx context.Context, roundID, agentID, msg string) error {
	query := `UPDATE judgments SET reason_eval_error = $1 WHERE round_id = $2 AND agent_id = $3`
	if _, err := db.pool.Exec(ctx, query, msg, roundID, agentID); err != nil {
		return fmt.Errorf("failed to set reason eval error: %w", err)
	}
	return nil
}
