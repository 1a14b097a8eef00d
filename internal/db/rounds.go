package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Round statuses.
const (
	RoundStatusBetting = "betting"
	RoundStatusLocked  = "locked"
	RoundStatusSettled = "settled"
)

// Round represents one fixed-duration prediction window.
type Round struct {
	RoundID     string    `json:"round_id"`
	Symbol      string    `json:"symbol"`
	DurationMin int       `json:"duration_min"`
	StartPrice  float64   `json:"start_price"`
	EndPrice    *float64  `json:"end_price,omitempty"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

const roundColumns = `round_id, symbol, duration_min, start_price, end_price, status, start_time, end_time`

// InsertRound inserts a round and trims retention in one batch. A duplicate
// round id (two processes racing on the same minute) yields ErrDuplicate.
func (db *DB) InsertRound(ctx context.Context, r *Round) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO rounds (round_id, symbol, duration_min, start_price, end_price, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.RoundID, r.Symbol, r.DurationMin, r.StartPrice, r.EndPrice, r.Status, r.StartTime, r.EndTime,
	)
	batch.Queue(`
		DELETE FROM rounds WHERE round_id NOT IN (
			SELECT round_id FROM rounds ORDER BY start_time DESC LIMIT $1
		)`,
		db.retention.RoundLimit,
	)

	if err := db.sendBatch(ctx, batch); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

// GetLiveRound returns the single non-settled round, or ErrNotFound.
func (db *DB) GetLiveRound(ctx context.Context) (*Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE status <> $1 ORDER BY start_time DESC LIMIT 1`
	return db.scanRound(db.pool.QueryRow(ctx, query, RoundStatusSettled))
}

// GetRound returns a round by id, or ErrNotFound.
func (db *DB) GetRound(ctx context.Context, roundID string) (*Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE round_id = $1`
	return db.scanRound(db.pool.QueryRow(ctx, query, roundID))
}

func (db *DB) scanRound(row pgx.Row) (*Round, error) {
	var r Round
	err := row.Scan(
		&r.RoundID, &r.Symbol, &r.DurationMin, &r.StartPrice, &r.EndPrice,
		&r.Status, &r.StartTime, &r.EndTime,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan round: %w", err)
	}
	return &r, nil
}

// UpdateRoundStatus moves a round to a new lifecycle status.
func (db *DB) UpdateRoundStatus(ctx context.Context, roundID, status string) error {
	query := `UPDATE rounds SET status = $1 WHERE round_id = $2`
	if _, err := db.pool.Exec(ctx, query, status, roundID); err != nil {
		return fmt.Errorf("failed to update round status: %w", err)
	}
	return nil
}

// DeleteRound removes an empty round and its judgments in one batch. Used
// when a round reaches lock time with zero submissions.
func (db *DB) DeleteRound(ctx context.Context, roundID string) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM judgments WHERE round_id = $1`, roundID)
	batch.Queue(`DELETE FROM rounds WHERE round_id = $1`, roundID)

	if err := db.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to delete round: %w", err)
	}
	return nil
}

// Settlement carries every write of one round settlement. ApplySettlement
// executes them as a single batch so partial settlement is never observable.
type Settlement struct {
	RoundID     string
	EndPrice    float64
	Verdict     *Verdict
	ScoreEvents []*ScoreEvent
	FlipCards   []*FlipCard
}

// ApplySettlement settles a round atomically: round row, verdict, score
// events, agent score updates, flip cards, then retention trims.
func (db *DB) ApplySettlement(ctx context.Context, s *Settlement) error {
	batch := &pgx.Batch{}

	batch.Queue(`UPDATE rounds SET status = $1, end_price = $2 WHERE round_id = $3`,
		RoundStatusSettled, s.EndPrice, s.RoundID)

	batch.Queue(`INSERT INTO verdicts (round_id, result, delta_pct, ts) VALUES ($1, $2, $3, $4)`,
		s.Verdict.RoundID, s.Verdict.Result, s.Verdict.DeltaPct, s.Verdict.Timestamp)

	for _, ev := range s.ScoreEvents {
		batch.Queue(`
			INSERT INTO score_events (round_id, agent_id, correct, confidence, score_change, reason, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.RoundID, ev.AgentID, ev.Correct, ev.Confidence, ev.ScoreChange, ev.Reason, ev.Timestamp,
		)
		batch.Queue(`UPDATE agents SET score = score + $1 WHERE id = $2`, ev.ScoreChange, ev.AgentID)
	}

	for _, card := range s.FlipCards {
		batch.Queue(`
			INSERT INTO flip_cards (round_id, agent_id, agent_name, result, title, body, direction, confidence, score_change, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			card.RoundID, card.AgentID, card.AgentName, card.Result, card.Title, card.Body,
			card.Direction, card.Confidence, card.ScoreChange, card.Timestamp,
		)
	}

	// Retention trims run last; the rows just written are always newest.
	batch.Queue(`DELETE FROM verdicts WHERE id NOT IN (SELECT id FROM verdicts ORDER BY ts DESC, id DESC LIMIT $1)`,
		db.retention.VerdictLimit)
	batch.Queue(`DELETE FROM score_events WHERE id NOT IN (SELECT id FROM score_events ORDER BY ts DESC, id DESC LIMIT $1)`,
		db.retention.ScoreEventLimit)
	batch.Queue(`DELETE FROM flip_cards WHERE id NOT IN (SELECT id FROM flip_cards ORDER BY ts DESC, id DESC LIMIT $1)`,
		db.retention.FeedLimit)

	if err := db.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to apply settlement: %w", err)
	}
	return nil
}

// sendBatch executes a batch and surfaces the first statement error.
func (db *DB) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
