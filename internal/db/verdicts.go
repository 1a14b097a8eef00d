package db

import (
	"context"
	"fmt"
	"time"
)

// Verdict is the settled outcome of a round.
type Verdict struct {
	RoundID   string    `json:"round_id"`
	Result    string    `json:"result"` // UP, DOWN or FLAT
	DeltaPct  float64   `json:"delta_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreEvent records one agent's score change from a settlement.
type ScoreEvent struct {
	RoundID     string    `json:"round_id"`
	AgentID     string    `json:"agent_id"`
	Correct     bool      `json:"correct"`
	Confidence  int       `json:"confidence"`
	ScoreChange int64     `json:"score_change"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// FlipCard is a feed entry describing one agent's result in a round.
type FlipCard struct {
	RoundID     string    `json:"round_id"`
	AgentID     string    `json:"agent_id"`
	AgentName   string    `json:"agent_name"`
	Result      string    `json:"result"` // WIN or FAIL
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Direction   string    `json:"direction"`
	Confidence  int       `json:"confidence"`
	ScoreChange int64     `json:"score_change"`
	Timestamp   time.Time `json:"timestamp"`
}

// GetLastVerdict returns the most recent verdict, or ErrNotFound.
func (db *DB) GetLastVerdict(ctx context.Context) (*Verdict, error) {
	query := `SELECT round_id, result, delta_pct, ts FROM verdicts ORDER BY ts DESC, id DESC LIMIT 1`

	var v Verdict
	err := db.pool.QueryRow(ctx, query).Scan(&v.RoundID, &v.Result, &v.DeltaPct, &v.Timestamp)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last verdict: %w", err)
	}
	return &v, nil
}

const flipCardColumns = `round_id, agent_id, agent_name, result, title, body, direction, confidence, score_change, ts`

// ListRecentFlipCards returns the newest feed cards, newest first.
func (db *DB) ListRecentFlipCards(ctx context.Context, limit int) ([]*FlipCard, error) {
	query := `SELECT ` + flipCardColumns + ` FROM flip_cards ORDER BY ts DESC, id DESC LIMIT $1`
	return db.listFlipCards(ctx, query, limit)
}

// ListFailHighConfCards returns recent losing cards with confidence at or
// above minConfidence. The summary highlight prefers these.
func (db *DB) ListFailHighConfCards(ctx context.Context, minConfidence, limit int) ([]*FlipCard, error) {
	query := `SELECT ` + flipCardColumns + ` FROM flip_cards
		WHERE result = 'FAIL' AND confidence >= $1
		ORDER BY ts DESC, id DESC LIMIT $2`
	return db.listFlipCards(ctx, query, minConfidence, limit)
}

func (db *DB) listFlipCards(ctx context.Context, query string, args ...interface{}) ([]*FlipCard, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flip cards: %w", err)
	}
	defer rows.Close()

	var cards []*FlipCard
	for rows.Next() {
		var c FlipCard
		if err := rows.Scan(
			&c.RoundID, &c.AgentID, &c.AgentName, &c.Result, &c.Title, &c.Body,
			&c.Direction, &c.Confidence, &c.ScoreChange, &c.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flip card: %w", err)
		}
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

// ListRecentScoreEventsByAgent returns an agent's newest score events.
func (db *DB) ListRecentScoreEventsByAgent(ctx context.Context, agentID string, limit int) ([]*ScoreEvent, error) {
	query := `SELECT round_id, agent_id, correct, confidence, score_change, reason, ts
		FROM score_events WHERE agent_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`

	rows, err := db.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list score events: %w", err)
	}
	defer rows.Close()

	var events []*ScoreEvent
	for rows.Next() {
		var ev ScoreEvent
		if err := rows.Scan(
			&ev.RoundID, &ev.AgentID, &ev.Correct, &ev.Confidence, &ev.ScoreChange, &ev.Reason, &ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan score event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
