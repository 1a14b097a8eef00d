package db

import (
	"context"
	"fmt"
	"time"
)

// MetaState is the singleton price snapshot the summary serves between rounds.
type MetaState struct {
	LastPrice    *float64   `json:"last_price,omitempty"`
	CurrentPrice *float64   `json:"current_price,omitempty"`
	LastDeltaPct *float64   `json:"last_delta_pct,omitempty"`
	LastPriceAt  *time.Time `json:"last_price_at,omitempty"`
}

// GetMeta reads the meta singleton. A missing row returns an empty state.
func (db *DB) GetMeta(ctx context.Context) (*MetaState, error) {
	query := `SELECT last_price, current_price, last_delta_pct, last_price_at FROM meta WHERE id = 1`

	var m MetaState
	err := db.pool.QueryRow(ctx, query).Scan(&m.LastPrice, &m.CurrentPrice, &m.LastDeltaPct, &m.LastPriceAt)
	if err != nil {
		if isNoRows(err) {
			return &MetaState{}, nil
		}
		return nil, fmt.Errorf("failed to get meta: %w", err)
	}
	return &m, nil
}

// UpsertMeta writes the meta singleton.
func (db *DB) UpsertMeta(ctx context.Context, m *MetaState) error {
	query := `
		INSERT INTO meta (id, last_price, current_price, last_delta_pct, last_price_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET last_price = EXCLUDED.last_price,
		    current_price = EXCLUDED.current_price,
		    last_delta_pct = EXCLUDED.last_delta_pct,
		    last_price_at = EXCLUDED.last_price_at
	`
	_, err := db.pool.Exec(ctx, query, m.LastPrice, m.CurrentPrice, m.LastDeltaPct, m.LastPriceAt)
	if err != nil {
		return fmt.Errorf("failed to upsert meta: %w", err)
	}
	return nil
}

// SaveFeedDiagnostics persists the latest diagnostics snapshot for a feed.
func (db *DB) SaveFeedDiagnostics(ctx context.Context, feed string, payload []byte, now time.Time) error {
	query := `
		INSERT INTO feed_diagnostics (feed, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (feed) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`
	if _, err := db.pool.Exec(ctx, query, feed, payload, now); err != nil {
		return fmt.Errorf("failed to save feed diagnostics: %w", err)
	}
	return nil
}
