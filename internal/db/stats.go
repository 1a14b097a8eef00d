package db

import (
	"context"
	"fmt"

	"github.com/predictarena/predictarena/internal/reason"
)

// EvaluatedReasonRows implements reason.StatsStore: evaluated judgments whose
// evaluation time falls in the query window, newest first, capped at the
// query limit. An empty AgentID means all agents.
func (db *DB) EvaluatedReasonRows(ctx context.Context, q reason.StatsQuery) ([]reason.StatsRow, error) {
	query := `
		SELECT reason_timeframe, reason_pattern, reason_pattern_holds, reason_correct, reason_delta_pct
		FROM judgments
		WHERE reason_correct IS NOT NULL
		  AND reason_evaluated_at >= $1
		  AND reason_evaluated_at <= $2
		  AND ($3 = '' OR agent_id = $3)
		ORDER BY reason_evaluated_at DESC
		LIMIT $4
	`

	rows, err := db.pool.Query(ctx, query, q.Since, q.Until, q.AgentID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluated reason rows: %w", err)
	}
	defer rows.Close()

	var out []reason.StatsRow
	for rows.Next() {
		var r reason.StatsRow
		var deltaPct *float64
		if err := rows.Scan(&r.Timeframe, &r.Pattern, &r.PatternHolds, &r.Correct, &deltaPct); err != nil {
			return nil, fmt.Errorf("failed to scan reason row: %w", err)
		}
		if deltaPct != nil {
			r.DeltaPct = *deltaPct
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
