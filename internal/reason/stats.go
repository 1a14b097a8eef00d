package reason

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Stats query bounds.
const (
	DefaultStatsLimit  = 5000
	MaxStatsLimit      = 20000
	DefaultStatsWindow = 30 * 24 * time.Hour
)

// StatsQuery selects evaluated judgments for aggregation. Zero values are
// filled by normalizeStatsQuery: until defaults to now, since to until minus
// 30 days, limit to 5000 (capped at 20000).
type StatsQuery struct {
	AgentID string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// StatsRow is one evaluated judgment as the store returns it.
type StatsRow struct {
	Timeframe    string
	Pattern      string
	PatternHolds *int
	Correct      int
	DeltaPct     float64
}

// StatsStore fetches evaluated reason rows within a window.
type StatsStore interface {
	EvaluatedReasonRows(ctx context.Context, q StatsQuery) ([]StatsRow, error)
}

// StatsBucket aggregates one breakdown key.
type StatsBucket struct {
	Total    int      `json:"total"`
	Correct  int      `json:"correct"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}

// Stats is the aggregate accuracy report.
type Stats struct {
	Since          time.Time               `json:"since"`
	Until          time.Time               `json:"until"`
	Limit          int                     `json:"limit"`
	TotalEvaluated int                     `json:"total_evaluated"`
	TotalValid     int                     `json:"total_valid"`
	AccuracyAll    *float64                `json:"accuracy_all,omitempty"`
	AccuracyValid  *float64                `json:"accuracy_valid,omitempty"`
	AvgDeltaPct    *float64                `json:"avg_delta_pct,omitempty"`
	AvgAbsDeltaPct *float64                `json:"avg_abs_delta_pct,omitempty"`
	ByTimeframe    map[string]*StatsBucket `json:"by_timeframe"`
	ByPattern      map[string]*StatsBucket `json:"by_pattern"`
}

func normalizeStatsQuery(q StatsQuery, now time.Time) StatsQuery {
	if q.Until.IsZero() {
		q.Until = now
	}
	if q.Since.IsZero() {
		q.Since = q.Until.Add(-DefaultStatsWindow)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultStatsLimit
	}
	if q.Limit > MaxStatsLimit {
		q.Limit = MaxStatsLimit
	}
	return q
}

// ComputeStats aggregates evaluated judgments from the store: totals,
// accuracy over all rows and over rows whose pattern held at submit, mean
// delta, and breakdowns by timeframe and pattern.
func ComputeStats(ctx context.Context, store StatsStore, q StatsQuery, now time.Time) (*Stats, error) {
	q = normalizeStatsQuery(q, now)

	rows, err := store.EvaluatedReasonRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reason rows: %w", err)
	}

	stats := &Stats{
		Since:       q.Since,
		Until:       q.Until,
		Limit:       q.Limit,
		ByTimeframe: make(map[string]*StatsBucket),
		ByPattern:   make(map[string]*StatsBucket),
	}

	var correctAll, correctValid int
	var sumDelta, sumAbsDelta float64
	for _, row := range rows {
		stats.TotalEvaluated++
		correctAll += row.Correct
		sumDelta += row.DeltaPct
		sumAbsDelta += math.Abs(row.DeltaPct)

		if row.PatternHolds != nil && *row.PatternHolds == 1 {
			stats.TotalValid++
			correctValid += row.Correct
		}

		bump(stats.ByTimeframe, row.Timeframe, row.Correct)
		bump(stats.ByPattern, row.Pattern, row.Correct)
	}

	if stats.TotalEvaluated > 0 {
		n := float64(stats.TotalEvaluated)
		stats.AccuracyAll = ptr(float64(correctAll) / n)
		stats.AvgDeltaPct = ptr(sumDelta / n)
		stats.AvgAbsDeltaPct = ptr(sumAbsDelta / n)
	}
	if stats.TotalValid > 0 {
		stats.AccuracyValid = ptr(float64(correctValid) / float64(stats.TotalValid))
	}
	for _, b := range stats.ByTimeframe {
		finishBucket(b)
	}
	for _, b := range stats.ByPattern {
		finishBucket(b)
	}

	return stats, nil
}

func bump(m map[string]*StatsBucket, key string, correct int) {
	b := m[key]
	if b == nil {
		b = &StatsBucket{}
		m[key] = b
	}
	b.Total++
	b.Correct += correct
}

func finishBucket(b *StatsBucket) {
	if b.Total > 0 {
		b.Accuracy = ptr(float64(b.Correct) / float64(b.Total))
	}
}

func ptr(f float64) *float64 { return &f }
