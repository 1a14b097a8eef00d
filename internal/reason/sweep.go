package reason

import (
	"context"
	"fmt"
	"time"

	"github.com/predictarena/predictarena/internal/metrics"
)

// DefaultSweepRows bounds one pending-evaluation sweep.
const DefaultSweepRows = 50

// PendingJudgment is a judgment row whose reason rule has reached its horizon
// but has not been evaluated yet.
type PendingJudgment struct {
	RoundID       string
	AgentID       string
	Timeframe     string
	Pattern       string
	Direction     string
	TargetCloseMs int64
	BaseClose     float64
}

// OutcomeUpdate carries the horizon evaluation result for one judgment.
type OutcomeUpdate struct {
	TargetClose float64
	DeltaPct    float64
	Outcome     string
	Correct     bool
	EvaluatedAt time.Time
}

// SweepStore is the judgment persistence the sweeper needs.
type SweepStore interface {
	// PendingReasonJudgments returns rows with target_close_ms <= nowMs and
	// no outcome yet, ordered by target close ascending, capped at limit.
	PendingReasonJudgments(ctx context.Context, nowMs int64, limit int) ([]PendingJudgment, error)
	// ApplyReasonOutcome stores the outcome and clears any prior eval error.
	ApplyReasonOutcome(ctx context.Context, roundID, agentID string, upd OutcomeUpdate) error
	// SetReasonEvalError records an evaluation failure for later inspection.
	SetReasonEvalError(ctx context.Context, roundID, agentID, msg string) error
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Scanned int
	Updated int
	Skipped int
	Errored int
}

// Sweeper evaluates horizon-reached reason rules in bounded batches.
type Sweeper struct {
	service *Service
	store   SweepStore
	maxRows int
}

// NewSweeper creates a pending-evaluation sweeper. maxRows <= 0 uses the
// default bound.
func NewSweeper(service *Service, store SweepStore, maxRows int) *Sweeper {
	if maxRows <= 0 {
		maxRows = DefaultSweepRows
	}
	return &Sweeper{service: service, store: store, maxRows: maxRows}
}

// Run scans pending judgments and evaluates each one. A missing target candle
// is skipped and retried next sweep; any evaluation error is recorded on the
// row and never aborts the sweep.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport

	pending, err := s.store.PendingReasonJudgments(ctx, now.UnixMilli(), s.maxRows)
	if err != nil {
		return report, fmt.Errorf("scan pending judgments: %w", err)
	}
	report.Scanned = len(pending)

	for _, row := range pending {
		if err := s.evaluateOne(ctx, now, row, &report); err != nil {
			report.Errored++
			metrics.ReasonSweepErrors.Inc()
			s.service.logger.Warn().
				Err(err).
				Str("round_id", row.RoundID).
				Str("agent_id", row.AgentID).
				Msg("Reason sweep evaluation failed")
			if storeErr := s.store.SetReasonEvalError(ctx, row.RoundID, row.AgentID, err.Error()); storeErr != nil {
				s.service.logger.Error().Err(storeErr).Msg("Failed to record reason eval error")
			}
		}
	}

	if report.Updated > 0 || report.Errored > 0 {
		s.service.logger.Info().
			Int("scanned", report.Scanned).
			Int("updated", report.Updated).
			Int("skipped", report.Skipped).
			Int("errored", report.Errored).
			Msg("Reason sweep complete")
	}
	return report, nil
}

func (s *Sweeper) evaluateOne(ctx context.Context, now time.Time, row PendingJudgment, report *SweepReport) error {
	targetClose, found, err := s.service.targetClose(ctx, row.Timeframe, row.TargetCloseMs)
	if err != nil {
		return err
	}
	if !found {
		// Candle not published yet; the next sweep retries.
		report.Skipped++
		s.service.logger.Debug().
			Str("round_id", row.RoundID).
			Str("agent_id", row.AgentID).
			Int64("target_close_ms", row.TargetCloseMs).
			Msg("Target candle unavailable, skipping")
		return nil
	}
	if row.BaseClose == 0 || !finite(targetClose) {
		return fmt.Errorf("unusable prices: base=%v target=%v", row.BaseClose, targetClose)
	}

	outcome, deltaPct := Outcome(row.BaseClose, targetClose, s.service.flatPct)

	upd := OutcomeUpdate{
		TargetClose: targetClose,
		DeltaPct:    deltaPct,
		Outcome:     outcome,
		Correct:     row.Direction == outcome,
		EvaluatedAt: now,
	}
	if err := s.store.ApplyReasonOutcome(ctx, row.RoundID, row.AgentID, upd); err != nil {
		return fmt.Errorf("store outcome: %w", err)
	}
	report.Updated++
	metrics.ReasonSweepUpdates.Inc()
	return nil
}
