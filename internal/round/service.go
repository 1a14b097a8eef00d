// Package round implements the round lifecycle: starting, locking,
// cancelling and settling rounds, judgment submission, summary assembly and
// the periodic state advancer.
package round

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/metrics"
	"github.com/predictarena/predictarena/internal/reason"
)

// Symbol is the single instrument the arena runs on.
const Symbol = "BTCUSDT"

// ErrNoPrice means a round transition needs a price but meta has none.
var ErrNoPrice = errors.New("no current price available")

// Service drives round lifecycle transitions.
type Service struct {
	store     Store
	cfg       config.RoundConfig
	evaluator Evaluator
	logger    zerolog.Logger
}

// NewService creates a round service.
func NewService(store Store, cfg config.RoundConfig, evaluator Evaluator) *Service {
	return &Service{
		store:     store,
		cfg:       cfg,
		evaluator: evaluator,
		logger:    config.NewLogger("round"),
	}
}

// RoundIDFor derives the round id from the round's UTC start time.
func RoundIDFor(start time.Time) string {
	return start.UTC().Format("r_20060102_1504")
}

// LockTime returns when a round stops accepting judgments.
func (s *Service) LockTime(r *db.Round) time.Time {
	return r.StartTime.Add(s.cfg.LockWindow())
}

// StartRound creates a new betting round unless a non-settled one exists.
// It requires a current price in meta and at least one active agent.
func (s *Service) StartRound(ctx context.Context, meta *db.MetaState, now time.Time) (*db.Round, error) {
	if live, err := s.store.GetLiveRound(ctx); err == nil {
		return live, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	active, err := s.store.CountActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	if active == 0 {
		return nil, nil
	}

	if meta.CurrentPrice == nil {
		return nil, ErrNoPrice
	}

	start := now.UTC()
	round := &db.Round{
		RoundID:     RoundIDFor(start),
		Symbol:      Symbol,
		DurationMin: s.cfg.DurationMin,
		StartPrice:  round2(*meta.CurrentPrice),
		Status:      db.RoundStatusBetting,
		StartTime:   start,
		EndTime:     start.Add(s.cfg.Duration()),
	}

	if err := s.store.InsertRound(ctx, round); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			// Another tick won the race for this minute.
			return s.store.GetLiveRound(ctx)
		}
		return nil, err
	}

	s.logger.Info().
		Str("round_id", round.RoundID).
		Float64("start_price", round.StartPrice).
		Time("end_time", round.EndTime).
		Msg("Round started")
	return round, nil
}

// LockRound moves a betting round to locked.
func (s *Service) LockRound(ctx context.Context, r *db.Round) error {
	if r.Status != db.RoundStatusBetting {
		return nil
	}
	if err := s.store.UpdateRoundStatus(ctx, r.RoundID, db.RoundStatusLocked); err != nil {
		return err
	}
	r.Status = db.RoundStatusLocked
	s.logger.Info().Str("round_id", r.RoundID).Msg("Round locked")
	return nil
}

// CancelRound deletes an empty round so a fresh one can start immediately.
func (s *Service) CancelRound(ctx context.Context, r *db.Round) error {
	if err := s.store.DeleteRound(ctx, r.RoundID); err != nil {
		return err
	}
	metrics.RoundsCancelled.Inc()
	s.logger.Info().Str("round_id", r.RoundID).Msg("Round cancelled, no judgments at lock time")
	return nil
}

// SettleRound computes the verdict, scores every judgment, and writes all of
// it in one atomic batch. Settling an already-settled round is a no-op.
func (s *Service) SettleRound(ctx context.Context, r *db.Round, meta *db.MetaState) error {
	if r.Status == db.RoundStatusSettled {
		return nil
	}
	if meta.CurrentPrice == nil {
		return ErrNoPrice
	}

	endPrice := round2(*meta.CurrentPrice)
	result, deltaPct := reason.Outcome(r.StartPrice, endPrice, s.cfg.FlatThresholdPct)
	// The verdict stores the move at 0.1% granularity; classification above
	// uses the raw delta.
	verdictDelta := math.Round(deltaPct*10) / 10
	now := time.Now().UTC()

	judgments, err := s.store.ListJudgmentsByRound(ctx, r.RoundID)
	if err != nil {
		return err
	}

	settlement := &db.Settlement{
		RoundID:  r.RoundID,
		EndPrice: endPrice,
		Verdict: &db.Verdict{
			RoundID:   r.RoundID,
			Result:    result,
			DeltaPct:  verdictDelta,
			Timestamp: now,
		},
	}

	for _, j := range judgments {
		correct, change := Score(j.Direction, result, j.Confidence)

		agentName := j.AgentID
		if agent, err := s.store.GetAgent(ctx, j.AgentID); err == nil {
			agentName = agent.Name
		}

		settlement.ScoreEvents = append(settlement.ScoreEvents, &db.ScoreEvent{
			RoundID:     r.RoundID,
			AgentID:     j.AgentID,
			Correct:     correct,
			Confidence:  j.Confidence,
			ScoreChange: change,
			Reason:      scoreReason(correct),
			Timestamp:   now,
		})
		settlement.FlipCards = append(settlement.FlipCards,
			buildFlipCard(r, j, agentName, result, correct, change, now))
	}

	if err := s.store.ApplySettlement(ctx, settlement); err != nil {
		return fmt.Errorf("failed to settle round %s: %w", r.RoundID, err)
	}

	r.Status = db.RoundStatusSettled
	r.EndPrice = &endPrice
	metrics.RoundsSettled.Inc()
	s.logger.Info().
		Str("round_id", r.RoundID).
		Str("result", result).
		Float64("delta_pct", deltaPct).
		Int("judgments", len(judgments)).
		Msg("Round settled")
	return nil
}

// Score applies the canonical scoring rule: a win pays the stated confidence,
// a loss costs round(confidence * 1.5).
func Score(direction, result string, confidence int) (bool, int64) {
	if direction == result {
		return true, int64(confidence)
	}
	return false, -int64(math.Round(float64(confidence) * 1.5))
}

func scoreReason(correct bool) string {
	if correct {
		return "Correct"
	}
	return "High confidence failure"
}

func buildFlipCard(r *db.Round, j *db.Judgment, agentName, result string, correct bool, change int64, now time.Time) *db.FlipCard {
	cardResult := "FAIL"
	if correct {
		cardResult = "WIN"
	}
	title := fmt.Sprintf("%s %s", agentName, cardResult)
	body := fmt.Sprintf("Predicted %s at %d%% confidence, market went %s (%+d points)",
		j.Direction, j.Confidence, result, change)

	return &db.FlipCard{
		RoundID:     r.RoundID,
		AgentID:     j.AgentID,
		AgentName:   agentName,
		Result:      cardResult,
		Title:       title,
		Body:        body,
		Direction:   j.Direction,
		Confidence:  j.Confidence,
		ScoreChange: change,
		Timestamp:   now,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
