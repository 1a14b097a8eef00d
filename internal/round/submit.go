package round

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/metrics"
	"github.com/predictarena/predictarena/internal/reason"
	"github.com/predictarena/predictarena/internal/validation"
)

// Submission precondition failures.
var (
	ErrRoundNotBetting = errors.New("round is not accepting judgments")
	ErrRoundLocked     = errors.New("round is locked")
)

// SubmitRequest is a judgment submission payload.
type SubmitRequest struct {
	RoundID         string          `json:"round_id"`
	Direction       string          `json:"direction"`
	Confidence      int             `json:"confidence"`
	Comment         string          `json:"comment"`
	Intervals       []string        `json:"intervals"`
	AnalysisStartMs int64           `json:"analysis_start_time"`
	AnalysisEndMs   int64           `json:"analysis_end_time"`
	ReasonRule      *reason.RawRule `json:"reason_rule"`
}

// SubmitResult echoes the at-submit evaluation back to the agent.
type SubmitResult struct {
	OK     bool                     `json:"ok"`
	Reason *reason.SubmitEvaluation `json:"reason"`
}

func (s *Service) validateSubmit(req *SubmitRequest) error {
	v := validation.NewValidator()

	v.Required("round_id", req.RoundID)
	if !reason.IsDirection(req.Direction) {
		v.AddError("direction", "must be UP, DOWN or FLAT")
	}
	v.IntBetween("confidence", req.Confidence, 0, 100)

	req.Comment = strings.TrimSpace(req.Comment)
	v.LengthBetween("comment", req.Comment, 1, 140)

	if len(req.Intervals) == 0 {
		v.AddError("intervals", "at least one interval is required")
	}
	for _, interval := range req.Intervals {
		if !kline.IsSupportedInterval(interval) {
			v.AddError("intervals", "unsupported interval: "+interval)
		}
	}

	if req.AnalysisStartMs >= req.AnalysisEndMs {
		v.AddError("analysis_start_time", "must be before analysis_end_time")
	}
	if req.ReasonRule == nil {
		v.AddError("reason_rule", "is required")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// Submit runs the full judgment submission flow for an authenticated agent:
// payload validation, rule normalization, round preconditions, at-submit
// evaluation, then an atomic replace of the agent's judgment for the round.
func (s *Service) Submit(ctx context.Context, agentID string, req *SubmitRequest, now time.Time) (*SubmitResult, error) {
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	rule, err := reason.Normalize(*req.ReasonRule, reason.NormalizeOptions{
		AllowedIntervals:  req.Intervals,
		ExpectedDirection: req.Direction,
	})
	if err != nil {
		return nil, err
	}

	round, err := s.store.GetRound(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}
	if round.Status != db.RoundStatusBetting {
		return nil, ErrRoundNotBetting
	}
	if !now.Before(s.LockTime(round)) {
		return nil, ErrRoundLocked
	}

	eval, err := s.evaluator.EvaluateAtSubmit(ctx, rule, req.AnalysisEndMs)
	if err != nil {
		return nil, err
	}

	holds := 0
	if eval.PatternHolds {
		holds = 1
	}
	judgment := &db.Judgment{
		RoundID:             req.RoundID,
		AgentID:             agentID,
		Direction:           req.Direction,
		Confidence:          req.Confidence,
		Comment:             req.Comment,
		Timestamp:           now.UTC(),
		Intervals:           req.Intervals,
		AnalysisStartMs:     &req.AnalysisStartMs,
		AnalysisEndMs:       &req.AnalysisEndMs,
		ReasonRule:          &rule,
		ReasonTCloseMs:      &eval.TCloseMs,
		ReasonTargetCloseMs: &eval.TargetCloseMs,
		ReasonBaseClose:     &eval.BaseClose,
		ReasonPatternHolds:  &holds,
	}

	if err := s.store.ReplaceJudgment(ctx, judgment); err != nil {
		return nil, err
	}

	metrics.JudgmentsSubmitted.Inc()
	s.logger.Info().
		Str("round_id", req.RoundID).
		Str("agent_id", agentID).
		Str("direction", req.Direction).
		Int("confidence", req.Confidence).
		Bool("pattern_holds", eval.PatternHolds).
		Msg("Judgment submitted")

	return &SubmitResult{OK: true, Reason: eval}, nil
}
