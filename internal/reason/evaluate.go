package reason

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/patterns"
)

// Evaluation failure kinds surfaced to the submission boundary.
var (
	// ErrInsufficientHistory means the candle window is too short for the
	// rule's pattern.
	ErrInsufficientHistory = errors.New("insufficient candle history for pattern")
	// ErrMisaligned means no candle closes exactly at the aligned time.
	ErrMisaligned = errors.New("analysis end time does not align to a closed candle")
)

// CandleSource provides trailing candle windows ending at an exact close.
// Implemented by *kline.Fetcher.
type CandleSource interface {
	Window(ctx context.Context, interval string, endCloseMs int64, limit int) ([]kline.Bar, error)
}

// SubmitEvaluation is the result of evaluating a rule at submission time.
type SubmitEvaluation struct {
	TCloseMs      int64   `json:"t_close_ms"`
	TargetCloseMs int64   `json:"target_close_ms"`
	BaseClose     float64 `json:"base_close"`
	PatternHolds  bool    `json:"pattern_holds"`
}

// Service evaluates reason rules against candles.
type Service struct {
	candles CandleSource
	flatPct float64
	logger  zerolog.Logger
}

// NewService creates a reason-rule evaluation service.
func NewService(candles CandleSource, flatThresholdPct float64) *Service {
	return &Service{
		candles: candles,
		flatPct: flatThresholdPct,
		logger:  config.NewLogger("reason"),
	}
}

// EvaluateAtSubmit aligns the analysis end time to the rule's timeframe,
// fetches the trailing window, and decides whether the pattern holds on the
// candle that closes at the aligned time.
func (s *Service) EvaluateAtSubmit(ctx context.Context, rule Rule, analysisEndMs int64) (*SubmitEvaluation, error) {
	aligned, err := AlignCloseMs(analysisEndMs, rule.Timeframe)
	if err != nil {
		return nil, err
	}
	target, err := TargetCloseMs(aligned, rule.Timeframe, rule.HorizonBars)
	if err != nil {
		return nil, err
	}

	required, err := patterns.RequiredBars(rule.Pattern)
	if err != nil {
		return nil, err
	}

	// A few extra bars of slack so upstream gaps do not starve the window.
	limit := required + 5
	bars, err := s.candles.Window(ctx, rule.Timeframe, aligned, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch candle window: %w", err)
	}
	if len(bars) < required {
		return nil, ErrInsufficientHistory
	}

	baseIdx := -1
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].CloseTime == aligned {
			baseIdx = i
			break
		}
	}
	if baseIdx == -1 {
		return nil, ErrMisaligned
	}

	window := bars[:baseIdx+1]
	if len(window) < required {
		return nil, ErrInsufficientHistory
	}

	holds, err := patterns.Evaluate(rule.Pattern, toPatternBars(window[len(window)-required:]))
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("pattern", rule.Pattern).
		Str("timeframe", rule.Timeframe).
		Int64("t_close_ms", aligned).
		Bool("pattern_holds", holds).
		Msg("Evaluated reason rule at submit")

	return &SubmitEvaluation{
		TCloseMs:      aligned,
		TargetCloseMs: target,
		BaseClose:     bars[baseIdx].Close,
		PatternHolds:  holds,
	}, nil
}

// targetClose fetches the close of the candle that closes exactly at
// targetCloseMs. found=false means the candle has not been published yet.
func (s *Service) targetClose(ctx context.Context, timeframe string, targetCloseMs int64) (float64, bool, error) {
	bars, err := s.candles.Window(ctx, timeframe, targetCloseMs, 2)
	if err != nil {
		return 0, false, fmt.Errorf("fetch target candle: %w", err)
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].CloseTime == targetCloseMs {
			return bars[i].Close, true, nil
		}
	}
	return 0, false, nil
}

func toPatternBars(bars []kline.Bar) []patterns.Bar {
	out := make([]patterns.Bar, len(bars))
	for i, b := range bars {
		out[i] = patterns.Bar{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
	}
	return out
}

// finite guards against NaN/Inf prices leaking into stored outcomes.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
