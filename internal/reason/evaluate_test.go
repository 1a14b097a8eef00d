package reason

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/patterns"
)

// fakeCandles serves synthetic 1m candles from a fixed series ending at
// lastCloseMs. Requests past the series end return only published candles,
// mimicking an upstream that has not closed the target candle yet.
type fakeCandles struct {
	lastCloseMs int64
	closeAt     func(closeMs int64) float64
	fail        error
}

const minuteMs = int64(60_000)

func (f *fakeCandles) Window(_ context.Context, interval string, endCloseMs int64, limit int) ([]kline.Bar, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if interval != "1m" {
		return nil, fmt.Errorf("fake only serves 1m, got %s", interval)
	}

	end := endCloseMs
	if end > f.lastCloseMs {
		end = f.lastCloseMs
	}

	var bars []kline.Bar
	for i := limit - 1; i >= 0; i-- {
		closeMs := end - int64(i)*minuteMs
		if closeMs < minuteMs-1 {
			continue
		}
		c := f.closeAt(closeMs)
		bars = append(bars, kline.Bar{
			OpenTime:  closeMs + 1 - minuteMs,
			CloseTime: closeMs,
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		})
	}
	return bars, nil
}

func flatSeries(price float64) func(int64) float64 {
	return func(int64) float64 { return price }
}

func TestEvaluateAtSubmit(t *testing.T) {
	// Candle closes at :59.999 each minute; analysis end inside minute 100.
	analysisEnd := 100*minuteMs + 30_000
	aligned := 100*minuteMs - 1

	candles := &fakeCandles{lastCloseMs: aligned, closeAt: flatSeries(50_000)}
	svc := NewService(candles, 0.2)

	rule := Rule{
		Timeframe:   "1m",
		Pattern:     patterns.Doji,
		Direction:   DirectionUp,
		HorizonBars: 3,
	}

	eval, err := svc.EvaluateAtSubmit(context.Background(), rule, analysisEnd)
	require.NoError(t, err)

	assert.Equal(t, aligned, eval.TCloseMs)
	assert.Equal(t, aligned+3*minuteMs, eval.TargetCloseMs)
	assert.Equal(t, 50_000.0, eval.BaseClose)
	// Open == Close on a 2-point range: a doji.
	assert.True(t, eval.PatternHolds)
}

func TestEvaluateAtSubmitMisaligned(t *testing.T) {
	analysisEnd := 100*minuteMs + 30_000

	// Upstream serves candles shifted off the expected boundary.
	candles := &fakeCandles{lastCloseMs: 100*minuteMs - 1, closeAt: flatSeries(50_000)}
	shifted := &shiftedCandles{inner: candles, shift: 500}
	svc := NewService(shifted, 0.2)

	rule := Rule{Timeframe: "1m", Pattern: patterns.Doji, Direction: DirectionUp, HorizonBars: 1}
	_, err := svc.EvaluateAtSubmit(context.Background(), rule, analysisEnd)
	assert.ErrorIs(t, err, ErrMisaligned)
}

type shiftedCandles struct {
	inner CandleSource
	shift int64
}

func (s *shiftedCandles) Window(ctx context.Context, interval string, endCloseMs int64, limit int) ([]kline.Bar, error) {
	bars, err := s.inner.Window(ctx, interval, endCloseMs, limit)
	if err != nil {
		return nil, err
	}
	for i := range bars {
		bars[i].CloseTime += s.shift
	}
	return bars, nil
}

func TestEvaluateAtSubmitInsufficientHistory(t *testing.T) {
	// Only a handful of candles exist; an EMA-cross rule needs 51.
	aligned := 10*minuteMs - 1
	candles := &fakeCandles{lastCloseMs: aligned, closeAt: flatSeries(50_000)}
	svc := NewService(candles, 0.2)

	rule := Rule{Timeframe: "1m", Pattern: patterns.EMA20CrossUpEMA50, Direction: DirectionUp, HorizonBars: 1}
	_, err := svc.EvaluateAtSubmit(context.Background(), rule, aligned+30_000)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

// fakeSweepStore is an in-memory SweepStore.
type fakeSweepStore struct {
	pending  []PendingJudgment
	outcomes map[string]OutcomeUpdate
	evalErrs map[string]string
}

func newFakeSweepStore(rows ...PendingJudgment) *fakeSweepStore {
	return &fakeSweepStore{
		pending:  rows,
		outcomes: make(map[string]OutcomeUpdate),
		evalErrs: make(map[string]string),
	}
}

func (s *fakeSweepStore) key(roundID, agentID string) string { return roundID + "/" + agentID }

func (s *fakeSweepStore) PendingReasonJudgments(_ context.Context, nowMs int64, limit int) ([]PendingJudgment, error) {
	var out []PendingJudgment
	for _, row := range s.pending {
		if _, done := s.outcomes[s.key(row.RoundID, row.AgentID)]; done {
			continue
		}
		if row.TargetCloseMs <= nowMs {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeSweepStore) ApplyReasonOutcome(_ context.Context, roundID, agentID string, upd OutcomeUpdate) error {
	s.outcomes[s.key(roundID, agentID)] = upd
	delete(s.evalErrs, s.key(roundID, agentID))
	return nil
}

func (s *fakeSweepStore) SetReasonEvalError(_ context.Context, roundID, agentID, msg string) error {
	s.evalErrs[s.key(roundID, agentID)] = msg
	return nil
}

func TestSweeperEvaluatesDueRows(t *testing.T) {
	target := 200*minuteMs - 1
	now := time.UnixMilli(target + minuteMs)

	store := newFakeSweepStore(PendingJudgment{
		RoundID:       "r_20260204_0000",
		AgentID:       "momentum_max",
		Timeframe:     "1m",
		Pattern:       patterns.Doji,
		Direction:     DirectionUp,
		TargetCloseMs: target,
		BaseClose:     50_000,
	})

	// Target candle closes 1% above base.
	candles := &fakeCandles{lastCloseMs: target, closeAt: flatSeries(50_500)}
	sweeper := NewSweeper(NewService(candles, 0.2), store, 0)

	report, err := sweeper.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Updated)

	upd := store.outcomes["r_20260204_0000/momentum_max"]
	assert.Equal(t, DirectionUp, upd.Outcome)
	assert.True(t, upd.Correct)
	assert.InDelta(t, 1.0, upd.DeltaPct, 1e-9)

	// Second run with nothing new is a no-op.
	report, err = sweeper.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, report.Updated)
}

func TestSweeperSkipsMissingTargetCandle(t *testing.T) {
	target := 200*minuteMs - 1
	now := time.UnixMilli(target + minuteMs)

	store := newFakeSweepStore(PendingJudgment{
		RoundID:       "r_20260204_0000",
		AgentID:       "momentum_max",
		Timeframe:     "1m",
		Pattern:       patterns.Doji,
		Direction:     DirectionUp,
		TargetCloseMs: target,
		BaseClose:     50_000,
	})

	// Upstream has not published the target candle yet.
	candles := &fakeCandles{lastCloseMs: target - minuteMs, closeAt: flatSeries(50_500)}
	sweeper := NewSweeper(NewService(candles, 0.2), store, 0)

	report, err := sweeper.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, store.outcomes)
	assert.Empty(t, store.evalErrs)
}

func TestSweeperRecordsEvalErrors(t *testing.T) {
	target := 200*minuteMs - 1
	now := time.UnixMilli(target + minuteMs)

	store := newFakeSweepStore(PendingJudgment{
		RoundID:       "r_20260204_0000",
		AgentID:       "momentum_max",
		Timeframe:     "1m",
		Pattern:       patterns.Doji,
		Direction:     DirectionUp,
		TargetCloseMs: target,
		BaseClose:     50_000,
	})

	candles := &fakeCandles{fail: fmt.Errorf("upstream down")}
	sweeper := NewSweeper(NewService(candles, 0.2), store, 0)

	report, err := sweeper.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errored)
	assert.Contains(t, store.evalErrs["r_20260204_0000/momentum_max"], "upstream down")
}
