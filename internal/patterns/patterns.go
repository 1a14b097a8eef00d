// Package patterns implements the deterministic candle/indicator/structure
// pattern engine. Every evaluator is a pure function over an ordered slice of
// OHLC bars and decides whether the named pattern holds at the last bar.
package patterns

import (
	"fmt"
)

// Bar is a single OHLC bar. Bars are ordered oldest to newest.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// evalFunc decides whether a pattern holds at the last bar of the slice.
// It is only invoked once the required-bars precondition has been checked.
type evalFunc func(bars []Bar) bool

type patternDef struct {
	requiredBars int
	eval         evalFunc
}

// Pattern IDs. The registry below is the single source of truth for both
// Evaluate and RequiredBars; reason-rule validation whitelists against it.
const (
	BullishEngulfing       = "candle.bullish_engulfing.v1"
	BearishEngulfing       = "candle.bearish_engulfing.v1"
	Hammer                 = "candle.hammer.v1"
	ShootingStar           = "candle.shooting_star.v1"
	Doji                   = "candle.doji.v1"
	InsideBar              = "candle.inside_bar.v1"
	OutsideBar             = "candle.outside_bar.v1"
	MorningStar            = "candle.morning_star.v1"
	EveningStar            = "candle.evening_star.v1"
	ThreeWhiteSoldiers     = "candle.three_white_soldiers.v1"
	ThreeBlackCrows        = "candle.three_black_crows.v1"
	EMA20GtEMA50           = "indicator.ema20_gt_ema50.v1"
	EMA20LtEMA50           = "indicator.ema20_lt_ema50.v1"
	EMA20CrossUpEMA50      = "indicator.ema20_cross_up_ema50.v1"
	EMA20CrossDownEMA50    = "indicator.ema20_cross_down_ema50.v1"
	RSI14Lt30              = "indicator.rsi14_lt_30.v1"
	RSI14Gt70              = "indicator.rsi14_gt_70.v1"
	CloseGtHigh20          = "breakout.close_gt_high_20.v1"
	CloseLtLow20           = "breakout.close_lt_low_20.v1"
	CloseGtHigh55          = "breakout.close_gt_high_55.v1"
	CloseLtLow55           = "breakout.close_lt_low_55.v1"
	DoubleTop60            = "structure.double_top_60.v1"
	DoubleBottom60         = "structure.double_bottom_60.v1"
	HeadAndShoulders90     = "structure.head_and_shoulders_90.v1"
	InverseHeadShoulders90 = "structure.inverse_head_and_shoulders_90.v1"
)

// pivotSpan is the fixed neighbour span for pivot detection.
const pivotSpan = 2

var registry = map[string]patternDef{
	BullishEngulfing:   {2, bullishEngulfing},
	BearishEngulfing:   {2, bearishEngulfing},
	Hammer:             {1, hammer},
	ShootingStar:       {1, shootingStar},
	Doji:               {1, doji},
	InsideBar:          {2, insideBar},
	OutsideBar:         {2, outsideBar},
	MorningStar:        {3, morningStar},
	EveningStar:        {3, eveningStar},
	ThreeWhiteSoldiers: {3, threeWhiteSoldiers},
	ThreeBlackCrows:    {3, threeBlackCrows},

	EMA20GtEMA50:        {50, emaRelation(func(e20, e50 float64) bool { return e20 > e50 })},
	EMA20LtEMA50:        {50, emaRelation(func(e20, e50 float64) bool { return e20 < e50 })},
	EMA20CrossUpEMA50:   {51, emaCross(true)},
	EMA20CrossDownEMA50: {51, emaCross(false)},
	RSI14Lt30:           {15, rsiThreshold(func(rsi float64) bool { return rsi < 30 })},
	RSI14Gt70:           {15, rsiThreshold(func(rsi float64) bool { return rsi > 70 })},

	CloseGtHigh20: {21, breakoutHigh(20)},
	CloseLtLow20:  {21, breakoutLow(20)},
	CloseGtHigh55: {56, breakoutHigh(55)},
	CloseLtLow55:  {56, breakoutLow(55)},

	DoubleTop60:            {60 + 2*pivotSpan, doubleTop(60)},
	DoubleBottom60:         {60 + 2*pivotSpan, doubleBottom(60)},
	HeadAndShoulders90:     {90 + 2*pivotSpan, headAndShoulders(90, false)},
	InverseHeadShoulders90: {90 + 2*pivotSpan, headAndShoulders(90, true)},
}

// IsKnown reports whether a pattern ID is in the whitelist.
func IsKnown(patternID string) bool {
	_, ok := registry[patternID]
	return ok
}

// IDs returns every whitelisted pattern ID. Order is unspecified.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}

// RequiredBars returns the minimum number of bars a pattern needs.
// An unknown pattern is a programming error at the call site.
func RequiredBars(patternID string) (int, error) {
	entry, ok := registry[patternID]
	if !ok {
		return 0, fmt.Errorf("unknown pattern: %s", patternID)
	}
	return entry.requiredBars, nil
}

// Evaluate decides whether the pattern holds at the last bar.
// Insufficient history yields false, not an error.
func Evaluate(patternID string, bars []Bar) (bool, error) {
	entry, ok := registry[patternID]
	if !ok {
		return false, fmt.Errorf("unknown pattern: %s", patternID)
	}
	if len(bars) < entry.requiredBars {
		return false, nil
	}
	return entry.eval(bars), nil
}
