// Package reason implements reason rules: machine-verifiable claims attached
// to judgments, normalized at submission, evaluated against candles at submit
// time and again once the horizon is reached.
package reason

import (
	"math"

	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/patterns"
	"github.com/predictarena/predictarena/internal/validation"
)

// Directions shared by judgments, verdicts and reason rules.
const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
	DirectionFlat = "FLAT"
)

// Horizon bounds in bars.
const (
	MinHorizonBars = 1
	MaxHorizonBars = 200
)

// IsDirection reports whether s is a valid direction.
func IsDirection(s string) bool {
	return s == DirectionUp || s == DirectionDown || s == DirectionFlat
}

// Rule is a canonical reason rule.
type Rule struct {
	Timeframe   string `json:"timeframe"`
	Pattern     string `json:"pattern"`
	Direction   string `json:"direction"`
	HorizonBars int    `json:"horizon_bars"`
}

// RawRule is an unvalidated rule as submitted by an agent.
type RawRule struct {
	Timeframe   string `json:"timeframe"`
	Pattern     string `json:"pattern"`
	Direction   string `json:"direction"`
	HorizonBars int    `json:"horizon_bars"`
}

// NormalizeOptions constrain rule normalization.
type NormalizeOptions struct {
	// AllowedIntervals, when non-empty, restricts the timeframe beyond the
	// global whitelist.
	AllowedIntervals []string
	// ExpectedDirection, when set, must match the rule direction.
	ExpectedDirection string
}

// Normalize validates a raw rule into its canonical form. Failures are
// validation.ValidationErrors so the boundary can surface them verbatim.
func Normalize(raw RawRule, opts NormalizeOptions) (Rule, error) {
	v := validation.NewValidator()

	if !kline.IsSupportedInterval(raw.Timeframe) {
		v.AddError("reason_rule.timeframe", "unsupported timeframe: "+raw.Timeframe)
	} else if len(opts.AllowedIntervals) > 0 && !containsString(opts.AllowedIntervals, raw.Timeframe) {
		v.AddError("reason_rule.timeframe", "timeframe not in submitted intervals: "+raw.Timeframe)
	}

	if !patterns.IsKnown(raw.Pattern) {
		v.AddError("reason_rule.pattern", "unknown pattern: "+raw.Pattern)
	}

	if !IsDirection(raw.Direction) {
		v.AddError("reason_rule.direction", "must be UP, DOWN or FLAT")
	} else if opts.ExpectedDirection != "" && raw.Direction != opts.ExpectedDirection {
		v.AddError("reason_rule.direction", "must match judgment direction")
	}

	if raw.HorizonBars < MinHorizonBars || raw.HorizonBars > MaxHorizonBars {
		v.AddError("reason_rule.horizon_bars", "must be between 1 and 200")
	}

	if v.HasErrors() {
		return Rule{}, v.Errors()
	}

	return Rule{
		Timeframe:   raw.Timeframe,
		Pattern:     raw.Pattern,
		Direction:   raw.Direction,
		HorizonBars: raw.HorizonBars,
	}, nil
}

// AlignCloseMs returns the inclusive close time of the last completed candle
// at or before endMs: floor(ms/interval)*interval - 1.
func AlignCloseMs(endMs int64, timeframe string) (int64, error) {
	ms, err := kline.IntervalMs(timeframe)
	if err != nil {
		return 0, err
	}
	return (endMs/ms)*ms - 1, nil
}

// TargetCloseMs returns the close time of the candle horizonBars after the
// aligned close.
func TargetCloseMs(alignedCloseMs int64, timeframe string, horizonBars int) (int64, error) {
	ms, err := kline.IntervalMs(timeframe)
	if err != nil {
		return 0, err
	}
	return alignedCloseMs + int64(horizonBars)*ms, nil
}

// Outcome classifies the realized move from baseClose to targetClose:
// FLAT when |deltaPct| is under the flat threshold, otherwise the sign.
// deltaPct is rounded to 6 decimals.
func Outcome(baseClose, targetClose, flatThresholdPct float64) (string, float64) {
	deltaPct := (targetClose - baseClose) / baseClose * 100
	deltaPct = math.Round(deltaPct*1e6) / 1e6

	switch {
	case math.Abs(deltaPct) < flatThresholdPct:
		return DirectionFlat, deltaPct
	case deltaPct > 0:
		return DirectionUp, deltaPct
	default:
		return DirectionDown, deltaPct
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
