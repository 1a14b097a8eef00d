// Package kline fetches and normalizes candlestick data from the upstream
// exchange. It is the only component that talks to the candle source; the
// reason-rule evaluator and the HTTP kline proxy both go through it.
package kline

import (
	"errors"
	"fmt"
)

// Bar is a normalized candle. CloseTime is inclusive:
// close_time = open_time + intervalMs - 1.
type Bar struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades_count"`
}

// Supported intervals and their durations in milliseconds. This whitelist is
// shared with reason-rule timeframe validation.
var intervalMs = map[string]int64{
	"1m":  60_000,
	"3m":  180_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"4h":  14_400_000,
	"12h": 43_200_000,
	"1d":  86_400_000,
}

// ErrUnsupportedSymbol is returned for any coin other than BTC.
var ErrUnsupportedSymbol = errors.New("only BTC is supported")

// IsSupportedInterval reports whether the interval is whitelisted.
func IsSupportedInterval(interval string) bool {
	_, ok := intervalMs[interval]
	return ok
}

// IntervalMs returns the interval duration in milliseconds.
func IntervalMs(interval string) (int64, error) {
	ms, ok := intervalMs[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval: %s", interval)
	}
	return ms, nil
}

// Intervals returns the whitelisted interval codes. Order is unspecified.
func Intervals() []string {
	out := make([]string, 0, len(intervalMs))
	for code := range intervalMs {
		out = append(out, code)
	}
	return out
}
