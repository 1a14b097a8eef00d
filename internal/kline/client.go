package kline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultLimit is the candle count used when a query does not set one.
	DefaultLimit = 200
	// MaxLimit caps the candle count per interval per request.
	MaxLimit = 500

	symbol = "BTCUSDT"
	coin   = "BTC"
)

// Config contains fetcher configuration.
type Config struct {
	// BaseURL overrides the upstream endpoint. Empty keeps the client default.
	BaseURL string
	// CacheTTL is the advisory cache TTL. Zero disables caching.
	CacheTTL time.Duration
	// Timeout bounds each upstream request.
	Timeout time.Duration
	// RequestsPerSecond bounds the upstream call rate. Zero means no limit.
	RequestsPerSecond float64
}

// Fetcher fetches candles from the upstream exchange with an advisory Redis
// cache, a circuit breaker, and a client-side rate limit.
type Fetcher struct {
	client  *binance.Client
	cache   *Cache
	breaker *Breaker
	limiter *rate.Limiter
	timeout time.Duration
}

// Query describes one candle request, possibly spanning multiple intervals.
type Query struct {
	Symbol    string
	Coin      string
	Intervals []string
	Limit     int
	StartTime int64
	EndTime   int64
}

// Result carries per-interval bars; intervals that failed are reported in
// Errors, keeping partial results for the rest.
type Result struct {
	Symbol string            `json:"symbol"`
	Coin   string            `json:"coin"`
	Bars   map[string][]Bar  `json:"bars"`
	Errors map[string]string `json:"errors,omitempty"`
}

// NewFetcher creates a candle fetcher. cache may be nil.
func NewFetcher(cfg Config, cache *Cache) *Fetcher {
	client := binance.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 6 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Fetcher{
		client:  client,
		cache:   cache,
		breaker: NewBreaker("kline_upstream"),
		limiter: limiter,
		timeout: timeout,
	}
}

// Fetch validates the query and fetches each requested interval.
func (f *Fetcher) Fetch(ctx context.Context, q Query) (*Result, error) {
	if err := validateSymbol(q.Symbol, q.Coin); err != nil {
		return nil, err
	}
	if len(q.Intervals) == 0 {
		return nil, fmt.Errorf("at least one interval is required")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	result := &Result{
		Symbol: symbol,
		Coin:   coin,
		Bars:   make(map[string][]Bar, len(q.Intervals)),
		Errors: make(map[string]string),
	}

	for _, interval := range q.Intervals {
		if !IsSupportedInterval(interval) {
			result.Errors[interval] = fmt.Sprintf("unsupported interval: %s", interval)
			continue
		}
		bars, err := f.fetchInterval(ctx, interval, limit, q.StartTime, q.EndTime)
		if err != nil {
			log.Warn().Err(err).Str("interval", interval).Msg("Kline fetch failed")
			result.Errors[interval] = err.Error()
			continue
		}
		result.Bars[interval] = bars
	}

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

// Window fetches a trailing candle window whose last bar closes at
// endCloseMs. Used by the reason-rule evaluator, which needs exact close
// alignment.
func (f *Fetcher) Window(ctx context.Context, interval string, endCloseMs int64, limit int) ([]Bar, error) {
	if !IsSupportedInterval(interval) {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return f.fetchInterval(ctx, interval, limit, 0, endCloseMs)
}

func (f *Fetcher) fetchInterval(ctx context.Context, interval string, limit int, startMs, endMs int64) ([]Bar, error) {
	key := cacheKey(interval, limit, startMs, endMs)
	if bars, ok := f.cache.Get(ctx, key); ok {
		return bars, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.breaker.Execute(func() (interface{}, error) {
		svc := f.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if startMs > 0 {
			svc = svc.StartTime(startMs)
		}
		if endMs > 0 {
			svc = svc.EndTime(endMs)
		}
		return svc.Do(reqCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("upstream klines: %w", err)
	}

	klines := raw.([]*binance.Kline)
	bars, err := normalize(klines, interval)
	if err != nil {
		return nil, err
	}

	f.cache.Set(ctx, key, bars)
	return bars, nil
}

// normalize converts upstream klines into the uniform bar shape. A missing
// close time is derived from the open time and interval.
func normalize(klines []*binance.Kline, interval string) ([]Bar, error) {
	ms, err := IntervalMs(interval)
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(klines))
	for _, k := range klines {
		bar := Bar{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Trades:    k.TradeNum,
		}
		if bar.CloseTime == 0 {
			bar.CloseTime = k.OpenTime + ms - 1
		}
		if bar.Open, err = parsePrice(k.Open, "open"); err != nil {
			return nil, err
		}
		if bar.High, err = parsePrice(k.High, "high"); err != nil {
			return nil, err
		}
		if bar.Low, err = parsePrice(k.Low, "low"); err != nil {
			return nil, err
		}
		if bar.Close, err = parsePrice(k.Close, "close"); err != nil {
			return nil, err
		}
		if k.Volume != "" {
			if bar.Volume, err = parsePrice(k.Volume, "volume"); err != nil {
				return nil, err
			}
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime < bars[j].OpenTime })
	return bars, nil
}

func parsePrice(s, field string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s value %q: %w", field, s, err)
	}
	return v, nil
}

func validateSymbol(sym, c string) error {
	if sym != "" && !strings.EqualFold(sym, symbol) {
		return ErrUnsupportedSymbol
	}
	if c != "" && !strings.EqualFold(c, coin) {
		return ErrUnsupportedSymbol
	}
	return nil
}

func cacheKey(interval string, limit int, startMs, endMs int64) string {
	return fmt.Sprintf("klines:%s:%s:%d:%d:%d", symbol, interval, limit, startMs, endMs)
}
