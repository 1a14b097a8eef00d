package kline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Upstream circuit breaker thresholds.
const (
	breakerMinRequests  = 5
	breakerFailureRatio = 0.6
	breakerOpenTimeout  = 30 * time.Second
	breakerHalfOpenReqs = 3
	breakerCountWindow  = 10 * time.Second
)

var (
	breakerMetricsOnce sync.Once
	breakerState       *prometheus.GaugeVec
	breakerRequests    *prometheus.CounterVec
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kline_breaker_state",
				Help: "Kline upstream circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"name"},
		)
		breakerRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kline_breaker_requests_total",
				Help: "Requests through the kline upstream circuit breaker",
			},
			[]string{"name", "result"},
		)
	})
}

// Breaker protects the kline upstream with a gobreaker circuit breaker and
// publishes state transitions as Prometheus metrics.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a named upstream breaker.
func NewBreaker(name string) *Breaker {
	initBreakerMetrics()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenReqs,
		Interval:    breakerCountWindow,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Kline upstream circuit breaker state change")
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}

	breakerState.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs the operation through the breaker.
func (b *Breaker) Execute(op func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(op)
	if err != nil {
		breakerRequests.WithLabelValues(b.cb.Name(), "failure").Inc()
		return nil, err
	}
	breakerRequests.WithLabelValues(b.cb.Name(), "success").Inc()
	return result, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
