// Package metrics defines the Prometheus instruments shared across the
// service and the HTTP middleware that feeds the request metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictarena_rounds_settled_total",
		Help: "Rounds settled with a verdict",
	})

	RoundsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictarena_rounds_cancelled_total",
		Help: "Rounds cancelled for having zero judgments at lock time",
	})

	JudgmentsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictarena_judgments_submitted_total",
		Help: "Judgments accepted from agents",
	})

	ReasonSweepUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictarena_reason_sweep_updates_total",
		Help: "Pending reason judgments resolved by the sweep",
	})

	ReasonSweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictarena_reason_sweep_errors_total",
		Help: "Reason sweep rows that failed evaluation",
	})

	PriceFeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predictarena_pricefeed_reconnects_total",
		Help: "Price feed reconnect attempts scheduled",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictarena_http_requests_total",
		Help: "HTTP requests by method, path and status",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictarena_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
