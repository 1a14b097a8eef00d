// Package api provides the HTTP surface: the public summary and stats
// endpoints, the authenticated agent endpoints, and the admin advance hook.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/metrics"
	"github.com/predictarena/predictarena/internal/pricefeed"
	"github.com/predictarena/predictarena/internal/round"
)

// Server is the REST API server.
type Server struct {
	router   *gin.Engine
	db       *db.DB
	rounds   *round.Service
	advancer *round.Advancer
	klines   *kline.Fetcher
	feed     *pricefeed.Feed
	cfg      *config.Config
	addr     string
	server   *http.Server
}

// Config wires the server's collaborators.
type Config struct {
	Cfg      *config.Config
	DB       *db.DB
	Rounds   *round.Service
	Advancer *round.Advancer
	Klines   *kline.Fetcher
	Feed     *pricefeed.Feed
}

// NewServer creates a new API server.
func NewServer(c Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	server := &Server{
		router:   router,
		db:       c.DB,
		rounds:   c.Rounds,
		advancer: c.Advancer,
		klines:   c.Klines,
		feed:     c.Feed,
		cfg:      c.Cfg,
		addr:     fmt.Sprintf("%s:%d", c.Cfg.API.Host, c.Cfg.API.Port),
	}
	server.setupRoutes()
	return server
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// Router exposes the underlying engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// RequestIDMiddleware tags every request with an id for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-Id", requestID)
		c.Next()
	}
}

// LoggerMiddleware is a custom logging middleware for Gin.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString("request_id"))

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
