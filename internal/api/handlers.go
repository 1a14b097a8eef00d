package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/predictarena/predictarena/internal/kline"
	"github.com/predictarena/predictarena/internal/reason"
	"github.com/predictarena/predictarena/internal/round"
)

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"time": time.Now().UTC(),
	})
}

// handleSummary serves the client polling snapshot.
func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.rounds.BuildSummary(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleAdvance force-runs one advancer tick. Ticks serialize internally, so
// overlapping calls are safe.
func (s *Server) handleAdvance(c *gin.Context) {
	s.advancer.Tick(c.Request.Context(), time.Now())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleKlines proxies candle fetches. Per-interval failures come back in an
// errors map alongside the intervals that succeeded.
func (s *Server) handleKlines(c *gin.Context) {
	q := kline.Query{
		Symbol: c.Query("symbol"),
		Coin:   c.Query("coin"),
	}
	if intervals := c.Query("intervals"); intervals != "" {
		q.Intervals = strings.Split(intervals, ",")
	} else {
		q.Intervals = s.cfg.Kline.DefaultIntervals
	}
	q.Limit = intQuery(c, "limit", 0)
	q.StartTime = int64Query(c, "start_time", 0)
	q.EndTime = int64Query(c, "end_time", 0)

	result, err := s.klines.Fetch(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, kline.ErrUnsupportedSymbol) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}

	if c.Query("raw") == "true" {
		c.JSON(http.StatusOK, result.Bars)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSubmitJudgment runs the judgment submission flow for the
// authenticated agent.
func (s *Server) handleSubmitJudgment(c *gin.Context) {
	agent := currentAgent(c)

	var req round.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	result, err := s.rounds.Submit(c.Request.Context(), agent.ID, &req, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleReasonStats serves global reason-rule accuracy aggregates.
func (s *Server) handleReasonStats(c *gin.Context) {
	s.serveReasonStats(c, "")
}

// handleAgentReasonStats serves the agent-scoped variant.
func (s *Server) handleAgentReasonStats(c *gin.Context) {
	agentID := c.Param("id")
	if _, err := s.db.GetAgent(c.Request.Context(), agentID); err != nil {
		respondError(c, err)
		return
	}
	s.serveReasonStats(c, agentID)
}

func (s *Server) serveReasonStats(c *gin.Context, agentID string) {
	q := reason.StatsQuery{
		AgentID: agentID,
		Limit:   intQuery(c, "limit", 0),
	}
	if since := int64Query(c, "since", 0); since > 0 {
		q.Since = time.UnixMilli(since).UTC()
	}
	if until := int64Query(c, "until", 0); until > 0 {
		q.Until = time.UnixMilli(until).UTC()
	}

	stats, err := reason.ComputeStats(c.Request.Context(), s.db, q, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleFeedDiagnostics reports the price feed state and persists the
// snapshot for later inspection.
func (s *Server) handleFeedDiagnostics(c *gin.Context) {
	diag := s.feed.Diag()

	if payload, err := json.Marshal(diag); err == nil {
		if err := s.db.SaveFeedDiagnostics(c.Request.Context(), "hyperliquid", payload, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Msg("Failed to persist feed diagnostics")
		}
	}

	c.JSON(http.StatusOK, diag)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func int64Query(c *gin.Context, name string, fallback int64) int64 {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
