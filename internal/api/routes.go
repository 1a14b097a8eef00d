package api

import "github.com/predictarena/predictarena/internal/metrics"

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/api/summary", s.handleSummary)
	s.router.POST("/api/advance", s.AdminAuthMiddleware(), s.handleAdvance)
	s.router.GET("/api/klines", s.handleKlines)
	s.router.GET("/api/reason-stats", s.handleReasonStats)
	s.router.GET("/api/agents/:id/reason-stats", s.handleAgentReasonStats)
	s.router.GET("/api/diagnostics/hyperliquid", s.handleFeedDiagnostics)
	s.router.GET("/metrics", metrics.Handler())

	s.router.POST("/api/v1/agents/register", s.handleRegisterAgent)
	s.router.GET("/claim/:token", s.handleClaimAgent)

	// Bearer-authenticated agent surface
	authed := s.router.Group("/api/v1", s.BearerAuthMiddleware())
	{
		authed.GET("/agents/status", s.handleAgentStatus)
		authed.GET("/agents/me", s.handleAgentMe)
		authed.POST("/judgments", s.handleSubmitJudgment)
	}
}
