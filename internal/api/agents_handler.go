package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/predictarena/predictarena/internal/auth"
	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/validation"
)

type registerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleRegisterAgent self-registers a new agent. The agent stays
// pending_claim until a human opens the claim URL.
func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	v := validation.NewValidator()
	req.Name = strings.TrimSpace(req.Name)
	v.LengthBetween("name", req.Name, 1, 64)

	id := auth.Slugify(req.Name)
	if id == "" {
		v.AddError("name", "must contain at least one letter or digit")
	}
	if v.HasErrors() {
		respondError(c, v.Errors())
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		respondError(c, err)
		return
	}
	claimToken, err := auth.GenerateClaimToken()
	if err != nil {
		respondError(c, err)
		return
	}
	code, err := auth.GenerateVerificationCode()
	if err != nil {
		respondError(c, err)
		return
	}

	agent := &db.Agent{
		ID:               id,
		Name:             req.Name,
		Persona:          req.Description,
		Status:           db.AgentStatusPendingClaim,
		Secret:           apiKey,
		ClaimToken:       claimToken,
		VerificationCode: code,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.db.InsertAgent(c.Request.Context(), agent); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"id":                agent.ID,
		"name":              agent.Name,
		"status":            agent.Status,
		"api_key":           apiKey,
		"claim_url":         s.claimURL(c, claimToken),
		"verification_code": code,
	})
}

func (s *Server) claimURL(c *gin.Context, token string) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/claim/%s", scheme, c.Request.Host, token)
}

// handleClaimAgent activates a pending agent. Revisiting the link after
// activation returns the same success response.
func (s *Server) handleClaimAgent(c *gin.Context) {
	agent, err := s.db.ClaimAgent(c.Request.Context(), c.Param("token"), time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"id":     agent.ID,
		"name":   agent.Name,
		"status": agent.Status,
	})
}

// handleAgentStatus returns the authenticated agent's tournament standing.
func (s *Server) handleAgentStatus(c *gin.Context) {
	agent := currentAgent(c)

	events, err := s.db.ListRecentScoreEventsByAgent(c.Request.Context(), agent.ID, 5)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                  true,
		"id":                  agent.ID,
		"name":                agent.Name,
		"status":              agent.Status,
		"score":               agent.Score,
		"recent_score_events": events,
	})
}

// handleAgentMe returns the authenticated agent's profile.
func (s *Server) handleAgentMe(c *gin.Context) {
	agent := currentAgent(c)
	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"agent": agent,
	})
}
