package api

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/predictarena/predictarena/internal/auth"
	"github.com/predictarena/predictarena/internal/db"
)

const agentContextKey = "agent"

// BearerAuthMiddleware authenticates requests by exact API key match against
// the agent's secret. Inactive agents are rejected even with a valid key.
func (s *Server) BearerAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			c.Abort()
			return
		}
		key := strings.TrimPrefix(authHeader, "Bearer ")
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			c.Abort()
			return
		}

		agent, err := s.db.GetAgentBySecret(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			} else {
				log.Error().Err(err).Msg("Auth: failed to look up API key")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication error"})
			}
			c.Abort()
			return
		}

		if agent.Status != db.AgentStatusActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "agent is not active; complete the claim flow first"})
			c.Abort()
			return
		}

		// Signed requests are opt-in: when the header is present the
		// timestamp and HMAC must both check out.
		if sig := c.GetHeader("X-Signature"); sig != "" {
			if err := s.verifySignedRequest(c, agent.Secret, sig); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				c.Abort()
				return
			}
		}

		c.Set(agentContextKey, agent)
		c.Next()
	}
}

func (s *Server) verifySignedRequest(c *gin.Context, secret, sig string) error {
	ts, err := strconv.ParseInt(c.GetHeader("X-Ts"), 10, 64)
	if err != nil {
		return errors.New("invalid X-Ts header")
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			return errors.New("failed to read request body")
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}

	window := time.Duration(s.cfg.Auth.SignatureWindowSec) * time.Second
	return auth.VerifySignature(secret, sig, ts, c.Request.Method, c.Request.URL.Path, string(body), time.Now(), window)
}

// AdminAuthMiddleware guards operational endpoints. With no token configured
// the endpoint stays open, which is the development default.
func (s *Server) AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.cfg.Auth.AdminAPIToken
		if token == "" {
			c.Next()
			return
		}

		provided := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentAgent returns the authenticated agent set by the auth middleware.
func currentAgent(c *gin.Context) *db.Agent {
	v, ok := c.Get(agentContextKey)
	if !ok {
		return nil
	}
	agent, _ := v.(*db.Agent)
	return agent
}
