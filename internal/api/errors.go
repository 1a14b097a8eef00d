package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/pricefeed"
	"github.com/predictarena/predictarena/internal/reason"
	"github.com/predictarena/predictarena/internal/round"
	"github.com/predictarena/predictarena/internal/validation"
)

// respondError maps domain errors onto HTTP statuses. Validation failures
// carry their field errors; everything unrecognized is a 500.
func respondError(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": verrs})
		return
	}

	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, db.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, round.ErrRoundNotBetting),
		errors.Is(err, round.ErrRoundLocked),
		errors.Is(err, reason.ErrInsufficientHistory),
		errors.Is(err, reason.ErrMisaligned):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, pricefeed.ErrNoSample),
		errors.Is(err, round.ErrNoPrice):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled API error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
