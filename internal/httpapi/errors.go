package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"omnibot/internal/auth"
	"omnibot/internal/gateway"
	"omnibot/internal/storage"
)

var errBotNotFound = errors.New("bot not found")

// abortWithError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func (s *Server) abortWithError(c *gin.Context, err error) {
	var qe *gateway.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": qe.Error(), "limit": qe.Limit})
	case errors.Is(err, auth.ErrUnauthorized):
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Could not validate credentials"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials"})
	case errors.Is(err, auth.ErrEmailTaken):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Email already registered"})
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidCode):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, gateway.ErrBotNotFound), errors.Is(err, errBotNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Bot not found"})
	case errors.Is(err, storage.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Not found"})
	case errors.Is(err, storage.ErrConflict):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Already exists"})
	default:
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	}
}
