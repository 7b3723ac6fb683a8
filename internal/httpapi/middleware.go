package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"omnibot/internal/storage"
)

const userKey = "omnibot.user"

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-Requested-With")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// accessLog writes one zerolog event per request and counts it by route.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		ev := s.log.Info()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
			return
		}
		u, err := s.auth.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func requireSuperadmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c).Role != storage.RoleSuperadmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Superadmin access required"})
			return
		}
		c.Next()
	}
}

// rateLimit caps chat requests per user per minute. Limiter errors fail open.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		u := currentUser(c)
		allowed, _, resetAt, err := s.limiter.Allow(c.Request.Context(), u.ID, s.now())
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", u.ID).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			s.metrics.RateLimited.Inc()
			retry := int(time.Until(resetAt).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Too many requests, slow down"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) storage.User {
	v, _ := c.Get(userKey)
	u, _ := v.(storage.User)
	return u
}

// bindJSON decodes the body and reports a 400 on failure; oversized bodies get 413.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
			return false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return false
	}
	return true
}
