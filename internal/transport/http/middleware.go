package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"auth-session-core/internal/autherr"
	eventdomain "auth-session-core/internal/event/domain"
	"auth-session-core/internal/ratelimit"
	"auth-session-core/internal/security"
	"auth-session-core/internal/userdir"
)

const (
	sessionKey        = "auth.session"
	antiForgeryHeader = "X-Anti-Forgery-Token"
)

// rateLimitMiddleware gates every /auth request by client IP before any
// authentication work happens.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ratelimit.IPKey(c.ClientIP())
		d, err := s.core.RateLimitGate(c.Request.Context(), key, eventdomain.Context{IP: c.ClientIP()})
		if err != nil {
			if errors.Is(err, autherr.ErrRateLimitExceeded) {
				c.Header("Retry-After", retryAfter(d.ResetAt))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
				return
			}
			s.fail(c, err)
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		c.Next()
	}
}

// authMiddleware resolves the bearer access token to a live session and
// stores it on the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer_token_required"})
			return
		}
		sess, err := s.core.Authenticate(c.Request.Context(), raw)
		if err != nil {
			if autherr.Expected(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			s.fail(c, err)
			c.Abort()
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// antiForgeryMiddleware enforces the double-submit check on state-changing
// requests: the header token must hash to the value stored on the session.
func (s *Server) antiForgeryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFrom(c)
		submitted := c.GetHeader(antiForgeryHeader)
		if !security.VerifyAntiForgeryToken(s.hasher, submitted, sess.AntiForgeryHash) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "anti_forgery_token_invalid"})
			return
		}
		c.Next()
	}
}

// requireAdmin allows only callers whose directory role is admin.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFrom(c)
		role, err := s.dir.GetRole(c.Request.Context(), sess.UserID)
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		if role != userdir.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
