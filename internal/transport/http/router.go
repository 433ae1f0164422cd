// Package httpapi is the HTTP surface of the auth core: login, refresh,
// logout, session listing, and the admin unlock, plus health and metrics.
// Refresh tokens travel only as an http-only cookie; access tokens as bearer
// credentials; state-changing requests additionally carry the per-session
// anti-forgery token (double-submit).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"auth-session-core/internal/authcore"
	"auth-session-core/internal/security"
	"auth-session-core/internal/userdir"
)

// Server wires the core into gin handlers.
type Server struct {
	core       *authcore.Core
	checker    CredentialChecker
	dir        userdir.Directory
	hasher     *security.TokenHasher
	log        *zap.Logger
	refreshTTL time.Duration
	secure     bool // Secure attribute on the refresh cookie; off for local dev
}

// NewServer returns the HTTP surface. refreshTTL caps the refresh cookie's
// lifetime and must match the token service's policy.
func NewServer(
	core *authcore.Core,
	checker CredentialChecker,
	dir userdir.Directory,
	hasher *security.TokenHasher,
	log *zap.Logger,
	refreshTTL time.Duration,
	secureCookies bool,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		core:       core,
		checker:    checker,
		dir:        dir,
		hasher:     hasher,
		log:        log,
		refreshTTL: refreshTTL,
		secure:     secureCookies,
	}
}

// Router builds the gin engine. reg may be nil to skip the metrics endpoint;
// readiness probes (database ping, Redis ping) feed /readyz for load
// balancers and Kubernetes.
func (s *Server) Router(reg *prometheus.Registry, readiness ...func(context.Context) error) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		for _, probe := range readiness {
			if err := probe(c.Request.Context()); err != nil {
				s.log.Warn("readiness probe failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	auth := r.Group("/auth")
	auth.Use(s.rateLimitMiddleware())
	{
		auth.POST("/login", s.handleLogin)
		auth.POST("/refresh", s.handleRefresh)

		authed := auth.Group("")
		authed.Use(s.authMiddleware())
		{
			authed.GET("/sessions", s.handleListSessions)

			mutating := authed.Group("")
			mutating.Use(s.antiForgeryMiddleware())
			{
				mutating.POST("/logout", s.handleLogout)
				mutating.POST("/logout-all", s.handleLogoutAll)

				admin := mutating.Group("")
				admin.Use(s.requireAdmin())
				{
					admin.POST("/unlock", s.handleUnlock)
				}
			}
		}
	}
	return r
}
