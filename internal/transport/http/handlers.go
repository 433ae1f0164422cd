package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/session/domain"
)

// CredentialChecker is the external password verifier. The core never sees a
// password; it gates and records the checker's verdicts. Resolution and
// comparison are separate so the lockout state is consulted in between and a
// locked account never pays a hash comparison.
type CredentialChecker interface {
	// Resolve maps a username to its user id; unknown usernames return "".
	Resolve(ctx context.Context, username string) (userID string, err error)
	// Compare verifies password against userID's stored credential.
	Compare(ctx context.Context, userID, password string) (bool, error)
}

const refreshCookie = "refresh_token"

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	AccessExpiresAt  string `json:"access_expires_at"`
	SessionID        string `json:"session_id"`
	AntiForgeryToken string `json:"anti_forgery_token,omitempty"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_and_password_required"})
		return
	}

	userID, err := s.checker.Resolve(c.Request.Context(), req.Username)
	if err != nil {
		s.log.Error("credential resolve failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	// An unresolved username flows through the core like any rejection, so
	// it is recorded; the comparison runs only once the lockout gate passes.
	res, err := s.core.Login(c.Request.Context(), userID, func(ctx context.Context) (bool, error) {
		return s.checker.Compare(ctx, userID, req.Password)
	}, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		s.rejectLogin(c, err)
		return
	}

	s.setRefreshCookie(c, res.Tokens.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:      res.Tokens.AccessToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt.UTC().Format(time.RFC3339),
		SessionID:        res.Session.ID,
		AntiForgeryToken: res.AntiForgeryToken,
	})
}

func (s *Server) rejectLogin(c *gin.Context, err error) {
	switch {
	case errors.Is(err, autherr.ErrAccountLocked):
		c.JSON(http.StatusLocked, gin.H{"error": "account_locked"})
	case errors.Is(err, autherr.ErrValidation),
		errors.Is(err, autherr.ErrUserNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	default:
		s.fail(c, err)
	}
}

func (s *Server) handleRefresh(c *gin.Context) {
	raw, err := c.Cookie(refreshCookie)
	if err != nil || raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh_token_required"})
		return
	}

	res, err := s.core.Refresh(c.Request.Context(), raw)
	if err != nil {
		if autherr.Expected(err) {
			s.clearRefreshCookie(c)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
			return
		}
		s.fail(c, err)
		return
	}

	s.setRefreshCookie(c, res.Tokens.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:     res.Tokens.AccessToken,
		AccessExpiresAt: res.Tokens.AccessExpiresAt.UTC().Format(time.RFC3339),
		SessionID:       res.Session.ID,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	sess := sessionFrom(c)
	if err := s.core.Logout(c.Request.Context(), sess.ID); err != nil {
		s.fail(c, err)
		return
	}
	s.clearRefreshCookie(c)
	c.Status(http.StatusNoContent)
}

type logoutAllRequest struct {
	KeepCurrent bool `json:"keep_current"`
}

func (s *Server) handleLogoutAll(c *gin.Context) {
	var req logoutAllRequest
	_ = c.ShouldBindJSON(&req) // empty body means all sessions, current included

	sess := sessionFrom(c)
	except := ""
	if req.KeepCurrent {
		except = sess.ID
	}
	if err := s.core.LogoutAll(c.Request.Context(), sess.UserID, except); err != nil {
		s.fail(c, err)
		return
	}
	if !req.KeepCurrent {
		s.clearRefreshCookie(c)
	}
	c.Status(http.StatusNoContent)
}

type sessionView struct {
	ID           string `json:"id"`
	Platform     string `json:"platform"`
	Browser      string `json:"browser"`
	IPAddress    string `json:"ip_address"`
	IssuedAt     string `json:"issued_at"`
	LastActivity string `json:"last_activity"`
	Current      bool   `json:"current"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	sess := sessionFrom(c)
	sessions, err := s.core.Sessions(c.Request.Context(), sess.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, x := range sessions {
		views = append(views, sessionView{
			ID:           x.ID,
			Platform:     x.Device.Platform,
			Browser:      x.Device.Browser,
			IPAddress:    x.IPAddress,
			IssuedAt:     x.IssuedAt.UTC().Format(time.RFC3339),
			LastActivity: x.LastActivity.UTC().Format(time.RFC3339),
			Current:      x.ID == sess.ID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

type unlockRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) handleUnlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id_required"})
		return
	}
	admin := sessionFrom(c)
	if err := s.core.UnlockAccount(c.Request.Context(), req.UserID, admin.UserID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps unexpected errors to a generic 500 without internal detail.
func (s *Server) fail(c *gin.Context, err error) {
	if autherr.Expected(err) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func (s *Server) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookie, token, int(s.refreshTTL/time.Second), "/auth", "", s.secure, true)
}

func (s *Server) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookie, "", -1, "/auth", "", s.secure, true)
}

func sessionFrom(c *gin.Context) *domain.Session {
	return c.MustGet(sessionKey).(*domain.Session)
}

func retryAfter(resetAt time.Time) string {
	secs := int(time.Until(resetAt) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
