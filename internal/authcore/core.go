// Package authcore is the composition root of the auth core: it orchestrates
// the rate limiter, the lockout state machine, the token service, and the
// session manager for a single authenticate-or-login call, and records every
// rejection as a security event.
package authcore

import (
	"context"
	"errors"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/event"
	eventdomain "auth-session-core/internal/event/domain"
	"auth-session-core/internal/lockout"
	"auth-session-core/internal/ratelimit"
	"auth-session-core/internal/session/domain"
	"auth-session-core/internal/session/service"
)

// Core exposes the operations the request-handling layer calls. The password
// comparison itself is external; Login only gates and records its outcome.
type Core struct {
	sessions *service.Manager
	lockouts *lockout.Service
	limiter  *ratelimit.Limiter
	recorder *event.Recorder
	observer *Observer

	// exposeLockout decides whether a locked account is reported as
	// AccountLocked or masked as a generic credential failure. Revealing the
	// state confirms the account exists; masking it hides when the lock lifts.
	exposeLockout bool
}

// New returns the composition root. observer may be nil for bare wiring.
func New(
	sessions *service.Manager,
	lockouts *lockout.Service,
	limiter *ratelimit.Limiter,
	recorder *event.Recorder,
	observer *Observer,
	exposeLockout bool,
) *Core {
	if observer == nil {
		observer = NewObserver(nil, nil, nil)
	}
	return &Core{
		sessions:      sessions,
		lockouts:      lockouts,
		limiter:       limiter,
		recorder:      recorder,
		observer:      observer,
		exposeLockout: exposeLockout,
	}
}

// RateLimitGate checks key against the limiter. Callable standalone, before
// any authentication work. A denial records the violation and the event and
// returns ErrRateLimitExceeded alongside the decision.
func (c *Core) RateLimitGate(ctx context.Context, key string, evctx eventdomain.Context) (ratelimit.Decision, error) {
	var d ratelimit.Decision
	out := c.observer.Observe(ctx, "rate_limit_gate", func(ctx context.Context) error {
		var err error
		d, err = c.limiter.Check(ctx, key)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}
		if err := c.limiter.RecordViolation(ctx, key, evctx); err != nil {
			return err
		}
		c.recorder.Record(ctx, eventdomain.TypeRateLimitExceeded, "rate_limit_gate", false, eventdomain.Context{
			UserID:    evctx.UserID,
			IP:        evctx.IP,
			RequestID: evctx.RequestID,
			Metadata:  map[string]string{"key": key},
		})
		return autherr.ErrRateLimitExceeded
	})
	return d, out.Err
}

// CredentialVerifier performs the deferred password comparison for one login
// attempt. Login invokes it only after the lockout gate passes, so locked
// accounts never pay a hash comparison.
type CredentialVerifier func(ctx context.Context) (bool, error)

// Login gates one authentication attempt. A blank userID means the username
// did not resolve; that rejection is recorded like any other. For a resolved
// user the lock state is consulted first and verify runs only when the
// account is open, so attempts against a locked account neither move the
// failure counter nor reveal whether the password was right.
func (c *Core) Login(ctx context.Context, userID string, verify CredentialVerifier, rawAgent, ip string) (*service.CreateResult, error) {
	var res *service.CreateResult
	out := c.observer.Observe(ctx, "login", func(ctx context.Context) error {
		evctx := eventdomain.Context{UserID: userID, IP: ip}

		if userID == "" {
			c.recorder.Record(ctx, eventdomain.TypeLoginFailure, "login", false, withReason(eventdomain.Context{IP: ip}, "unknown_user"))
			return autherr.ErrUserNotFound
		}

		st, err := c.lockouts.CheckStatus(ctx, userID)
		if err != nil {
			return err
		}
		if st.Locked {
			c.recorder.Record(ctx, eventdomain.TypeLoginFailure, "login", false, withReason(evctx, "account_locked"))
			return c.lockoutErr()
		}

		credentialsOK, err := verify(ctx)
		if err != nil {
			c.recorder.RecordInternalFailure(ctx, "credential_check", err, evctx)
			return autherr.ErrInternal
		}
		if !credentialsOK {
			_, err := c.lockouts.RecordFailure(ctx, userID, evctx)
			c.recorder.Record(ctx, eventdomain.TypeLoginFailure, "login", false, withReason(evctx, "bad_credentials"))
			if errors.Is(err, autherr.ErrAccountLocked) {
				return c.lockoutErr()
			}
			if err != nil {
				return err
			}
			return autherr.ErrValidation
		}

		res, err = c.sessions.CreateSession(ctx, userID, rawAgent, ip)
		if err != nil {
			c.recorder.Record(ctx, eventdomain.TypeLoginFailure, "login", false, withReason(evctx, outcomeLabel(err)))
			return err
		}
		if err := c.lockouts.RecordSuccess(ctx, userID); err != nil {
			// Counter reset failed; the login itself stands.
			c.recorder.RecordInternalFailure(ctx, "lockout_reset", err, evctx)
		}
		c.recorder.Record(ctx, eventdomain.TypeLoginSuccess, "login", true, eventdomain.Context{
			UserID:   userID,
			IP:       ip,
			Metadata: map[string]string{"session_id": res.Session.ID},
		})
		return nil
	})
	if out.Err != nil {
		return nil, out.Err
	}
	return res, nil
}

// Authenticate verifies a bearer access token and resolves its live session.
// Every rejection is recorded; a revoked token is recorded at elevated
// severity since it may be an active attack.
func (c *Core) Authenticate(ctx context.Context, rawAccess string) (*domain.Session, error) {
	var s *domain.Session
	out := c.observer.Observe(ctx, "authenticate", func(ctx context.Context) error {
		var err error
		s, err = c.sessions.ValidateSession(ctx, rawAccess)
		if err == nil {
			return nil
		}
		typ := eventdomain.TypeLoginFailure
		if errors.Is(err, autherr.ErrTokenRevoked) {
			typ = eventdomain.TypeTokenRevoked
		}
		evctx := eventdomain.Context{}
		// A token that parses but was rejected still names its subject.
		if claims, ierr := c.sessions.InspectToken(rawAccess); ierr == nil {
			evctx.UserID = claims.Subject
		}
		c.recorder.Record(ctx, typ, "authenticate", false, withReason(evctx, outcomeLabel(err)))
		return err
	})
	if out.Err != nil {
		return nil, out.Err
	}
	return s, nil
}

// Refresh rotates a refresh token and rebinds its session. Replay detection
// and its defensive invalidation live in the session manager.
func (c *Core) Refresh(ctx context.Context, rawRefresh string) (*service.CreateResult, error) {
	var res *service.CreateResult
	out := c.observer.Observe(ctx, "refresh", func(ctx context.Context) error {
		var err error
		res, err = c.sessions.RotateSession(ctx, rawRefresh)
		return err
	})
	if out.Err != nil {
		return nil, out.Err
	}
	return res, nil
}

// Logout invalidates one session; already-gone sessions are a no-op.
func (c *Core) Logout(ctx context.Context, sessionID string) error {
	out := c.observer.Observe(ctx, "logout", func(ctx context.Context) error {
		return c.sessions.InvalidateSession(ctx, sessionID)
	})
	return out.Err
}

// LogoutAll invalidates every session of userID except exceptSessionID
// (empty means all of them).
func (c *Core) LogoutAll(ctx context.Context, userID, exceptSessionID string) error {
	out := c.observer.Observe(ctx, "logout_all", func(ctx context.Context) error {
		return c.sessions.InvalidateAllUserSessions(ctx, userID, exceptSessionID)
	})
	return out.Err
}

// Sessions lists the user's live sessions for the read API.
func (c *Core) Sessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	var out []*domain.Session
	o := c.observer.Observe(ctx, "list_sessions", func(ctx context.Context) error {
		var err error
		out, err = c.sessions.ListActiveSessions(ctx, userID)
		return err
	})
	if o.Err != nil {
		return nil, o.Err
	}
	return out, nil
}

// UnlockAccount lifts a lockout on an admin's behalf.
func (c *Core) UnlockAccount(ctx context.Context, userID, adminID string) error {
	out := c.observer.Observe(ctx, "unlock_account", func(ctx context.Context) error {
		return c.lockouts.ManualUnlock(ctx, userID, adminID)
	})
	return out.Err
}

// lockoutErr is the client-facing error for a locked account, masked as a
// generic credential failure when lockout state is not exposed.
func (c *Core) lockoutErr() error {
	if c.exposeLockout {
		return autherr.ErrAccountLocked
	}
	return autherr.ErrValidation
}

func withReason(evctx eventdomain.Context, reason string) eventdomain.Context {
	out := evctx
	out.Metadata = map[string]string{"reason": reason}
	for k, v := range evctx.Metadata {
		out.Metadata[k] = v
	}
	return out
}
