// Package service implements the session manager: the only writer of session
// state. It owns the concurrency-limit and eviction policy and reacts to
// account-level security events.
package service

import (
	"context"
	"errors"
	"fmt"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/clock"
	"auth-session-core/internal/event"
	eventdomain "auth-session-core/internal/event/domain"
	"auth-session-core/internal/security"
	"auth-session-core/internal/session/domain"
	"auth-session-core/internal/session/repository"
	"auth-session-core/internal/syncutil"
	"auth-session-core/internal/token"
	"auth-session-core/internal/userdir"
)

// SecurityEventKind names the account-level events the manager reacts to.
type SecurityEventKind string

const (
	// KindPasswordChange invalidates every session except the current one.
	KindPasswordChange SecurityEventKind = "PASSWORD_CHANGE"
	// KindAccountLocked invalidates all sessions.
	KindAccountLocked SecurityEventKind = "ACCOUNT_LOCKED"
	// KindAdminAction invalidates a named session, or all when none is named.
	KindAdminAction SecurityEventKind = "ADMIN_ACTION"
	// KindSuspiciousLogin is log-only unless invalidate-on-suspicious is set.
	KindSuspiciousLogin SecurityEventKind = "SUSPICIOUS_LOGIN"
)

// CreateResult is everything a successful session creation hands back to the
// transport layer: the record, the token pair, and the raw anti-forgery token
// (only its hash is stored).
type CreateResult struct {
	Session          *domain.Session
	Tokens           *token.Pair
	AntiForgeryToken string
}

// Manager owns session records. All writes to a single user's session set
// happen under that user's keyed mutex, never a global one.
type Manager struct {
	repo              repository.Repository
	tokens            *token.Service
	recorder          *event.Recorder
	dir               userdir.Directory
	hasher            *security.TokenHasher
	clk               clock.Clock
	userLocks         *syncutil.KeyedMutex
	maxSessions       int
	invalidateSuspect bool
}

// NewManager returns a session Manager. maxSessions must be >= 1 (config
// validates this); invalidateSuspect is the SUSPICIOUS_LOGIN policy toggle.
func NewManager(
	repo repository.Repository,
	tokens *token.Service,
	recorder *event.Recorder,
	dir userdir.Directory,
	hasher *security.TokenHasher,
	clk clock.Clock,
	maxSessions int,
	invalidateSuspect bool,
) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		repo:              repo,
		tokens:            tokens,
		recorder:          recorder,
		dir:               dir,
		hasher:            hasher,
		clk:               clk,
		userLocks:         syncutil.NewKeyedMutex(),
		maxSessions:       maxSessions,
		invalidateSuspect: invalidateSuspect,
	}
}

// CreateSession authenticates nothing: the caller has already gated the login.
// It verifies the subject exists, issues a token pair, enforces the
// concurrent-session cap by evicting the least-recently-active session, and
// inserts the new record. Count-evict-insert runs under the user's mutex so a
// concurrent create for the same user cannot overshoot the cap.
func (m *Manager) CreateSession(ctx context.Context, userID, rawAgent, ip string) (*CreateResult, error) {
	exists, err := m.dir.UserExists(ctx, userID)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "user_lookup", err, eventdomain.Context{UserID: userID, IP: ip})
		return nil, autherr.ErrInternal
	}
	if !exists {
		return nil, autherr.ErrUserNotFound
	}
	role, err := m.dir.GetRole(ctx, userID)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "role_lookup", err, eventdomain.Context{UserID: userID, IP: ip})
		return nil, autherr.ErrInternal
	}

	unlock := m.userLocks.Lock(userID)
	defer unlock()

	pair, err := m.tokens.Issue(ctx, userID, string(role))
	if err != nil {
		return nil, err
	}
	antiForgery, antiForgeryHash, err := security.NewAntiForgeryToken(m.hasher)
	if err != nil {
		return nil, err
	}

	active, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_list", err, eventdomain.Context{UserID: userID, IP: ip})
		return nil, autherr.ErrInternal
	}
	// ListActiveByUser orders by last activity, oldest first.
	for i := 0; len(active)-i >= m.maxSessions; i++ {
		if err := m.evict(ctx, active[i]); err != nil {
			return nil, err
		}
	}

	now := m.clk.Now()
	s := &domain.Session{
		ID:               pair.RefreshJTI,
		UserID:           userID,
		Device:           domain.ParseDevice(rawAgent),
		IPAddress:        ip,
		IssuedAt:         now,
		ExpiresAt:        pair.RefreshExpiresAt,
		LastActivity:     now,
		Active:           true,
		AccessJTI:        pair.AccessJTI,
		RefreshTokenHash: m.hasher.Hash(pair.RefreshToken),
		AntiForgeryHash:  antiForgeryHash,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_create", err, eventdomain.Context{UserID: userID, IP: ip})
		return nil, autherr.ErrInternal
	}
	m.recorder.Record(ctx, eventdomain.TypeSessionCreated, "create_session", true, eventdomain.Context{
		UserID: userID,
		IP:     ip,
		Metadata: map[string]string{
			"session_id": s.ID,
			"platform":   s.Device.Platform,
			"browser":    s.Device.Browser,
		},
	})
	return &CreateResult{Session: s, Tokens: pair, AntiForgeryToken: antiForgery}, nil
}

// evict retires one session to make room, revoking its tokens first so the
// evicted refresh token fails verification immediately.
func (m *Manager) evict(ctx context.Context, s *domain.Session) error {
	if err := m.revokeSessionTokens(ctx, s); err != nil {
		return err
	}
	if err := m.repo.MarkInactive(ctx, s.ID); err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_evict", err, eventdomain.Context{UserID: s.UserID})
		return autherr.ErrInternal
	}
	m.recorder.Record(ctx, eventdomain.TypeSessionEvicted, "evict_lru_session", true, eventdomain.Context{
		UserID:   s.UserID,
		Metadata: map[string]string{"session_id": s.ID},
	})
	return nil
}

func (m *Manager) revokeSessionTokens(ctx context.Context, s *domain.Session) error {
	// The refresh jti is the session id and lives until the session expiry.
	if err := m.tokens.Revoke(ctx, s.ID, s.ExpiresAt); err != nil {
		return err
	}
	// The access token's exact expiry is not stored; the configured access TTL
	// from now is an upper bound on its remaining life.
	if s.AccessJTI != "" {
		if err := m.tokens.Revoke(ctx, s.AccessJTI, m.clk.Now().Add(m.tokens.AccessTTL())); err != nil {
			return err
		}
	}
	return nil
}

// InspectToken parses raw without consulting revocation, for attributing a
// rejected token to its subject in event context. Never a substitute for
// ValidateSession on a request path.
func (m *Manager) InspectToken(raw string) (*security.Claims, error) {
	return m.tokens.Inspect(raw)
}

// ValidateSession verifies the access token, resolves its session, and
// touches last-activity. Fails with the token errors, ErrSessionNotFound, or
// ErrSessionExpired.
func (m *Manager) ValidateSession(ctx context.Context, rawAccess string) (*domain.Session, error) {
	claims, err := m.tokens.Verify(ctx, rawAccess)
	if err != nil {
		return nil, err
	}
	if claims.Type != security.TokenTypeAccess {
		return nil, autherr.ErrTokenInvalid
	}
	s, err := m.repo.GetByAccessJTI(ctx, claims.JTI)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_lookup", err, eventdomain.Context{UserID: claims.Subject})
		return nil, autherr.ErrInternal
	}
	if s == nil {
		return nil, autherr.ErrSessionNotFound
	}
	now := m.clk.Now()
	if !s.Live(now) {
		return nil, autherr.ErrSessionExpired
	}
	// Best-effort: a failed touch must not fail the request.
	if err := m.repo.UpdateLastActivity(ctx, s.ID, now); err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_touch", err, eventdomain.Context{UserID: s.UserID})
	} else {
		s.LastActivity = now
	}
	return s, nil
}

// RotateSession rotates the refresh token and rebinds the session to the new
// pair. A replayed (already-rotated) refresh token fails with ErrTokenRevoked,
// is recorded as token replay, and defensively invalidates all of the
// subject's sessions.
func (m *Manager) RotateSession(ctx context.Context, rawRefresh string) (*CreateResult, error) {
	claims, err := m.tokens.Verify(ctx, rawRefresh)
	if err != nil {
		if errors.Is(err, autherr.ErrTokenRevoked) {
			m.flagReplay(ctx, rawRefresh)
		}
		return nil, err
	}
	if claims.Type != security.TokenTypeRefresh {
		return nil, autherr.ErrTokenInvalid
	}

	unlock := m.userLocks.Lock(claims.Subject)
	defer unlock()

	s, err := m.repo.GetByID(ctx, claims.JTI)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_lookup", err, eventdomain.Context{UserID: claims.Subject})
		return nil, autherr.ErrInternal
	}
	if s == nil {
		return nil, autherr.ErrSessionNotFound
	}
	now := m.clk.Now()
	if !s.Live(now) {
		return nil, autherr.ErrSessionExpired
	}
	if s.RefreshTokenHash != "" && !m.hasher.Equal(rawRefresh, s.RefreshTokenHash) {
		return nil, autherr.ErrTokenInvalid
	}

	pair, _, err := m.tokens.Rotate(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	newHash := m.hasher.Hash(pair.RefreshToken)
	if err := m.repo.Rekey(ctx, s.ID, pair.RefreshJTI, pair.AccessJTI, newHash, pair.RefreshExpiresAt, now); err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_rekey", err, eventdomain.Context{UserID: s.UserID})
		return nil, autherr.ErrInternal
	}
	s.ID = pair.RefreshJTI
	s.AccessJTI = pair.AccessJTI
	s.RefreshTokenHash = newHash
	s.ExpiresAt = pair.RefreshExpiresAt
	s.LastActivity = now
	return &CreateResult{Session: s, Tokens: pair}, nil
}

// flagReplay attributes a replayed refresh token and revokes the subject's
// whole session set: someone other than the legitimate holder has used it.
func (m *Manager) flagReplay(ctx context.Context, rawRefresh string) {
	claims, err := m.tokens.Inspect(rawRefresh)
	if err != nil {
		return
	}
	m.recorder.Record(ctx, eventdomain.TypeTokenReplay, "refresh_replay", false, eventdomain.Context{
		UserID:   claims.Subject,
		Metadata: map[string]string{"jti": claims.JTI},
	})
	if err := m.InvalidateAllUserSessions(ctx, claims.Subject, ""); err != nil {
		m.recorder.RecordInternalFailure(ctx, "replay_invalidate_all", err, eventdomain.Context{UserID: claims.Subject})
	}
}

// InvalidateSession revokes the session's tokens and marks it inactive.
// A missing or already-inactive session is a no-op, not an error.
func (m *Manager) InvalidateSession(ctx context.Context, sessionID string) error {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_lookup", err, eventdomain.Context{})
		return autherr.ErrInternal
	}
	if s == nil || !s.Active {
		return nil
	}

	unlock := m.userLocks.Lock(s.UserID)
	defer unlock()

	if err := m.revokeSessionTokens(ctx, s); err != nil {
		return err
	}
	if err := m.repo.MarkInactive(ctx, s.ID); err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_invalidate", err, eventdomain.Context{UserID: s.UserID})
		return autherr.ErrInternal
	}
	m.recorder.Record(ctx, eventdomain.TypeSessionInvalidated, "invalidate_session", true, eventdomain.Context{
		UserID:   s.UserID,
		Metadata: map[string]string{"session_id": s.ID},
	})
	return nil
}

// InvalidateAllUserSessions bulk-invalidates the user's active sessions,
// optionally sparing exceptSessionID (e.g. the session that changed the
// password).
func (m *Manager) InvalidateAllUserSessions(ctx context.Context, userID, exceptSessionID string) error {
	unlock := m.userLocks.Lock(userID)
	defer unlock()

	active, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		m.recorder.RecordInternalFailure(ctx, "session_list", err, eventdomain.Context{UserID: userID})
		return autherr.ErrInternal
	}
	for _, s := range active {
		if s.ID == exceptSessionID {
			continue
		}
		if err := m.revokeSessionTokens(ctx, s); err != nil {
			return err
		}
		if err := m.repo.MarkInactive(ctx, s.ID); err != nil {
			m.recorder.RecordInternalFailure(ctx, "session_invalidate", err, eventdomain.Context{UserID: userID})
			return autherr.ErrInternal
		}
	}
	m.recorder.Record(ctx, eventdomain.TypeSessionInvalidated, "invalidate_all_sessions", true, eventdomain.Context{
		UserID:   userID,
		Metadata: map[string]string{"except": exceptSessionID},
	})
	return nil
}

// ListActiveSessions returns the user's live sessions for the read API.
func (m *Manager) ListActiveSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	active, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, autherr.ErrInternal
	}
	return active, nil
}

// HandleSecurityEvent applies the per-kind session reaction. currentSessionID
// names the acting session: spared on PASSWORD_CHANGE, targeted on
// ADMIN_ACTION (empty targets all).
func (m *Manager) HandleSecurityEvent(ctx context.Context, userID string, kind SecurityEventKind, currentSessionID string) error {
	switch kind {
	case KindPasswordChange:
		m.recorder.Record(ctx, eventdomain.TypePasswordChange, "password_change", true, eventdomain.Context{UserID: userID})
		return m.InvalidateAllUserSessions(ctx, userID, currentSessionID)
	case KindAccountLocked:
		return m.InvalidateAllUserSessions(ctx, userID, "")
	case KindAdminAction:
		m.recorder.Record(ctx, eventdomain.TypeAdminAction, "admin_session_action", true, eventdomain.Context{
			UserID:   userID,
			Metadata: map[string]string{"session_id": currentSessionID},
		})
		if currentSessionID != "" {
			return m.InvalidateSession(ctx, currentSessionID)
		}
		return m.InvalidateAllUserSessions(ctx, userID, "")
	case KindSuspiciousLogin:
		m.recorder.Record(ctx, eventdomain.TypeSuspiciousActivity, "suspicious_login", false, eventdomain.Context{UserID: userID})
		if m.invalidateSuspect {
			return m.InvalidateAllUserSessions(ctx, userID, "")
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown security event kind %q", autherr.ErrValidation, kind)
	}
}

// CleanupExpiredSessions batch-deletes sessions past expiry. It touches only
// rows every request path already rejects, so it is safe to run concurrently
// with request handling.
func (m *Manager) CleanupExpiredSessions(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var total int64
	for {
		n, err := m.repo.DeleteExpiredBefore(ctx, m.clk.Now(), batchSize)
		if err != nil {
			return total, fmt.Errorf("%w: cleanup: %v", autherr.ErrInternal, err)
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}
