// Package lockout tracks failed-authentication counters and lock state per
// account. An account is Unlocked or Locked and always returns to Unlocked:
// lazily when the lock expires, or explicitly via admin unlock.
package lockout

import (
	"context"
	"strconv"
	"time"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/clock"
	"auth-session-core/internal/event"
	eventdomain "auth-session-core/internal/event/domain"
	"auth-session-core/internal/lockout/repository"
)

// EscalationFunc maps the number of prior lockouts to the duration of the
// next one. It is policy, supplied by the caller.
type EscalationFunc func(priorLockouts int) time.Duration

// DefaultEscalation doubles the base duration per prior lockout, capped at
// maxDuration. DefaultEscalation(15m, 24h) gives 15m, 30m, 1h, ... 24h.
func DefaultEscalation(base, maxDuration time.Duration) EscalationFunc {
	return func(priorLockouts int) time.Duration {
		d := base
		for i := 0; i < priorLockouts; i++ {
			d *= 2
			if d >= maxDuration {
				return maxDuration
			}
		}
		return d
	}
}

// Status is the answer to "may this user attempt to authenticate".
type Status struct {
	Locked      bool
	LockedUntil time.Time // zero when unlocked
	FailedCount int
	Remaining   int // failures left before the account locks
}

// SessionInvalidator is the session-manager hook invoked when an account
// locks: every live session of the locked account is taken down.
type SessionInvalidator interface {
	InvalidateAllUserSessions(ctx context.Context, userID, exceptSessionID string) error
}

// Service is the lockout state machine. The increment-and-compare in
// RecordFailure is atomic at the store, so two concurrent failures cannot
// both observe count = threshold-1 and leave the account unlocked.
type Service struct {
	repo        repository.Repository
	recorder    *event.Recorder
	sessions    SessionInvalidator
	clk         clock.Clock
	maxAttempts int
	window      time.Duration
	escalate    EscalationFunc
}

// NewService returns a lockout Service. sessions may be nil when no session
// store is wired (tokens alone are then the only thing a lock gates).
func NewService(
	repo repository.Repository,
	recorder *event.Recorder,
	sessions SessionInvalidator,
	clk clock.Clock,
	maxAttempts int,
	window time.Duration,
	escalate EscalationFunc,
) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		repo:        repo,
		recorder:    recorder,
		sessions:    sessions,
		clk:         clk,
		maxAttempts: maxAttempts,
		window:      window,
		escalate:    escalate,
	}
}

// CheckStatus reports the user's lock state. An expired lock transitions back
// to Unlocked here (lazy expiry, no per-account timers); the transition is
// persisted best-effort so the next read is cheap.
func (s *Service) CheckStatus(ctx context.Context, userID string) (*Status, error) {
	rec, err := s.repo.Get(ctx, userID)
	if err != nil {
		s.recorder.RecordInternalFailure(ctx, "lockout_get", err, eventdomain.Context{UserID: userID})
		return nil, autherr.ErrInternal
	}
	now := s.clk.Now()
	if rec == nil {
		return &Status{Remaining: s.maxAttempts}, nil
	}
	if rec.Locked(now) {
		return &Status{Locked: true, LockedUntil: *rec.LockedUntil}, nil
	}
	if rec.LockedUntil != nil {
		// Lock has expired: fold the record back to Unlocked.
		if err := s.repo.Unlock(ctx, userID, now); err != nil {
			s.recorder.RecordInternalFailure(ctx, "lockout_lazy_unlock", err, eventdomain.Context{UserID: userID})
		}
		s.recorder.Record(ctx, eventdomain.TypeAccountUnlocked, "lockout_expired", true, eventdomain.Context{UserID: userID})
		return &Status{Remaining: s.maxAttempts}, nil
	}
	failed := rec.FailedCount
	if rec.WindowExpired(now, s.window) {
		failed = 0
	}
	return &Status{FailedCount: failed, Remaining: s.maxAttempts - failed}, nil
}

// RecordFailure counts one failed attempt. A failure while locked is rejected
// with ErrAccountLocked and does not touch the counter; callers must check
// status before comparing credentials, so this is a backstop. Reaching
// maxAttempts locks the account for escalate(priorLockouts), emits an
// ACCOUNT_LOCKED event, and invalidates the account's sessions.
func (s *Service) RecordFailure(ctx context.Context, userID string, evctx eventdomain.Context) (*Status, error) {
	st, err := s.CheckStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.Locked {
		return st, autherr.ErrAccountLocked
	}

	now := s.clk.Now()
	rec, err := s.repo.IncrementFailure(ctx, userID, now, now.Add(-s.window))
	if err != nil {
		s.recorder.RecordInternalFailure(ctx, "lockout_increment", err, eventdomain.Context{UserID: userID})
		return nil, autherr.ErrInternal
	}
	if rec.FailedCount < s.maxAttempts {
		return &Status{FailedCount: rec.FailedCount, Remaining: s.maxAttempts - rec.FailedCount}, nil
	}

	until := now.Add(s.escalate(rec.LockoutCount))
	applied, err := s.repo.SetLocked(ctx, userID, until, now)
	if err != nil {
		s.recorder.RecordInternalFailure(ctx, "lockout_set", err, eventdomain.Context{UserID: userID})
		return nil, autherr.ErrInternal
	}
	if !applied {
		// A concurrent failure locked the account first; its event and
		// session sweep stand.
		return &Status{Locked: true, LockedUntil: until}, autherr.ErrAccountLocked
	}
	s.recorder.Record(ctx, eventdomain.TypeAccountLocked, "lockout_threshold", false, eventdomain.Context{
		UserID:    userID,
		IP:        evctx.IP,
		RequestID: evctx.RequestID,
		Metadata: map[string]string{
			"failed_count": strconv.Itoa(rec.FailedCount),
			"locked_until": until.UTC().Format(time.RFC3339),
		},
	})
	if s.sessions != nil {
		if err := s.sessions.InvalidateAllUserSessions(ctx, userID, ""); err != nil {
			s.recorder.RecordInternalFailure(ctx, "lockout_invalidate_sessions", err, eventdomain.Context{UserID: userID})
		}
	}
	return &Status{Locked: true, LockedUntil: until}, autherr.ErrAccountLocked
}

// RecordSuccess resets the counter and clears any lock after a successful
// authentication.
func (s *Service) RecordSuccess(ctx context.Context, userID string) error {
	if err := s.repo.Unlock(ctx, userID, s.clk.Now()); err != nil {
		s.recorder.RecordInternalFailure(ctx, "lockout_reset", err, eventdomain.Context{UserID: userID})
		return autherr.ErrInternal
	}
	return nil
}

// ManualUnlock lifts a lock unconditionally on an admin's behalf and records
// the action for audit.
func (s *Service) ManualUnlock(ctx context.Context, userID, adminID string) error {
	if err := s.repo.Unlock(ctx, userID, s.clk.Now()); err != nil {
		s.recorder.RecordInternalFailure(ctx, "lockout_manual_unlock", err, eventdomain.Context{UserID: userID})
		return autherr.ErrInternal
	}
	s.recorder.Record(ctx, eventdomain.TypeAccountUnlocked, "manual_unlock", true, eventdomain.Context{
		UserID:   userID,
		Metadata: map[string]string{"admin_id": adminID},
	})
	return nil
}
