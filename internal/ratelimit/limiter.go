package ratelimit

import (
	"context"
	"strconv"
	"time"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/event"
	eventdomain "auth-session-core/internal/event/domain"
)

// IPKey names a client address in the limiter's key space. Wiring that
// allow-lists raw addresses must map them through here so they match the
// keys the transport checks.
func IPKey(ip string) string { return "ip:" + ip }

// Decision is the answer to one rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies a fixed-window limit per key and tracks repeat violators.
type Limiter struct {
	store     Store
	recorder  *event.Recorder
	window    time.Duration
	max       int64
	threshold int64
	horizon   time.Duration
	allowlist map[string]struct{}
}

const defaultHorizon = time.Hour

// NewLimiter returns a Limiter allowing max requests per window per key.
// Keys collecting threshold violations within horizon are flagged suspicious;
// allowlist keys bypass the limiter entirely.
func NewLimiter(
	store Store,
	recorder *event.Recorder,
	window time.Duration,
	max int64,
	threshold int64,
	horizon time.Duration,
	allowlist []string,
) *Limiter {
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	al := make(map[string]struct{}, len(allowlist))
	for _, k := range allowlist {
		al[k] = struct{}{}
	}
	return &Limiter{
		store:     store,
		recorder:  recorder,
		window:    window,
		max:       max,
		threshold: threshold,
		horizon:   horizon,
		allowlist: al,
	}
}

// Check counts one request against key and decides it. Allow-listed keys
// short-circuit to allowed without consuming the window.
func (l *Limiter) Check(ctx context.Context, key string) (Decision, error) {
	if _, ok := l.allowlist[key]; ok {
		return Decision{Allowed: true, Remaining: l.max}, nil
	}
	count, resetAt, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		l.recorder.RecordInternalFailure(ctx, "ratelimit_incr", err, eventdomain.Context{Metadata: map[string]string{"key": key}})
		return Decision{}, autherr.ErrInternal
	}
	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= l.max, Remaining: remaining, ResetAt: resetAt}, nil
}

// RecordViolation counts one rejected request for key. Crossing the suspicion
// threshold inside the tracking horizon sets the sticky flag and records it;
// secondary friction (captcha and the like) is the caller's business.
func (l *Limiter) RecordViolation(ctx context.Context, key string, evctx eventdomain.Context) error {
	count, err := l.store.AddViolation(ctx, key, l.horizon)
	if err != nil {
		l.recorder.RecordInternalFailure(ctx, "ratelimit_violation", err, eventdomain.Context{Metadata: map[string]string{"key": key}})
		return autherr.ErrInternal
	}
	if count < l.threshold {
		return nil
	}
	already, err := l.store.IsSuspicious(ctx, key)
	if err != nil {
		return autherr.ErrInternal
	}
	if already {
		return nil
	}
	if err := l.store.MarkSuspicious(ctx, key); err != nil {
		l.recorder.RecordInternalFailure(ctx, "ratelimit_mark_suspicious", err, eventdomain.Context{Metadata: map[string]string{"key": key}})
		return autherr.ErrInternal
	}
	l.recorder.Record(ctx, eventdomain.TypeSuspiciousActivity, "rate_limit_suspicion", false, eventdomain.Context{
		UserID:    evctx.UserID,
		IP:        evctx.IP,
		RequestID: evctx.RequestID,
		Metadata: map[string]string{
			"key":        key,
			"violations": strconv.FormatInt(count, 10),
		},
	})
	return nil
}

// Suspicious reports key's sticky flag.
func (l *Limiter) Suspicious(ctx context.Context, key string) (bool, error) {
	flagged, err := l.store.IsSuspicious(ctx, key)
	if err != nil {
		return false, autherr.ErrInternal
	}
	return flagged, nil
}

// ClearSuspicion lifts the sticky flag and forgets the violation history.
func (l *Limiter) ClearSuspicion(ctx context.Context, key string) error {
	if err := l.store.ClearSuspicion(ctx, key); err != nil {
		l.recorder.RecordInternalFailure(ctx, "ratelimit_clear_suspicion", err, eventdomain.Context{Metadata: map[string]string{"key": key}})
		return autherr.ErrInternal
	}
	return nil
}
