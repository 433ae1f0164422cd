// Package repository persists lockout records. Lookups that find nothing
// return (nil, nil), not an error.
package repository

import (
	"context"
	"time"

	"auth-session-core/internal/lockout/domain"
)

// Repository is the lockout store. IncrementFailure must be atomic per user:
// two concurrent failures for the same user may not read the same count.
type Repository interface {
	// Get returns the user's record, or nil if none exists yet.
	Get(ctx context.Context, userID string) (*domain.Record, error)

	// IncrementFailure bumps the failure count inside the current window, or
	// starts a fresh window of count 1 when the previous window began before
	// windowCutoff. It returns the record after the increment.
	IncrementFailure(ctx context.Context, userID string, at, windowCutoff time.Time) (*domain.Record, error)

	// SetLocked marks the user locked until lockedUntil, increments the
	// lifetime lockout count, and resets the failure counter. The transition
	// applies only when the user is not already locked; it reports false when
	// a concurrent failure locked the row first, so one threshold crossing
	// charges exactly one lockout.
	SetLocked(ctx context.Context, userID string, lockedUntil, at time.Time) (bool, error)

	// Unlock clears the lock and the failure counter. The lifetime lockout
	// count is kept so escalation still sees prior lockouts. Used on
	// successful authentication, lazy lock expiry, and manual unlock alike.
	Unlock(ctx context.Context, userID string, at time.Time) error
}
