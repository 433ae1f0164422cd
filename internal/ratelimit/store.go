// Package ratelimit implements a fixed-window request limiter with a sticky
// suspicious flag per key. Keys are caller-chosen composites (ip, user, or
// ip:endpoint); the limiter never inspects them.
package ratelimit

import (
	"context"
	"time"
)

// Store is the counter backend. Incr and AddViolation must be atomic per key:
// two concurrent requests on the same key may not observe the same count.
type Store interface {
	// Incr counts one request against key's current window, creating the
	// window when absent or expired, and returns the count after the
	// increment plus the moment the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// AddViolation counts one rejected request against key inside the
	// tracking horizon and returns the count after the increment.
	AddViolation(ctx context.Context, key string, horizon time.Duration) (int64, error)

	// MarkSuspicious sets the sticky flag; it stays until ClearSuspicion.
	MarkSuspicious(ctx context.Context, key string) error

	// IsSuspicious reports the sticky flag.
	IsSuspicious(ctx context.Context, key string) (bool, error)

	// ClearSuspicion removes the sticky flag and the violation count.
	ClearSuspicion(ctx context.Context, key string) error

	Close() error
}
