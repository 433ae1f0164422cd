// Package domain defines the per-user lockout record tracked by the
// failed-attempt counter.
package domain

import "time"

// Record is one user's lockout state. FailedCount counts failures inside the
// rolling window starting at WindowStart; LockedUntil is nil while unlocked.
// LockoutCount is the number of lockouts the account has ever entered and
// drives escalation of the next lockout duration.
type Record struct {
	UserID       string
	FailedCount  int
	WindowStart  time.Time
	LockedUntil  *time.Time
	LockoutCount int
	UpdatedAt    time.Time
}

// Locked reports whether the record is locked at now. A LockedUntil in the
// past counts as unlocked; expiry is lazy and persisted on next observation.
func (r *Record) Locked(now time.Time) bool {
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// WindowExpired reports whether the failure window has rolled over, meaning
// the next failure starts a fresh count.
func (r *Record) WindowExpired(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) >= window
}
