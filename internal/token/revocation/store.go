// Package revocation holds the jti denylist consulted on every token verify.
// Entries live only as long as the revoked token would have: the store is
// bounded by the refresh TTL, not by traffic.
package revocation

import (
	"context"
	"time"
)

// Store is the revocation set. Revoke is idempotent; IsRevoked must be O(1)
// and immediately consistent with a completed Revoke.
type Store interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Close() error
}
