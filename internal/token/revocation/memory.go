package revocation

import (
	"context"
	"sync"
	"time"

	"auth-session-core/internal/clock"
)

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // jti -> expiry of the denylist entry
	clk     clock.Clock
}

// NewMemory returns an in-process Store for dev and tests. Expired entries are
// purged lazily on access.
func NewMemory(clk clock.Clock) Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &memoryStore{entries: make(map[string]time.Time), clk: clk}
}

func (s *memoryStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jti] = s.clk.Now().Add(ttl)
	return nil
}

func (s *memoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	now := s.clk.Now()

	s.mu.RLock()
	expiry, ok := s.entries[jti]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if now.After(expiry) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Revoke may have renewed it.
		if exp, ok := s.entries[jti]; ok && now.After(exp) {
			delete(s.entries, jti)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Close() error { return nil }
