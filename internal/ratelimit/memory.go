package ratelimit

import (
	"context"
	"sync"
	"time"

	"auth-session-core/internal/clock"
	"auth-session-core/internal/syncutil"
)

type window struct {
	count int64
	start time.Time
	ttl   time.Duration
}

// memoryStore is the in-process driver for single-instance deployments and
// tests. Each key mutates under its own keyed mutex, never a store-wide lock.
type memoryStore struct {
	clk     clock.Clock
	locks   *syncutil.KeyedMutex
	windows sync.Map // key -> *window
	suspect sync.Map // key -> struct{}
}

// NewMemory returns an in-process Store.
func NewMemory(clk clock.Clock) Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &memoryStore{clk: clk, locks: syncutil.NewKeyedMutex()}
}

func (s *memoryStore) incr(key string, ttl time.Duration) (int64, time.Time) {
	unlock := s.locks.Lock(key)
	defer unlock()

	now := s.clk.Now()
	v, ok := s.windows.Load(key)
	if ok {
		w := v.(*window)
		if now.Sub(w.start) < w.ttl {
			w.count++
			return w.count, w.start.Add(w.ttl)
		}
	}
	w := &window{count: 1, start: now, ttl: ttl}
	s.windows.Store(key, w)
	return 1, now.Add(ttl)
}

func (s *memoryStore) Incr(ctx context.Context, key string, windowTTL time.Duration) (int64, time.Time, error) {
	count, resetAt := s.incr(key, windowTTL)
	return count, resetAt, nil
}

func (s *memoryStore) AddViolation(ctx context.Context, key string, horizon time.Duration) (int64, error) {
	count, _ := s.incr(key+violationSuffix, horizon)
	return count, nil
}

func (s *memoryStore) MarkSuspicious(ctx context.Context, key string) error {
	s.suspect.Store(key, struct{}{})
	return nil
}

func (s *memoryStore) IsSuspicious(ctx context.Context, key string) (bool, error) {
	_, ok := s.suspect.Load(key)
	return ok, nil
}

func (s *memoryStore) ClearSuspicion(ctx context.Context, key string) error {
	s.suspect.Delete(key)
	s.windows.Delete(key + violationSuffix)
	return nil
}

func (s *memoryStore) Close() error { return nil }
