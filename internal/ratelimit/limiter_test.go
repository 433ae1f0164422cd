package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"auth-session-core/internal/clock"
	"auth-session-core/internal/event"
	eventdomain "auth-session-core/internal/event/domain"
)

type memEventRepo struct {
	mu     sync.Mutex
	events []*eventdomain.SecurityEvent
}

func (r *memEventRepo) CreateEvent(ctx context.Context, e *eventdomain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memEventRepo) CreateAlert(ctx context.Context, a *eventdomain.Alert) error { return nil }

func (r *memEventRepo) ListEvents(ctx context.Context, f eventdomain.Filter) ([]*eventdomain.SecurityEvent, error) {
	return nil, nil
}

func (r *memEventRepo) ListAlerts(ctx context.Context, f eventdomain.Filter) ([]*eventdomain.Alert, error) {
	return nil, nil
}

func (r *memEventRepo) countType(typ eventdomain.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

const (
	testWindow    = time.Minute
	testMax       = 3
	testThreshold = 2
	testHorizon   = time.Hour
)

func newTestLimiter(allowlist []string) (*Limiter, *memEventRepo, *clock.Manual) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	events := &memEventRepo{}
	l := NewLimiter(NewMemory(clk), event.NewRecorder(events, clk, nil),
		testWindow, testMax, testThreshold, testHorizon, allowlist)
	return l, events, clk
}

func TestCheck_CountsDownToRejection(t *testing.T) {
	l, _, _ := newTestLimiter(nil)
	ctx := context.Background()

	for i := int64(1); i <= testMax; i++ {
		d, err := l.Check(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("Check #%d: %v", i, err)
		}
		if !d.Allowed || d.Remaining != testMax-i {
			t.Fatalf("Check #%d = %+v", i, d)
		}
	}
	d, err := l.Check(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Check over limit: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("over-limit decision = %+v", d)
	}
}

// A key at its limit is rejected; once the window elapses the next request is
// allowed and the counter restarts at 1.
func TestCheck_WindowResets(t *testing.T) {
	l, _, clk := newTestLimiter(nil)
	ctx := context.Background()

	for i := int64(0); i <= testMax; i++ {
		l.Check(ctx, "ip:10.0.0.1")
	}
	if d, _ := l.Check(ctx, "ip:10.0.0.1"); d.Allowed {
		t.Fatal("key at limit should be rejected")
	}

	clk.Advance(testWindow)
	d, err := l.Check(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Check after window: %v", err)
	}
	if !d.Allowed || d.Remaining != testMax-1 {
		t.Fatalf("counter did not restart at 1: %+v", d)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _, _ := newTestLimiter(nil)
	ctx := context.Background()

	for i := int64(0); i <= testMax; i++ {
		l.Check(ctx, "ip:10.0.0.1")
	}
	d, _ := l.Check(ctx, "ip:10.0.0.2")
	if !d.Allowed || d.Remaining != testMax-1 {
		t.Fatalf("unrelated key affected: %+v", d)
	}
}

func TestCheck_AllowlistBypassesWindow(t *testing.T) {
	l, _, _ := newTestLimiter([]string{"ip:10.1.1.1"})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := l.Check(ctx, "ip:10.1.1.1")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !d.Allowed {
			t.Fatal("allow-listed key must never be rejected")
		}
	}
}

func TestRecordViolation_FlagsAfterThreshold(t *testing.T) {
	l, events, _ := newTestLimiter(nil)
	ctx := context.Background()

	if err := l.RecordViolation(ctx, "ip:10.0.0.1", eventdomain.Context{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	if flagged, _ := l.Suspicious(ctx, "ip:10.0.0.1"); flagged {
		t.Fatal("one violation should not flag")
	}

	if err := l.RecordViolation(ctx, "ip:10.0.0.1", eventdomain.Context{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	flagged, err := l.Suspicious(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("Suspicious: %v", err)
	}
	if !flagged {
		t.Fatal("threshold violations should flag the key")
	}
	if events.countType(eventdomain.TypeSuspiciousActivity) != 1 {
		t.Error("suspicion transition should be recorded exactly once")
	}

	// The flag transition is recorded only once, however many more violations.
	l.RecordViolation(ctx, "ip:10.0.0.1", eventdomain.Context{})
	if events.countType(eventdomain.TypeSuspiciousActivity) != 1 {
		t.Error("repeat violations must not re-record the transition")
	}
}

func TestSuspicion_StickyAcrossWindows(t *testing.T) {
	l, _, clk := newTestLimiter(nil)
	ctx := context.Background()

	l.RecordViolation(ctx, "k", eventdomain.Context{})
	l.RecordViolation(ctx, "k", eventdomain.Context{})

	clk.Advance(48 * time.Hour)
	if flagged, _ := l.Suspicious(ctx, "k"); !flagged {
		t.Fatal("flag must stay until explicitly cleared")
	}

	if err := l.ClearSuspicion(ctx, "k"); err != nil {
		t.Fatalf("ClearSuspicion: %v", err)
	}
	if flagged, _ := l.Suspicious(ctx, "k"); flagged {
		t.Fatal("flag should be cleared")
	}
	// Violation history was forgotten too: one new violation does not re-flag.
	l.RecordViolation(ctx, "k", eventdomain.Context{})
	if flagged, _ := l.Suspicious(ctx, "k"); flagged {
		t.Fatal("cleared key should start from a clean violation count")
	}
}

func TestMemoryStore_ConcurrentIncrExact(t *testing.T) {
	s := NewMemory(clock.System{})
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Incr(ctx, "k", time.Minute); err != nil {
				t.Errorf("Incr: %v", err)
			}
		}()
	}
	wg.Wait()

	count, _, err := s.Incr(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if count != goroutines+1 {
		t.Fatalf("count = %d, want %d", count, goroutines+1)
	}
}

func TestRedisStore_WindowAndSuspicion(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "")
	t.Cleanup(func() { _ = s.Close() })

	for i := int64(1); i <= 3; i++ {
		count, _, err := s.Incr(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("Incr #%d: %v", i, err)
		}
		if count != i {
			t.Fatalf("count = %d, want %d", count, i)
		}
	}

	mr.FastForward(time.Minute)
	count, _, err := s.Incr(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr after window: %v", err)
	}
	if count != 1 {
		t.Fatalf("count after window = %d, want 1", count)
	}

	if _, err := s.AddViolation(ctx, "k", time.Hour); err != nil {
		t.Fatalf("AddViolation: %v", err)
	}
	if err := s.MarkSuspicious(ctx, "k"); err != nil {
		t.Fatalf("MarkSuspicious: %v", err)
	}
	flagged, err := s.IsSuspicious(ctx, "k")
	if err != nil {
		t.Fatalf("IsSuspicious: %v", err)
	}
	if !flagged {
		t.Fatal("flag not set")
	}

	// Sticky: the flag carries no TTL.
	mr.FastForward(72 * time.Hour)
	if flagged, _ := s.IsSuspicious(ctx, "k"); !flagged {
		t.Fatal("flag should survive any amount of time")
	}

	if err := s.ClearSuspicion(ctx, "k"); err != nil {
		t.Fatalf("ClearSuspicion: %v", err)
	}
	if flagged, _ := s.IsSuspicious(ctx, "k"); flagged {
		t.Fatal("flag should be cleared")
	}
}
