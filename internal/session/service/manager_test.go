package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/clock"
	"auth-session-core/internal/event"
	eventdomain "auth-session-core/internal/event/domain"
	"auth-session-core/internal/security"
	"auth-session-core/internal/session/domain"
	"auth-session-core/internal/token"
	"auth-session-core/internal/token/revocation"
	"auth-session-core/internal/userdir"
)

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	s2 := *s
	return &s2, nil
}

func (r *memSessionRepo) GetByAccessJTI(ctx context.Context, jti string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.AccessJTI == jti {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.m {
		if s.UserID == userID && s.Active {
			s2 := *s
			out = append(out, &s2)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.Before(out[j].LastActivity) })
	return out, nil
}

func (r *memSessionRepo) MarkInactive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.Active = false
	}
	return nil
}

func (r *memSessionRepo) UpdateLastActivity(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (r *memSessionRepo) Rekey(ctx context.Context, oldID, newID, newAccessJTI, newRefreshHash string, newExpiresAt, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[oldID]
	if !ok || !s.Active {
		return errors.New("no live session")
	}
	delete(r.m, oldID)
	s.ID = newID
	s.AccessJTI = newAccessJTI
	s.RefreshTokenHash = newRefreshHash
	s.ExpiresAt = newExpiresAt
	s.LastActivity = at
	r.m[newID] = s
	return nil
}

func (r *memSessionRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.m {
		if s.ExpiresAt.Before(cutoff) {
			delete(r.m, id)
			n++
			if n == int64(limit) {
				break
			}
		}
	}
	return n, nil
}

type memDirectory struct {
	users map[string]userdir.Role
}

func (d *memDirectory) UserExists(ctx context.Context, id string) (bool, error) {
	_, ok := d.users[id]
	return ok, nil
}

func (d *memDirectory) GetRole(ctx context.Context, id string) (userdir.Role, error) {
	return d.users[id], nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events []*eventdomain.SecurityEvent
	alerts []*eventdomain.Alert
}

func (r *memEventRepo) CreateEvent(ctx context.Context, e *eventdomain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memEventRepo) CreateAlert(ctx context.Context, a *eventdomain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *memEventRepo) ListEvents(ctx context.Context, f eventdomain.Filter) ([]*eventdomain.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*eventdomain.SecurityEvent(nil), r.events...), nil
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

type fixture struct {
	mgr    *Manager
	repo   *memSessionRepo
	events *memEventRepo
	tokens *token.Service
	clk    *clock.Manual
	base   time.Time
}

// The token provider stamps expiries with wall-clock time, so the manual
// clock is based at time.Now and advanced from there.
func newFixture(t *testing.T, maxSessions int, invalidateSuspect bool) *fixture {
	t.Helper()
	provider, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	base := time.Now().UTC()
	clk := clock.NewManual(base)
	tokens := token.NewService(provider, revocation.NewMemory(clock.System{}), clock.System{}, 15*time.Minute, 24*time.Hour)
	hasher, err := security.NewTokenHasher([]byte("test-key"))
	if err != nil {
		t.Fatalf("NewTokenHasher: %v", err)
	}
	repo := newMemSessionRepo()
	events := &memEventRepo{}
	dir := &memDirectory{users: map[string]userdir.Role{"user-1": userdir.RoleMember, "admin-1": userdir.RoleAdmin}}
	mgr := NewManager(repo, tokens, event.NewRecorder(events, clk, nil), dir, hasher, clk, maxSessions, invalidateSuspect)
	return &fixture{mgr: mgr, repo: repo, events: events, tokens: tokens, clk: clk, base: base}
}

func TestCreateSession_UnknownUser(t *testing.T) {
	f := newFixture(t, 5, false)
	if _, err := f.mgr.CreateSession(context.Background(), "ghost", "curl/8", "10.0.0.1"); !errors.Is(err, autherr.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
}

func TestCreateSession_BindsRefreshJTI(t *testing.T) {
	f := newFixture(t, 5, false)
	res, err := f.mgr.CreateSession(context.Background(), "user-1", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0", "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if res.Session.ID != res.Tokens.RefreshJTI {
		t.Errorf("session id %q must equal refresh jti %q", res.Session.ID, res.Tokens.RefreshJTI)
	}
	if res.Session.Device.Platform != "windows" || res.Session.Device.Browser != "chrome" {
		t.Errorf("device not parsed: %+v", res.Session.Device)
	}
	if res.AntiForgeryToken == "" {
		t.Error("anti-forgery token missing")
	}
	if f.events.countType(eventdomain.TypeSessionCreated) != 1 {
		t.Error("session_created event not recorded")
	}
}

func TestCreateSession_CapEvictsLeastRecentlyActive(t *testing.T) {
	const maxSessions = 5
	f := newFixture(t, maxSessions, false)
	ctx := context.Background()

	var results []*CreateResult
	for i := 0; i < maxSessions; i++ {
		res, err := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
		if err != nil {
			t.Fatalf("CreateSession #%d: %v", i, err)
		}
		results = append(results, res)
		f.clk.Advance(time.Minute) // distinct last-activity per session
	}

	sixth, err := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSession #6: %v", err)
	}

	active, _ := f.repo.ListActiveByUser(ctx, "user-1")
	if len(active) != maxSessions {
		t.Fatalf("active sessions = %d, want %d", len(active), maxSessions)
	}
	for _, s := range active {
		if s.ID == results[0].Session.ID {
			t.Fatal("oldest session should have been evicted")
		}
	}
	if f.events.countType(eventdomain.TypeSessionEvicted) != 1 {
		t.Errorf("evicted events = %d, want exactly 1", f.events.countType(eventdomain.TypeSessionEvicted))
	}

	// The evicted session's refresh token must now fail verification.
	if _, err := f.tokens.Verify(ctx, results[0].Tokens.RefreshToken); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("evicted refresh token: got %v, want ErrTokenRevoked", err)
	}
	// Survivors are untouched.
	if _, err := f.tokens.Verify(ctx, sixth.Tokens.RefreshToken); err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
}

func TestCreateSession_ConcurrentNeverExceedsCap(t *testing.T) {
	const maxSessions = 3
	f := newFixture(t, maxSessions, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1"); err != nil {
				t.Errorf("CreateSession: %v", err)
			}
		}()
	}
	wg.Wait()

	active, _ := f.repo.ListActiveByUser(ctx, "user-1")
	if len(active) > maxSessions {
		t.Fatalf("active sessions = %d, cap is %d", len(active), maxSessions)
	}
}

func TestValidateSession_HappyPathTouchesActivity(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	res, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")

	f.clk.Advance(10 * time.Minute)
	s, err := f.mgr.ValidateSession(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if !s.LastActivity.Equal(f.clk.Now()) {
		t.Errorf("last activity = %v, want %v", s.LastActivity, f.clk.Now())
	}
}

func TestValidateSession_NoSessionRow(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	pair, _ := f.tokens.Issue(ctx, "user-1", "member")
	if _, err := f.mgr.ValidateSession(ctx, pair.AccessToken); !errors.Is(err, autherr.ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestValidateSession_ExpiredAndInactive(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	res, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")

	f.clk.Advance(25 * time.Hour) // past the 24h refresh expiry
	if _, err := f.mgr.ValidateSession(ctx, res.Tokens.AccessToken); !errors.Is(err, autherr.ErrSessionExpired) {
		t.Fatalf("expired: got %v, want ErrSessionExpired", err)
	}

	f.clk.Set(f.base)
	res2, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	_ = f.repo.MarkInactive(ctx, res2.Session.ID)
	if _, err := f.mgr.ValidateSession(ctx, res2.Tokens.AccessToken); !errors.Is(err, autherr.ErrSessionExpired) {
		t.Fatalf("inactive: got %v, want ErrSessionExpired", err)
	}
}

func TestValidateSession_RejectsRefreshToken(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	res, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	if _, err := f.mgr.ValidateSession(ctx, res.Tokens.RefreshToken); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Fatalf("got %v, want ErrTokenInvalid", err)
	}
}

func TestRotateSession_RebindsSession(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	res, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")

	rotated, err := f.mgr.RotateSession(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if rotated.Session.ID != rotated.Tokens.RefreshJTI {
		t.Error("rotated session id must follow the new refresh jti")
	}
	if old, _ := f.repo.GetByID(ctx, res.Session.ID); old != nil {
		t.Error("old session id should no longer resolve")
	}
	if _, err := f.mgr.ValidateSession(ctx, rotated.Tokens.AccessToken); err != nil {
		t.Fatalf("validate after rotation: %v", err)
	}
}

func TestRotateSession_ReplayRevokesEverything(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	res, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")

	rotated, err := f.mgr.RotateSession(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}

	// Replay of the consumed token.
	if _, err := f.mgr.RotateSession(ctx, res.Tokens.RefreshToken); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("replay: got %v, want ErrTokenRevoked", err)
	}
	if f.events.countType(eventdomain.TypeTokenReplay) != 1 {
		t.Error("token_replay event not recorded")
	}
	// Defensive invalidation took the rotated session down too.
	active, _ := f.repo.ListActiveByUser(ctx, "user-1")
	if len(active) != 0 {
		t.Fatalf("active sessions after replay = %d, want 0", len(active))
	}
	if _, err := f.tokens.Verify(ctx, rotated.Tokens.RefreshToken); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("rotated refresh after replay: got %v, want ErrTokenRevoked", err)
	}
}

func TestInvalidateSession_Idempotent(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	res, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")

	if err := f.mgr.InvalidateSession(ctx, res.Session.ID); err != nil {
		t.Fatalf("InvalidateSession: %v", err)
	}
	if err := f.mgr.InvalidateSession(ctx, res.Session.ID); err != nil {
		t.Fatalf("second InvalidateSession should be a no-op, got %v", err)
	}
	if err := f.mgr.InvalidateSession(ctx, "never-existed"); err != nil {
		t.Fatalf("missing session should be a no-op, got %v", err)
	}
	if _, err := f.tokens.Verify(ctx, res.Tokens.RefreshToken); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("refresh after invalidate: got %v, want ErrTokenRevoked", err)
	}
}

func TestHandleSecurityEvent_PasswordChangeSparesCurrent(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	a, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	f.clk.Advance(time.Minute)
	b, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.2")

	if err := f.mgr.HandleSecurityEvent(ctx, "user-1", KindPasswordChange, b.Session.ID); err != nil {
		t.Fatalf("HandleSecurityEvent: %v", err)
	}
	active, _ := f.repo.ListActiveByUser(ctx, "user-1")
	if len(active) != 1 || active[0].ID != b.Session.ID {
		t.Fatalf("only the current session should survive, got %d", len(active))
	}
	if _, err := f.tokens.Verify(ctx, a.Tokens.RefreshToken); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatal("spared session's sibling should be revoked")
	}
}

func TestHandleSecurityEvent_SuspiciousLoginPolicy(t *testing.T) {
	ctx := context.Background()

	logOnly := newFixture(t, 5, false)
	logOnly.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	if err := logOnly.mgr.HandleSecurityEvent(ctx, "user-1", KindSuspiciousLogin, ""); err != nil {
		t.Fatalf("HandleSecurityEvent: %v", err)
	}
	if active, _ := logOnly.repo.ListActiveByUser(ctx, "user-1"); len(active) != 1 {
		t.Fatal("log-only policy must not invalidate sessions")
	}
	if logOnly.events.countType(eventdomain.TypeSuspiciousActivity) != 1 {
		t.Fatal("suspicious_activity event not recorded")
	}

	invalidating := newFixture(t, 5, true)
	invalidating.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	if err := invalidating.mgr.HandleSecurityEvent(ctx, "user-1", KindSuspiciousLogin, ""); err != nil {
		t.Fatalf("HandleSecurityEvent: %v", err)
	}
	if active, _ := invalidating.repo.ListActiveByUser(ctx, "user-1"); len(active) != 0 {
		t.Fatal("invalidate policy must drop all sessions")
	}
}

func TestHandleSecurityEvent_AdminActionNamedAndAll(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	a, _ := f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")
	f.clk.Advance(time.Minute)
	f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.2")

	if err := f.mgr.HandleSecurityEvent(ctx, "user-1", KindAdminAction, a.Session.ID); err != nil {
		t.Fatalf("HandleSecurityEvent named: %v", err)
	}
	if active, _ := f.repo.ListActiveByUser(ctx, "user-1"); len(active) != 1 {
		t.Fatalf("named admin action should leave 1 session, got %d", len(active))
	}

	if err := f.mgr.HandleSecurityEvent(ctx, "user-1", KindAdminAction, ""); err != nil {
		t.Fatalf("HandleSecurityEvent all: %v", err)
	}
	if active, _ := f.repo.ListActiveByUser(ctx, "user-1"); len(active) != 0 {
		t.Fatal("unnamed admin action should drop all sessions")
	}
}

func TestHandleSecurityEvent_UnknownKind(t *testing.T) {
	f := newFixture(t, 5, false)
	if err := f.mgr.HandleSecurityEvent(context.Background(), "user-1", SecurityEventKind("BOGUS"), ""); !errors.Is(err, autherr.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	f := newFixture(t, 5, false)
	ctx := context.Background()
	f.mgr.CreateSession(ctx, "user-1", "agent", "10.0.0.1")

	f.clk.Advance(25 * time.Hour)
	n, err := f.mgr.CleanupExpiredSessions(ctx, 10)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if active, _ := f.repo.ListActiveByUser(ctx, "user-1"); len(active) != 0 {
		t.Fatal("expired session should be gone")
	}
}
