package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWTIssuer != "auth-core" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "auth-core")
	}
	if cfg.JWTAudience != "auth-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "auth-api")
	}
	if cfg.MaxConcurrentSessions != 5 {
		t.Errorf("MaxConcurrentSessions = %d, want 5", cfg.MaxConcurrentSessions)
	}
	if cfg.MaxFailedAttempts != 5 {
		t.Errorf("MaxFailedAttempts = %d, want 5", cfg.MaxFailedAttempts)
	}
	if cfg.RateLimitMax != 60 {
		t.Errorf("RateLimitMax = %d, want 60", cfg.RateLimitMax)
	}
	if cfg.InvalidateOnSuspicious {
		t.Error("InvalidateOnSuspicious should default to false")
	}
	if !cfg.ExposeLockoutState {
		t.Error("ExposeLockoutState should default to true")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("MAX_CONCURRENT_SESSIONS", "3")
	os.Setenv("LOCKOUT_DURATION", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.MaxConcurrentSessions != 3 {
		t.Errorf("MaxConcurrentSessions = %d, want 3", cfg.MaxConcurrentSessions)
	}
	if cfg.LockoutBase() != 30*time.Minute {
		t.Errorf("LockoutBase = %v, want 30m", cfg.LockoutBase())
	}
}

func TestLoad_InvalidPolicyValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"zero sessions", "MAX_CONCURRENT_SESSIONS", "0"},
		{"zero attempts", "MAX_FAILED_ATTEMPTS", "0"},
		{"zero rate max", "RATE_LIMIT_MAX", "0"},
		{"zero suspicion", "SUSPICION_THRESHOLD", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("HTTP_ADDR", ":8080")
			os.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load should reject %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_ProductionRequiresHashKey(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("APP_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("Load should require TOKEN_HASH_KEY in production")
	}

	os.Setenv("TOKEN_HASH_KEY", "0123456789abcdef")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with hash key: %v", err)
	}
}

func TestDurationAccessors_Fallbacks(t *testing.T) {
	cfg := &Config{
		JWTAccessTTL:    "not-a-duration",
		JWTRefreshTTL:   "",
		LockoutDuration: "-5m",
		RateLimitWindow: "30s",
	}
	if got := cfg.AccessTTL(); got != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want fallback 15m", got)
	}
	if got := cfg.RefreshTTL(); got != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want fallback 168h", got)
	}
	if got := cfg.LockoutBase(); got != 15*time.Minute {
		t.Errorf("LockoutBase = %v, want fallback 15m", got)
	}
	if got := cfg.RateWindow(); got != 30*time.Second {
		t.Errorf("RateWindow = %v, want 30s", got)
	}
}

func TestAllowlist(t *testing.T) {
	cfg := &Config{RateLimitAllowlist: " 10.0.0.1, role:admin ,, "}
	got := cfg.Allowlist()
	want := []string{"10.0.0.1", "role:admin"}
	if len(got) != len(want) {
		t.Fatalf("Allowlist = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Allowlist[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
