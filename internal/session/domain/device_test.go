package domain

import (
	"testing"
	"time"
)

func TestParseDevice(t *testing.T) {
	cases := []struct {
		name     string
		agent    string
		platform string
		browser  string
	}{
		{
			"chrome on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			"windows", "chrome",
		},
		{
			"edge embeds chrome",
			"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36 Edg/120.0",
			"windows", "edge",
		},
		{
			"safari on mac",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Version/17.0 Safari/605.1.15",
			"macos", "safari",
		},
		{
			"firefox on linux",
			"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			"linux", "firefox",
		},
		{
			"chrome on android",
			"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/120.0 Mobile Safari/537.36",
			"android", "chrome",
		},
		{
			"safari on iphone",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1",
			"ios", "safari",
		},
		{"curl", "curl/8.4.0", "other", "cli"},
		{"empty", "", "other", "other"},
		{"garbage", "definitely not a browser", "other", "other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ParseDevice(tc.agent)
			if d.Platform != tc.platform {
				t.Errorf("Platform = %q, want %q", d.Platform, tc.platform)
			}
			if d.Browser != tc.browser {
				t.Errorf("Browser = %q, want %q", d.Browser, tc.browser)
			}
			if d.RawAgent != tc.agent {
				t.Errorf("RawAgent not preserved")
			}
		})
	}
}

func TestSessionLiveness(t *testing.T) {
	now := timeAt(t, "2026-03-01T12:00:00Z")
	s := &Session{Active: true, ExpiresAt: timeAt(t, "2026-03-02T12:00:00Z")}
	if !s.Live(now) {
		t.Error("active unexpired session should be live")
	}
	s.Active = false
	if s.Live(now) {
		t.Error("inactive session should not be live")
	}
	s.Active = true
	if !s.Expired(timeAt(t, "2026-03-03T12:00:00Z")) {
		t.Error("session past expiry should report expired")
	}
}

func timeAt(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}
