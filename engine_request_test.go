package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAllowRequestPerClass(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := engine.AllowRequest(ctx, "/api/courses", "10.0.0.1")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i+1, d, err)
		}
	}
	d, err := engine.AllowRequest(ctx, "/api/courses", "10.0.0.1")
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if d.Allowed || d.Class != "api" || d.RetryAfter != 60 || d.Remaining != 0 {
		t.Fatalf("expected api denial with retry 60, got %+v", d)
	}
	if err := engine.CheckRequest(ctx, "/api/x", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Pages and other clients have their own budgets.
	if d, _ := engine.AllowRequest(ctx, "/student/dashboard", "10.0.0.1"); !d.Allowed {
		t.Fatal("expected page request to be allowed")
	}
	if d, _ := engine.AllowRequest(ctx, "/api/courses", "10.0.0.2"); !d.Allowed {
		t.Fatal("expected another client to be allowed")
	}

	clock.Advance(time.Minute)
	if d, _ := engine.AllowRequest(ctx, "/api/courses", "10.0.0.1"); !d.Allowed {
		t.Fatal("expected new window to allow")
	}
	if got := engine.MetricsSnapshot().Counters[MetricRateLimitHit]; got != 2 {
		t.Fatalf("expected 2 rate limit hits, got %d", got)
	}
}

func TestAuthPathsAreStricter(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		d, err := engine.AllowRequest(ctx, "/api/auth/login", "10.0.0.1")
		if err != nil {
			t.Fatalf("allow failed: %v", err)
		}
		if d.Allowed {
			allowed++
		}
	}
	if allowed != 10 {
		t.Fatalf("expected 10 auth requests allowed, got %d", allowed)
	}
}

func TestAllowRequestDisabled(t *testing.T) {
	engine, _ := newTestEngine(t, func(c *Config) { c.RateLimit.Enabled = false })
	for i := 0; i < 100; i++ {
		d, err := engine.AllowRequest(context.Background(), "/api/auth/login", "10.0.0.1")
		if err != nil || !d.Allowed {
			t.Fatalf("expected unlimited requests, got %+v err=%v", d, err)
		}
	}
}

func TestCSRFTokenLifecycle(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()
	key := engine.CSRFSessionKey("session-token", "", "")

	token, err := engine.IssueCSRFToken(ctx, key)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}

	if err := engine.CheckCSRFToken(ctx, key, token); err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}
	if err := engine.CheckCSRFToken(ctx, key, token); err != nil {
		t.Fatalf("expected reusable token to verify again, got %v", err)
	}
	if err := engine.CheckCSRFToken(ctx, key, "deadbeef"); !errors.Is(err, ErrCSRFInvalid) {
		t.Fatalf("expected ErrCSRFInvalid, got %v", err)
	}
	if err := engine.CheckCSRFToken(ctx, key, ""); !errors.Is(err, ErrCSRFMissing) {
		t.Fatalf("expected ErrCSRFMissing, got %v", err)
	}

	clock.Advance(31 * time.Minute)
	if err := engine.CheckCSRFToken(ctx, key, token); !errors.Is(err, ErrCSRFExpired) {
		t.Fatalf("expected ErrCSRFExpired, got %v", err)
	}
	if err := engine.CheckCSRFToken(ctx, key, token); !errors.Is(err, ErrCSRFMissing) {
		t.Fatalf("expected expired token to be removed, got %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricCSRFRejected]; got != 4 {
		t.Fatalf("expected 4 rejections, got %d", got)
	}
}

func TestCSRFOneTimeUse(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	key := engine.CSRFSessionKey("", "10.0.0.1", "ua")

	token, err := engine.IssueCSRFToken(ctx, key)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !engine.VerifyCSRFToken(ctx, key, token, true) {
		t.Fatal("expected first use to verify")
	}
	if engine.VerifyCSRFToken(ctx, key, token, true) {
		t.Fatal("expected second use to fail")
	}
}

func TestCSRFReissueReplacesToken(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	key := engine.CSRFSessionKey("tok", "", "")

	first, _ := engine.IssueCSRFToken(ctx, key)
	second, _ := engine.IssueCSRFToken(ctx, key)
	if first == second {
		t.Fatal("expected distinct tokens")
	}
	if engine.VerifyCSRFToken(ctx, key, first, false) {
		t.Fatal("expected replaced token to fail")
	}
	if !engine.VerifyCSRFToken(ctx, key, second, false) {
		t.Fatal("expected latest token to verify")
	}
}

func TestRequiresCSRF(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	tests := []struct {
		method, path string
		want         bool
	}{
		{"GET", "/api/sessions", false},
		{"POST", "/api/sessions", true},
		{"DELETE", "/api/sessions", true},
		{"POST", "/api/auth/login", false},
		{"POST", "/api/auth/logout", false},
	}
	for _, tt := range tests {
		if got := engine.RequiresCSRF(tt.method, tt.path); got != tt.want {
			t.Fatalf("RequiresCSRF(%s %s) = %v, want %v", tt.method, tt.path, got, tt.want)
		}
	}

	disabled, _ := newTestEngine(t, func(c *Config) { c.CSRF.Enabled = false })
	if disabled.RequiresCSRF("POST", "/api/sessions") {
		t.Fatal("expected disabled guard to require nothing")
	}
	if _, err := disabled.IssueCSRFToken(context.Background(), "k"); !errors.Is(err, ErrCSRFDisabled) {
		t.Fatalf("expected ErrCSRFDisabled, got %v", err)
	}
}
