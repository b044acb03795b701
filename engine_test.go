package authcore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/halaqah/authcore/permission"
	"github.com/redis/go-redis/v9"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *testClock) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Token.Secret = []byte(testSecret)
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newTestClock()
	engine, err := New().WithConfig(cfg).WithClock(clock.Now).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, clock
}

func newRedisTestEngine(t *testing.T) (*Engine, *testClock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newTestClock()
	engine, err := New().WithSecret([]byte(testSecret)).WithRedis(rdb).WithClock(clock.Now).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, clock, mr
}

func studentRequest(userID, ip string) SessionRequest {
	return SessionRequest{
		UserID: userID,
		Role:   permission.RoleStudent,
		Email:  userID + "@example.com",
		Device: DeviceInfo{UserAgent: "Mozilla/5.0 test", AcceptLanguage: "en-US"},
		IP:     ip,
	}
}

func mustCreate(t *testing.T, e *Engine, req SessionRequest) *SessionResult {
	t.Helper()
	res, err := e.CreateSession(context.Background(), req)
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	return res
}

func TestCreateAndVerifySession(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
	if res.Token == "" || res.SessionID == "" {
		t.Fatalf("expected token and session id, got %+v", res)
	}
	if want := clock.Now().Add(7 * 24 * time.Hour); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}

	claims, ok := engine.VerifySession(ctx, res.Token, "10.0.0.1")
	if !ok {
		t.Fatal("expected token to verify")
	}
	if claims.UserID != "u1" || claims.Role != permission.RoleStudent || claims.Email != "u1@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.SessionID() != res.SessionID {
		t.Fatalf("expected session id %q, got %q", res.SessionID, claims.SessionID())
	}
}

func TestVerifySessionRefreshesLastActivity(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()
	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))

	clock.Advance(time.Hour)
	if _, ok := engine.VerifySession(ctx, res.Token, "10.0.0.1"); !ok {
		t.Fatal("expected token to verify")
	}

	sessions, err := engine.ListActiveSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if got, want := sessions[0].LastActivity, clock.Now().UnixMilli(); got != want {
		t.Fatalf("expected last activity %d, got %d", want, got)
	}
	if sessions[0].LastActivity <= sessions[0].CreatedAt {
		t.Fatal("expected last activity after creation")
	}
}

func TestVerifySessionRejectsGarbage(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, ok := engine.VerifySession(context.Background(), tok, ""); ok {
			t.Fatalf("expected %q to fail verification", tok)
		}
	}
	if got := engine.MetricsSnapshot().Counters[MetricVerifyFailure]; got != 3 {
		t.Fatalf("expected 3 verify failures, got %d", got)
	}
}

func TestSessionCapEvictsLeastRecentlyActive(t *testing.T) {
	engine, clock := newTestEngine(t, nil)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 5; i++ {
		tokens = append(tokens, mustCreate(t, engine, studentRequest("u1", "10.0.0.1")).Token)
		clock.Advance(time.Second)
	}

	// Touch the oldest so the second one becomes the least recently active.
	if _, ok := engine.VerifySession(ctx, tokens[0], "10.0.0.1"); !ok {
		t.Fatal("expected first token to verify")
	}
	clock.Advance(time.Second)

	sixth := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
	if len(sixth.Evicted) != 1 {
		t.Fatalf("expected one eviction, got %v", sixth.Evicted)
	}

	if _, ok := engine.VerifySession(ctx, tokens[1], "10.0.0.1"); ok {
		t.Fatal("expected evicted session token to fail")
	}
	for _, tok := range []string{tokens[0], tokens[2], tokens[3], tokens[4], sixth.Token} {
		if _, ok := engine.VerifySession(ctx, tok, "10.0.0.1"); !ok {
			t.Fatal("expected surviving token to verify")
		}
	}

	sessions, err := engine.ListActiveSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 5 {
		t.Fatalf("expected 5 sessions, got %d", len(sessions))
	}
	if got := engine.MetricsSnapshot().Counters[MetricSessionEvicted]; got != 1 {
		t.Fatalf("expected 1 eviction counted, got %d", got)
	}
}

func TestInvalidateOtherSessions(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	keep := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
	a := mustCreate(t, engine, studentRequest("u1", "10.0.0.2"))
	b := mustCreate(t, engine, studentRequest("u1", "10.0.0.3"))
	other := mustCreate(t, engine, studentRequest("u2", "10.0.0.4"))

	n, err := engine.InvalidateOtherSessions(ctx, "u1", keep.SessionID)
	if err != nil {
		t.Fatalf("invalidate others failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}

	if _, ok := engine.VerifySession(ctx, keep.Token, ""); !ok {
		t.Fatal("expected kept session to verify")
	}
	for _, tok := range []string{a.Token, b.Token} {
		if _, ok := engine.VerifySession(ctx, tok, ""); ok {
			t.Fatal("expected invalidated session to fail")
		}
	}
	if _, ok := engine.VerifySession(ctx, other.Token, ""); !ok {
		t.Fatal("expected another user's session to be untouched")
	}
}

func TestInvalidateSessionIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))

	removed, err := engine.InvalidateSession(ctx, "u1", res.SessionID)
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	removed, err = engine.InvalidateSession(ctx, "u1", res.SessionID)
	if err != nil || removed {
		t.Fatalf("expected no-op, got removed=%v err=%v", removed, err)
	}
	if _, ok := engine.VerifySession(ctx, res.Token, ""); ok {
		t.Fatal("expected invalidated token to fail")
	}
}

func TestInvalidateAllSessions(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
	}

	n, err := engine.InvalidateAllSessions(ctx, "u1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 invalidated, got n=%d err=%v", n, err)
	}
	n, err = engine.InvalidateAllSessions(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("expected 0 on second call, got n=%d err=%v", n, err)
	}
	sessions, _ := engine.ListActiveSessions(ctx, "u1")
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestIPMismatchPolicy(t *testing.T) {
	t.Run("warn accepts", func(t *testing.T) {
		engine, _ := newTestEngine(t, nil)
		res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
		if _, ok := engine.VerifySession(context.Background(), res.Token, "192.168.1.9"); !ok {
			t.Fatal("expected warn policy to accept")
		}
		if got := engine.MetricsSnapshot().Counters[MetricIPMismatch]; got != 1 {
			t.Fatalf("expected 1 mismatch, got %d", got)
		}
	})

	t.Run("reject fails", func(t *testing.T) {
		engine, _ := newTestEngine(t, func(c *Config) {
			c.Session.IPMismatchPolicy = IPMismatchReject
		})
		res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
		if _, ok := engine.VerifySession(context.Background(), res.Token, "192.168.1.9"); ok {
			t.Fatal("expected reject policy to fail verification")
		}
		if _, ok := engine.VerifySession(context.Background(), res.Token, "10.0.0.1"); !ok {
			t.Fatal("expected original IP to verify")
		}
	})
}

func TestCreateSessionValidatesRequest(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	req := studentRequest("", "10.0.0.1")
	if _, err := engine.CreateSession(context.Background(), req); !errors.Is(err, ErrInvalidSessionRequest) {
		t.Fatalf("expected ErrInvalidSessionRequest, got %v", err)
	}
	req = studentRequest("u1", "10.0.0.1")
	req.Role = "janitor"
	if _, err := engine.CreateSession(context.Background(), req); !errors.Is(err, ErrInvalidSessionRequest) {
		t.Fatalf("expected ErrInvalidSessionRequest, got %v", err)
	}
}

func TestTokenFromAnotherSecretFails(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	otherEngine, _ := newTestEngine(t, func(c *Config) {
		c.Token.Secret = []byte(strings.Repeat("z", 32))
	})

	res := mustCreate(t, otherEngine, studentRequest("u1", "10.0.0.1"))
	if _, ok := engine.VerifySession(context.Background(), res.Token, ""); ok {
		t.Fatal("expected token signed with another secret to fail")
	}
}

func TestExpiredTokenFails(t *testing.T) {
	engine, clock := newTestEngine(t, func(c *Config) {
		c.Token.TTL = time.Hour
	})
	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))

	clock.Advance(time.Hour + time.Second)
	if _, ok := engine.VerifySession(context.Background(), res.Token, ""); ok {
		t.Fatal("expected expired token to fail")
	}
}

func TestClosedEngine(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))

	engine.Close()
	engine.Close()

	if _, ok := engine.VerifySession(context.Background(), res.Token, ""); ok {
		t.Fatal("expected closed engine to reject tokens")
	}
	if _, err := engine.CreateSession(context.Background(), studentRequest("u1", "")); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestRedisBackedEngineLifecycle(t *testing.T) {
	engine, clock, mr := newRedisTestEngine(t)
	ctx := context.Background()

	var results []*SessionResult
	for i := 0; i < 6; i++ {
		results = append(results, mustCreate(t, engine, studentRequest("u1", "10.0.0.1")))
		clock.Advance(time.Second)
	}
	if len(results[5].Evicted) != 1 || results[5].Evicted[0] != results[0].SessionID {
		t.Fatalf("expected first session evicted, got %v", results[5].Evicted)
	}
	if _, ok := engine.VerifySession(ctx, results[0].Token, ""); ok {
		t.Fatal("expected evicted token to fail")
	}
	if _, ok := engine.VerifySession(ctx, results[5].Token, ""); !ok {
		t.Fatal("expected newest token to verify")
	}

	mr.Close()
	if _, ok := engine.VerifySession(ctx, results[5].Token, ""); ok {
		t.Fatal("expected verification to fail closed when redis is down")
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	sink := NewChannelSink(16)
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte(testSecret)
	engine, err := New().WithConfig(cfg).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer engine.Close()

	ctx := WithClientIP(context.Background(), "10.0.0.1")
	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
	if _, err := engine.InvalidateSession(ctx, "u1", res.SessionID); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	want := []string{auditEventSessionCreated, auditEventSessionInvalidated}
	for _, typ := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != typ {
				t.Fatalf("expected %s, got %s", typ, ev.EventType)
			}
			if ev.UserID != "u1" {
				t.Fatalf("expected user u1, got %q", ev.UserID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestListActiveSessionsSkipsCorruptRecords(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var logs bytes.Buffer
	engine, err := New().
		WithSecret([]byte(testSecret)).
		WithRedis(rdb).
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	ctx := context.Background()

	res := mustCreate(t, engine, studentRequest("u1", "10.0.0.1"))
	if err := rdb.HSet(ctx, "ac:sess:{u1}:sessions", "broken", "garbage").Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	records, err := engine.ListActiveSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != res.SessionID {
		t.Fatalf("expected only the intact session, got %+v", records)
	}
	if !strings.Contains(logs.String(), "session records inconsistent") {
		t.Fatalf("expected an inconsistency warning, got %q", logs.String())
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	ua := strings.Repeat("a", 511) + "é"
	got := truncate(ua, 512)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got[len(got)-2:])
	}
	if len(got) != 511 {
		t.Fatalf("expected 511 bytes, got %d", len(got))
	}
	if truncate("short", 512) != "short" {
		t.Fatal("short input should be unchanged")
	}
}
