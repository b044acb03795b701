package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeFactory func(t *testing.T) Store

// storeFactories always covers the memory store and miniredis. Setting REDIS_ADDR adds a
// real Redis server; each test gets its own key prefix there.
func storeFactories() map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"redis": func(t *testing.T) Store {
			store, _, done := newRedisStoreTest(t)
			t.Cleanup(done)
			return store
		},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		factories["redis-server"] = func(t *testing.T) Store {
			return newRedisServerStore(t, addr)
		}
	}
	return factories
}

func newRedisServerStore(t *testing.T, addr string) Store {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("cannot connect to Redis at %s: %v", addr, err)
	}

	prefix := "actest:" + strings.ReplaceAll(t.Name(), "/", ":")
	t.Cleanup(func() {
		ctx := context.Background()
		iter := rdb.Scan(ctx, 0, prefix+":*", 256).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
		_ = rdb.Close()
	})
	return NewRedisStore(rdb, prefix, 0)
}

func newRedisStoreTest(t *testing.T) (*RedisStore, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "test", 0)
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord(userID, sessionID string, at int64) *Record {
	return &Record{
		SessionID:         sessionID,
		UserID:            userID,
		DeviceFingerprint: "v1:" + sessionID,
		UserAgent:         "Mozilla/5.0",
		IP:                "203.0.113.7",
		CreatedAt:         at,
		LastActivity:      at,
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStoreInsertGetTouch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Insert(ctx, testRecord("u1", "s1", 1000), 5); err != nil {
			t.Fatalf("insert: %v", err)
		}

		rec, err := s.Get(ctx, "u1", "s1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !rec.Active || rec.IP != "203.0.113.7" || rec.LastActivity != 1000 {
			t.Fatalf("unexpected record: %+v", rec)
		}

		ok, err := s.Touch(ctx, "u1", "s1", 5000)
		if err != nil || !ok {
			t.Fatalf("touch: ok=%v err=%v", ok, err)
		}
		rec, _ = s.Get(ctx, "u1", "s1")
		if rec.LastActivity != 5000 {
			t.Fatalf("expected last activity 5000, got %d", rec.LastActivity)
		}

		if ok, _ := s.Touch(ctx, "u1", "missing", 6000); ok {
			t.Fatal("expected touch of missing session to report false")
		}
		if _, err := s.Get(ctx, "u1", "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Get(ctx, "u2", "s1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected session to be scoped to its user, got %v", err)
		}
	})
}

func TestStoreCapEvictsLeastRecentlyActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 5; i++ {
			if _, err := s.Insert(ctx, testRecord("u1", fmt.Sprintf("s%d", i), int64(i*1000)), 5); err != nil {
				t.Fatalf("insert %d: %v", i, err)
			}
		}
		// s1 becomes the most recent, so s2 is now the eviction candidate.
		if _, err := s.Touch(ctx, "u1", "s1", 9000); err != nil {
			t.Fatalf("touch: %v", err)
		}

		evicted, err := s.Insert(ctx, testRecord("u1", "s6", 10000), 5)
		if err != nil {
			t.Fatalf("insert s6: %v", err)
		}
		if len(evicted) != 1 || evicted[0] != "s2" {
			t.Fatalf("expected s2 evicted, got %v", evicted)
		}

		list, err := s.List(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 5 {
			t.Fatalf("expected 5 sessions, got %d", len(list))
		}
		if list[0].SessionID != "s6" || list[1].SessionID != "s1" {
			t.Fatalf("expected recency order s6,s1,... got %s,%s", list[0].SessionID, list[1].SessionID)
		}
		if _, err := s.Get(ctx, "u1", "s2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected evicted session to be gone, got %v", err)
		}
	})
}

func TestStoreCapNeverEvictsNewSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			if _, err := s.Insert(ctx, testRecord("u1", fmt.Sprintf("s%d", i), 5000), 2); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		// The newcomer carries an older activity stamp than every existing session.
		evicted, err := s.Insert(ctx, testRecord("u1", "late", 1), 2)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if len(evicted) != 1 {
			t.Fatalf("expected one eviction, got %v", evicted)
		}
		if _, err := s.Get(ctx, "u1", "late"); err != nil {
			t.Fatalf("expected new session to survive: %v", err)
		}
	})
}

func TestStoreCapTieBreaksBySessionID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		older := testRecord("u1", "b", 1000)
		older.LastActivity = 5000
		newer := testRecord("u1", "a", 2000)
		newer.LastActivity = 5000
		for _, rec := range []*Record{older, newer} {
			if _, err := s.Insert(ctx, rec, 2); err != nil {
				t.Fatalf("insert %s: %v", rec.SessionID, err)
			}
		}

		evicted, err := s.Insert(ctx, testRecord("u1", "c", 6000), 2)
		if err != nil {
			t.Fatalf("insert c: %v", err)
		}
		if len(evicted) != 1 || evicted[0] != "a" {
			t.Fatalf("expected a evicted on an activity tie, got %v", evicted)
		}
	})
}

func TestStoreDeleteVariants(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			_, _ = s.Insert(ctx, testRecord("u1", fmt.Sprintf("s%d", i), int64(i)), 5)
		}

		n, err := s.DeleteOthers(ctx, "u1", "s1")
		if err != nil || n != 2 {
			t.Fatalf("delete others: n=%d err=%v", n, err)
		}
		list, _ := s.List(ctx, "u1")
		if len(list) != 1 || list[0].SessionID != "s1" {
			t.Fatalf("expected only s1 to remain, got %+v", list)
		}

		ok, err := s.Delete(ctx, "u1", "s1")
		if err != nil || !ok {
			t.Fatalf("delete: ok=%v err=%v", ok, err)
		}
		ok, err = s.Delete(ctx, "u1", "s1")
		if err != nil || ok {
			t.Fatalf("second delete must be a no-op: ok=%v err=%v", ok, err)
		}

		_, _ = s.Insert(ctx, testRecord("u1", "a", 1), 5)
		_, _ = s.Insert(ctx, testRecord("u1", "b", 2), 5)
		n, err = s.DeleteAll(ctx, "u1")
		if err != nil || n != 2 {
			t.Fatalf("delete all: n=%d err=%v", n, err)
		}
		n, err = s.DeleteAll(ctx, "u1")
		if err != nil || n != 0 {
			t.Fatalf("second delete all: n=%d err=%v", n, err)
		}
	})
}

func TestStoreSweep(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, _ = s.Insert(ctx, testRecord("u1", "old", 1000), 5)
		_, _ = s.Insert(ctx, testRecord("u1", "fresh", 9000), 5)
		_, _ = s.Insert(ctx, testRecord("u2", "old", 2000), 5)

		removed, err := s.Sweep(ctx, 5000)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected 2 removed, got %d", removed)
		}
		if list, _ := s.List(ctx, "u2"); len(list) != 0 {
			t.Fatalf("expected u2 to have no sessions, got %d", len(list))
		}
		if _, err := s.Get(ctx, "u1", "fresh"); err != nil {
			t.Fatalf("expected fresh session to survive: %v", err)
		}
	})
}

func TestStoreConcurrentInsertsRespectCap(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.Insert(ctx, testRecord("u1", fmt.Sprintf("s%02d", i), int64(i)), 5)
			}(i)
		}
		wg.Wait()

		list, err := s.List(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 5 {
			t.Fatalf("expected cap of 5 to hold, got %d", len(list))
		}
	})
}

func TestMemoryStoreSweepDropsEmptyUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Insert(ctx, testRecord("u1", "s1", 1), 5)
	if s.Users() != 1 {
		t.Fatalf("expected one user")
	}
	if _, err := s.Sweep(ctx, 10); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if s.Users() != 0 {
		t.Fatalf("expected empty user entry to be removed")
	}

	_, _ = s.Insert(ctx, testRecord("u1", "s1", 1), 5)
	s.Reset()
	if s.Users() != 0 {
		t.Fatalf("expected reset to drop all users")
	}
}

func TestRedisStoreCorruptRecordIsNotReturned(t *testing.T) {
	store, rdb, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := rdb.HSet(ctx, store.hashKey("u1"), "s1", "garbage").Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Get(ctx, "u1", "s1"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if _, err := store.Insert(ctx, testRecord("u1", "s2", 1000), 5); err != nil {
		t.Fatalf("insert: %v", err)
	}
	list, err := store.List(ctx, "u1")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt alongside the listing, got %v", err)
	}
	if len(list) != 1 || list[0].SessionID != "s2" {
		t.Fatalf("expected only the decodable record, got %+v", list)
	}

	blob, _ := Encode(testRecord("u2", "s1", 1))
	_ = rdb.HSet(ctx, store.hashKey("u1"), "s1", blob).Err()
	if _, err := store.Get(ctx, "u1", "s1"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected foreign record to be rejected, got %v", err)
	}
}

func TestRedisStoreAppliesIdleExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewRedisStore(rdb, "test", time.Hour)
	ctx := context.Background()
	if _, err := store.Insert(ctx, testRecord("u1", "s1", 1), 5); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ttl := mr.TTL(store.hashKey("u1")); ttl != time.Hour {
		t.Fatalf("expected hash ttl of 1h, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "u1", "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idle user keys to expire, got %v", err)
	}
}

func TestRedisStoreBackendUnavailable(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	done()

	ctx := context.Background()
	if _, err := store.Insert(ctx, testRecord("u1", "s1", 1), 5); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := store.Get(ctx, "u1", "s1"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
