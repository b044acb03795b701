package session

import (
	"context"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const memoryShardCount = 64

// MemoryStore is an in-process [Store]. Users are spread over a fixed set of shards by
// xxhash of the user id; each shard has its own mutex.
type MemoryStore struct {
	shards [memoryShardCount]memoryShard
}

type memoryShard struct {
	mu    sync.Mutex
	users map[string]map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].users = make(map[string]map[string]*Record)
	}
	return s
}

func (s *MemoryStore) shard(userID string) *memoryShard {
	return &s.shards[xxhash.Sum64String(userID)%memoryShardCount]
}

func (s *MemoryStore) Insert(ctx context.Context, rec *Record, maxPerUser int) ([]string, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	sh := s.shard(rec.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions := sh.users[rec.UserID]
	if sessions == nil {
		sessions = make(map[string]*Record)
		sh.users[rec.UserID] = sessions
	}
	stored := rec.clone()
	stored.Active = true
	sessions[rec.SessionID] = stored

	if maxPerUser <= 0 || len(sessions) <= maxPerUser {
		return nil, nil
	}

	candidates := make([]*Record, 0, len(sessions)-1)
	for id, r := range sessions {
		if id != rec.SessionID {
			candidates = append(candidates, r)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return evictionOrderLess(candidates[i], candidates[j])
	})

	surplus := len(sessions) - maxPerUser
	evicted := make([]string, 0, surplus)
	for _, r := range candidates[:surplus] {
		r.Active = false
		delete(sessions, r.SessionID)
		evicted = append(evicted, r.SessionID)
	}
	return evicted, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, sessionID string) (*Record, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.users[userID][sessionID]
	if !ok || !r.Active {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (s *MemoryStore) Touch(ctx context.Context, userID, sessionID string, at int64) (bool, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.users[userID][sessionID]
	if !ok {
		return false, nil
	}
	if at > r.LastActivity {
		r.LastActivity = at
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions := sh.users[userID]
	r, ok := sessions[sessionID]
	if !ok {
		return false, nil
	}
	r.Active = false
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(sh.users, userID)
	}
	return true, nil
}

func (s *MemoryStore) DeleteOthers(ctx context.Context, userID, keepSessionID string) (int, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions := sh.users[userID]
	n := 0
	for id, r := range sessions {
		if id == keepSessionID {
			continue
		}
		r.Active = false
		delete(sessions, id)
		n++
	}
	if len(sessions) == 0 {
		delete(sh.users, userID)
	}
	return n, nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions := sh.users[userID]
	for _, r := range sessions {
		r.Active = false
	}
	delete(sh.users, userID)
	return len(sessions), nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]Record, error) {
	sh := s.shard(userID)
	sh.mu.Lock()
	out := make([]Record, 0, len(sh.users[userID]))
	for _, r := range sh.users[userID] {
		out = append(out, *r)
	}
	sh.mu.Unlock()

	sortByRecency(out)
	return out, nil
}

func (s *MemoryStore) Sweep(ctx context.Context, cutoff int64) (int, error) {
	removed := 0
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh := &s.shards[i]
		sh.mu.Lock()
		for userID, sessions := range sh.users {
			for id, r := range sessions {
				if r.LastActivity < cutoff {
					r.Active = false
					delete(sessions, id)
					removed++
				}
			}
			if len(sessions) == 0 {
				delete(sh.users, userID)
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Users returns the number of users holding at least one session.
func (s *MemoryStore) Users() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.users)
		sh.mu.Unlock()
	}
	return n
}

// Reset drops every record.
func (s *MemoryStore) Reset() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.users = make(map[string]map[string]*Record)
		sh.mu.Unlock()
	}
}

func sortByRecency(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivity != records[j].LastActivity {
			return records[i].LastActivity > records[j].LastActivity
		}
		return records[i].SessionID < records[j].SessionID
	})
}
