package rate

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryBackend keeps windows in a mutex-guarded map.
type MemoryBackend struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{windows: make(map[string]*window)}
}

func (b *MemoryBackend) Take(ctx context.Context, key string, limit int, win time.Duration, now time.Time) (bool, int, time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(win)}
		b.windows[key] = w
		return true, w.count, w.resetAt, nil
	}
	if w.count >= limit {
		return false, w.count, w.resetAt, nil
	}
	w.count++
	return true, w.count, w.resetAt, nil
}

// Sweep drops windows that closed at or before now and returns how many were removed.
func (b *MemoryBackend) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, w := range b.windows {
		if !now.Before(w.resetAt) {
			delete(b.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked windows.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}

// Reset drops every window.
func (b *MemoryBackend) Reset() {
	b.mu.Lock()
	b.windows = make(map[string]*window)
	b.mu.Unlock()
}
