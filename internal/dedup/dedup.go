// Package dedup implements the idempotency window shared by webhook workers.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Window records event keys for a bounded time.
type Window interface {
	// Seen marks key and reports whether it was already marked.
	Seen(ctx context.Context, key string) (bool, error)

	// Forget clears key so a redelivery is processed again.
	Forget(ctx context.Context, key string) error
}

// MemoryWindow is an in-process Window bounded by entry count and TTL.
type MemoryWindow struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryWindow creates a window holding at most maxEntries keys, each for ttl.
// When full, the least recently seen key is evicted.
func NewMemoryWindow(maxEntries int, ttl time.Duration) *MemoryWindow {
	return &MemoryWindow{
		cache: lru.New(maxEntries),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (w *MemoryWindow) Seen(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if v, ok := w.cache.Get(key); ok {
		if now.Before(v.(time.Time)) {
			return true, nil
		}
	}
	w.cache.Add(key, now.Add(w.ttl))
	return false, nil
}

func (w *MemoryWindow) Forget(_ context.Context, key string) error {
	w.mu.Lock()
	w.cache.Remove(key)
	w.mu.Unlock()
	return nil
}

// Len returns the number of keys held, including expired ones not yet evicted.
func (w *MemoryWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache.Len()
}
