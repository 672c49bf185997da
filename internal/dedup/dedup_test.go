package dedup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow_Seen(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow(10, time.Minute)

	seen, err := w.Seen(ctx, "edna:message:E1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = w.Seen(ctx, "edna:message:E1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = w.Seen(ctx, "edna:message:E2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryWindow_TTL(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow(10, time.Minute)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	seen, _ := w.Seen(ctx, "k")
	assert.False(t, seen)

	clock = clock.Add(30 * time.Second)
	seen, _ = w.Seen(ctx, "k")
	assert.True(t, seen)

	clock = clock.Add(2 * time.Minute)
	seen, _ = w.Seen(ctx, "k")
	assert.False(t, seen, "expired key counts as new")
}

func TestMemoryWindow_Bounded(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow(3, time.Hour)

	for i := range 5 {
		_, err := w.Seen(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, w.Len())

	// k0 was evicted first.
	seen, _ := w.Seen(ctx, "k0")
	assert.False(t, seen)
	seen, _ = w.Seen(ctx, "k4")
	assert.True(t, seen)
}

func TestMemoryWindow_Forget(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow(10, time.Hour)

	w.Seen(ctx, "k")
	require.NoError(t, w.Forget(ctx, "k"))

	seen, _ := w.Seen(ctx, "k")
	assert.False(t, seen)
}

func TestMemoryWindow_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow(100, time.Hour)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if seen, _ := w.Seen(ctx, "same"); !seen {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestRedisWindow(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()

	w, err := NewRedisWindow(ctx, url, time.Minute)
	require.NoError(t, err)
	defer w.Close()

	key := "test:" + uuid.New().String()
	t.Cleanup(func() { w.Forget(ctx, key) })

	seen, err := w.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = w.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, w.Forget(ctx, key))
	seen, err = w.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNewRedisWindow_BadURL(t *testing.T) {
	_, err := NewRedisWindow(context.Background(), "not-a-url", time.Minute)
	assert.Error(t, err)
}
