// Package media holds relayed attachments in memory and serves them over
// HTTP so the target platform can download them by URL.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
)

// ErrTooLarge is returned by Publish when media exceeds the per-item limit.
var ErrTooLarge = errors.New("media exceeds size limit")

type item struct {
	data     []byte
	mimeType string
	filename string
	expires  time.Time
}

// Cache is a bounded, expiring store of published media.
type Cache struct {
	mu       sync.Mutex
	items    *lru.Cache
	baseURL  string
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache that publishes URLs under publicURL + "/media/".
func NewCache(publicURL string, cfg config.MediaConfig) *Cache {
	return &Cache{
		items:    lru.New(cfg.MaxItems),
		baseURL:  strings.TrimSuffix(publicURL, "/") + "/media/",
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.TTL(),
		now:      time.Now,
	}
}

// Publish reads media fully and returns the URL it is served at. The caller
// still owns media.Body.
func (c *Cache) Publish(ctx context.Context, m *domain.Media) (string, error) {
	if m.Size > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, m.Size)
	}
	data, err := io.ReadAll(io.LimitReader(m.Body, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading media: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.items.Add(id, item{data: data, mimeType: m.MimeType, filename: m.Filename, expires: c.now().Add(c.ttl)})
	c.mu.Unlock()
	return c.baseURL + id, nil
}

func (c *Cache) get(id string) (item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items.Get(id)
	if !ok {
		return item{}, false
	}
	it := v.(item)
	if !c.now().Before(it.expires) {
		c.items.Remove(id)
		return item{}, false
	}
	return it, true
}

// Len returns the number of cached items, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// ServeHTTP serves GET /media/{id}.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	it, ok := c.get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	ct := it.mimeType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if it.filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": it.filename}))
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(it.data))
}
