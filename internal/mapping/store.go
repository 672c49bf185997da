package mapping

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/soyeahso/chatbridge/internal/domain"
)

// Message link bounds for MemoryStore.
const (
	DefaultMaxLinks = 100000
	DefaultLinkTTL  = 7 * 24 * time.Hour
)

// Store persists conversation mappings.
type Store interface {
	// Lookup finds the mapping that contains key in the given platform's namespace.
	Lookup(ctx context.Context, p domain.Platform, key string) (domain.ConversationMapping, bool, error)

	// Save inserts the mapping unless either of its keys is already mapped,
	// and returns whichever mapping is stored afterwards.
	Save(ctx context.Context, m domain.ConversationMapping) (domain.ConversationMapping, error)
}

// LinkStore persists message links used to correlate status updates.
type LinkStore interface {
	// SaveLink stores a link, replacing any link for the same source message.
	SaveLink(ctx context.Context, link domain.MessageLink) error

	// LinkBySource returns the link for a message id assigned by the source platform.
	LinkBySource(ctx context.Context, p domain.Platform, sourceMessageID string) (domain.MessageLink, bool, error)
}

// MemoryStore is an in-memory Store and LinkStore. Mappings are kept for the
// life of the process; message links are bounded by count and age, oldest
// evicted first.
type MemoryStore struct {
	mu       sync.RWMutex
	byClient map[string]domain.ConversationMapping // edna conversation → mapping
	byCRM    map[string]domain.ConversationMapping // amoCRM chat → mapping

	linkMu  sync.Mutex
	links   *lru.Cache // platform:source id → linkEntry
	linkTTL time.Duration
	now     func() time.Time
}

type linkEntry struct {
	link    domain.MessageLink
	expires time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithLinkLimit bounds how many message links are held and for how long.
// Non-positive values keep the defaults.
func WithLinkLimit(maxLinks int, ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if maxLinks > 0 {
			s.links = lru.New(maxLinks)
		}
		if ttl > 0 {
			s.linkTTL = ttl
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byClient: make(map[string]domain.ConversationMapping),
		byCRM:    make(map[string]domain.ConversationMapping),
		links:    lru.New(DefaultMaxLinks),
		linkTTL:  DefaultLinkTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Lookup(_ context.Context, p domain.Platform, key string) (domain.ConversationMapping, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.index(p)[key]
	return m, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, m domain.ConversationMapping) (domain.ConversationMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byClient[m.ClientConversationID]; ok {
		return existing, nil
	}
	if existing, ok := s.byCRM[m.CRMConversationID]; ok {
		return existing, nil
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.byClient[m.ClientConversationID] = m
	s.byCRM[m.CRMConversationID] = m
	return m, nil
}

// Len returns the number of stored mappings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byClient)
}

func (s *MemoryStore) SaveLink(_ context.Context, link domain.MessageLink) error {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	now := s.now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now.UTC()
	}
	s.links.Add(linkKey(link.SourcePlatform, link.SourceMessageID), linkEntry{link: link, expires: now.Add(s.linkTTL)})
	return nil
}

func (s *MemoryStore) LinkBySource(_ context.Context, p domain.Platform, id string) (domain.MessageLink, bool, error) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	key := linkKey(p, id)
	v, ok := s.links.Get(key)
	if !ok {
		return domain.MessageLink{}, false, nil
	}
	e := v.(linkEntry)
	if !s.now().Before(e.expires) {
		s.links.Remove(key)
		return domain.MessageLink{}, false, nil
	}
	return e.link, true, nil
}

// LinkCount returns the number of message links held, including expired
// ones not yet evicted.
func (s *MemoryStore) LinkCount() int {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	return s.links.Len()
}

func (s *MemoryStore) index(p domain.Platform) map[string]domain.ConversationMapping {
	if p == domain.PlatformEdna {
		return s.byClient
	}
	return s.byCRM
}

func linkKey(p domain.Platform, id string) string {
	return string(p) + ":" + id
}
