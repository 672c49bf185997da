// Package mapping resolves which conversation on one platform corresponds to
// a conversation on the other.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/logging"
)

// ErrConflict is returned by Record when the source key is already mapped to
// a different target.
var ErrConflict = errors.New("conversation already mapped to a different target")

// defaultCreateTimeout bounds a first-sight flight when no timeout is set.
const defaultCreateTimeout = time.Minute

// CreateFunc opens a target-side conversation and returns its id.
type CreateFunc func(ctx context.Context) (string, error)

// Mapper owns conversation mappings and message links.
type Mapper struct {
	store         Store
	links         LinkStore
	group         singleflight.Group
	createTimeout time.Duration
	log           *logging.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithCreateTimeout bounds how long a shared first-sight create may run.
func WithCreateTimeout(d time.Duration) Option {
	return func(m *Mapper) {
		if d > 0 {
			m.createTimeout = d
		}
	}
}

// NewMapper creates a mapper over the given stores.
func NewMapper(store Store, links LinkStore, log *logging.Logger, opts ...Option) *Mapper {
	m := &Mapper{
		store:         store,
		links:         links,
		createTimeout: defaultCreateTimeout,
		log:           log.Sub("mapping"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Resolve returns the target conversation for a source conversation key.
// It fails with domain.ErrUnmappedConversation when no mapping exists.
func (m *Mapper) Resolve(ctx context.Context, source domain.Platform, key string) (string, error) {
	mp, ok, err := m.store.Lookup(ctx, source, key)
	if err != nil {
		return "", fmt.Errorf("looking up %s conversation %q: %w", source, key, err)
	}
	if !ok {
		return "", fmt.Errorf("%s conversation %q: %w", source, key, domain.ErrUnmappedConversation)
	}
	return mp.KeyFor(source.Opposite()), nil
}

// Record stores the mapping between a source key and a target key.
// Recording the same pair twice is a no-op.
func (m *Mapper) Record(ctx context.Context, source domain.Platform, key, target, subdomain string) error {
	mp := domain.ConversationMapping{AccountSubdomain: subdomain}
	if source == domain.PlatformEdna {
		mp.ClientConversationID, mp.CRMConversationID = key, target
	} else {
		mp.ClientConversationID, mp.CRMConversationID = target, key
	}

	saved, err := m.store.Save(ctx, mp)
	if err != nil {
		return fmt.Errorf("saving mapping %s:%s: %w", source, key, err)
	}
	if saved.ClientConversationID != mp.ClientConversationID || saved.CRMConversationID != mp.CRMConversationID {
		return fmt.Errorf("%s conversation %q: %w", source, key, ErrConflict)
	}

	m.log.Info().
		Str("client", mp.ClientConversationID).
		Str("crm", mp.CRMConversationID).
		Str("subdomain", subdomain).
		Msg("conversation mapped")
	return nil
}

// ResolveOrCreate resolves key, or on first sight runs create and records
// the result. Concurrent first-sight calls for the same key share one create
// call. The boolean reports whether the mapping was created by this call or
// by a flight it joined.
//
// The shared create runs detached from every caller's context, bounded by
// the create timeout. A caller whose own ctx ends stops waiting and gets
// ctx.Err(); the flight it started or joined still completes for the others.
func (m *Mapper) ResolveOrCreate(ctx context.Context, source domain.Platform, key, subdomain string, create CreateFunc) (string, bool, error) {
	target, err := m.Resolve(ctx, source, key)
	if err == nil {
		return target, false, nil
	}
	if !errors.Is(err, domain.ErrUnmappedConversation) {
		return "", false, err
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(string(source)+":"+key, func() (any, error) {
		ctx, cancel := context.WithTimeout(flightCtx, m.createTimeout)
		defer cancel()
		return m.createAndRecord(ctx, source, key, subdomain, create)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		f := res.Val.(flight)
		return f.target, f.created, nil
	case <-ctx.Done():
		return "", false, fmt.Errorf("waiting for %s conversation %q: %w", source, key, ctx.Err())
	}
}

type flight struct {
	target  string
	created bool
}

func (m *Mapper) createAndRecord(ctx context.Context, source domain.Platform, key, subdomain string, create CreateFunc) (flight, error) {
	// A flight that finished just before this one started may have recorded it.
	if target, err := m.Resolve(ctx, source, key); err == nil {
		return flight{target: target}, nil
	} else if !errors.Is(err, domain.ErrUnmappedConversation) {
		return flight{}, err
	}

	target, err := create(ctx)
	if err != nil {
		return flight{}, fmt.Errorf("creating target conversation for %s:%s: %w", source, key, err)
	}

	if err := m.Record(ctx, source, key, target, subdomain); err != nil {
		if !errors.Is(err, ErrConflict) {
			return flight{}, err
		}
		// Another process won the insert; its mapping is authoritative.
		existing, rerr := m.Resolve(ctx, source, key)
		if rerr != nil {
			return flight{}, rerr
		}
		m.log.Warn().
			Str("key", key).
			Str("orphan", target).
			Str("target", existing).
			Msg("lost mapping race, using existing conversation")
		return flight{target: existing}, nil
	}
	return flight{target: target, created: true}, nil
}

// LinkMessage remembers where a routed message landed.
func (m *Mapper) LinkMessage(ctx context.Context, link domain.MessageLink) error {
	if err := m.links.SaveLink(ctx, link); err != nil {
		return fmt.Errorf("saving message link %s:%s: %w", link.SourcePlatform, link.SourceMessageID, err)
	}
	return nil
}

// TargetMessage finds the target-side reference for a message id assigned by
// the source platform. It fails with domain.ErrMissingStatusTarget when the
// message was never routed by this instance.
func (m *Mapper) TargetMessage(ctx context.Context, source domain.Platform, id string) (domain.MessageLink, error) {
	link, ok, err := m.links.LinkBySource(ctx, source, id)
	if err != nil {
		return domain.MessageLink{}, fmt.Errorf("looking up message link %s:%s: %w", source, id, err)
	}
	if !ok {
		return domain.MessageLink{}, fmt.Errorf("%s message %q: %w", source, id, domain.ErrMissingStatusTarget)
	}
	return link, nil
}
