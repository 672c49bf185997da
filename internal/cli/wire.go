package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/dedup"
	"github.com/soyeahso/chatbridge/internal/gateway"
	"github.com/soyeahso/chatbridge/internal/hooks"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/mapping"
	"github.com/soyeahso/chatbridge/internal/media"
	"github.com/soyeahso/chatbridge/internal/platform/amocrm"
	"github.com/soyeahso/chatbridge/internal/platform/edna"
	"github.com/soyeahso/chatbridge/internal/report"
	"github.com/soyeahso/chatbridge/internal/routing"
	"github.com/soyeahso/chatbridge/internal/store"
)

// bridge is a fully assembled relay: platform clients, router and server.
type bridge struct {
	hooks  *hooks.Manager
	edna   *edna.Client
	amo    *amocrm.Client
	router *routing.Router
	server *gateway.Server

	closers []io.Closer
}

// Close releases the database and Redis connections in reverse order.
func (b *bridge) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildBridge wires every component from cfg. On error anything already
// opened is closed.
func buildBridge(ctx context.Context, cfg config.Config, paths config.Paths, log *logging.Logger) (_ *bridge, err error) {
	b := &bridge{hooks: hooks.NewManager(log)}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if cfg.Hooks.AlertURL != "" {
		timeout := time.Duration(cfg.Hooks.TimeoutMs) * time.Millisecond
		b.hooks.On(hooks.EventErrorReported, "alert", hooks.AlertHandler(cfg.Hooks.AlertURL, cfg.Hooks.AlertKinds, timeout))
		log.Info().Strs("kinds", cfg.Hooks.AlertKinds).Msg("error alerts enabled")
	}

	// Mapping persistence
	var (
		mappings mapping.Store
		links    mapping.LinkStore
		sink     report.Sink
	)
	switch cfg.Store.Backend {
	case "sqlite":
		dbPath := paths.Database(cfg.Store)
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		b.closers = append(b.closers, db)
		mappings = store.NewSQLiteMappingStore(db)
		links = store.NewSQLiteLinkStore(db)
		if cfg.Store.PersistReports() {
			sink = store.NewReportStore(db)
		}
		log.Info().Str("path", dbPath).Bool("reports", sink != nil).Msg("using SQLite mapping store")
	default:
		mem := mapping.NewMemoryStore(mapping.WithLinkLimit(cfg.Store.MaxLinks, cfg.Store.LinkTTL()))
		mappings, links = mem, mem
		log.Info().Msg("using in-memory mapping store")
	}

	// Idempotency window
	var window dedup.Window
	switch cfg.Dedup.Backend {
	case "redis":
		rw, err := dedup.NewRedisWindow(ctx, cfg.Dedup.RedisURL, cfg.Dedup.TTL())
		if err != nil {
			return nil, fmt.Errorf("connecting dedup window: %w", err)
		}
		b.closers = append(b.closers, rw)
		window = rw
		log.Info().Dur("ttl", cfg.Dedup.TTL()).Msg("using Redis dedup window")
	default:
		window = dedup.NewMemoryWindow(cfg.Dedup.MaxEntries, cfg.Dedup.TTL())
	}

	// Platform clients. Media is republished only when the gateway is
	// reachable from outside; otherwise source URLs pass through.
	var (
		ednaOpts []edna.Option
		amoOpts  []amocrm.Option
		srvOpts  = []gateway.ServerOption{gateway.WithHooks(b.hooks)}
	)
	if cfg.Gateway.PublicURL != "" {
		cache := media.NewCache(cfg.Gateway.PublicURL, cfg.Media)
		ednaOpts = append(ednaOpts, edna.WithPublisher(cache))
		amoOpts = append(amoOpts, amocrm.WithPublisher(cache))
		srvOpts = append(srvOpts, gateway.WithMedia(cache))
	}
	if cfg.AmoCRM.RESTEnabled() {
		amoOpts = append(amoOpts, amocrm.WithREST(amocrm.NewREST(cfg.AmoCRM, nil)))
	}
	b.edna = edna.New(cfg.Edna, log, ednaOpts...)
	b.amo = amocrm.New(cfg.AmoCRM, log, amoOpts...)

	reporter := report.New(log, b.hooks, sink)
	mapper := mapping.NewMapper(mappings, links, log, mapping.WithCreateTimeout(cfg.Routing.Deadline()))

	b.router = routing.NewRouter(b.edna, b.amo, mapper, window, reporter, b.hooks, routing.Config{
		CreateChats: cfg.Routing.CreateChats(),
		Deadline:    cfg.Routing.Deadline(),
		Retry:       routing.RetryPolicyFrom(cfg.Routing.Retry),
	}, log)

	b.server = gateway.New(cfg.Gateway, b.router, reporter, log, srvOpts...)
	return b, nil
}

// register announces the bridge to both platforms. Failures are logged; the
// amoCRM scope and chat source are resolved again on first send.
func (b *bridge) register(ctx context.Context, log *logging.Logger) {
	if err := b.edna.EnsureCallbacks(ctx); err != nil {
		log.Warn().Err(err).Msg("registering edna callbacks failed")
	}
	if scope, err := b.amo.EnsureScope(ctx); err != nil {
		log.Warn().Err(err).Msg("connecting amoCRM channel failed")
	} else {
		log.Info().Str("scope_id", scope).Msg("amoCRM channel ready")
	}
	if id := b.amo.EnsureSource(ctx); id != "" {
		log.Info().Str("source", id).Msg("amoCRM chat source ready")
	}
}
