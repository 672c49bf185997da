// Package gateway is the webhook HTTP server in front of the router.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/hooks"
	"github.com/soyeahso/chatbridge/internal/inbound"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/report"
	"github.com/soyeahso/chatbridge/internal/routing"
	"github.com/soyeahso/chatbridge/internal/version"
)

// shutdownTimeout bounds draining connections and in-flight async dispatches.
const shutdownTimeout = 10 * time.Second

// Dispatcher runs a parsed webhook. *routing.Router implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, res inbound.Result) routing.Outcome
}

// Server is the chatbridge webhook server.
type Server struct {
	cfg        config.GatewayConfig
	dispatcher Dispatcher
	reporter   *report.Reporter
	log        *logging.Logger
	version    string

	// Hook manager (optional)
	hooks *hooks.Manager

	// Serves relayed media (optional)
	media http.Handler

	workers *semaphore.Weighted
	async   sync.WaitGroup

	mu         sync.Mutex
	startedAt  time.Time
	httpServer *http.Server
	addr       string
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithMedia serves relayed attachments at GET /media/{id}.
func WithMedia(h http.Handler) ServerOption {
	return func(s *Server) {
		s.media = h
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, dispatcher Dispatcher, reporter *report.Reporter, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		reporter:   reporter,
		log:        log.Sub("gateway"),
		version:    version.Version,
		workers:    semaphore.NewWeighted(int64(max(cfg.MaxWorkers, 1))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start begins listening for webhooks. It blocks until the context is
// cancelled or an error occurs, then drains async dispatches.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Int("max_workers", s.cfg.MaxWorkers).
		Bool("async", s.cfg.Async).
		Msg("gateway server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	// Shutdown when context is cancelled
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown incomplete")
		}
		s.drain(shutdownCtx)
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// drain waits for async dispatches until ctx ends.
func (s *Server) drain(ctx context.Context) {
	finished := make(chan struct{})
	go func() {
		s.async.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		s.log.Warn().Msg("async dispatches still running at shutdown")
	}
}

// Addr returns the address the server listens on, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
