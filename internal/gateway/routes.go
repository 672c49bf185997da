package gateway

import (
	"net/http"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/inbound"
	"github.com/soyeahso/chatbridge/internal/metrics"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// edna checks callback URLs with GET before accepting them.
	mux.HandleFunc("GET /webhooks/edna", handleVerify)
	mux.HandleFunc("POST /webhooks/edna", s.webhook(domain.PlatformEdna, inbound.ParseEdna))

	amo := s.webhook(domain.PlatformAmoCRM, inbound.ParseAmoCRM)
	mux.HandleFunc("POST /webhooks/amocrm", amo)
	mux.HandleFunc("POST /webhooks/amocrm/{hook}", amo)

	if s.media != nil {
		mux.Handle("GET /media/{id}", s.media)
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
