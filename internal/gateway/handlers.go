package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/inbound"
	"github.com/soyeahso/chatbridge/internal/metrics"
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// ackBody is what every webhook POST answers, whatever happened to the event.
var ackBody = []byte(`{"code":"ok"}` + "\n")

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(s.uptime().Seconds()),
	})
}

// handleVerify answers URL verification requests.
func handleVerify(w http.ResponseWriter, r *http.Request) {
	writeAck(w)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

type parseFunc func([]byte) (inbound.Result, error)

// webhook builds the receiver for one platform. It always acknowledges with
// 200 so the platform does not retry; failures are reported instead.
func (s *Server) webhook(p domain.Platform, parse parseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
		if err != nil {
			metrics.WebhooksReceived.WithLabelValues(string(p), "unrecognized").Inc()
			s.reporter.Error(ctx, "parse", p, "", &inbound.ParseError{Platform: p, Reason: "reading body", Err: err}, nil)
			writeAck(w)
			return
		}

		res, err := parse(body)
		if err != nil {
			metrics.WebhooksReceived.WithLabelValues(string(p), "unrecognized").Inc()
			s.reporter.Error(ctx, "parse", p, "", err, body)
			writeAck(w)
			return
		}
		metrics.WebhooksReceived.WithLabelValues(string(p), string(res.Kind)).Inc()

		if s.cfg.Async {
			// Detach from the request so the dispatch outlives the response.
			s.async.Add(1)
			go func() {
				defer s.async.Done()
				s.dispatch(context.WithoutCancel(ctx), res)
			}()
			writeAck(w)
			return
		}

		s.dispatch(ctx, res)
		writeAck(w)
	}
}

// dispatch runs res once a worker slot is free.
func (s *Server) dispatch(ctx context.Context, res inbound.Result) {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		s.reporter.Error(ctx, "dispatch", res.Platform, "", fmt.Errorf("waiting for a worker: %w", err), nil)
		return
	}
	defer s.workers.Release(1)

	outcome := s.dispatcher.Dispatch(ctx, res)
	s.log.Debug().
		Str("platform", string(res.Platform)).
		Str("kind", string(res.Kind)).
		Str("outcome", string(outcome)).
		Str("request_id", requestIDFrom(ctx)).
		Msg("webhook dispatched")
}

func (s *Server) maxBodyBytes() int64 {
	if s.cfg.MaxBodyBytes > 0 {
		return s.cfg.MaxBodyBytes
	}
	return 1 << 20
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(ackBody)
}
