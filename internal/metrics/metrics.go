// Package metrics exposes Prometheus collectors for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbridge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Webhook metrics
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_webhooks_received_total",
			Help: "Webhooks received, by classification",
		},
		[]string{"platform", "kind"}, // kind: message | status | ignored | unrecognized
	)

	Dispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_dispatch_total",
			Help: "Dispatch outcomes",
		},
		[]string{"platform", "outcome"},
	)

	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_dispatch_in_flight",
			Help: "Dispatches currently running",
		},
	)

	// Outbound metrics
	OutboundAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_outbound_attempts_total",
			Help: "Outbound platform calls, including retries",
		},
		[]string{"platform", "op", "result"}, // result: ok | transient | permanent
	)

	OutboundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbridge_outbound_duration_seconds",
			Help:    "Outbound operation duration across all attempts",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"platform", "op"},
	)

	ChatsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_chats_created_total",
			Help: "CRM chats opened for new client conversations",
		},
	)

	// Error metrics
	ErrorsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_errors_reported_total",
			Help: "Errors absorbed at the webhook boundary, by kind",
		},
		[]string{"kind"},
	)
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
