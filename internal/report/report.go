// Package report surfaces failures absorbed at the webhook boundary.
package report

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/hooks"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/metrics"
)

// saveTimeout bounds persisting a report once the request context has ended.
const saveTimeout = 5 * time.Second

// Sink persists reports.
type Sink interface {
	Save(ctx context.Context, r domain.ErrorReport) (domain.ErrorReport, error)
}

// Reporter writes each report to the log, a metric, the error_reported hook,
// and the sink when one is configured.
type Reporter struct {
	log   *logging.Logger
	hooks *hooks.Manager
	sink  Sink
}

// New creates a reporter. hooks and sink may be nil.
func New(log *logging.Logger, hooks *hooks.Manager, sink Sink) *Reporter {
	return &Reporter{log: log.Sub("report"), hooks: hooks, sink: sink}
}

// Error reports err for an event. The kind is derived from err.
func (r *Reporter) Error(ctx context.Context, stage string, platform domain.Platform, externalID string, err error, payload []byte) {
	r.Report(ctx, domain.ErrorReport{
		Kind:       domain.KindOf(err),
		Platform:   platform,
		Stage:      stage,
		ExternalID: externalID,
		Error:      err.Error(),
		Payload:    string(payload),
	})
}

// Report records rep. It never fails; a sink error is logged.
func (r *Reporter) Report(ctx context.Context, rep domain.ErrorReport) {
	if rep.Kind == "" {
		rep.Kind = domain.KindInternal
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}

	metrics.ErrorsReported.WithLabelValues(string(rep.Kind)).Inc()

	if r.sink != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
		saved, err := r.sink.Save(saveCtx, rep)
		cancel()
		if err != nil {
			r.log.Error().Err(err).Str("kind", string(rep.Kind)).Msg("persisting error report failed")
		} else {
			rep = saved
		}
	}

	r.event(rep).
		Str("kind", string(rep.Kind)).
		Str("platform", string(rep.Platform)).
		Str("stage", rep.Stage).
		Str("external_id", rep.ExternalID).
		Str("report_id", rep.ID).
		Msg(rep.Error)

	if r.hooks != nil {
		r.hooks.EmitAsync(ctx, hooks.EventErrorReported, map[string]any{
			"id":         rep.ID,
			"kind":       string(rep.Kind),
			"platform":   string(rep.Platform),
			"stage":      rep.Stage,
			"externalId": rep.ExternalID,
			"error":      rep.Error,
		})
	}
}

func (r *Reporter) event(rep domain.ErrorReport) *zerolog.Event {
	switch rep.Kind {
	case domain.KindSendPermanent, domain.KindDeliveryFailed, domain.KindInternal:
		return r.log.Error()
	default:
		return r.log.Warn()
	}
}
