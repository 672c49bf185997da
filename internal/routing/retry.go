package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/metrics"
)

// RetryPolicy bounds how an outbound call is retried. A zero MaxAttempts
// means a single attempt.
type RetryPolicy struct {
	MaxAttempts uint
	Initial     time.Duration
	Max         time.Duration
}

// RetryPolicyFrom converts the routing.retry config section.
func RetryPolicyFrom(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: uint(max(c.MaxAttempts, 1)),
		Initial:     time.Duration(c.InitialBackoffMs) * time.Millisecond,
		Max:         time.Duration(c.MaxBackoffMs) * time.Millisecond,
	}
}

// tries never returns zero, which backoff treats as unlimited.
func (p RetryPolicy) tries() uint {
	return max(p.MaxAttempts, 1)
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	return b
}

// retry runs fn until it succeeds, fails permanently, runs out of attempts,
// or ctx ends. Every failure it returns wraps domain.ErrDeliveryFailed and
// the last error fn returned.
func retry[T any](ctx context.Context, policy RetryPolicy, log *logging.Logger, p domain.Platform, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	defer func() {
		metrics.OutboundDuration.WithLabelValues(string(p), op).Observe(time.Since(start).Seconds())
	}()

	var last error
	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn(ctx)
		switch {
		case err == nil:
			metrics.OutboundAttempts.WithLabelValues(string(p), op, "ok").Inc()
			return v, nil
		case domain.IsPermanent(err):
			metrics.OutboundAttempts.WithLabelValues(string(p), op, "permanent").Inc()
			last = err
			return v, backoff.Permanent(err)
		default:
			metrics.OutboundAttempts.WithLabelValues(string(p), op, "transient").Inc()
			last = err
			return v, err
		}
	},
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(policy.tries()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).
				Str("platform", string(p)).
				Str("op", op).
				Int("attempt", attempts).
				Dur("backoff", next).
				Msg("outbound call failed, retrying")
		}),
	)
	if err == nil {
		return res, nil
	}

	if last == nil {
		last = err
	}
	if cerr := ctx.Err(); cerr != nil && !errors.Is(last, cerr) {
		return res, fmt.Errorf("%w: %s %s abandoned after %d attempts: %w: %w", domain.ErrDeliveryFailed, p, op, attempts, cerr, last)
	}
	return res, fmt.Errorf("%w: %s %s after %d attempts: %w", domain.ErrDeliveryFailed, p, op, attempts, last)
}
