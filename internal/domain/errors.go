package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for reporting.
type ErrorKind string

const (
	KindUnrecognizedShape    ErrorKind = "unrecognized_shape"
	KindValidationFailed     ErrorKind = "validation_failed"
	KindUnmappedConversation ErrorKind = "unmapped_conversation"
	KindSendTransient        ErrorKind = "send_transient"
	KindSendPermanent        ErrorKind = "send_permanent"
	KindMissingStatusTarget  ErrorKind = "missing_status_target"
	KindDeliveryFailed       ErrorKind = "delivery_failed"
	KindInternal             ErrorKind = "internal"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrUnmappedConversation = errors.New("unmapped conversation")
	ErrMissingStatusTarget  = errors.New("status target not found")
	ErrUnrecognizedShape    = errors.New("unrecognized payload shape")

	// ErrDeliveryFailed marks an outbound operation that gave up, either out of
	// retries or on a permanent error.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// SendError is returned by outbound adapters.
type SendError struct {
	Platform   Platform
	Op         string
	StatusCode int
	Permanent  bool
	Err        error
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (HTTP %d): %v", e.Platform, e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Platform, e.Op, kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable send failure.
func Transient(p Platform, op string, status int, err error) *SendError {
	return &SendError{Platform: p, Op: op, StatusCode: status, Err: err}
}

// Permanent wraps err as a send failure that must not be retried.
func Permanent(p Platform, op string, status int, err error) *SendError {
	return &SendError{Platform: p, Op: op, StatusCode: status, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent send failure.
func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}

// KindOf maps an error onto the reporting taxonomy.
func KindOf(err error) ErrorKind {
	var se *SendError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnrecognizedShape):
		return KindUnrecognizedShape
	case errors.Is(err, ErrValidation):
		return KindValidationFailed
	case errors.Is(err, ErrUnmappedConversation):
		return KindUnmappedConversation
	case errors.Is(err, ErrMissingStatusTarget):
		return KindMissingStatusTarget
	case errors.Is(err, ErrDeliveryFailed):
		if IsPermanent(err) {
			return KindSendPermanent
		}
		return KindDeliveryFailed
	case errors.As(err, &se):
		if se.Permanent {
			return KindSendPermanent
		}
		return KindSendTransient
	default:
		return KindInternal
	}
}
