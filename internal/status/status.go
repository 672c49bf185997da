// Package status translates delivery statuses between edna and amoCRM.
//
// Status updates only flow from edna toward amoCRM; amojo does not emit
// delivery webhooks for messages the integration sends.
package status

import (
	"strings"

	"github.com/soyeahso/chatbridge/internal/domain"
)

// amojo delivery_status codes.
const (
	AmoDelivered = 1
	AmoRead      = 2
	AmoError     = -1

	// AmoErrorUnknown is amojo's "unknown error" code.
	AmoErrorUnknown = 905
)

var ednaStatuses = map[string]domain.Status{
	"sent":        domain.StatusSent,
	"enqueued":    domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"read":        domain.StatusRead,
	"failed":      domain.StatusFailed,
	"undelivered": domain.StatusFailed,
	"error":       domain.StatusFailed,
}

// FromEdna maps an edna status string onto the canonical vocabulary.
// Unknown values map to Sent: a missed status sync never blocks delivery.
func FromEdna(raw string) domain.Status {
	if s, ok := ednaStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return domain.StatusSent
}

// DeliveryStatus is the amojo representation of a status.
type DeliveryStatus struct {
	Code      int    `json:"delivery_status"`
	ErrorCode int    `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToAmoCRM maps a canonical status onto amojo's delivery_status. The second
// return value is false when amojo has no equivalent (sent), in which case
// nothing should be forwarded.
func ToAmoCRM(s domain.Status, reason string) (DeliveryStatus, bool) {
	switch s {
	case domain.StatusDelivered:
		return DeliveryStatus{Code: AmoDelivered}, true
	case domain.StatusRead:
		return DeliveryStatus{Code: AmoRead}, true
	case domain.StatusFailed:
		if reason == "" {
			reason = "message was not delivered"
		}
		return DeliveryStatus{Code: AmoError, ErrorCode: AmoErrorUnknown, Error: reason}, true
	default:
		return DeliveryStatus{}, false
	}
}
