package domain

import (
	"fmt"
	"time"
)

// Status is a delivery status in the canonical vocabulary.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Rank orders statuses: sent < delivered < read. Failed ranks highest because
// it is terminal.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return 0
	}
}

// StatusUpdate reports a delivery status change for a message we routed.
type StatusUpdate struct {
	ExternalID string    `json:"externalId"`
	Source     Platform  `json:"source"`
	Status     Status    `json:"status"`
	Raw        string    `json:"raw,omitempty"` // status as the platform spelled it
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Validate checks that the update references a message and carries a known status.
func (u *StatusUpdate) Validate() error {
	if u.ExternalID == "" {
		return fmt.Errorf("%w: status update without message id", ErrValidation)
	}
	if u.Status.Rank() == 0 {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, u.Status)
	}
	return nil
}
