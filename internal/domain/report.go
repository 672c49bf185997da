package domain

import "time"

// ErrorReport is an operational record of a failure absorbed at the webhook boundary.
type ErrorReport struct {
	ID         string    `json:"id"`
	Kind       ErrorKind `json:"kind"`
	Platform   Platform  `json:"platform,omitempty"`
	Stage      string    `json:"stage"`
	ExternalID string    `json:"externalId,omitempty"`
	Error      string    `json:"error"`
	Payload    string    `json:"payload,omitempty"` // truncated raw webhook body
	CreatedAt  time.Time `json:"createdAt"`
}
