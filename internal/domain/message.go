package domain

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies one side of the bridge.
type Platform string

const (
	PlatformEdna   Platform = "edna"
	PlatformAmoCRM Platform = "amocrm"
)

// Opposite returns the platform on the other side of the bridge.
func (p Platform) Opposite() Platform {
	if p == PlatformEdna {
		return PlatformAmoCRM
	}
	return PlatformEdna
}

// Direction tells which way a message travels.
type Direction string

const (
	DirectionClientToAgent Direction = "client_to_agent"
	DirectionAgentToClient Direction = "agent_to_client"
)

// Attachment represents a file or media attachment on a message.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// IsImage reports whether the attachment should be rendered as a picture.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// Sender describes who wrote a message.
type Sender struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	IsClient    bool   `json:"isClient"`
}

// Account carries the CRM account a webhook belongs to.
type Account struct {
	ID        string `json:"id,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
}

// Message is the platform-independent form of a chat message.
type Message struct {
	ExternalID      string       `json:"externalId"`
	Source          Platform     `json:"source"`
	Direction       Direction    `json:"direction"`
	ConversationKey string       `json:"conversationKey"`
	Sender          Sender       `json:"sender"`
	Body            string       `json:"body,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
	Account         Account      `json:"account,omitempty"`
	Channel         string       `json:"channel,omitempty"` // edna imType, e.g. "whatsapp"
}

// Validate checks the canonical invariants. A message carries either text or
// attachments, never both and never neither.
func (m *Message) Validate() error {
	if m.ExternalID == "" {
		return fmt.Errorf("%w: missing external id", ErrValidation)
	}
	if m.ConversationKey == "" {
		return fmt.Errorf("%w: missing conversation key", ErrValidation)
	}
	switch m.Direction {
	case DirectionClientToAgent, DirectionAgentToClient:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrValidation, m.Direction)
	}
	hasBody := strings.TrimSpace(m.Body) != ""
	hasMedia := len(m.Attachments) > 0
	if hasBody == hasMedia {
		return fmt.Errorf("%w: message %s must carry exactly one of body or attachments", ErrValidation, m.ExternalID)
	}
	for i, a := range m.Attachments {
		if a.URL == "" {
			return fmt.Errorf("%w: attachment %d has no source", ErrValidation, i)
		}
	}
	return nil
}
