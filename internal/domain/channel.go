package domain

import (
	"context"
	"io"
)

// OutboundMessage is a canonical message addressed to a target conversation.
type OutboundMessage struct {
	ConversationID string       `json:"conversationId"`
	ExternalID     string       `json:"externalId"` // source id, used as msgid on the target side
	Sender         Sender       `json:"sender"`
	Body           string       `json:"body,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Channel        string       `json:"channel,omitempty"`
}

// SentRef identifies a message after the target platform accepted it.
type SentRef struct {
	Platform       Platform `json:"platform"`
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId"`
}

// StatusDelivery is a status addressed to a message on the CRM side.
type StatusDelivery struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Status         Status `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// ChatRequest asks the CRM to open a chat for a client conversation.
type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	Phone          string `json:"phone,omitempty"`
}

// Media is a downloaded attachment body. The caller closes Body.
type Media struct {
	Body      io.ReadCloser
	MimeType  string
	Filename  string
	Size      int64
	SourceURL string // where the media was fetched from
}

// MessageSender sends canonical messages to a platform and moves media in and out of it.
type MessageSender interface {
	// Platform returns the platform this adapter talks to.
	Platform() Platform

	// SendMessage delivers a message into the target conversation.
	SendMessage(ctx context.Context, msg OutboundMessage) (SentRef, error)

	// FetchMedia downloads an attachment hosted by this platform.
	FetchMedia(ctx context.Context, att Attachment) (*Media, error)

	// UploadMedia makes media available to this platform and returns its URL.
	UploadMedia(ctx context.Context, media *Media) (string, error)
}

// ClientGateway is the client-messaging side (edna).
type ClientGateway interface {
	MessageSender
}

// CRM is the CRM chat side (amoCRM).
type CRM interface {
	MessageSender

	// SendStatus forwards a delivery status for a message the CRM sent.
	SendStatus(ctx context.Context, st StatusDelivery) error

	// CreateChat opens a chat for a client conversation and returns its id.
	CreateChat(ctx context.Context, req ChatRequest) (string, error)
}
