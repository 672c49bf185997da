package inbound

import (
	"encoding/json"

	"github.com/soyeahso/chatbridge/internal/domain"
)

type amoMessage struct {
	ID       flexString `json:"id"`
	Type     string     `json:"type"`
	Text     string     `json:"text"`
	Date     unixTime   `json:"date"`
	Media    string     `json:"media"`
	FileName string     `json:"file_name"`
	FileSize flexString `json:"file_size"`
	MimeType string     `json:"mime_type"`
}

type amoWebhook struct {
	Message amoMessage `json:"message"`
	Sender  struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
	} `json:"sender"`
	Conversation struct {
		ID       flexString `json:"id"`
		ClientID flexString `json:"client_id"`
	} `json:"conversation"`
	Account struct {
		ID        flexString `json:"id"`
		Subdomain string     `json:"subdomain"`
	} `json:"account"`
	Timestamp unixTime `json:"timestamp"`
}

// amojoEnvelope is the amojo v2 hook body, which nests the flat shape one
// level down and carries the account id at the top.
type amojoEnvelope struct {
	AccountID flexString      `json:"account_id"`
	Time      unixTime        `json:"time"`
	Message   json.RawMessage `json:"message"`
}

// ParseAmoCRM classifies an amoCRM chat webhook. Every recognized payload is
// an agent reply travelling toward the client.
func ParseAmoCRM(raw []byte) (Result, error) {
	m, err := fields(raw)
	if err != nil {
		return Result{}, unrecognized(domain.PlatformAmoCRM, "invalid JSON", err)
	}

	var accountID flexString
	var envelopeTime unixTime
	if has(m, "account_id", "message") && !has(m, "sender") {
		var env amojoEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return Result{}, unrecognized(domain.PlatformAmoCRM, "malformed envelope", err)
		}
		inner, err := fields(env.Message)
		if err != nil {
			return Result{}, unrecognized(domain.PlatformAmoCRM, "malformed envelope", err)
		}
		m, raw = inner, env.Message
		accountID, envelopeTime = env.AccountID, env.Time
	}

	if !has(m, "message", "sender", "conversation") || !isObject(m["message"]) || !isObject(m["conversation"]) {
		return Result{}, unrecognized(domain.PlatformAmoCRM, "missing message, sender or conversation", nil)
	}

	var in amoWebhook
	if err := json.Unmarshal(raw, &in); err != nil {
		return Result{}, unrecognized(domain.PlatformAmoCRM, "malformed webhook", err)
	}
	if in.Account.ID == "" {
		in.Account.ID = accountID
	}

	// amojo echoes the conversation_id we chose at chat creation as client_id.
	key := string(in.Conversation.ClientID)
	if key == "" {
		key = string(in.Conversation.ID)
	}

	ts := in.Message.Date.Time()
	if ts.IsZero() {
		ts = in.Timestamp.Time()
	}
	if ts.IsZero() {
		ts = envelopeTime.Time()
	}
	if ts.IsZero() {
		ts = now()
	}

	msg := &domain.Message{
		ExternalID:      string(in.Message.ID),
		Source:          domain.PlatformAmoCRM,
		Direction:       domain.DirectionAgentToClient,
		ConversationKey: key,
		Sender: domain.Sender{
			ID:          string(in.Sender.ID),
			DisplayName: in.Sender.Name,
			IsClient:    false,
		},
		Body:      in.Message.Text,
		Timestamp: ts,
		Account: domain.Account{
			ID:        string(in.Account.ID),
			Subdomain: in.Account.Subdomain,
		},
	}
	if in.Message.Media != "" {
		msg.Attachments = []domain.Attachment{{
			URL:      in.Message.Media,
			MimeType: in.Message.MimeType,
			Filename: in.Message.FileName,
			Size:     parseSize(in.Message.FileSize),
		}}
	}

	return Result{Kind: KindMessage, Platform: domain.PlatformAmoCRM, Message: msg}, nil
}
