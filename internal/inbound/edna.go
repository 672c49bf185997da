package inbound

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/status"
)

type ednaAttachment struct {
	URL      string     `json:"url"`
	MimeType string     `json:"mimeType"`
	Name     string     `json:"name"`
	Size     flexString `json:"size"`
}

type ednaContent struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	Caption    string          `json:"caption"`
	Attachment *ednaAttachment `json:"attachment"`
}

type ednaUserInfo struct {
	UserName  string `json:"userName"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type ednaMessage struct {
	ID             flexString      `json:"id"`
	IMType         string          `json:"imType"`
	Subject        string          `json:"subject"`
	Text           string          `json:"text"`
	FromClient     *bool           `json:"fromClient"`
	Attachment     *ednaAttachment `json:"attachment"`
	MessageContent *ednaContent    `json:"messageContent"`
	UserInfo       *ednaUserInfo   `json:"userInfo"`
	Subscriber     *struct {
		Identifier string `json:"identifier"`
	} `json:"subscriber"`
	ReceivedAt flexTime `json:"receivedAt"`
}

type ednaStatus struct {
	ID        flexString `json:"id"`
	RequestID string     `json:"requestId"`
	MessageID flexString `json:"messageId"`
	Status    string     `json:"status"`
	StatusAt  flexTime   `json:"statusAt"`
	Error     string     `json:"error"`
}

var ednaMessageKeys = []string{"fromClient", "text", "attachment", "messageContent"}

// ParseEdna classifies an edna webhook body. Incoming client messages carry
// fromClient with text or media; status callbacks carry an id and a status
// and nothing message-like.
func ParseEdna(raw []byte) (Result, error) {
	m, err := fields(raw)
	if err != nil {
		return Result{}, unrecognized(domain.PlatformEdna, "invalid JSON", err)
	}

	switch {
	case hasAny(m, "fromClient", "messageContent"):
		return parseEdnaMessage(raw)
	case has(m, "status") && hasAny(m, "id", "requestId", "messageId") && !hasAny(m, ednaMessageKeys...):
		return parseEdnaStatus(raw)
	default:
		return Result{}, unrecognized(domain.PlatformEdna, "neither message nor status shape", nil)
	}
}

func parseEdnaMessage(raw []byte) (Result, error) {
	var in ednaMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return Result{}, unrecognized(domain.PlatformEdna, "malformed message", err)
	}

	if in.FromClient != nil && !*in.FromClient {
		return Result{Kind: KindIgnored, Platform: domain.PlatformEdna, Reason: "outgoing echo"}, nil
	}

	var dropped []string
	text := in.Text
	att := in.Attachment
	if c := in.MessageContent; c != nil {
		if text == "" {
			text = c.Text
		}
		if att == nil {
			att = c.Attachment
		}
		// A message is text or media, never both; a caption only survives as
		// the body of a media-less message.
		if c.Caption != "" {
			if text == "" && att == nil {
				text = c.Caption
			} else {
				dropped = append(dropped, "caption")
			}
		}
	}
	if text == "" && att == nil {
		return Result{}, unrecognized(domain.PlatformEdna, "message without text or media", nil)
	}

	subject := in.Subject
	if subject == "" && in.Subscriber != nil {
		subject = in.Subscriber.Identifier
	}

	ts := time.Time(in.ReceivedAt)
	if ts.IsZero() {
		ts = now()
	}

	msg := &domain.Message{
		ExternalID:      string(in.ID),
		Source:          domain.PlatformEdna,
		Direction:       domain.DirectionClientToAgent,
		ConversationKey: subject,
		Sender: domain.Sender{
			ID:          subject,
			DisplayName: displayName(in.UserInfo),
			IsClient:    true,
		},
		Body:      text,
		Timestamp: ts.UTC(),
		Channel:   in.IMType,
	}
	if att != nil {
		msg.Attachments = []domain.Attachment{{
			URL:      att.URL,
			MimeType: att.MimeType,
			Filename: att.Name,
			Size:     parseSize(att.Size),
		}}
	}

	return Result{Kind: KindMessage, Platform: domain.PlatformEdna, Message: msg, Dropped: dropped}, nil
}

func parseEdnaStatus(raw []byte) (Result, error) {
	var in ednaStatus
	if err := json.Unmarshal(raw, &in); err != nil {
		return Result{}, unrecognized(domain.PlatformEdna, "malformed status", err)
	}

	// Cascade callbacks reference our outgoing request id; plain callbacks the message id.
	id := in.RequestID
	if id == "" {
		id = string(in.ID)
	}
	if id == "" {
		id = string(in.MessageID)
	}

	at := time.Time(in.StatusAt)
	if at.IsZero() {
		at = now()
	}

	return Result{
		Kind:     KindStatus,
		Platform: domain.PlatformEdna,
		Status: &domain.StatusUpdate{
			ExternalID: id,
			Source:     domain.PlatformEdna,
			Status:     status.FromEdna(in.Status),
			Raw:        in.Status,
			Reason:     in.Error,
			OccurredAt: at.UTC(),
		},
	}, nil
}

func displayName(u *ednaUserInfo) string {
	if u == nil {
		return ""
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.UserName
}

func parseSize(s flexString) int64 {
	v, err := json.Number(s).Int64()
	if err != nil {
		return 0
	}
	return v
}
