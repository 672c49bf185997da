// Package edna is the HTTP client for the edna client-messaging API.
package edna

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/platform"
)

// Client implements domain.ClientGateway.
type Client struct {
	baseURL   string
	apiKey    string
	sendPath  string
	cbPath    string
	imType    string
	subjectID int
	callbacks config.EdnaCallbacks
	http      *http.Client
	publisher platform.Publisher
	log       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPublisher makes UploadMedia publish media instead of passing URLs through.
func WithPublisher(p platform.Publisher) Option {
	return func(c *Client) { c.publisher = p }
}

// New creates an edna client.
func New(cfg config.EdnaConfig, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		sendPath:  cfg.SendPath,
		cbPath:    cfg.CallbackPath,
		imType:    cfg.IMType,
		subjectID: cfg.SubjectID,
		callbacks: cfg.Callbacks,
		http:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:       log.Sub("edna"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Platform() domain.Platform { return domain.PlatformEdna }

type attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type sendRequest struct {
	RequestID  string      `json:"requestId,omitempty"` // echoed back in status callbacks
	IMType     string      `json:"imType"`
	Subject    string      `json:"subject"`
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

// sendResponse accepts every id field name edna has been seen to use.
type sendResponse struct {
	ID         json.RawMessage `json:"id"`
	MessageID  json.RawMessage `json:"messageId"`
	MessageID2 json.RawMessage `json:"message_id"`
}

// SendMessage posts a message to the client identified by msg.ConversationID.
func (c *Client) SendMessage(ctx context.Context, msg domain.OutboundMessage) (domain.SentRef, error) {
	if len(msg.Attachments) > 1 {
		return domain.SentRef{}, domain.Permanent(domain.PlatformEdna, "send", 0, errors.New("one attachment per message"))
	}

	imType := msg.Channel
	if imType == "" {
		imType = c.imType
	}
	body := sendRequest{RequestID: msg.ExternalID, IMType: imType, Subject: msg.ConversationID, Text: msg.Body}
	if len(msg.Attachments) == 1 {
		a := msg.Attachments[0]
		body.Attachment = &attachment{URL: a.URL, MimeType: a.MimeType, Name: a.Filename, Size: a.Size}
	}

	raw, err := c.post(ctx, "send", c.sendPath, body)
	if err != nil {
		return domain.SentRef{}, err
	}

	id := msg.ExternalID
	if len(raw) > 0 {
		var resp sendResponse
		if err := json.Unmarshal(raw, &resp); err == nil {
			if got := firstID(resp.ID, resp.MessageID, resp.MessageID2); got != "" {
				id = got
			}
		}
	}

	c.log.Debug().Str("subject", msg.ConversationID).Str("id", id).Msg("message sent")
	return domain.SentRef{
		Platform:       domain.PlatformEdna,
		ConversationID: msg.ConversationID,
		MessageID:      id,
	}, nil
}

// FetchMedia downloads an attachment. The API key is sent only to edna's own host.
func (c *Client) FetchMedia(ctx context.Context, att domain.Attachment) (*domain.Media, error) {
	var header http.Header
	if c.ownsURL(att.URL) {
		header = http.Header{"X-Api-Key": {c.apiKey}}
	}
	return platform.Fetch(ctx, c.http, domain.PlatformEdna, att, header)
}

// UploadMedia returns a URL edna can download the media from.
func (c *Client) UploadMedia(ctx context.Context, media *domain.Media) (string, error) {
	return platform.Upload(ctx, domain.PlatformEdna, c.publisher, media)
}

type callbackRequest struct {
	SubjectID         int    `json:"subjectId"`
	StatusCallbackURL string `json:"statusCallbackUrl,omitempty"`
	InMessageURL      string `json:"inMessageCallbackUrl,omitempty"`
	MessageMatcherURL string `json:"messageMatcherCallbackUrl,omitempty"`
}

// EnsureCallbacks registers the configured webhook URLs with edna. It is a
// no-op when no callback or subject is configured.
func (c *Client) EnsureCallbacks(ctx context.Context) error {
	if c.subjectID == 0 || !c.callbacks.Any() {
		return nil
	}
	body := callbackRequest{
		SubjectID:         c.subjectID,
		StatusCallbackURL: c.callbacks.StatusURL,
		InMessageURL:      c.callbacks.InMessageURL,
		MessageMatcherURL: c.callbacks.MatcherURL,
	}
	if _, err := c.post(ctx, "set callbacks", c.cbPath, body); err != nil {
		return err
	}
	c.log.Info().Int("subject_id", c.subjectID).Msg("callbacks registered")
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domain.Permanent(domain.PlatformEdna, op, 0, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.Permanent(domain.PlatformEdna, op, 0, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	return platform.Do(c.http, domain.PlatformEdna, op, req)
}

func (c *Client) ownsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, base.Host)
}

// firstID returns the first non-empty id, accepting JSON strings and numbers.
func firstID(candidates ...json.RawMessage) string {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}
