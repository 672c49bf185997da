// Package amocrm is the client for amoCRM chats: the signed amojo chat API
// for messages, statuses and chats, and the REST API for chat sources and
// contact updates.
package amocrm

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/platform"
	"github.com/soyeahso/chatbridge/internal/status"
)

const (
	contentType = "application/json"

	// flightTimeout bounds a shared connect or source lookup once the
	// caller that started it has gone.
	flightTimeout = 30 * time.Second

	// sourceRetryAfter is how long a failed source lookup is remembered
	// before the next message tries again.
	sourceRetryAfter = time.Minute

	sourceIDPrefix = "chatbridge"
)

// Client implements domain.CRM against amojo.
type Client struct {
	baseURL        string
	secret         []byte
	channelID      string
	accountID      string
	title          string
	hookAPIVersion string
	sourceName     string
	sourcePipeline int64
	enrichPhone    bool

	mu          sync.Mutex
	scopeID     string
	sourceID    string
	sourceRetry time.Time
	flights     singleflight.Group

	http      *http.Client
	publisher platform.Publisher
	rest      *REST
	now       func() time.Time
	log       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client used for amojo.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPublisher makes UploadMedia publish media instead of passing URLs through.
func WithPublisher(p platform.Publisher) Option {
	return func(c *Client) { c.publisher = p }
}

// WithREST enables chat source lookup and, unless disabled in config, contact
// phone enrichment after chat creation.
func WithREST(r *REST) Option {
	return func(c *Client) { c.rest = r }
}

// New creates an amojo client.
func New(cfg config.AmoCRMConfig, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(cfg.AmojoBaseURL, "/"),
		secret:         []byte(cfg.ChannelSecret),
		channelID:      cfg.ChannelID,
		accountID:      cfg.AccountID,
		title:          cfg.ConnectTitle,
		hookAPIVersion: cfg.HookAPIVersion,
		sourceName:     cfg.SourceName,
		sourcePipeline: cfg.SourcePipelineID,
		enrichPhone:    cfg.EnrichPhone == nil || *cfg.EnrichPhone,
		sourceID:       cfg.SourceExternalID,
		scopeID:        cfg.ScopeID,
		http:           &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		now:            time.Now,
		log:            log.Sub("amocrm"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Platform() domain.Platform { return domain.PlatformAmoCRM }

// EnsureScope returns the channel scope id, connecting the channel to the
// account on first use when none is configured. Concurrent callers share one
// connect; a caller whose ctx ends stops waiting without cancelling it.
func (c *Client) EnsureScope(ctx context.Context) (string, error) {
	c.mu.Lock()
	scope := c.scopeID
	c.mu.Unlock()
	if scope != "" {
		return scope, nil
	}
	if c.channelID == "" || c.accountID == "" {
		return "", domain.Permanent(domain.PlatformAmoCRM, "connect", 0, errors.New("channelId and accountId are required to obtain a scope id"))
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan("scope", func() (any, error) {
		ctx, cancel := context.WithTimeout(flightCtx, flightTimeout)
		defer cancel()
		return c.connect(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for channel connect: %w", ctx.Err())
	}
}

func (c *Client) connect(ctx context.Context) (string, error) {
	c.mu.Lock()
	scope := c.scopeID
	c.mu.Unlock()
	if scope != "" {
		return scope, nil
	}

	body := map[string]string{
		"account_id":       c.accountID,
		"title":            c.title,
		"hook_api_version": c.hookAPIVersion,
	}
	raw, err := c.post(ctx, "connect", "/v2/origin/custom/"+c.channelID+"/connect", body)
	if err != nil {
		return "", err
	}

	var resp struct {
		ScopeID string `json:"scope_id"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}
	if resp.ScopeID == "" {
		resp.ScopeID = c.channelID + "_" + c.accountID
	}
	c.mu.Lock()
	c.scopeID = resp.ScopeID
	c.mu.Unlock()
	c.log.Info().Str("scope_id", resp.ScopeID).Msg("channel connected")
	return resp.ScopeID, nil
}

// EnsureSource returns the external id of the amoCRM chat source messages and
// chats are attributed to. A configured id wins. Otherwise the source named in
// config is looked up, or created, through the REST API and cached. An empty
// id means none is available and requests go out without a source block.
func (c *Client) EnsureSource(ctx context.Context) string {
	c.mu.Lock()
	id, retryAt := c.sourceID, c.sourceRetry
	c.mu.Unlock()
	if id != "" || c.rest == nil || c.sourceName == "" || c.now().Before(retryAt) {
		return id
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan("source", func() (any, error) {
		ctx, cancel := context.WithTimeout(flightCtx, flightTimeout)
		defer cancel()
		return c.resolveSource(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return ""
		}
		return res.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

func (c *Client) resolveSource(ctx context.Context) (string, error) {
	src, err := c.findOrCreateSource(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.sourceRetry = c.now().Add(sourceRetryAfter)
		c.log.Warn().Err(err).Str("source", c.sourceName).Msg("chat source unavailable, sending without one")
		return "", err
	}
	c.sourceID = src.ExternalID
	return src.ExternalID, nil
}

func (c *Client) findOrCreateSource(ctx context.Context) (Source, error) {
	src, ok, err := c.rest.SourceByName(ctx, c.sourceName)
	if err != nil {
		return Source{}, err
	}
	if ok {
		if src.ExternalID == "" {
			return Source{}, fmt.Errorf("source %q has no external id", c.sourceName)
		}
		c.log.Info().Int64("source_id", src.ID).Str("external_id", src.ExternalID).Msg("chat source found")
		return src, nil
	}

	pipeline := c.sourcePipeline
	if pipeline == 0 {
		all, err := c.rest.Sources(ctx)
		if err != nil {
			return Source{}, err
		}
		for _, s := range all {
			if s.PipelineID != 0 {
				pipeline = s.PipelineID
				break
			}
		}
	}
	if pipeline == 0 {
		return Source{}, errors.New("no pipeline id to create the source in")
	}

	want := Source{
		Name:       c.sourceName,
		ExternalID: fmt.Sprintf("%s_%d", sourceIDPrefix, c.now().Unix()),
		PipelineID: pipeline,
	}
	created, err := c.rest.CreateSource(ctx, want)
	if err != nil {
		return Source{}, err
	}
	if created.ExternalID == "" {
		created.ExternalID = want.ExternalID
	}
	c.log.Info().Int64("source_id", created.ID).Str("external_id", created.ExternalID).Int64("pipeline_id", pipeline).Msg("chat source created")
	return created, nil
}

type sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type message struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Media    string `json:"media,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type source struct {
	ExternalID string `json:"external_id"`
}

type newMessage struct {
	Timestamp      int64   `json:"timestamp"`
	ConversationID string  `json:"conversation_id"`
	Sender         sender  `json:"sender"`
	Message        message `json:"message"`
	MsgID          string  `json:"msgid"`
	Source         *source `json:"source,omitempty"`
}

type event struct {
	EventType string     `json:"event_type"`
	Payload   newMessage `json:"payload"`
}

type sendResponse struct {
	NewMessage struct {
		MsgID string `json:"msgid"`
	} `json:"new_message"`
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
}

// SendMessage posts a client message into the amojo conversation.
func (c *Client) SendMessage(ctx context.Context, msg domain.OutboundMessage) (domain.SentRef, error) {
	if len(msg.Attachments) > 1 {
		return domain.SentRef{}, domain.Permanent(domain.PlatformAmoCRM, "send", 0, errors.New("one attachment per message"))
	}
	scope, err := c.EnsureScope(ctx)
	if err != nil {
		return domain.SentRef{}, err
	}

	m := message{Type: "text", Text: msg.Body}
	if len(msg.Attachments) == 1 {
		a := msg.Attachments[0]
		m = message{Type: "file", Media: a.URL, FileName: a.Filename, FileSize: a.Size}
		if a.IsImage() {
			m.Type = "picture"
		}
	}
	ev := event{
		EventType: "new_message",
		Payload: newMessage{
			Timestamp:      c.now().Unix(),
			ConversationID: msg.ConversationID,
			Sender:         sender{ID: msg.Sender.ID, Name: msg.Sender.DisplayName},
			Message:        m,
			MsgID:          msg.ExternalID,
		},
	}
	if id := c.EnsureSource(ctx); id != "" {
		ev.Payload.Source = &source{ExternalID: id}
	}

	raw, err := c.post(ctx, "send", "/v2/origin/custom/"+scope, ev)
	if err != nil {
		return domain.SentRef{}, err
	}

	id := msg.ExternalID
	var resp sendResponse
	if len(raw) > 0 && json.Unmarshal(raw, &resp) == nil {
		for _, v := range []string{resp.NewMessage.MsgID, resp.MessageID, resp.ID} {
			if v != "" {
				id = v
				break
			}
		}
	}

	c.log.Debug().Str("conversation_id", msg.ConversationID).Str("msgid", id).Msg("message sent")
	return domain.SentRef{
		Platform:       domain.PlatformAmoCRM,
		ConversationID: msg.ConversationID,
		MessageID:      id,
	}, nil
}

type deliveryStatus struct {
	MsgID string `json:"msgid"`
	status.DeliveryStatus
}

// SendStatus forwards a delivery status. Statuses amojo has no code for are
// skipped without a request.
func (c *Client) SendStatus(ctx context.Context, st domain.StatusDelivery) error {
	ds, ok := status.ToAmoCRM(st.Status, st.Reason)
	if !ok {
		c.log.Debug().Str("msgid", st.MessageID).Str("status", string(st.Status)).Msg("status not forwarded")
		return nil
	}
	scope, err := c.EnsureScope(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v2/origin/custom/%s/%s/delivery_status", scope, st.MessageID)
	_, err = c.post(ctx, "send status", path, deliveryStatus{MsgID: st.MessageID, DeliveryStatus: ds})
	return err
}

type chatUser struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Profile *chatProfile `json:"profile,omitempty"`
}

type chatProfile struct {
	Phone string `json:"phone,omitempty"`
}

type chatRequest struct {
	ConversationID string   `json:"conversation_id"`
	User           chatUser `json:"user"`
	Source         *source  `json:"source,omitempty"`
}

// CreateChat opens an amojo chat for a client and returns the conversation id
// messages are addressed with. A fresh id is generated when req has none.
func (c *Client) CreateChat(ctx context.Context, req domain.ChatRequest) (string, error) {
	scope, err := c.EnsureScope(ctx)
	if err != nil {
		return "", err
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	name := req.UserName
	if name == "" {
		name = req.UserID
	}
	body := chatRequest{ConversationID: convID, User: chatUser{ID: req.UserID, Name: name}}
	if req.Phone != "" {
		body.User.Profile = &chatProfile{Phone: req.Phone}
	}
	if id := c.EnsureSource(ctx); id != "" {
		body.Source = &source{ExternalID: id}
	}

	raw, err := c.post(ctx, "create chat", "/v2/origin/custom/"+scope+"/chats", body)
	if err != nil {
		return "", err
	}
	var resp struct {
		ID string `json:"id"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}
	c.log.Info().Str("conversation_id", convID).Str("chat_id", resp.ID).Msg("chat created")

	if c.rest != nil && c.enrichPhone && req.Phone != "" && resp.ID != "" {
		c.enrich(ctx, resp.ID, req.Phone)
	}
	return convID, nil
}

// enrich writes the client's phone onto the contact bound to chatID. Failures
// are logged and never fail chat creation.
func (c *Client) enrich(ctx context.Context, chatID, phone string) {
	contactID, ok, err := c.rest.ContactIDByChat(ctx, chatID)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("contact lookup failed")
		return
	case !ok:
		c.log.Debug().Str("chat_id", chatID).Msg("no contact bound to chat")
		return
	}
	if err := c.rest.UpdateContactPhone(ctx, contactID, phone); err != nil {
		c.log.Warn().Err(err).Int64("contact_id", contactID).Msg("contact phone update failed")
	}
}

// FetchMedia downloads media amoCRM hosts. The links are pre-signed.
func (c *Client) FetchMedia(ctx context.Context, att domain.Attachment) (*domain.Media, error) {
	return platform.Fetch(ctx, c.http, domain.PlatformAmoCRM, att, nil)
}

// UploadMedia returns a URL amojo can download the media from.
func (c *Client) UploadMedia(ctx context.Context, media *domain.Media) (string, error) {
	return platform.Upload(ctx, domain.PlatformAmoCRM, c.publisher, media)
}

func (c *Client) post(ctx context.Context, op, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domain.Permanent(domain.PlatformAmoCRM, op, 0, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.Permanent(domain.PlatformAmoCRM, op, 0, fmt.Errorf("building request: %w", err))
	}
	sum := md5.Sum(payload)
	md5hex := hex.EncodeToString(sum[:])
	date := c.now().UTC().Format(http.TimeFormat)

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Date", date)
	req.Header.Set("Content-MD5", md5hex)
	req.Header.Set("X-Signature", Sign(c.secret, http.MethodPost, md5hex, contentType, date, path))

	return platform.Do(c.http, domain.PlatformAmoCRM, op, req)
}

// Sign computes the amojo request signature: a hex HMAC-SHA1 over the
// newline-joined method, body MD5, content type, date and path.
func Sign(secret []byte, method, md5hex, contentType, date, path string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(strings.Join([]string{strings.ToUpper(method), md5hex, contentType, date, path}, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
