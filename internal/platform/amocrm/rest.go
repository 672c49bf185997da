package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/platform"
)

// REST talks to the amoCRM account API with a long-lived bearer token.
type REST struct {
	baseURL string
	http    *http.Client
}

// NewREST creates a REST client. A nil base gets a plain client with the
// configured timeout.
func NewREST(cfg config.AmoCRMConfig, base *http.Client) *REST {
	if base == nil {
		base = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, src)
	hc.Timeout = base.Timeout
	return &REST{baseURL: strings.TrimSuffix(cfg.BaseURL, "/"), http: hc}
}

// ContactIDByChat returns the contact bound to an amojo chat id. The bool is
// false when no contact is linked yet.
func (r *REST) ContactIDByChat(ctx context.Context, chatID string) (int64, bool, error) {
	q := url.Values{"chat_id": {chatID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/v4/contacts/chats?"+q.Encode(), nil)
	if err != nil {
		return 0, false, domain.Permanent(domain.PlatformAmoCRM, "contact lookup", 0, err)
	}
	raw, err := platform.Do(r.http, domain.PlatformAmoCRM, "contact lookup", req)
	if err != nil {
		return 0, false, err
	}
	if len(raw) == 0 {
		return 0, false, nil
	}

	var resp struct {
		Embedded struct {
			Chats []struct {
				ContactID int64 `json:"contact_id"`
			} `json:"chats"`
		} `json:"_embedded"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, false, domain.Permanent(domain.PlatformAmoCRM, "contact lookup", 0, fmt.Errorf("decoding response: %w", err))
	}
	if len(resp.Embedded.Chats) == 0 || resp.Embedded.Chats[0].ContactID == 0 {
		return 0, false, nil
	}
	return resp.Embedded.Chats[0].ContactID, true, nil
}

type fieldValue struct {
	Value    string `json:"value"`
	EnumCode string `json:"enum_code"`
}

type customField struct {
	FieldCode string       `json:"field_code"`
	Values    []fieldValue `json:"values"`
}

type contactPatch struct {
	ID           int64         `json:"id"`
	CustomFields []customField `json:"custom_fields_values"`
}

// UpdateContactPhone sets the work phone of a contact.
func (r *REST) UpdateContactPhone(ctx context.Context, contactID int64, phone string) error {
	body, err := json.Marshal([]contactPatch{{
		ID: contactID,
		CustomFields: []customField{{
			FieldCode: "PHONE",
			Values:    []fieldValue{{Value: phone, EnumCode: "WORK"}},
		}},
	}})
	if err != nil {
		return domain.Permanent(domain.PlatformAmoCRM, "update contact", 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, r.baseURL+"/api/v4/contacts", bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(domain.PlatformAmoCRM, "update contact", 0, err)
	}
	req.Header.Set("Content-Type", contentType)
	_, err = platform.Do(r.http, domain.PlatformAmoCRM, "update contact", req)
	return err
}

// Source is an amoCRM lead source. Chats opened with its external id are
// attributed to it.
type Source struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	PipelineID int64  `json:"pipeline_id,omitempty"`
	Default    bool   `json:"default"`
}

// UnmarshalJSON accepts name, external_id and pipeline_id either as values or
// as arrays, taking the first element.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         int64           `json:"id"`
		Name       json.RawMessage `json:"name"`
		ExternalID json.RawMessage `json:"external_id"`
		PipelineID json.RawMessage `json:"pipeline_id"`
		Default    bool            `json:"default"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Source{ID: raw.ID, Default: raw.Default}
	if err := firstOf(raw.Name, &s.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if err := firstOf(raw.ExternalID, &s.ExternalID); err != nil {
		return fmt.Errorf("external_id: %w", err)
	}
	if err := firstOf(raw.PipelineID, &s.PipelineID); err != nil {
		return fmt.Errorf("pipeline_id: %w", err)
	}
	return nil
}

// firstOf decodes raw into v, unwrapping a one-or-more element array. Absent,
// null and empty array values leave v untouched.
func firstOf(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		raw = items[0]
	}
	return json.Unmarshal(raw, v)
}

type sourceList struct {
	Embedded struct {
		Sources []Source `json:"sources"`
	} `json:"_embedded"`
}

// Sources lists the account's lead sources.
func (r *REST) Sources(ctx context.Context) ([]Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/v4/sources", nil)
	if err != nil {
		return nil, domain.Permanent(domain.PlatformAmoCRM, "list sources", 0, err)
	}
	raw, err := platform.Do(r.http, domain.PlatformAmoCRM, "list sources", req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var resp sourceList
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.Permanent(domain.PlatformAmoCRM, "list sources", 0, fmt.Errorf("decoding response: %w", err))
	}
	return resp.Embedded.Sources, nil
}

// SourceByName returns the source with the given name. The bool is false when
// the account has none.
func (r *REST) SourceByName(ctx context.Context, name string) (Source, bool, error) {
	sources, err := r.Sources(ctx)
	if err != nil {
		return Source{}, false, err
	}
	for _, s := range sources {
		if s.Name == name {
			return s, true, nil
		}
	}
	return Source{}, false, nil
}

type sourcePatch struct {
	Source
	Services []any `json:"services"`
}

// CreateSource creates a lead source and returns it as amoCRM stored it.
func (r *REST) CreateSource(ctx context.Context, src Source) (Source, error) {
	const op = "create source"
	body, err := json.Marshal([]sourcePatch{{Source: src, Services: []any{}}})
	if err != nil {
		return Source{}, domain.Permanent(domain.PlatformAmoCRM, op, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v4/sources", bytes.NewReader(body))
	if err != nil {
		return Source{}, domain.Permanent(domain.PlatformAmoCRM, op, 0, err)
	}
	req.Header.Set("Content-Type", contentType)
	raw, err := platform.Do(r.http, domain.PlatformAmoCRM, op, req)
	if err != nil {
		return Source{}, err
	}

	created, err := decodeCreated(raw)
	if err != nil {
		return Source{}, domain.Permanent(domain.PlatformAmoCRM, op, 0, fmt.Errorf("decoding response: %w", err))
	}
	if created.Name == "" {
		created.Name = src.Name
	}
	if created.PipelineID == 0 {
		created.PipelineID = src.PipelineID
	}
	return created, nil
}

// decodeCreated reads a created source from an _embedded list, a bare list or
// a single object.
func decodeCreated(raw []byte) (Source, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Source{}, nil
	}
	if raw[0] == '[' {
		var list []Source
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return Source{}, err
		}
		return list[0], nil
	}
	var wrapped sourceList
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Source{}, err
	}
	if len(wrapped.Embedded.Sources) > 0 {
		return wrapped.Embedded.Sources[0], nil
	}
	var one Source
	err := json.Unmarshal(raw, &one)
	return one, err
}
