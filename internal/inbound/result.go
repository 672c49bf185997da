// Package inbound turns raw webhook bodies into canonical events.
//
// Each platform has its own parser. Parsers classify a payload by probing
// which fields are present, never by a declared type tag, and never panic on
// unexpected input.
package inbound

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/soyeahso/chatbridge/internal/domain"
)

// Kind tags a parse result.
type Kind string

const (
	KindMessage Kind = "message"
	KindStatus  Kind = "status"
	KindIgnored Kind = "ignored"
)

// Result is the outcome of parsing one webhook body. Exactly one of Message
// or Status is set for the message and status kinds.
type Result struct {
	Kind     Kind
	Platform domain.Platform
	Message  *domain.Message
	Status   *domain.StatusUpdate
	Reason   string // why the payload was ignored

	// Dropped names payload content the canonical event cannot carry, such
	// as a caption sent alongside media.
	Dropped []string
}

// ParseError is returned when a payload cannot be classified.
type ParseError struct {
	Platform domain.Platform
	Reason   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s webhook: %s: %v", e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s webhook: %s", e.Platform, e.Reason)
}

// Unwrap lets errors.Is match domain.ErrUnrecognizedShape.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrUnrecognizedShape, e.Err}
	}
	return []error{domain.ErrUnrecognizedShape}
}

func unrecognized(p domain.Platform, reason string, err error) *ParseError {
	return &ParseError{Platform: p, Reason: reason, Err: err}
}

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

// fields decodes a JSON object into its top-level members.
func fields(raw []byte) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("body is not a JSON object")
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func has(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || string(v) == "null" {
			return false
		}
	}
	return true
}

func hasAny(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if has(m, k) {
			return true
		}
	}
	return false
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}

// flexString accepts a JSON string or number. Both platforms send ids
// either way depending on API version.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// unixTime accepts unix seconds as a number or numeric string.
type unixTime int64

func (u *unixTime) UnmarshalJSON(b []byte) error {
	var f flexString
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	if f == "" {
		return nil
	}
	n, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return fmt.Errorf("invalid unix time %q", f)
	}
	*u = unixTime(int64(n))
	return nil
}

func (u unixTime) Time() time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(int64(u), 0).UTC()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// flexTime accepts RFC 3339 timestamps with or without a zone. Zoneless
// values are taken as UTC.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected timestamp string, got %s", b)
	}
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}
