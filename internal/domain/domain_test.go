package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// --- Message validation tests ---

func validMessage() Message {
	return Message{
		ExternalID:      "msg-1",
		Source:          PlatformEdna,
		Direction:       DirectionClientToAgent,
		ConversationKey: "79001234567",
		Sender:          Sender{ID: "79001234567", IsClient: true},
		Body:            "Hello",
		Timestamp:       time.Now(),
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Message)
		wantErr bool
	}{
		{name: "text only", mutate: func(m *Message) {}},
		{
			name: "attachment only",
			mutate: func(m *Message) {
				m.Body = ""
				m.Attachments = []Attachment{{URL: "https://cdn.example.com/a.png", MimeType: "image/png"}}
			},
		},
		{
			name: "body and attachment",
			mutate: func(m *Message) {
				m.Attachments = []Attachment{{URL: "https://cdn.example.com/a.png"}}
			},
			wantErr: true,
		},
		{name: "neither", mutate: func(m *Message) { m.Body = "" }, wantErr: true},
		{name: "whitespace body", mutate: func(m *Message) { m.Body = "  \n" }, wantErr: true},
		{name: "missing id", mutate: func(m *Message) { m.ExternalID = "" }, wantErr: true},
		{name: "missing conversation", mutate: func(m *Message) { m.ConversationKey = "" }, wantErr: true},
		{name: "bad direction", mutate: func(m *Message) { m.Direction = "sideways" }, wantErr: true},
		{
			name: "attachment without url",
			mutate: func(m *Message) {
				m.Body = ""
				m.Attachments = []Attachment{{MimeType: "image/png"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusUpdateValidate(t *testing.T) {
	u := StatusUpdate{ExternalID: "msg-1", Status: StatusRead}
	assert.NoError(t, u.Validate())

	u.Status = "bogus"
	assert.ErrorIs(t, u.Validate(), ErrValidation)

	u = StatusUpdate{Status: StatusRead}
	assert.ErrorIs(t, u.Validate(), ErrValidation)
}

// --- Status ordering tests ---

func TestStatusRank(t *testing.T) {
	assert.Less(t, StatusSent.Rank(), StatusDelivered.Rank())
	assert.Less(t, StatusDelivered.Rank(), StatusRead.Rank())
	assert.Equal(t, 0, Status("unknown").Rank())
	assert.Greater(t, StatusFailed.Rank(), StatusRead.Rank())
	assert.Equal(t, 0, Status("").Rank())
}

func TestPlatformOpposite(t *testing.T) {
	assert.Equal(t, PlatformAmoCRM, PlatformEdna.Opposite())
	assert.Equal(t, PlatformEdna, PlatformAmoCRM.Opposite())
}

func TestMappingKeyFor(t *testing.T) {
	m := ConversationMapping{ClientConversationID: "7900", CRMConversationID: "chat-1"}
	assert.Equal(t, "7900", m.KeyFor(PlatformEdna))
	assert.Equal(t, "chat-1", m.KeyFor(PlatformAmoCRM))
}

func TestAttachmentIsImage(t *testing.T) {
	assert.True(t, Attachment{MimeType: "image/jpeg"}.IsImage())
	assert.False(t, Attachment{MimeType: "application/pdf"}.IsImage())
	assert.False(t, Attachment{}.IsImage())
}

// --- Error taxonomy tests ---

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", fmt.Errorf("wrap: %w", ErrValidation), KindValidationFailed},
		{"shape", fmt.Errorf("edna: %w", ErrUnrecognizedShape), KindUnrecognizedShape},
		{"unmapped", fmt.Errorf("x: %w", ErrUnmappedConversation), KindUnmappedConversation},
		{"missing target", ErrMissingStatusTarget, KindMissingStatusTarget},
		{"transient", Transient(PlatformAmoCRM, "send", 502, errors.New("bad gateway")), KindSendTransient},
		{"permanent", fmt.Errorf("send: %w", Permanent(PlatformAmoCRM, "send", 401, errors.New("unauthorized"))), KindSendPermanent},
		{"exhausted", fmt.Errorf("%w: %w", ErrDeliveryFailed, Transient(PlatformAmoCRM, "send", 503, errors.New("unavailable"))), KindDeliveryFailed},
		{"gave up on permanent", fmt.Errorf("%w: %w", ErrDeliveryFailed, Permanent(PlatformEdna, "send", 400, errors.New("bad subject"))), KindSendPermanent},
		{"other", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSendErrorMessage(t *testing.T) {
	err := Permanent(PlatformEdna, "send", 403, errors.New("forbidden"))
	assert.Equal(t, "edna send: permanent (HTTP 403): forbidden", err.Error())
	assert.True(t, IsPermanent(fmt.Errorf("outer: %w", err)))

	err = Transient(PlatformEdna, "fetch media", 0, errors.New("timeout"))
	assert.Equal(t, "edna fetch media: transient: timeout", err.Error())
	assert.False(t, IsPermanent(err))
}
