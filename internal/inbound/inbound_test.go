package inbound

import (
	"errors"
	"testing"
	"time"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t *testing.T) time.Time {
	t.Helper()
	ts := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	orig := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = orig })
	return ts
}

// --- edna tests ---

func TestParseEdna_IncomingText(t *testing.T) {
	ts := fixedNow(t)
	raw := `{"id":"msg-12345","imType":"whatsapp","subject":"79001234567","text":"Hello","fromClient":true}`

	res, err := ParseEdna([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, KindMessage, res.Kind)
	require.NotNil(t, res.Message)

	msg := res.Message
	assert.Equal(t, "msg-12345", msg.ExternalID)
	assert.Equal(t, domain.PlatformEdna, msg.Source)
	assert.Equal(t, domain.DirectionClientToAgent, msg.Direction)
	assert.Equal(t, "79001234567", msg.ConversationKey)
	assert.Equal(t, "Hello", msg.Body)
	assert.Equal(t, "whatsapp", msg.Channel)
	assert.True(t, msg.Sender.IsClient)
	assert.Equal(t, "79001234567", msg.Sender.ID)
	assert.Equal(t, ts, msg.Timestamp)
	assert.Empty(t, msg.Attachments)
	assert.NoError(t, msg.Validate())
}

func TestParseEdna_ClientMessagesAlwaysFromClient(t *testing.T) {
	payloads := []string{
		`{"id":"1","subject":"7900","text":"a","fromClient":true}`,
		`{"id":2,"subject":"7900","fromClient":true,"attachment":{"url":"https://edna.example.com/f.jpg","mimeType":"image/jpeg","name":"f.jpg","size":2048}}`,
		`{"id":3,"subject":"7900","subscriber":{"id":1,"identifier":"7900"},"messageContent":{"type":"TEXT","text":"hi"},"receivedAt":"2026-10-14T08:00:00Z"}`,
		`{"id":"4","subject":"7900","messageContent":{"type":"IMAGE","attachment":{"url":"https://edna.example.com/x.png"}},"receivedAt":"2026-10-14T08:00:00.123"}`,
	}

	for _, raw := range payloads {
		res, err := ParseEdna([]byte(raw))
		require.NoError(t, err, raw)
		require.Equal(t, KindMessage, res.Kind, raw)
		assert.Equal(t, domain.DirectionClientToAgent, res.Message.Direction, raw)
		assert.True(t, res.Message.Sender.IsClient, raw)
		assert.NoError(t, res.Message.Validate(), raw)
	}
}

func TestParseEdna_Attachment(t *testing.T) {
	raw := `{"id":77,"subject":"7900","fromClient":true,"attachment":{"url":"https://edna.example.com/f.pdf","mimeType":"application/pdf","name":"invoice.pdf","size":"4096"}}`

	res, err := ParseEdna([]byte(raw))
	require.NoError(t, err)
	require.Len(t, res.Message.Attachments, 1)

	att := res.Message.Attachments[0]
	assert.Equal(t, "77", res.Message.ExternalID)
	assert.Equal(t, "https://edna.example.com/f.pdf", att.URL)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.Equal(t, "invoice.pdf", att.Filename)
	assert.Equal(t, int64(4096), att.Size)
	assert.Empty(t, res.Message.Body)
}

func TestParseEdna_Caption(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		body    string
		media   int
		dropped []string
	}{
		{
			name:    "media keeps attachment and drops caption",
			raw:     `{"id":1,"subject":"7900","fromClient":true,"messageContent":{"type":"IMAGE","caption":"look","attachment":{"url":"https://edna.example.com/p.jpg","mimeType":"image/jpeg","name":"p.jpg"}}}`,
			media:   1,
			dropped: []string{"caption"},
		},
		{
			name: "caption alone becomes the body",
			raw:  `{"id":2,"subject":"7900","fromClient":true,"messageContent":{"type":"TEXT","caption":"only words"}}`,
			body: "only words",
		},
		{
			name:    "text wins over caption",
			raw:     `{"id":3,"subject":"7900","fromClient":true,"messageContent":{"type":"TEXT","text":"hi","caption":"extra"}}`,
			body:    "hi",
			dropped: []string{"caption"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseEdna([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, KindMessage, res.Kind)
			assert.Equal(t, tt.body, res.Message.Body)
			assert.Len(t, res.Message.Attachments, tt.media)
			assert.Equal(t, tt.dropped, res.Dropped)
			assert.NoError(t, res.Message.Validate())
		})
	}
}

func TestParseEdna_ReceivedAtAndUserInfo(t *testing.T) {
	raw := `{"id":5,"subject":"7900","messageContent":{"type":"TEXT","text":"hey"},
		"userInfo":{"firstName":"Ivan","lastName":"Petrov","userName":"ivan"},
		"receivedAt":"2026-10-14T08:00:00Z"}`

	res, err := ParseEdna([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "Ivan Petrov", res.Message.Sender.DisplayName)
	assert.Equal(t, time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC), res.Message.Timestamp)
}

func TestParseEdna_OutgoingEchoIgnored(t *testing.T) {
	res, err := ParseEdna([]byte(`{"id":"m","subject":"7900","text":"from us","fromClient":false}`))
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, res.Kind)
	assert.Nil(t, res.Message)
}

func TestParseEdna_Status(t *testing.T) {
	res, err := ParseEdna([]byte(`{"id":"msg-abcde","status":"read"}`))
	require.NoError(t, err)
	require.Equal(t, KindStatus, res.Kind)
	require.NotNil(t, res.Status)
	assert.Equal(t, "msg-abcde", res.Status.ExternalID)
	assert.Equal(t, domain.StatusRead, res.Status.Status)
	assert.Equal(t, "read", res.Status.Raw)
}

func TestParseEdna_CascadeStatusPrefersRequestID(t *testing.T) {
	raw := `{"requestId":"req-1","messageId":991,"cascadeId":3,"subject":"7900","status":"DELIVERED","statusAt":"2026-10-14T08:01:00Z"}`

	res, err := ParseEdna([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, KindStatus, res.Kind)
	assert.Equal(t, "req-1", res.Status.ExternalID)
	assert.Equal(t, domain.StatusDelivered, res.Status.Status)
	assert.Equal(t, time.Date(2026, 10, 14, 8, 1, 0, 0, time.UTC), res.Status.OccurredAt)
}

func TestParseEdna_UnknownStatusDefaultsToSent(t *testing.T) {
	res, err := ParseEdna([]byte(`{"id":"x","status":"warp"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status.Status)
}

func TestParseEdna_Unrecognized(t *testing.T) {
	payloads := []string{
		``,
		`not json`,
		`[]`,
		`{}`,
		`{"hello":"world"}`,
		`{"id":"x"}`,
		`{"status":"read"}`,
		`{"id":"m","subject":"7900","fromClient":true}`,
		`{"id":"m","fromClient":"yes","text":"x"}`,
		`{"id":"m","fromClient":true,"text":"x","receivedAt":"yesterday"}`,
	}

	for _, raw := range payloads {
		t.Run(raw, func(t *testing.T) {
			res, err := ParseEdna([]byte(raw))
			require.Error(t, err)
			assert.Empty(t, res.Kind)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, domain.PlatformEdna, pe.Platform)
			assert.ErrorIs(t, err, domain.ErrUnrecognizedShape)
			assert.Equal(t, domain.KindUnrecognizedShape, domain.KindOf(err))
		})
	}
}

// --- amoCRM tests ---

const amoFlat = `{
	"message": {"id": "amo-msg-1", "text": "Good afternoon", "date": 1760430600},
	"sender": {"id": "manager-7", "name": "Olga"},
	"conversation": {"id": "chat-42"},
	"account": {"id": "31000000", "subdomain": "acme"}
}`

func TestParseAmoCRM_Flat(t *testing.T) {
	res, err := ParseAmoCRM([]byte(amoFlat))
	require.NoError(t, err)
	require.Equal(t, KindMessage, res.Kind)

	msg := res.Message
	assert.Equal(t, "amo-msg-1", msg.ExternalID)
	assert.Equal(t, domain.PlatformAmoCRM, msg.Source)
	assert.Equal(t, domain.DirectionAgentToClient, msg.Direction)
	assert.Equal(t, "chat-42", msg.ConversationKey)
	assert.Equal(t, "Good afternoon", msg.Body)
	assert.False(t, msg.Sender.IsClient)
	assert.Equal(t, "Olga", msg.Sender.DisplayName)
	assert.Equal(t, "acme", msg.Account.Subdomain)
	assert.Equal(t, "31000000", msg.Account.ID)
	assert.Equal(t, time.Unix(1760430600, 0).UTC(), msg.Timestamp)
	assert.NoError(t, msg.Validate())
}

func TestParseAmoCRM_Media(t *testing.T) {
	raw := `{
		"message": {"id": 12, "media": "https://amojo.example.com/f/abc.png", "file_name": "abc.png", "file_size": 512, "mime_type": "image/png", "date": "1760430600"},
		"sender": {"id": 5, "name": "Bot"},
		"conversation": {"id": "chat-1"},
		"account": {"id": 1, "subdomain": "acme"}
	}`

	res, err := ParseAmoCRM([]byte(raw))
	require.NoError(t, err)
	require.Len(t, res.Message.Attachments, 1)
	assert.Equal(t, "12", res.Message.ExternalID)
	assert.Equal(t, "5", res.Message.Sender.ID)
	assert.Equal(t, int64(512), res.Message.Attachments[0].Size)
	assert.Equal(t, "image/png", res.Message.Attachments[0].MimeType)
	assert.NoError(t, res.Message.Validate())
}

func TestParseAmoCRM_AmojoEnvelope(t *testing.T) {
	fixedNow(t)
	raw := `{
		"account_id": "acc-uuid",
		"time": 1760430000,
		"message": {
			"receiver": {"id": "client-1"},
			"sender": {"id": "manager-1", "name": "Anna"},
			"conversation": {"id": "chat-9", "client_id": "7900"},
			"timestamp": 1760430001,
			"message": {"id": "m-1", "type": "text", "text": "Reply"}
		}
	}`

	res, err := ParseAmoCRM([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, KindMessage, res.Kind)
	assert.Equal(t, "7900", res.Message.ConversationKey, "client_id wins over the amojo chat id")
	assert.Equal(t, "acc-uuid", res.Message.Account.ID)
	assert.Equal(t, "Reply", res.Message.Body)
	assert.Equal(t, time.Unix(1760430001, 0).UTC(), res.Message.Timestamp)
}

func TestParseAmoCRM_AlwaysAgentToClient(t *testing.T) {
	for _, raw := range []string{amoFlat, `{"message":{"id":"1","text":"x"},"sender":{"id":"s"},"conversation":{"id":"c"},"account":{"id":"a","subdomain":"d"}}`} {
		res, err := ParseAmoCRM([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, domain.DirectionAgentToClient, res.Message.Direction)
		assert.False(t, res.Message.Sender.IsClient)
	}
}

func TestParseAmoCRM_Unrecognized(t *testing.T) {
	payloads := []string{
		`garbage`,
		`{}`,
		`{"id":"msg-12345","text":"Hello","fromClient":true}`,
		`{"message":"hi","sender":{"id":"1"},"conversation":{"id":"c"}}`,
		`{"message":{"id":"1"},"sender":{"id":"1"}}`,
		`{"account_id":"a","message":"nope"}`,
		`{"message":{"id":{"nested":true}},"sender":{"id":"1"},"conversation":{"id":"c"}}`,
	}

	for _, raw := range payloads {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseAmoCRM([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUnrecognizedShape)
		})
	}
}

func TestFlexString(t *testing.T) {
	var f flexString
	require.NoError(t, f.UnmarshalJSON([]byte(`"abc"`)))
	assert.Equal(t, flexString("abc"), f)
	require.NoError(t, f.UnmarshalJSON([]byte(`12345678901`)))
	assert.Equal(t, flexString("12345678901"), f)
	assert.Error(t, f.UnmarshalJSON([]byte(`true`)))
}
