package edna

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/logging"
)

var _ domain.ClientGateway = (*Client)(nil)

func testClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.EdnaConfig)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Defaults().Edna
	cfg.BaseURL = srv.URL
	cfg.APIKey = "key-123"
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, logging.New(nil, "silent"), WithHTTPClient(srv.Client())), srv
}

func TestSendMessage_Text(t *testing.T) {
	var got map[string]any
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/messages/send", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id": 987654}`))
	})

	ref, err := c.SendMessage(context.Background(), domain.OutboundMessage{
		ConversationID: "79001234567",
		ExternalID:     "amo-1",
		Body:           "Hello from the manager",
	})
	require.NoError(t, err)

	assert.Equal(t, "amo-1", got["requestId"])
	assert.Equal(t, "whatsapp", got["imType"])
	assert.Equal(t, "79001234567", got["subject"])
	assert.Equal(t, "Hello from the manager", got["text"])
	assert.NotContains(t, got, "attachment")

	assert.Equal(t, domain.PlatformEdna, ref.Platform)
	assert.Equal(t, "987654", ref.MessageID)
	assert.Equal(t, "79001234567", ref.ConversationID)
}

func TestSendMessage_AttachmentAndChannel(t *testing.T) {
	var got sendRequest
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messageId":"m-55"}`))
	})

	ref, err := c.SendMessage(context.Background(), domain.OutboundMessage{
		ConversationID: "79001234567",
		Channel:        "telegram",
		Attachments: []domain.Attachment{{
			URL: "https://cdn.example.com/a.pdf", MimeType: "application/pdf", Filename: "a.pdf", Size: 1024,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-55", ref.MessageID)
	assert.Equal(t, "telegram", got.IMType)
	require.NotNil(t, got.Attachment)
	assert.Equal(t, "a.pdf", got.Attachment.Name)
	assert.Equal(t, int64(1024), got.Attachment.Size)
	assert.Empty(t, got.Text)
}

func TestSendMessage_FallbackID(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ref, err := c.SendMessage(context.Background(), domain.OutboundMessage{ConversationID: "s", ExternalID: "src-1", Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "src-1", ref.MessageID)
}

func TestSendMessage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"unauthorized", http.StatusUnauthorized, true},
		{"bad request", http.StatusBadRequest, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"unavailable", http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			})
			_, err := c.SendMessage(context.Background(), domain.OutboundMessage{ConversationID: "s", Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.permanent, domain.IsPermanent(err))
		})
	}
}

func TestSendMessage_TooManyAttachments(t *testing.T) {
	c, _ := testClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("must not call edna")
	})
	_, err := c.SendMessage(context.Background(), domain.OutboundMessage{
		ConversationID: "s",
		Attachments:    []domain.Attachment{{URL: "a"}, {URL: "b"}},
	})
	assert.True(t, domain.IsPermanent(err))
}

func TestFetchMedia_KeyOnlyForOwnHost(t *testing.T) {
	var sawKey string
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		sawKey = r.Header.Get("X-API-KEY")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("JPEG"))
	})

	media, err := c.FetchMedia(context.Background(), domain.Attachment{URL: srv.URL + "/files/1.jpg"})
	require.NoError(t, err)
	data, _ := io.ReadAll(media.Body)
	media.Body.Close()
	assert.Equal(t, "JPEG", string(data))
	assert.Equal(t, "image/jpeg", media.MimeType)
	assert.Equal(t, "key-123", sawKey)

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawKey = r.Header.Get("X-API-KEY")
		w.Write([]byte("x"))
	}))
	defer other.Close()

	// Point the base url elsewhere so the second server counts as foreign.
	c.baseURL = "https://app.edna.ru"
	media, err = c.FetchMedia(context.Background(), domain.Attachment{URL: other.URL + "/x"})
	require.NoError(t, err)
	media.Body.Close()
	assert.Empty(t, sawKey)
}

func TestUploadMedia_PassThrough(t *testing.T) {
	c, _ := testClient(t, func(http.ResponseWriter, *http.Request) {})
	url, err := c.UploadMedia(context.Background(), &domain.Media{
		Body:      io.NopCloser(nil),
		SourceURL: "https://amojo.example/file.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://amojo.example/file.png", url)
}

func TestEnsureCallbacks(t *testing.T) {
	var got map[string]any
	calls := 0
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/callback/set", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}, func(cfg *config.EdnaConfig) {
		cfg.SubjectID = 42
		cfg.Callbacks.StatusURL = "https://bridge.example.com/webhooks/edna"
	})

	require.NoError(t, c.EnsureCallbacks(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, float64(42), got["subjectId"])
	assert.Equal(t, "https://bridge.example.com/webhooks/edna", got["statusCallbackUrl"])
	assert.NotContains(t, got, "inMessageCallbackUrl")
}

func TestEnsureCallbacks_NotConfigured(t *testing.T) {
	c, _ := testClient(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("must not call edna")
	})
	assert.NoError(t, c.EnsureCallbacks(context.Background()))
}

func TestFirstID(t *testing.T) {
	assert.Equal(t, "a", firstID(json.RawMessage(`"a"`)))
	assert.Equal(t, "12", firstID(json.RawMessage(`null`), json.RawMessage(`12`)))
	assert.Equal(t, "b", firstID(json.RawMessage(`""`), json.RawMessage(`"b"`)))
	assert.Equal(t, "", firstID(nil, json.RawMessage(`{}`)))
}
