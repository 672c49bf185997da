package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatbridge/internal/config"
	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/hooks"
	"github.com/soyeahso/chatbridge/internal/inbound"
	"github.com/soyeahso/chatbridge/internal/logging"
	"github.com/soyeahso/chatbridge/internal/media"
	"github.com/soyeahso/chatbridge/internal/report"
	"github.com/soyeahso/chatbridge/internal/routing"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	results []inbound.Result
	block   chan struct{} // when set, Dispatch waits on it
	ctxErr  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, res inbound.Result) routing.Outcome {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, res)
	d.ctxErr = ctx.Err()
	return routing.OutcomeRouted
}

func (d *fakeDispatcher) seen() []inbound.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]inbound.Result(nil), d.results...)
}

type memorySink struct {
	mu      sync.Mutex
	reports []domain.ErrorReport
}

func (s *memorySink) Save(_ context.Context, r domain.ErrorReport) (domain.ErrorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = "rep-1"
	s.reports = append(s.reports, r)
	return r, nil
}

func (s *memorySink) all() []domain.ErrorReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ErrorReport(nil), s.reports...)
}

func testServer(t *testing.T, mutate func(*config.GatewayConfig), opts ...ServerOption) (*Server, *fakeDispatcher, *memorySink, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults().Gateway
	if mutate != nil {
		mutate(&cfg)
	}

	log := logging.New(nil, "silent")
	sink := &memorySink{}
	d := &fakeDispatcher{}
	srv := New(cfg, d, report.New(log, nil, sink), log, opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, d, sink, ts
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, _, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, _, ts := testServer(t, nil)

	post(t, ts.URL+"/webhooks/edna", `{"id":"m-1","subject":"7900","text":"hi","fromClient":true}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chatbridge_webhooks_received_total")
}

func TestEdnaURLVerification(t *testing.T) {
	_, d, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/webhooks/edna")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, d.seen())
}

func TestWebhook_EdnaMessageDispatched(t *testing.T) {
	_, d, sink, ts := testServer(t, nil)

	code, body := post(t, ts.URL+"/webhooks/edna", `{"id":"m-1","subject":"79001234567","text":"Hello","fromClient":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"code":"ok"}`, body)

	seen := d.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, inbound.KindMessage, seen[0].Kind)
	assert.Equal(t, domain.PlatformEdna, seen[0].Platform)
	assert.Equal(t, "m-1", seen[0].Message.ExternalID)
	assert.Empty(t, sink.all())
}

func TestWebhook_AmoCRMWithHookSegment(t *testing.T) {
	_, d, _, ts := testServer(t, nil)

	raw := `{"message":{"id":"amo-1","text":"Good afternoon"},"sender":{"id":"manager-7","name":"Olga"},"conversation":{"id":"chat-42"}}`
	for _, path := range []string{"/webhooks/amocrm", "/webhooks/amocrm/scope-1"} {
		code, _ := post(t, ts.URL+path, raw)
		assert.Equal(t, http.StatusOK, code, path)
	}

	seen := d.seen()
	require.Len(t, seen, 2)
	for _, res := range seen {
		assert.Equal(t, domain.PlatformAmoCRM, res.Platform)
		assert.Equal(t, "chat-42", res.Message.ConversationKey)
	}
}

func TestWebhook_MalformedAcknowledgedAndReported(t *testing.T) {
	_, d, sink, ts := testServer(t, nil)

	code, body := post(t, ts.URL+"/webhooks/edna", `not json`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"code":"ok"}`, body)
	assert.Empty(t, d.seen())

	reports := sink.all()
	require.Len(t, reports, 1)
	assert.Equal(t, domain.KindUnrecognizedShape, reports[0].Kind)
	assert.Equal(t, domain.PlatformEdna, reports[0].Platform)
	assert.Equal(t, "parse", reports[0].Stage)
	assert.Equal(t, "not json", reports[0].Payload)
}

func TestWebhook_OversizeBodyReported(t *testing.T) {
	_, d, sink, ts := testServer(t, func(c *config.GatewayConfig) { c.MaxBodyBytes = 64 })

	big := `{"id":"m-1","subject":"7900","fromClient":true,"text":"` + strings.Repeat("x", 256) + `"}`
	code, _ := post(t, ts.URL+"/webhooks/edna", big)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, d.seen())

	reports := sink.all()
	require.Len(t, reports, 1)
	assert.Equal(t, domain.KindUnrecognizedShape, reports[0].Kind)
	assert.Contains(t, reports[0].Error, "reading body")
}

func TestWebhook_GetOnAmoCRMFallsThrough(t *testing.T) {
	_, d, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/webhooks/amocrm")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, d.seen())
}

func TestWebhook_AsyncAcknowledgesBeforeDispatch(t *testing.T) {
	srv, d, _, ts := testServer(t, func(c *config.GatewayConfig) { c.Async = true })
	d.block = make(chan struct{})

	code, _ := post(t, ts.URL+"/webhooks/edna", `{"id":"m-1","subject":"7900","text":"hi","fromClient":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, d.seen())

	close(d.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.drain(ctx)

	require.Len(t, d.seen(), 1)
	// The request context is gone by now; dispatch must not see it cancelled.
	assert.NoError(t, d.ctxErr)
}

func TestWebhook_WorkerLimit(t *testing.T) {
	srv, d, _, ts := testServer(t, func(c *config.GatewayConfig) {
		c.Async = true
		c.MaxWorkers = 1
	})
	d.block = make(chan struct{})

	for i := 0; i < 3; i++ {
		code, _ := post(t, ts.URL+"/webhooks/edna", `{"id":"m-1","subject":"7900","text":"hi","fromClient":true}`)
		require.Equal(t, http.StatusOK, code)
	}

	// One worker holds the slot; the other two wait for it.
	assert.Eventually(t, func() bool {
		if srv.workers.TryAcquire(1) {
			srv.workers.Release(1)
			return false
		}
		return true
	}, time.Second, 5*time.Millisecond)

	close(d.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.drain(ctx)
	assert.Len(t, d.seen(), 3)
}

func TestMediaRoute(t *testing.T) {
	cache := media.NewCache("https://bridge.example.com", config.Defaults().Media)
	_, _, _, ts := testServer(t, nil, WithMedia(cache))

	url, err := cache.Publish(context.Background(), &domain.Media{
		Body:     io.NopCloser(strings.NewReader("png-bytes")),
		MimeType: "image/png",
		Filename: "a.png",
	})
	require.NoError(t, err)
	id := url[strings.LastIndex(url, "/")+1:]

	resp, err := http.Get(ts.URL + "/media/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png-bytes", string(body))
}

func TestMediaRouteAbsentWithoutCache(t *testing.T) {
	_, _, _, ts := testServer(t, nil)

	resp, err := http.Get(ts.URL + "/media/anything")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		bind string
		host string
		port int
		want string
	}{
		{"loopback", "", 18789, "127.0.0.1:18789"},
		{"lan", "", 9999, "0.0.0.0:9999"},
		{"custom", "", 3000, "0.0.0.0:3000"},
		{"custom", "10.0.0.5", 3000, "10.0.0.5:3000"},
		{"unknown", "", 5000, "127.0.0.1:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.bind+tt.host, func(t *testing.T) {
			addr := resolveBindAddr(config.GatewayConfig{Bind: tt.bind, CustomBindHost: tt.host, Port: tt.port})
			assert.Equal(t, tt.want, addr)
		})
	}
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults().Gateway
	cfg.Port = 0 // let OS pick a port

	log := logging.New(nil, "silent")
	hm := hooks.NewManager(log)

	var mu sync.Mutex
	var events []string
	record := func(_ context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, p.Event)
		return nil
	}
	hm.On(hooks.EventGatewayStart, "test", record)
	hm.On(hooks.EventGatewayStop, "test", record)

	d := &fakeDispatcher{}
	srv := New(cfg, d, report.New(log, nil, nil), log, WithHooks(hm))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)

	code, _ := post(t, "http://"+srv.Addr()+"/webhooks/edna", `{"id":"m-1","subject":"7900","text":"hi","fromClient":true}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, d.seen(), 1)

	// Stop it
	cancel()

	err := <-errCh
	assert.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{hooks.EventGatewayStart, hooks.EventGatewayStop}, events)
}
