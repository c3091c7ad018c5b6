package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/soyeahso/dialtask/internal/calllog"
	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/twilio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioclient "github.com/twilio/twilio-go/client"
)

type fakeCaller struct {
	sid string
	err error

	mu     sync.Mutex
	to     string
	phrase string
}

func (f *fakeCaller) MakeCall(_ context.Context, to, phrase string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to, f.phrase = to, phrase
	return f.sid, f.err
}

func (f *fakeCaller) StreamTwiML(phrase string) (string, error) {
	return `<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="wss://example.com/streams"/></Connect></Response>`, nil
}

type statusLog struct {
	mu  sync.Mutex
	got []calllog.Status
}

func (s *statusLog) Broadcast(_ context.Context, st calllog.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, st)
}

func (s *statusLog) all() []calllog.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calllog.Status(nil), s.got...)
}

func newTestServer(t *testing.T, cfg config.GatewayConfig, opts ...ServerOption) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(cfg, twilio.StreamConfig{}, twilio.StreamDeps{}, logging.New(nil, "silent"), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postForm(t *testing.T, ts *httptest.Server, form url.Values, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", ts.URL+"/callbacks/twilio", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postCall(t *testing.T, ts *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", ts.URL+"/calls", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, HealthResponse{Status: "ok", Streams: 0}, health)
}

func TestNotFound(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusCallbackRinging(t *testing.T) {
	statuses := &statusLog{}
	_, ts := newTestServer(t, config.GatewayConfig{},
		WithCaller(&fakeCaller{}), WithStatusBroadcaster(statuses))

	resp := postForm(t, ts, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"ringing"},
		"From":       {"+15550001111"},
		"To":         {"+15552223333"},
	}, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/xml", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `<Stream url="wss://example.com/streams"/>`)

	assert.Equal(t, []calllog.Status{{
		CallSid: "CA1",
		Status:  "ringing",
		From:    "+15550001111",
		To:      "+15552223333",
	}}, statuses.all())
}

func TestStatusCallbackOtherStatus(t *testing.T) {
	statuses := &statusLog{}
	_, ts := newTestServer(t, config.GatewayConfig{},
		WithCaller(&fakeCaller{}), WithStatusBroadcaster(statuses))

	resp := postForm(t, ts, url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
	require.Len(t, statuses.all(), 1)
	assert.Equal(t, "completed", statuses.all()[0].Status)
}

func TestStatusCallbackRequiresCallSid(t *testing.T) {
	statuses := &statusLog{}
	_, ts := newTestServer(t, config.GatewayConfig{}, WithStatusBroadcaster(statuses))

	resp := postForm(t, ts, url.Values{"CallStatus": {"ringing"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, statuses.all())
}

// twilioSignature signs a webhook the way Twilio does: HMAC-SHA1 over the
// URL followed by the sorted form keys and values.
func twilioSignature(token, webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestStatusCallbackSignature(t *testing.T) {
	const webhookURL = "https://dialtask.example.com/callbacks/twilio"
	validator := twilioclient.NewRequestValidator("auth-token")
	statuses := &statusLog{}
	_, ts := newTestServer(t, config.GatewayConfig{},
		WithStatusBroadcaster(statuses), WithWebhookValidation(&validator, webhookURL))

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"busy"}}

	resp := postForm(t, ts, form, http.Header{"X-Twilio-Signature": {"bogus"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, statuses.all())

	sig := twilioSignature("auth-token", webhookURL, form)
	resp = postForm(t, ts, form, http.Header{"X-Twilio-Signature": {sig}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, statuses.all(), 1)
}

func TestStatusCallbackRateLimited(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{
		RateLimit: config.RateLimitConfig{PerSecond: 0.001, Burst: 1},
	})

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"queued"}}
	assert.Equal(t, http.StatusOK, postForm(t, ts, form, nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, postForm(t, ts, form, nil).StatusCode)
}

func TestCreateCall(t *testing.T) {
	caller := &fakeCaller{sid: "CA42"}
	_, ts := newTestServer(t, config.GatewayConfig{Token: "tok"}, WithCaller(caller))

	resp := postCall(t, ts, "tok", `{"to":" +15552223333 ","phrase":"Your tasks are ready"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out createCallResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "CA42", out.Sid)
	assert.Equal(t, "+15552223333", caller.to)
	assert.Equal(t, "Your tasks are ready", caller.phrase)
}

func TestCreateCallRejections(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		caller Caller
		auth   string
		body   string
		status int
		errMsg string
	}{
		{"no token configured", "", &fakeCaller{}, "tok", `{"to":"+1"}`, http.StatusForbidden, "calls API disabled: no gateway token configured"},
		{"missing auth", "tok", &fakeCaller{}, "", `{"to":"+1"}`, http.StatusUnauthorized, "bearer token required"},
		{"wrong token", "tok", &fakeCaller{}, "nope", `{"to":"+1"}`, http.StatusUnauthorized, "token_mismatch"},
		{"no caller", "tok", nil, "tok", `{"to":"+1"}`, http.StatusServiceUnavailable, "outbound calls not configured"},
		{"bad json", "tok", &fakeCaller{}, "tok", `{`, http.StatusBadRequest, "invalid JSON body"},
		{"missing to", "tok", &fakeCaller{}, "tok", `{"phrase":"hi"}`, http.StatusBadRequest, "to is required"},
		{"twilio not configured", "tok", &fakeCaller{err: fmt.Errorf("%w: missing phoneNumber", twilio.ErrNotConfigured)}, "tok", `{"to":"+1"}`, http.StatusServiceUnavailable, "twilio: not configured: missing phoneNumber"},
		{"twilio failure", "tok", &fakeCaller{err: errors.New("twilio: creating call: 21211")}, "tok", `{"to":"+1"}`, http.StatusBadGateway, "twilio: creating call: 21211"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []ServerOption
			if tt.caller != nil {
				opts = append(opts, WithCaller(tt.caller))
			}
			_, ts := newTestServer(t, config.GatewayConfig{Token: tt.token}, opts...)

			resp := postCall(t, ts, tt.auth, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.errMsg, decodeError(t, resp))
		})
	}
}

func TestCreateCallThrottlesFailedAuth(t *testing.T) {
	caller := &fakeCaller{sid: "CA1"}
	_, ts := newTestServer(t, config.GatewayConfig{Token: "tok"}, WithCaller(caller))

	for range authFailureBurst {
		assert.Equal(t, http.StatusUnauthorized, postCall(t, ts, "guess", `{"to":"+1"}`).StatusCode)
	}
	resp := postCall(t, ts, "tok", `{"to":"+1"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Empty(t, caller.to)
}
