package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/converso/converso-relay/internal/auth"
	"github.com/converso/converso-relay/internal/bridge"
	"github.com/converso/converso-relay/internal/config"
	"github.com/converso/converso-relay/internal/ratelimit"
	"github.com/converso/converso-relay/internal/upstream/loopback"
)

func newTestServer() *Server {
	chatBridge := bridge.New(loopback.New())
	chatBridge.SetPollPolicy(time.Millisecond, 10)
	agents := []config.AgentDescriptor{
		{ID: "agent-1", Name: "General Assistant", Description: "default assistant"},
	}
	return New(chatBridge, agents)
}

func doRPC(t *testing.T, srv *Server, payload string) rpcResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rpc status %d body %s", rec.Code, rec.Body.String())
	}
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return resp
}

func TestRPCGetModels(t *testing.T) {
	srv := newTestServer()
	resp := doRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"getModels"}`)

	if resp.Error != nil {
		t.Fatalf("unexpected rpc error %+v", resp.Error)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("id not echoed: %s", resp.ID)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result %v", resp.Result)
	}
	models, ok := result["models"].([]interface{})
	if !ok || len(models) != 1 {
		t.Fatalf("unexpected models %v", result["models"])
	}
	first := models[0].(map[string]interface{})
	if first["id"] != "agent-1" || first["name"] != "General Assistant" {
		t.Fatalf("unexpected model %v", first)
	}
}

func TestRPCChatRedirectsToStream(t *testing.T) {
	srv := newTestServer()
	resp := doRPC(t, srv, `{"jsonrpc":"2.0","id":7,"method":"chat","params":{"messages":[{"role":"user","content":"hi"}]}}`)

	if resp.Error != nil {
		t.Fatalf("unexpected rpc error %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	msg, _ := result["message"].(string)
	if !strings.Contains(msg, "/stream") {
		t.Fatalf("chat result should point at the SSE endpoint: %v", result)
	}
}

func TestRPCErrors(t *testing.T) {
	srv := newTestServer()

	resp := doRPC(t, srv, `{not json`)
	if resp.Error == nil || resp.Error.Code != rpcParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Fatalf("parse error id must be null, got %s", resp.ID)
	}

	resp = doRPC(t, srv, `{"jsonrpc":"1.0","id":2,"method":"getModels"}`)
	if resp.Error == nil || resp.Error.Code != rpcInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}

	resp = doRPC(t, srv, `{"jsonrpc":"2.0","id":3,"method":"deleteEverything"}`)
	if resp.Error == nil || resp.Error.Code != rpcMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp.Error)
	}
	if string(resp.ID) != "3" {
		t.Fatalf("id not echoed on error: %s", resp.ID)
	}

	resp = doRPC(t, srv, `{"jsonrpc":"2.0","id":4,"method":"chat","params":[1,2]}`)
	if resp.Error == nil || resp.Error.Code != rpcInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func streamURL(params string) string {
	return "/stream?method=chat&params=" + url.QueryEscape(params)
}

func parseFrames(t *testing.T, body string) []bridge.Event {
	t.Helper()
	var events []bridge.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("malformed frame %q", frame)
		}
		var ev bridge.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("decode frame %q: %v", frame, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestStreamEndToEnd(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, streamURL(`{"messages":[{"role":"user","content":"ping"}]}`), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("stream status %d body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %s", ct)
	}

	events := parseFrames(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected start/content/end, got %v", events)
	}
	if events[0].Type != bridge.EventStart || events[0].ConversationID == "" {
		t.Fatalf("unexpected start event %+v", events[0])
	}
	if events[1].Type != bridge.EventContent || events[1].Content != "[loopback] ping" {
		t.Fatalf("unexpected content event %+v", events[1])
	}
	if events[2].Type != bridge.EventEnd {
		t.Fatalf("unexpected terminal event %+v", events[2])
	}
}

func TestStreamContextReplay(t *testing.T) {
	srv := newTestServer()
	params := `{"messages":[{"role":"user","content":"one"},{"role":"assistant","content":"two"},{"role":"user","content":"three"}]}`
	req := httptest.NewRequest(http.MethodGet, streamURL(params), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	events := parseFrames(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %v", events)
	}
	if events[1].Content != "[loopback] three" {
		t.Fatalf("reply should answer the last user turn, got %+v", events[1])
	}
}

func TestStreamRejectsBadRequests(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	cases := []struct {
		name string
		url  string
	}{
		{"wrong method value", "/stream?method=complete&params=%7B%7D"},
		{"missing params", "/stream?method=chat"},
		{"params not json", "/stream?method=chat&params=notjson"},
		{"empty messages", streamURL(`{"messages":[]}`)},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", tc.name, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Fatalf("%s: expected error body, got %s", tc.name, rec.Body.String())
		}
	}
}

func TestStreamEventMetrics(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, streamURL(`{"messages":[{"role":"user","content":"ping"}]}`), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	snap := srv.Metrics().Snapshot()
	if snap.Events["start"] != 1 || snap.Events["content"] != 1 || snap.Events["end"] != 1 {
		t.Fatalf("unexpected event counters %v", snap.Events)
	}
	if snap.Requests["stream"] != 1 {
		t.Fatalf("unexpected request counters %v", snap.Requests)
	}
}

func TestAuthGuard(t *testing.T) {
	srv := newTestServer()
	mgr := auth.NewManager("test-secret")
	srv.SetAuth(mgr, false)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getModels"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getModels"}`))
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	token, err := mgr.IssueToken("cli", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getModels"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d body %s", rec.Code, rec.Body.String())
	}

	// health stays reachable without credentials
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", rec.Code)
	}
}

func TestRateLimitGuard(t *testing.T) {
	srv := newTestServer()
	limiter := ratelimit.NewLimiter(2, 0.001)
	defer limiter.Close()
	srv.SetRateLimiter(limiter)
	router := srv.Router()

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getModels"}`))
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", body)
	}
	if body["version"] == "" {
		t.Fatalf("health payload missing version")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer()

	// drive one exchange so counters are non-empty
	req := httptest.NewRequest(http.MethodGet, streamURL(`{"messages":[{"role":"user","content":"ping"}]}`), nil)
	srv.Router().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"relay_requests_total", "relay_events_total", "relay_uptime_seconds"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s:\n%s", want, body)
		}
	}
}

func TestEndpointKeySelection(t *testing.T) {
	srv := newTestServer()
	srv.SetEndpointKeys([]string{"health"})
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Fatalf("rpc should not be registered")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health should be registered, got %d", rec.Code)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := bearerToken(req); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
	req.Header.Set("Authorization", "Basic abc")
	if got := bearerToken(req); got != "" {
		t.Fatalf("non-bearer scheme must be rejected, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer  tok-123 ")
	if got := bearerToken(req); got != "tok-123" {
		t.Fatalf("unexpected token %q", got)
	}
}
