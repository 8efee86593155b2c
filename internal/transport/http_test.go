// Copyright 2025 Joseph Cumines
//
// HTTP/SSE transport unit tests

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func echoHandler(ctx context.Context, msg *Message) (*Message, error) {
	if msg.IsNotification() {
		return nil, nil
	}
	if msg.Method == "fail" {
		return nil, errors.New("tool crashed")
	}
	result, _ := json.Marshal(map[string]string{"method": msg.Method})
	return &Message{JSONRPC: Version, ID: msg.ID, Result: result}, nil
}

func newTestHTTPTransport(cfg *HTTPTransportConfig, metrics *Metrics) *HTTPTransport {
	tr := NewHTTPTransport(cfg, metrics, nil)
	h := Handler(echoHandler)
	tr.handler.Store(&h)
	return tr
}

func postMessage(t *testing.T, tr *HTTPTransport, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)
	return rec
}

func TestNewHTTPTransport(t *testing.T) {
	tr := NewHTTPTransport(nil, nil, nil)
	if tr == nil {
		t.Fatal("NewHTTPTransport returned nil")
	}
	if tr.config.Address != ":8080" {
		t.Errorf("Default address = %s, want :8080", tr.config.Address)
	}
	if tr.config.HeartbeatInterval != 15*time.Second {
		t.Errorf("Default heartbeat = %v, want 15s", tr.config.HeartbeatInterval)
	}
	if tr.config.CORSOrigin != "*" {
		t.Errorf("Default CORS = %s, want *", tr.config.CORSOrigin)
	}
	if tr.server.WriteTimeout != 0 {
		t.Errorf("Default WriteTimeout = %v, want 0", tr.server.WriteTimeout)
	}
}

func TestNewHTTPTransport_WithConfig(t *testing.T) {
	tr := NewHTTPTransport(&HTTPTransportConfig{
		Address:           ":9000",
		HeartbeatInterval: 60 * time.Second,
		CORSOrigin:        "https://example.com",
		WriteTimeout:      time.Minute,
	}, nil, nil)
	if tr.config.Address != ":9000" {
		t.Errorf("Address = %s, want :9000", tr.config.Address)
	}
	if tr.config.HeartbeatInterval != 60*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 60s", tr.config.HeartbeatInterval)
	}
	if tr.config.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", tr.config.ReadTimeout)
	}
	if tr.server.WriteTimeout != time.Minute {
		t.Errorf("WriteTimeout = %v, want 1m", tr.server.WriteTimeout)
	}
}

func TestHTTPTransport_HandleMessage(t *testing.T) {
	tr := newTestHTTPTransport(nil, nil)
	client := tr.clients.Add("")
	defer tr.clients.Remove(client.ID)

	rec := postMessage(t, tr, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp Message
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if string(resp.ID) != "1" {
		t.Errorf("ID = %s, want 1", resp.ID)
	}
	if !strings.Contains(string(resp.Result), "tools/list") {
		t.Errorf("Result = %s", resp.Result)
	}

	select {
	case event := <-client.Events:
		if event.Event != "message" || !strings.Contains(event.Data, "tools/list") {
			t.Errorf("broadcast event = %+v", event)
		}
	default:
		t.Error("response was not broadcast to SSE clients")
	}
}

func TestHTTPTransport_HandleMessage_HandlerError(t *testing.T) {
	tr := newTestHTTPTransport(nil, nil)

	rec := postMessage(t, tr, `{"jsonrpc":"2.0","id":"a","method":"fail"}`)
	var resp Message
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeInternalError {
		t.Fatalf("Error = %+v, want internal error", resp.Error)
	}
	if resp.Error.Message != "tool crashed" {
		t.Errorf("Error.Message = %q", resp.Error.Message)
	}
}

func TestHTTPTransport_HandleMessage_MethodNotAllowed(t *testing.T) {
	tr := newTestHTTPTransport(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/message", nil)
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHTTPTransport_HandleMessage_InvalidJSON(t *testing.T) {
	tr := newTestHTTPTransport(nil, nil)
	rec := postMessage(t, tr, `{not json`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var resp Message
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeParseError {
		t.Errorf("Error = %+v, want parse error", resp.Error)
	}
}

func TestHTTPTransport_HandleMessage_Notification(t *testing.T) {
	tr := newTestHTTPTransport(nil, nil)
	rec := postMessage(t, tr, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestHTTPTransport_HandleMessage_NoHandler(t *testing.T) {
	tr := NewHTTPTransport(nil, nil, nil)
	rec := postMessage(t, tr, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHTTPTransport_HandleHealth(t *testing.T) {
	tr := newTestHTTPTransport(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["clients"] != float64(0) {
		t.Errorf("clients = %v, want 0", body["clients"])
	}
}

func TestHTTPTransport_HandleMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordToolCall("wechat_get_chat_history", "ok", 3*time.Second)
	tr := newTestHTTPTransport(nil, metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	tr.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := MetricToolCalls + `{tool="wechat_get_chat_history",status="ok"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics output missing %q:\n%s", want, rec.Body.String())
	}
}

func TestHTTPTransport_CORS(t *testing.T) {
	tr := newTestHTTPTransport(&HTTPTransportConfig{CORSOrigin: "https://example.com"}, nil)

	for _, path := range []string{"/health", "/metrics", "/message"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, path, nil)
			rec := httptest.NewRecorder()
			tr.router.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
				t.Errorf("Allow-Origin = %q", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Last-Event-ID") {
				t.Errorf("Allow-Headers = %q", got)
			}
		})
	}
}

func TestHTTPTransport_RateLimit(t *testing.T) {
	metrics := NewMetrics()
	tr := newTestHTTPTransport(&HTTPTransportConfig{RateLimit: 0.5}, metrics)

	// burst of one
	if rec := postMessage(t, tr, `{"jsonrpc":"2.0","id":1,"method":"ping"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec := postMessage(t, tr, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if got := metrics.Value(MetricRateLimited, ""); got != 1 {
		t.Errorf("rate limited count = %g, want 1", got)
	}

	// health stays reachable
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	hrec := httptest.NewRecorder()
	tr.router.ServeHTTP(hrec, req)
	if hrec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", hrec.Code)
	}
}

func TestHTTPTransport_SSE(t *testing.T) {
	metrics := NewMetrics()
	tr := newTestHTTPTransport(&HTTPTransportConfig{HeartbeatInterval: time.Hour}, metrics)
	server := httptest.NewServer(tr.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	waitFor(t, func() bool { return tr.clients.Count() == 1 })
	if got := metrics.Value(MetricSSEConnections, ""); got != 1 {
		t.Errorf("active connections = %g, want 1", got)
	}

	if err := tr.WriteMessage(&Message{JSONRPC: Version, Method: "notifications/message", Params: json.RawMessage(`{"level":"info"}`)}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		lines = append(lines, line)
	}

	if len(lines) != 3 || lines[0] != "id: 1" || lines[1] != "event: message" || !strings.HasPrefix(lines[2], "data: ") {
		t.Errorf("event lines = %q", lines)
	}
	if !strings.Contains(lines[len(lines)-1], "notifications/message") {
		t.Errorf("event data = %q", lines[len(lines)-1])
	}
}

func TestHTTPTransport_ServeAndClose(t *testing.T) {
	tr := NewHTTPTransport(&HTTPTransportConfig{Address: "127.0.0.1:0"}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx, echoHandler) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if !tr.IsClosed() {
		t.Error("transport should be closed")
	}
	if err := tr.WriteMessage(&Message{JSONRPC: Version}); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteMessage() error = %v, want ErrClosed", err)
	}
	if err := tr.Serve(context.Background(), echoHandler); !errors.Is(err, ErrClosed) {
		t.Errorf("Serve() after close error = %v, want ErrClosed", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClientRegistry(t *testing.T) {
	r := NewClientRegistry(nil)
	a := r.Add("")
	b := r.Add("5")
	if a.ID == b.ID {
		t.Error("client IDs should be unique")
	}
	if b.LastEventID != "5" {
		t.Errorf("LastEventID = %q, want 5", b.LastEventID)
	}
	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}

	if sent := r.Broadcast(&SSEEvent{ID: "1", Event: "message", Data: "{}"}); sent != 2 {
		t.Errorf("Broadcast() sent = %d, want 2", sent)
	}

	r.Remove(a.ID)
	if _, ok := <-a.Events; !ok {
		// buffered event is still delivered before close
		t.Error("expected buffered event before channel close")
	}
	if _, ok := <-a.Events; ok {
		t.Error("channel should be closed after Remove")
	}
	r.Remove(a.ID)
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestClientRegistry_SlowClient(t *testing.T) {
	r := NewClientRegistry(nil)
	c := r.Add("")
	for i := 0; i < cap(c.Events); i++ {
		r.Broadcast(&SSEEvent{ID: "x"})
	}
	if sent := r.Broadcast(&SSEEvent{ID: "overflow"}); sent != 0 {
		t.Errorf("Broadcast() to full client sent = %d, want 0", sent)
	}
}

func TestEventStore(t *testing.T) {
	s := NewEventStore(3)
	for _, id := range []string{"1", "2", "3", "4"} {
		s.Add(&SSEEvent{ID: id})
	}

	if got := s.GetSince("1"); got != nil {
		t.Errorf("GetSince(evicted) = %v, want nil", got)
	}
	got := s.GetSince("2")
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "4" {
		t.Errorf("GetSince(2) = %v, want [3 4]", got)
	}
	if got := s.GetSince("4"); len(got) != 0 {
		t.Errorf("GetSince(latest) = %v, want empty", got)
	}
	if got := s.GetSince(""); got != nil {
		t.Errorf("GetSince(\"\") = %v, want nil", got)
	}
}

func TestWriteSSEEvent_Multiline(t *testing.T) {
	var b strings.Builder
	if err := writeSSEEvent(&b, &SSEEvent{ID: "9", Event: "message", Data: "line1\nline2"}); err != nil {
		t.Fatal(err)
	}
	want := "id: 9\nevent: message\ndata: line1\ndata: line2\n\n"
	if b.String() != want {
		t.Errorf("writeSSEEvent() = %q, want %q", b.String(), want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
