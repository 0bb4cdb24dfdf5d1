package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/arcflow/agentcore/internal/config"
	"github.com/arcflow/agentcore/internal/orchestrator"
	"github.com/arcflow/agentcore/internal/threads"
)

// fakeDriver replays a fixed event sequence for every run.
type fakeDriver struct {
	events []orchestrator.StreamEvent
	runs   int
}

func (d *fakeDriver) Run(ctx context.Context, threadID, projectID string, cfg orchestrator.DriverConfig) <-chan orchestrator.StreamEvent {
	d.runs++
	out := make(chan orchestrator.StreamEvent, len(d.events))
	for _, ev := range d.events {
		out <- ev
	}
	close(out)
	return out
}

func newTestServer(t *testing.T, driver *fakeDriver, keys ...string) *Server {
	t.Helper()
	var apiKeys []config.APIKeyConfig
	for _, k := range keys {
		apiKeys = append(apiKeys, config.APIKeyConfig{Key: k, AccountID: "acct-1"})
	}
	return NewServer(driver, threads.NewMemoryStore(), nil, Config{APIKeys: apiKeys})
}

func TestHandleRun_StreamsNDJSON(t *testing.T) {
	driver := &fakeDriver{events: []orchestrator.StreamEvent{
		{Type: orchestrator.EventThought, Content: "thinking"},
		{Type: orchestrator.EventToolCall, ToolName: "shell", ToolArgs: map[string]string{"command": "ls /tmp"}},
		{Type: orchestrator.EventToolResult, ToolName: "shell", ToolOutput: "a.txt"},
		{Type: orchestrator.EventFinalResponse, Content: "done"},
	}}
	server := newTestServer(t, driver)

	req := httptest.NewRequest(http.MethodPost, "/api/threads/t-1/run", strings.NewReader(`{"project_id":"p-1"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("expected ndjson content type, got %q", got)
	}

	scanner := bufio.NewScanner(rec.Body)
	var types []string
	for scanner.Scan() {
		var ev orchestrator.StreamEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid event line %q: %v", scanner.Text(), err)
		}
		types = append(types, string(ev.Type))
	}
	want := []string{"thought", "tool_call", "tool_result", "final_response"}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestHandleRun_SSE(t *testing.T) {
	driver := &fakeDriver{events: []orchestrator.StreamEvent{
		{Type: orchestrator.EventThought, Content: "hi"},
	}}
	server := newTestServer(t, driver)

	req := httptest.NewRequest(http.MethodPost, "/api/threads/t-1/run", strings.NewReader(`{"project_id":"p-1"}`))
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "data: ") {
		t.Fatalf("expected SSE framing, got %q", rec.Body.String())
	}
}

func TestHandleRun_RequiresProjectID(t *testing.T) {
	server := newTestServer(t, &fakeDriver{})

	req := httptest.NewRequest(http.MethodPost, "/api/threads/t-1/run", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuth_RejectsMissingKey(t *testing.T) {
	server := newTestServer(t, &fakeDriver{}, "secret-key")

	req := httptest.NewRequest(http.MethodPost, "/api/threads/t-1/run", strings.NewReader(`{"project_id":"p-1"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/threads/t-1/run", strings.NewReader(`{"project_id":"p-1"}`))
	req.Header.Set("Authorization", "Bearer secret-key")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}
}

func TestHandleAddMessage(t *testing.T) {
	server := newTestServer(t, &fakeDriver{})

	req := httptest.NewRequest(http.MethodPost, "/api/threads/t-1/messages", strings.NewReader(`{"content":"hello"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body["message_id"] == "" {
		t.Fatal("expected message_id in response")
	}
}

func TestHandleWS_RunRoundTrip(t *testing.T) {
	driver := &fakeDriver{events: []orchestrator.StreamEvent{
		{Type: orchestrator.EventThought, Content: "hi"},
		{Type: orchestrator.EventFinalResponse, Content: "bye"},
	}}
	server := newTestServer(t, driver)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/threads/t-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsFrame{Type: "run", ProjectID: "p-1"}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	var types []string
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read error: %v", err)
		}
		if frame.Type == "done" {
			break
		}
		if frame.Type != "event" || frame.Event == nil {
			t.Fatalf("unexpected frame %+v", frame)
		}
		types = append(types, string(frame.Event.Type))
	}
	if len(types) != 2 || types[0] != "thought" || types[1] != "final_response" {
		t.Fatalf("unexpected event types %v", types)
	}
}
