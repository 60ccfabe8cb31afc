package carnet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postTurn(t *testing.T, bridge *Bridge, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/agent/stream", strings.NewReader(body))
	rec := httptest.NewRecorder()
	bridge.ServeHTTP(rec, req)
	return rec
}

// parseSSE decodes the data frames of an SSE body.
func parseSSE(t *testing.T, body string) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var raw struct {
			Type EventType       `json:"event"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			t.Fatalf("bad frame %q: %v", payload, err)
		}
		events = append(events, Event{Type: raw.Type, Data: raw.Data})
	}
	return events
}

func newTestBridge(provider Provider, log MessageLog, tools ...Tool) (*Bridge, *History) {
	history := NewHistory()
	buildTools := func(TurnRequest) *ToolRegistry {
		reg := NewToolRegistry()
		for _, t := range tools {
			reg.Add(t)
		}
		return reg
	}
	return NewBridge(provider, buildTools, history, log), history
}

func TestBridgeStreamsTurn(t *testing.T) {
	provider := &scriptProvider{rounds: []scriptRound{
		{tokens: []string{"<think>simple</think><answer>hello there</answer>"}},
	}}
	log := &memLog{}
	bridge, history := newTestBridge(provider, log)

	rec := postTurn(t, bridge, `{"user_id":"u1","notebook_id":"nb1","message":"hi"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatal("no SSE frames")
	}
	if events[0].Type != EventStart {
		t.Errorf("first frame = %q, want start", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("last frame = %q, want done", last.Type)
	}

	var done DoneData
	if err := json.Unmarshal(last.Data.(json.RawMessage), &done); err != nil {
		t.Fatal(err)
	}
	if done.Answer != "hello there" {
		t.Errorf("done answer = %q", done.Answer)
	}
	if done.MessageID != 2 {
		t.Errorf("message id = %d, want 2 (user then assistant)", done.MessageID)
	}

	// Turn recorded: durable log and in-memory window.
	msgs, _ := log.Messages(t.Context(), "u1:nb1", 10)
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("stored messages = %+v", msgs)
	}
	if history.Len("u1", "nb1") != 2 {
		t.Errorf("history length = %d, want 2", history.Len("u1", "nb1"))
	}
}

func TestBridgeValidatesRequest(t *testing.T) {
	bridge, _ := newTestBridge(&scriptProvider{}, &memLog{})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing message", `{"user_id":"u","notebook_id":"n"}`},
		{"missing user", `{"notebook_id":"n","message":"hi"}`},
		{"missing notebook", `{"user_id":"u","message":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postTurn(t, bridge, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/agent/stream", nil)
	rec := httptest.NewRecorder()
	bridge.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestBridgeErrorFrameOnFailedTurn(t *testing.T) {
	provider := &scriptProvider{rounds: []scriptRound{
		{err: &ErrHTTP{Status: 500, Body: "llm down"}},
	}}
	log := &memLog{}
	bridge, _ := newTestBridge(provider, log)

	rec := postTurn(t, bridge, `{"user_id":"u1","notebook_id":"nb1","message":"hi"}`)

	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("last frame = %q, want error", last.Type)
	}
	// A failed turn persists nothing.
	if msgs, _ := log.Messages(t.Context(), "u1:nb1", 10); len(msgs) != 0 {
		t.Errorf("stored messages = %+v, want none", msgs)
	}
}

func TestBridgeStorageFailureDegradesToZeroID(t *testing.T) {
	provider := &scriptProvider{rounds: []scriptRound{
		{tokens: []string{"<answer>still fine</answer>"}},
	}}
	bridge, _ := newTestBridge(provider, &memLog{failAll: true})

	rec := postTurn(t, bridge, `{"user_id":"u1","notebook_id":"nb1","message":"hi"}`)

	events := parseSSE(t, rec.Body.String())
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("last frame = %q, want done", last.Type)
	}
	var done DoneData
	if err := json.Unmarshal(last.Data.(json.RawMessage), &done); err != nil {
		t.Fatal(err)
	}
	if done.MessageID != 0 {
		t.Errorf("message id = %d, want 0 on storage failure", done.MessageID)
	}
	if done.Answer != "still fine" {
		t.Errorf("answer = %q", done.Answer)
	}
}

func TestBridgeConversationIDDefault(t *testing.T) {
	provider := &scriptProvider{rounds: []scriptRound{
		{tokens: []string{"<answer>ok</answer>"}},
	}}
	log := &memLog{}
	bridge, _ := newTestBridge(provider, log)

	postTurn(t, bridge, `{"user_id":"alice","notebook_id":"nb9","message":"hi"}`)

	if msgs, _ := log.Messages(t.Context(), "alice:nb9", 10); len(msgs) != 2 {
		t.Errorf("expected messages under derived conversation id, got %+v", msgs)
	}
}

func TestBridgeToolTurnStreamsObservation(t *testing.T) {
	provider := &scriptProvider{rounds: []scriptRound{
		{tokens: []string{`<think>use tool</think><action>{"tool": "calc", "input": {"expression": "2+2"}}</action>`}},
		{tokens: []string{"<answer>4</answer>"}},
	}}
	bridge, _ := newTestBridge(provider, &memLog{}, &echoTool{name: "calc", output: "4"})

	rec := postTurn(t, bridge, `{"user_id":"u1","notebook_id":"nb1","message":"2+2?"}`)

	events := parseSSE(t, rec.Body.String())
	var sawAction, sawObservation bool
	for _, ev := range events {
		switch ev.Type {
		case EventAction:
			sawAction = true
		case EventObservation:
			sawObservation = true
		}
	}
	if !sawAction || !sawObservation {
		t.Errorf("missing action/observation frames: action=%v observation=%v", sawAction, sawObservation)
	}

	var done DoneData
	last := events[len(events)-1]
	if err := json.Unmarshal(last.Data.(json.RawMessage), &done); err != nil {
		t.Fatal(err)
	}
	if len(done.ReactSteps) == 0 {
		t.Error("done frame should carry the step trace")
	}
}
