package carnet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// scriptProvider is a test Provider that plays back pre-scripted rounds in
// order. Each round streams its tokens into ch and returns its response.
type scriptProvider struct {
	mu     sync.Mutex
	calls  int
	rounds []scriptRound
}

type scriptRound struct {
	tokens []string
	resp   ChatResponse
	err    error
}

func (s *scriptProvider) Name() string  { return "script" }
func (s *scriptProvider) Model() string { return "script-1" }

func (s *scriptProvider) next() scriptRound {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.rounds) {
		return s.rounds[i]
	}
	return scriptRound{}
}

func (s *scriptProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	r := s.next()
	return r.resp, r.err
}

func (s *scriptProvider) ChatStream(ctx context.Context, _ ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	r := s.next()
	for _, tok := range r.tokens {
		select {
		case ch <- tok:
		case <-ctx.Done():
			return r.resp, ctx.Err()
		}
	}
	return r.resp, r.err
}

var _ Provider = (*scriptProvider)(nil)

// --- Tool fakes ---

// echoTool records the args it was called with and returns a fixed output.
type echoTool struct {
	name   string
	output string

	mu       sync.Mutex
	calls    int
	lastArgs json.RawMessage
}

func (e *echoTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: e.name, Description: "Echo tool"}}
}

func (e *echoTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastArgs = args
	return ToolOK(e.output), nil
}

// gatedTool mimics a privileged tool constructed without authorization.
type gatedTool struct{ name string }

func (g gatedTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: g.name, Description: "Privileged tool"}}
}

func (g gatedTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{
		Success: false,
		Output:  fmt.Sprintf("the action %q requires user approval. Ask the user to retry with authorization.", name),
		Error:   ErrKindAuthorization,
		Data:    map[string]any{"requires_authorization": true, "action": name},
	}, nil
}

type panicTool struct{ name string }

func (p panicTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: p.name, Description: "Panics"}}
}

func (p panicTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	panic("boom")
}

// --- Message log fake ---

type memLogEntry struct {
	conversationID string
	role           string
	content        string
	thought        string
	steps          []AgentStep
}

type memLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []memLogEntry
	failAll bool
}

func (m *memLog) append(e memLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return 0, fmt.Errorf("log unavailable")
	}
	m.nextID++
	m.entries = append(m.entries, e)
	return m.nextID, nil
}

func (m *memLog) AppendUserMessage(_ context.Context, conversationID, content string) (int64, error) {
	return m.append(memLogEntry{conversationID: conversationID, role: "user", content: content})
}

func (m *memLog) AppendAssistantMessage(_ context.Context, conversationID, content, thought string, steps []AgentStep) (int64, error) {
	return m.append(memLogEntry{conversationID: conversationID, role: "assistant", content: content, thought: thought, steps: steps})
}

func (m *memLog) Messages(_ context.Context, conversationID string, limit int) ([]StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredMessage
	for i, e := range m.entries {
		if e.conversationID != conversationID {
			continue
		}
		out = append(out, StoredMessage{ID: int64(i + 1), Role: e.role, Content: e.content, Thought: e.thought, Steps: e.steps})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

var _ MessageLog = (*memLog)(nil)

// collectEvents drains an event channel into a slice.
func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// eventsOfType filters events by type.
func eventsOfType(events []Event, t EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
