package carnet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// TurnRequest is the body of one agent turn request.
type TurnRequest struct {
	UserID         string `json:"user_id"`
	NotebookID     string `json:"notebook_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	// Authorized marks a retry of a turn the user has approved after an
	// authorization_required event. It unlocks the gated tools for this
	// turn only.
	Authorized bool `json:"authorized"`
}

// sseHeartbeat is the interval between comment frames keeping idle
// connections open through proxies.
const sseHeartbeat = 15 * time.Second

// Bridge runs agent turns over Server-Sent Events. Each request builds a
// fresh tool registry scoped to the caller, streams the agent's events as
// SSE frames, persists the completed turn, and closes with a done frame
// carrying the stored message id.
type Bridge struct {
	provider      Provider
	buildTools    func(TurnRequest) *ToolRegistry
	history       *History
	log           MessageLog
	maxIterations int
	temperature   float64
	maxTokens     int
	logger        *slog.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeMaxIterations bounds agent rounds per turn.
func WithBridgeMaxIterations(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.maxIterations = n
		}
	}
}

// WithBridgeTemperature sets the sampling temperature for agent calls.
func WithBridgeTemperature(t float64) BridgeOption {
	return func(b *Bridge) { b.temperature = t }
}

// WithBridgeMaxTokens caps each LLM response.
func WithBridgeMaxTokens(n int) BridgeOption {
	return func(b *Bridge) { b.maxTokens = n }
}

// WithBridgeLogger sets a structured logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBridge creates a Bridge. buildTools is called once per request with the
// decoded turn, so registries can bind the caller's notebook and
// authorization capability.
func NewBridge(provider Provider, buildTools func(TurnRequest) *ToolRegistry, history *History, log MessageLog, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		provider:      provider,
		buildTools:    buildTools,
		history:       history,
		log:           log,
		maxIterations: 8,
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ http.Handler = (*Bridge)(nil)

// ServeHTTP handles POST requests carrying a TurnRequest body and answers
// with an SSE stream.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Message == "" || req.UserID == "" || req.NotebookID == "" {
		http.Error(w, "user_id, notebook_id and message are required", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = req.UserID + ":" + req.NotebookID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	registry := b.buildTools(req)
	agent := NewAgent(b.provider, registry,
		WithMaxIterations(b.maxIterations),
		WithTemperature(b.temperature),
		WithMaxTokens(b.maxTokens),
		WithAgentLogger(b.logger))

	history := b.history.Get(req.UserID, req.NotebookID)
	history = append(history, UserMessage(req.Message))

	events := make(chan Event, 32)
	type agentEnd struct {
		result AgentResult
		err    error
	}
	endCh := make(chan agentEnd, 1)
	go func() {
		result, err := agent.Run(ctx, history, events)
		endCh <- agentEnd{result, err}
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	writeFrame := func(ev Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.logger.Error("marshal event", "type", ev.Type, "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			writeFrame(ev)
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}

	end := <-endCh
	if end.err != nil && !end.result.Answered {
		b.logger.Warn("agent turn failed", "conversation", req.ConversationID, "error", end.err)
		writeFrame(Event{Type: EventError, Data: end.err.Error()})
		return
	}

	// The turn produced an answer: record it and close with the stored id.
	b.history.Append(req.UserID, req.NotebookID, UserMessage(req.Message))
	b.history.Append(req.UserID, req.NotebookID, AssistantMessage(end.result.Answer))

	messageID := b.persist(req, end.result)
	writeFrame(Event{Type: EventDone, Data: DoneData{
		MessageID:  messageID,
		Thought:    end.result.Thought,
		Answer:     end.result.Answer,
		ReactSteps: end.result.Steps,
	}})
}

// persist writes the turn to the durable log. Persistence runs on a fresh
// context so a client disconnect after the answer cannot lose the record; a
// storage failure degrades to message_id 0 rather than failing the turn.
func (b *Bridge) persist(req TurnRequest, result AgentResult) int64 {
	if b.log == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := b.log.AppendUserMessage(ctx, req.ConversationID, req.Message); err != nil {
		b.logger.Warn("persist user message", "conversation", req.ConversationID, "error", err)
		return 0
	}
	id, err := b.log.AppendAssistantMessage(ctx, req.ConversationID, result.Answer, result.Thought, result.Steps)
	if err != nil {
		b.logger.Warn("persist assistant message", "conversation", req.ConversationID, "error", err)
		return 0
	}
	return id
}
