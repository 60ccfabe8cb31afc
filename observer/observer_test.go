package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	carnet "github.com/carnetd/carnet"
)

// mockProvider for observer tests.
type mockProvider struct {
	name     string
	model    string
	chatResp carnet.ChatResponse
	chatErr  error
}

func (m *mockProvider) Name() string  { return m.name }
func (m *mockProvider) Model() string { return m.model }
func (m *mockProvider) Chat(_ context.Context, _ carnet.ChatRequest) (carnet.ChatResponse, error) {
	return m.chatResp, m.chatErr
}
func (m *mockProvider) ChatStream(_ context.Context, _ carnet.ChatRequest, ch chan<- string) (carnet.ChatResponse, error) {
	ch <- "hello"
	ch <- " world"
	close(ch)
	return m.chatResp, m.chatErr
}

// mockTool for observer tests.
type mockTool struct {
	defs   []carnet.ToolDefinition
	result carnet.ToolResult
	err    error
}

func (m *mockTool) Definitions() []carnet.ToolDefinition { return m.defs }
func (m *mockTool) Execute(_ context.Context, _ string, _ json.RawMessage) (carnet.ToolResult, error) {
	return m.result, m.err
}

// mockEmbedding for observer tests.
type mockEmbedding struct {
	name string
	dims int
	vecs [][]float32
	err  error
}

func (m *mockEmbedding) Name() string    { return m.name }
func (m *mockEmbedding) Dimensions() int { return m.dims }
func (m *mockEmbedding) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return m.vecs, m.err
}

// testInstruments creates Instruments over the global OTEL providers, which
// are no-ops by default. Safe for testing delegation behavior without any
// real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestObservedProviderAccessors(t *testing.T) {
	op := WrapProvider(&mockProvider{name: "test-provider", model: "test-model"}, testInstruments(t))
	if op.Name() != "test-provider" || op.Model() != "test-model" {
		t.Errorf("Name() = %q, Model() = %q", op.Name(), op.Model())
	}
}

func TestObservedProviderChat(t *testing.T) {
	want := carnet.ChatResponse{
		Content: "hello from LLM",
		Usage:   carnet.Usage{InputTokens: 10, OutputTokens: 5},
	}
	op := WrapProvider(&mockProvider{name: "p", model: "m", chatResp: want}, testInstruments(t))

	got, err := op.Chat(context.Background(), carnet.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat returned unexpected error: %v", err)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
	if got.Usage != want.Usage {
		t.Errorf("Usage = %+v, want %+v", got.Usage, want.Usage)
	}
}

func TestObservedProviderChatError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	op := WrapProvider(&mockProvider{name: "p", model: "m", chatErr: wantErr}, testInstruments(t))

	_, err := op.Chat(context.Background(), carnet.ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Chat error = %v, want %v", err, wantErr)
	}
}

func TestObservedProviderChatStream(t *testing.T) {
	want := carnet.ChatResponse{
		Content: "hello world",
		Usage:   carnet.Usage{InputTokens: 8, OutputTokens: 2},
	}
	op := WrapProvider(&mockProvider{name: "p", model: "m", chatResp: want}, testInstruments(t))

	ch := make(chan string, 10)
	got, err := op.ChatStream(context.Background(), carnet.ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("ChatStream returned unexpected error: %v", err)
	}

	// The wrapper forwards tokens from its middle channel into ch and closes
	// ch when done.
	var tokens []string
	for tok := range ch {
		tokens = append(tokens, tok)
	}
	if len(tokens) != 2 || tokens[0] != "hello" || tokens[1] != " world" {
		t.Errorf("tokens = %v, want [hello, ' world']", tokens)
	}
	if got.Content != want.Content {
		t.Errorf("Content = %q, want %q", got.Content, want.Content)
	}
}

func TestObservedToolDefinitions(t *testing.T) {
	defs := []carnet.ToolDefinition{
		{Name: "web_search", Description: "search"},
		{Name: "calculator", Description: "math"},
	}
	ot := WrapTool(&mockTool{defs: defs}, testInstruments(t))

	got := ot.Definitions()
	if len(got) != 2 || got[0].Name != "web_search" {
		t.Errorf("Definitions() = %+v", got)
	}
}

func TestObservedToolExecute(t *testing.T) {
	want := carnet.ToolResult{Success: true, Output: "42"}
	ot := WrapTool(&mockTool{result: want}, testInstruments(t))

	got, err := ot.Execute(context.Background(), "calculator", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute returned unexpected error: %v", err)
	}
	if got.Output != want.Output || !got.Success {
		t.Errorf("result = %+v, want %+v", got, want)
	}
}

func TestObservedToolExecuteError(t *testing.T) {
	wantErr := errors.New("boom")
	ot := WrapTool(&mockTool{err: wantErr}, testInstruments(t))

	_, err := ot.Execute(context.Background(), "calculator", nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Execute error = %v, want %v", err, wantErr)
	}
}

func TestObservedEmbedding(t *testing.T) {
	vecs := [][]float32{{0.1, 0.2}}
	oe := WrapEmbedding(&mockEmbedding{name: "e", dims: 2, vecs: vecs}, testInstruments(t))

	if oe.Name() != "e" || oe.Dimensions() != 2 {
		t.Errorf("Name() = %q, Dimensions() = %d", oe.Name(), oe.Dimensions())
	}
	got, err := oe.Embed(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("Embed returned unexpected error: %v", err)
	}
	if len(got) != 1 || got[0][0] != 0.1 {
		t.Errorf("vectors = %v", got)
	}
}

func TestObservedEmbeddingError(t *testing.T) {
	wantErr := errors.New("quota exceeded")
	oe := WrapEmbedding(&mockEmbedding{name: "e", dims: 2, err: wantErr}, testInstruments(t))

	_, err := oe.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Embed error = %v, want %v", err, wantErr)
	}
}
