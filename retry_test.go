package carnet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryChatSucceedsFirstAttempt(t *testing.T) {
	stub := &scriptProvider{rounds: []scriptRound{
		{resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.callCount() != 1 {
		t.Errorf("got %d calls, want 1", stub.callCount())
	}
}

func TestWithRetryChatRetriesTransient(t *testing.T) {
	for _, status := range []int{429, 503} {
		stub := &scriptProvider{rounds: []scriptRound{
			{err: &ErrHTTP{Status: status, Body: "transient"}},
			{resp: ChatResponse{Content: "ok"}},
		}}
		p := WithRetry(stub, RetryBaseDelay(0))

		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("status %d: unexpected error: %v", status, err)
		}
		if resp.Content != "ok" {
			t.Errorf("status %d: got %q, want ok", status, resp.Content)
		}
		if stub.callCount() != 2 {
			t.Errorf("status %d: got %d calls, want 2", status, stub.callCount())
		}
	}
}

func TestWithRetryChatDoesNotRetryNonTransient(t *testing.T) {
	stub := &scriptProvider{rounds: []scriptRound{
		{err: &ErrHTTP{Status: 500, Body: "internal"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if stub.callCount() != 1 {
		t.Errorf("got %d calls, want 1 (no retry for 500)", stub.callCount())
	}
}

func TestWithRetryChatExhaustsMaxAttempts(t *testing.T) {
	transient := scriptRound{err: &ErrHTTP{Status: 503, Body: "unavailable"}}
	stub := &scriptProvider{rounds: []scriptRound{transient, transient, transient}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryMaxAttempts(3))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 503 {
		t.Fatalf("err = %v, want final 503", err)
	}
	if stub.callCount() != 3 {
		t.Errorf("got %d calls, want 3", stub.callCount())
	}
}

func TestWithRetryStreamRetriesBeforeFirstDelta(t *testing.T) {
	stub := &scriptProvider{rounds: []scriptRound{
		{err: &ErrHTTP{Status: 429, Body: "rate limited"}},
		{tokens: []string{"he", "llo"}, resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	ch := make(chan string, 16)
	resp, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want hello", resp.Content)
	}

	var got string
	for d := range ch {
		got += d
	}
	if got != "hello" {
		t.Errorf("deltas = %q, want hello (no duplicates)", got)
	}
	if stub.callCount() != 2 {
		t.Errorf("got %d calls, want 2", stub.callCount())
	}
}

func TestWithRetryStreamPassesThroughAfterDeltas(t *testing.T) {
	stub := &scriptProvider{rounds: []scriptRound{
		{tokens: []string{"partial"}, err: &ErrHTTP{Status: 503, Body: "mid-stream"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	ch := make(chan string, 16)
	_, err := p.ChatStream(context.Background(), ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected mid-stream error to pass through")
	}
	if stub.callCount() != 1 {
		t.Errorf("got %d calls, want 1 (no retry after content)", stub.callCount())
	}
	// ch must still be closed.
	if _, open := <-ch; open {
		if _, open := <-ch; open {
			t.Error("channel left open")
		}
	}
}

func TestRetryDelayHonorsRetryAfter(t *testing.T) {
	err := &ErrHTTP{Status: 429, RetryAfter: 5 * time.Second}
	if d := retryDelay(time.Millisecond, 0, err); d < 5*time.Second {
		t.Errorf("delay = %v, want >= Retry-After 5s", d)
	}

	// Without Retry-After the backoff floor applies.
	plain := &ErrHTTP{Status: 429}
	if d := retryDelay(time.Second, 0, plain); d < time.Second {
		t.Errorf("delay = %v, want >= base 1s", d)
	}
}

func TestWithEmbeddingRetry(t *testing.T) {
	calls := 0
	stub := embedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, &ErrHTTP{Status: 503, Body: "unavailable"}
		}
		return [][]float32{{0.1, 0.2}}, nil
	})
	p := WithEmbeddingRetry(stub, RetryBaseDelay(0))

	vectors, err := p.Embed(context.Background(), []string{"hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 || calls != 2 {
		t.Errorf("vectors = %v, calls = %d", vectors, calls)
	}
}

// embedFunc adapts a function to EmbeddingProvider.
type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
func (embedFunc) Dimensions() int { return 2 }
func (embedFunc) Name() string    { return "embed-stub" }
