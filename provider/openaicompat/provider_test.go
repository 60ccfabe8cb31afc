package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	carnet "github.com/carnetd/carnet"
)

func TestChat(t *testing.T) {
	var gotBody chatBody
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "test-model-v2",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := New("sk-test", "test-model", srv.URL, WithTemperature(0.2))
	resp, err := p.Chat(context.Background(), carnet.ChatRequest{
		System:   "be brief",
		Messages: []carnet.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody.Model != "test-model" || gotBody.Stream {
		t.Errorf("body = %+v", gotBody)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "be brief" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.2 {
		t.Errorf("temperature = %v", gotBody.Temperature)
	}

	if resp.Content != "hello" || resp.Model != "test-model-v2" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatRequestOverridesDefaults(t *testing.T) {
	var gotBody chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	p := New("", "m", srv.URL, WithTemperature(0.2), WithMaxTokens(100))
	_, err := p.Chat(context.Background(), carnet.ChatRequest{
		Messages:    []carnet.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: 0.9,
		MaxTokens:   50,
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.9 {
		t.Errorf("temperature = %v", gotBody.Temperature)
	}
	if gotBody.MaxTokens != 50 {
		t.Errorf("max_tokens = %d", gotBody.MaxTokens)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "rate limited")
	}))
	defer srv.Close()

	p := New("", "m", srv.URL)
	_, err := p.Chat(context.Background(), carnet.ChatRequest{
		Messages: []carnet.ChatMessage{{Role: "user", Content: "hi"}},
	})

	var httpErr *carnet.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests || httpErr.Body != "rate limited" {
		t.Errorf("err = %+v", httpErr)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %v", httpErr.RetryAfter)
	}
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer srv.Close()

	p := New("", "m", srv.URL)
	_, err := p.Chat(context.Background(), carnet.ChatRequest{
		Messages: []carnet.ChatMessage{{Role: "user", Content: "hi"}},
	})

	var llmErr *carnet.ErrLLM
	if !errors.As(err, &llmErr) || !strings.Contains(llmErr.Message, "no choices") {
		t.Fatalf("err = %v", err)
	}
}

func TestChatStream(t *testing.T) {
	var gotBody chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, strings.Join([]string{
			`data: {"model":"m-1","choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			``,
			`data: {"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2}}`,
			``,
			`data: [DONE]`,
			``,
		}, "\n"))
	}))
	defer srv.Close()

	p := New("", "m", srv.URL)
	ch := make(chan string, 16)
	resp, err := p.ChatStream(context.Background(), carnet.ChatRequest{
		Messages: []carnet.ChatMessage{{Role: "user", Content: "hi"}},
	}, ch)
	if err != nil {
		t.Fatal(err)
	}

	if !gotBody.Stream || gotBody.StreamOptions == nil || !gotBody.StreamOptions.IncludeUsage {
		t.Errorf("body = %+v", gotBody)
	}

	var deltas []string
	for d := range ch {
		deltas = append(deltas, d)
	}
	if strings.Join(deltas, "") != "Hello" {
		t.Errorf("deltas = %v", deltas)
	}
	if resp.Content != "Hello" || resp.Model != "m-1" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatStreamClosesChannelOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New("", "m", srv.URL)
	ch := make(chan string, 1)
	_, err := p.ChatStream(context.Background(), carnet.ChatRequest{
		Messages: []carnet.ChatMessage{{Role: "user", Content: "hi"}},
	}, ch)

	var httpErr *carnet.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("err = %v", err)
	}
	if _, open := <-ch; open {
		t.Error("channel left open after error")
	}
}

func TestProviderAccessors(t *testing.T) {
	p := New("", "gpt-test", "http://x", WithName("groq"))
	if p.Name() != "groq" || p.Model() != "gpt-test" {
		t.Errorf("name = %q, model = %q", p.Name(), p.Model())
	}
	if New("", "m", "http://x").Name() != "openai" {
		t.Error("default name not openai")
	}
}
