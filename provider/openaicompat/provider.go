package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	carnet "github.com/carnetd/carnet"
)

// Provider implements carnet.Provider for any OpenAI-compatible API.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	name        string
	temperature *float64
	maxTokens   int
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name reported in events (default "openai").
func WithName(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.name = name
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithTemperature sets a default temperature applied when the request leaves
// it unset.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithMaxTokens sets a default response cap applied when the request leaves
// it unset.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates an OpenAI-compatible chat provider. baseURL is the API base
// (e.g. "https://api.openai.com/v1", "http://localhost:11434/v1"); the
// /chat/completions path is appended automatically.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

func (p *Provider) buildBody(req carnet.ChatRequest) chatBody {
	msgs := make([]message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, message{Role: m.Role, Content: m.Content})
	}
	body := chatBody{
		Model:       p.model,
		Messages:    msgs,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	return body
}

// Chat sends a non-streaming chat request and returns the full response.
func (p *Provider) Chat(ctx context.Context, req carnet.ChatRequest) (carnet.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, "/chat/completions", p.buildBody(req))
	if err != nil {
		return carnet.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return carnet.ChatResponse{}, p.httpErr(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return carnet.ChatResponse{}, &carnet.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return carnet.ChatResponse{}, &carnet.ErrLLM{Provider: p.name, Message: "response has no choices"}
	}

	result := carnet.ChatResponse{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		FinishReason: out.Choices[0].FinishReason,
	}
	if out.Usage != nil {
		result.Usage = carnet.Usage{InputTokens: out.Usage.PromptTokens, OutputTokens: out.Usage.CompletionTokens}
	}
	return result, nil
}

// ChatStream streams content deltas into ch and returns the accumulated
// response. ch is always closed before returning.
func (p *Provider) ChatStream(ctx context.Context, req carnet.ChatRequest, ch chan<- string) (carnet.ChatResponse, error) {
	body := p.buildBody(req)
	body.Stream = true
	body.StreamOptions = &streamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, "/chat/completions", body)
	if err != nil {
		close(ch)
		return carnet.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return carnet.ChatResponse{}, p.httpErr(resp)
	}

	// streamSSE closes ch when done.
	return streamSSE(ctx, resp.Body, ch)
}

func (p *Provider) sendHTTP(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &carnet.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &carnet.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP for the retry
// middleware, parsing the Retry-After header when present.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &carnet.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: carnet.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

var _ carnet.Provider = (*Provider)(nil)
