package carnet

import "context"

// Provider abstracts the LLM backend. Identity for the model_info event is
// Name() + Model().
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams content deltas into ch as they arrive, then returns
	// the final response with usage stats. Implementations close ch when the
	// stream ends (normally or on error).
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
	// Model returns the configured model identifier.
	Model() string
}

// EmbeddingProvider abstracts text embedding for the vector-search read path.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
