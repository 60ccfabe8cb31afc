package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	carnet "github.com/carnetd/carnet"
)

// Embedding implements carnet.EmbeddingProvider over the OpenAI-compatible
// /embeddings endpoint.
type Embedding struct {
	provider   *Provider
	dimensions int
}

// NewEmbedding creates an embedding provider. dimensions is the output vector
// size of the configured model and must match the pgvector column width.
func NewEmbedding(apiKey, model, baseURL string, dimensions int, opts ...Option) *Embedding {
	return &Embedding{
		provider:   New(apiKey, model, baseURL, opts...),
		dimensions: dimensions,
	}
}

// Name returns the provider name.
func (e *Embedding) Name() string { return e.provider.name }

// Dimensions returns the embedding vector size.
func (e *Embedding) Dimensions() int { return e.dimensions }

// Embed returns one vector per input text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.provider.sendHTTP(ctx, "/embeddings", embeddingBody{
		Model: e.provider.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.provider.httpErr(resp)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &carnet.ErrLLM{Provider: e.provider.name, Message: fmt.Sprintf("decode embeddings: %v", err)}
	}
	if len(out.Data) != len(texts) {
		return nil, &carnet.ErrLLM{Provider: e.provider.name,
			Message: fmt.Sprintf("embeddings count mismatch: got %d, want %d", len(out.Data), len(texts))}
	}

	// The API is allowed to return data out of order; index restores it.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

var _ carnet.EmbeddingProvider = (*Embedding)(nil)
