// Package knowledge searches the caller's knowledge bases: the query is
// embedded, then matched against document chunks by cosine similarity.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	carnet "github.com/carnetd/carnet"
)

const defaultTopK = 5

// Tool retrieves knowledge-base chunks relevant to a query. It is scoped to
// one user: the search only sees knowledge bases that user owns.
type Tool struct {
	userID    string
	embedding carnet.EmbeddingProvider
	searcher  carnet.ChunkSearcher
}

// New creates a knowledge tool scoped to userID.
func New(userID string, embedding carnet.EmbeddingProvider, searcher carnet.ChunkSearcher) *Tool {
	return &Tool{userID: userID, embedding: embedding, searcher: searcher}
}

var _ carnet.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "knowledge_search",
		Description: "Search the user's knowledge bases for passages relevant to a question. Use before answering questions about the user's own documents.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"query":{"type":"string","description":"What to look for, phrased as a question or topic"},
			"top_k":{"type":"integer","description":"Maximum number of passages","default":5}
		},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "query is required"), nil
	}
	if params.TopK <= 0 {
		params.TopK = defaultTopK
	}

	vectors, err := t.embedding.Embed(ctx, []string{params.Query})
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "embedding failed: "+err.Error()), nil
	}
	if len(vectors) == 0 {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "embedding returned no vectors"), nil
	}

	chunks, err := t.searcher.SearchChunks(ctx, t.userID, vectors[0], params.TopK)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "knowledge search failed: "+err.Error()), nil
	}
	if len(chunks) == 0 {
		// An empty result is an answer, not a failure.
		return carnet.ToolOK("No relevant passages found in the user's knowledge bases."), nil
	}

	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s / %s (similarity %.2f)\n%s\n\n", i+1, c.KBName, c.DocumentName, c.Similarity, c.Content)
	}
	return carnet.ToolResult{
		Success: true,
		Output:  strings.TrimSpace(b.String()),
		Data:    map[string]any{"query": params.Query, "count": len(chunks)},
	}, nil
}
