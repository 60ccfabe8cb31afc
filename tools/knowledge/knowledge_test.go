package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	carnet "github.com/carnetd/carnet"
)

type fakeEmbedding struct {
	vec []float32
	err error
}

func (f *fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f *fakeEmbedding) Dimensions() int { return len(f.vec) }
func (f *fakeEmbedding) Name() string    { return "fake" }

type fakeSearcher struct {
	chunks   []carnet.SearchChunk
	err      error
	userID   string
	gotTopK  int
	gotQuery []float32
}

func (f *fakeSearcher) SearchChunks(_ context.Context, userID string, embedding []float32, topK int) ([]carnet.SearchChunk, error) {
	f.userID = userID
	f.gotQuery = embedding
	f.gotTopK = topK
	return f.chunks, f.err
}

func TestKnowledgeSearch(t *testing.T) {
	searcher := &fakeSearcher{chunks: []carnet.SearchChunk{
		{KBName: "Papers", DocumentName: "transformers.pdf", Content: "Attention is all you need.", Similarity: 0.91},
		{KBName: "Papers", DocumentName: "rnn.pdf", Content: "Recurrent networks.", Similarity: 0.62},
	}}
	tool := New("u1", &fakeEmbedding{vec: []float32{0.1, 0.2}}, searcher)

	res, err := tool.Execute(context.Background(), "knowledge_search", json.RawMessage(`{"query": "attention"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if searcher.userID != "u1" {
		t.Errorf("search scoped to %q, want u1", searcher.userID)
	}
	if searcher.gotTopK != 5 {
		t.Errorf("topK = %d, want default 5", searcher.gotTopK)
	}
	if len(searcher.gotQuery) != 2 {
		t.Errorf("query vector = %v", searcher.gotQuery)
	}
	if !strings.Contains(res.Output, "[1] Papers / transformers.pdf (similarity 0.91)") {
		t.Errorf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "Attention is all you need.") {
		t.Errorf("output missing chunk content: %q", res.Output)
	}
}

func TestKnowledgeSearchEmptyIsSuccess(t *testing.T) {
	tool := New("u1", &fakeEmbedding{vec: []float32{0.1}}, &fakeSearcher{})

	res, err := tool.Execute(context.Background(), "knowledge_search", json.RawMessage(`{"query": "nothing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !strings.Contains(res.Output, "No relevant passages") {
		t.Errorf("result = %+v", res)
	}
}

func TestKnowledgeSearchFailures(t *testing.T) {
	t.Run("embedding error", func(t *testing.T) {
		tool := New("u1", &fakeEmbedding{err: errors.New("quota")}, &fakeSearcher{})
		res, _ := tool.Execute(context.Background(), "knowledge_search", json.RawMessage(`{"query": "x"}`))
		if res.Success || res.Error != carnet.ErrKindToolExternal {
			t.Errorf("result = %+v", res)
		}
	})
	t.Run("search error", func(t *testing.T) {
		tool := New("u1", &fakeEmbedding{vec: []float32{0.1}}, &fakeSearcher{err: errors.New("db down")})
		res, _ := tool.Execute(context.Background(), "knowledge_search", json.RawMessage(`{"query": "x"}`))
		if res.Success || res.Error != carnet.ErrKindToolExternal {
			t.Errorf("result = %+v", res)
		}
	})
	t.Run("empty query", func(t *testing.T) {
		tool := New("u1", &fakeEmbedding{vec: []float32{0.1}}, &fakeSearcher{})
		res, _ := tool.Execute(context.Background(), "knowledge_search", json.RawMessage(`{"query": ""}`))
		if res.Success || res.Error != carnet.ErrKindInvalidInput {
			t.Errorf("result = %+v", res)
		}
	})
}
