// Package literature searches the stored corpus of papers by title, author,
// or abstract text.
package literature

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	carnet "github.com/carnetd/carnet"
)

const defaultLimit = 5

// Tool searches the literature corpus, scoped to one user plus the shared
// collection.
type Tool struct {
	userID   string
	searcher carnet.PaperSearcher
}

// New creates a literature tool scoped to userID.
func New(userID string, searcher carnet.PaperSearcher) *Tool {
	return &Tool{userID: userID, searcher: searcher}
}

var _ carnet.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "literature_search",
		Description: "Search academic papers in the literature corpus by title, author, or abstract keywords.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"query":{"type":"string","description":"Keywords to match against title, authors, and abstract"},
			"limit":{"type":"integer","description":"Maximum number of papers","default":5}
		},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "query is required"), nil
	}
	if params.Limit <= 0 {
		params.Limit = defaultLimit
	}

	papers, err := t.searcher.SearchPapers(ctx, t.userID, params.Query, params.Limit)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "literature search failed: "+err.Error()), nil
	}
	if len(papers) == 0 {
		return carnet.ToolOK(fmt.Sprintf("No papers found matching %q.", params.Query)), nil
	}

	var b strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&b, "%d. %s", i+1, p.Title)
		if p.Year > 0 {
			fmt.Fprintf(&b, " (%d)", p.Year)
		}
		b.WriteString("\n")
		if p.Authors != "" {
			fmt.Fprintf(&b, "   Authors: %s\n", p.Authors)
		}
		if p.Venue != "" {
			fmt.Fprintf(&b, "   Venue: %s\n", p.Venue)
		}
		if p.URL != "" {
			fmt.Fprintf(&b, "   %s\n", p.URL)
		}
		if p.Abstract != "" {
			fmt.Fprintf(&b, "   %s\n", truncate(p.Abstract, 300))
		}
	}
	return carnet.ToolResult{
		Success: true,
		Output:  strings.TrimSpace(b.String()),
		Data:    map[string]any{"query": params.Query, "count": len(papers)},
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
