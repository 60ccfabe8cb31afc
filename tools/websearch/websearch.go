// Package websearch performs web searches. With an API key it queries the
// Serper.dev Google API; without one it falls back to scraping the
// DuckDuckGo HTML endpoint.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	carnet "github.com/carnetd/carnet"
)

const (
	serperURL     = "https://google.serper.dev/search"
	duckduckgoURL = "https://html.duckduckgo.com/html/"

	defaultMaxResults = 5
	searchTimeout     = 15 * time.Second
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Tool performs web searches.
type Tool struct {
	apiKey string
	client *http.Client
}

// Option configures a Tool.
type Option func(*Tool)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) {
		if c != nil {
			t.client = c
		}
	}
}

// New creates a websearch tool. apiKey may be empty; the tool then uses the
// DuckDuckGo HTML fallback.
func New(apiKey string, opts ...Option) *Tool {
	t := &Tool{
		apiKey: apiKey,
		client: &http.Client{Timeout: searchTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ carnet.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "web_search",
		Description: "Search the web for current information. Use for recent events, news, prices, or anything requiring up-to-date data.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"query":{"type":"string","description":"Search query optimized for search engines"},
			"max_results":{"type":"integer","description":"Maximum number of results","default":5}
		},"required":["query"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "query is required"), nil
	}
	if params.MaxResults <= 0 {
		params.MaxResults = defaultMaxResults
	}

	results, err := t.Search(ctx, params.Query, params.MaxResults)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "search failed: "+err.Error()), nil
	}
	if len(results) == 0 {
		return carnet.ToolOK(fmt.Sprintf("No results found for %q.", params.Query)), nil
	}

	var b strings.Builder
	entries := make([]map[string]any, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		entries = append(entries, map[string]any{"title": r.Title, "link": r.URL, "snippet": r.Snippet})
	}
	return carnet.ToolResult{
		Success: true,
		Output:  b.String(),
		Data:    map[string]any{"query": params.Query, "count": len(results), "results": entries},
	}, nil
}

// Search runs a query and returns up to max results.
func (t *Tool) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if t.apiKey != "" {
		return t.serperSearch(ctx, query, max)
	}
	return t.duckduckgoSearch(ctx, query, max)
}

func (t *Tool) serperSearch(ctx context.Context, query string, max int) ([]Result, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": max})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper: status %d", resp.StatusCode)
	}

	var out struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("serper: decode: %w", err)
	}

	results := make([]Result, 0, len(out.Organic))
	for _, r := range out.Organic {
		results = append(results, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
		if len(results) >= max {
			break
		}
	}
	return results, nil
}

func (t *Tool) duckduckgoSearch(ctx context.Context, query string, max int) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, duckduckgoURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; carnet/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse: %w", err)
	}

	var results []Result
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a")
		href, _ := link.Attr("href")
		results = append(results, Result{
			Title:   strings.TrimSpace(link.Text()),
			URL:     cleanDuckURL(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return len(results) < max
	})
	return results, nil
}

// cleanDuckURL unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=...).
func cleanDuckURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		u.Scheme = "https"
		return u.String()
	}
	return href
}
