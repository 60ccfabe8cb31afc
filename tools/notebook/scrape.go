package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	carnet "github.com/carnetd/carnet"
)

const (
	scrapeTimeout   = 30 * time.Second
	scrapeOutputCap = 8000
)

// blockedHosts are hostname substrings that refuse a scrape before any
// network request is made.
var blockedHosts = []string{
	"localhost", "127.0.0.1", "0.0.0.0", "internal", "intranet", "corp", "private",
}

// blockedPrefixes are RFC1918-style address prefixes.
var blockedPrefixes = []string{"10.", "192.168.", "172."}

// ScrapeTool fetches a web page and extracts content from it.
type ScrapeTool struct {
	client *http.Client
}

// ScrapeOption configures a ScrapeTool.
type ScrapeOption func(*ScrapeTool)

// WithScrapeClient sets a custom HTTP client.
func WithScrapeClient(c *http.Client) ScrapeOption {
	return func(t *ScrapeTool) {
		if c != nil {
			t.client = c
		}
	}
}

// NewScrapeTool creates the web_scrape tool.
func NewScrapeTool(opts ...ScrapeOption) *ScrapeTool {
	t := &ScrapeTool{client: &http.Client{Timeout: scrapeTimeout}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ carnet.Tool = (*ScrapeTool)(nil)

func (t *ScrapeTool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "web_scrape",
		Description: "Fetch a public web page and extract its content. Modes: text (readable article text), html (cleaned markup), links, tables, all. An optional CSS selector narrows extraction. Internal and private addresses are refused.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"url":{"type":"string","description":"Page URL, http or https"},
			"extract":{"type":"string","enum":["text","html","links","tables","all"],"description":"What to extract","default":"text"},
			"selector":{"type":"string","description":"Optional CSS selector to scope extraction"}
		},"required":["url"]}`),
	}}
}

func (t *ScrapeTool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		URL      string `json:"url"`
		Extract  string `json:"extract"`
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if params.Extract == "" {
		params.Extract = "text"
	}

	target, err := url.Parse(params.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return carnet.ToolErr(carnet.ErrKindInvalidInput,
			fmt.Sprintf("url must be an absolute http or https URL, got %q", params.URL)), nil
	}
	if reason := blockReason(target.Hostname()); reason != "" {
		return carnet.ToolErr(carnet.ErrKindBlockedDomain,
			fmt.Sprintf("refusing to fetch %s: %s", target.Hostname(), reason)), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "building request failed: "+err.Error()), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; carnet/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "fetch failed: "+err.Error()), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return carnet.ToolErr(carnet.ErrKindToolExternal,
			fmt.Sprintf("fetch failed: status %d", resp.StatusCode)), nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindToolExternal, "parsing page failed: "+err.Error()), nil
	}
	doc.Find("script, style, noscript").Remove()

	root := doc.Selection
	if params.Selector != "" {
		root = doc.Find(params.Selector)
		if root.Length() == 0 {
			return carnet.ToolErr(carnet.ErrKindNotFound,
				fmt.Sprintf("selector %q matched nothing", params.Selector)), nil
		}
	}

	var out string
	switch params.Extract {
	case "text":
		out = t.extractText(doc, root, target, params.Selector != "")
	case "html":
		out = extractHTML(root)
	case "links":
		out = extractLinks(root, target)
	case "tables":
		out = extractTables(root)
	case "all":
		out = strings.Join([]string{
			"## Text\n" + t.extractText(doc, root, target, params.Selector != ""),
			"## Links\n" + extractLinks(root, target),
			"## Tables\n" + extractTables(root),
		}, "\n\n")
	default:
		return carnet.ToolErr(carnet.ErrKindInvalidInput,
			fmt.Sprintf("unknown extract mode %q", params.Extract)), nil
	}

	truncated := len(out) > scrapeOutputCap
	if truncated {
		out = out[:scrapeOutputCap] + "\n[truncated]"
	}
	return carnet.ToolResult{
		Success: true,
		Output:  out,
		Data:    map[string]any{"url": target.String(), "extract": params.Extract, "truncated": truncated},
	}, nil
}

func blockReason(hostname string) string {
	h := strings.ToLower(hostname)
	for _, blocked := range blockedHosts {
		if strings.Contains(h, blocked) {
			return "host is on the internal-address blocklist"
		}
	}
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(h, prefix) {
			return "address is in a private range"
		}
	}
	return ""
}

// extractText prefers readability extraction for whole pages and falls back
// to plain text. Scoped selections skip readability; it only works on full
// documents.
func (t *ScrapeTool) extractText(doc *goquery.Document, root *goquery.Selection, pageURL *url.URL, scoped bool) string {
	if !scoped {
		if markup, err := doc.Html(); err == nil {
			if article, err := readability.FromReader(strings.NewReader(markup), pageURL); err == nil && article.TextContent != "" {
				return strings.TrimSpace(article.TextContent)
			}
		}
	}
	return strings.TrimSpace(collapseSpace(root.Text()))
}

func extractHTML(root *goquery.Selection) string {
	var b strings.Builder
	root.Each(func(_ int, s *goquery.Selection) {
		if markup, err := goquery.OuterHtml(s); err == nil {
			b.WriteString(markup)
			b.WriteString("\n")
		}
	})
	return strings.TrimSpace(b.String())
}

func extractLinks(root *goquery.Selection, base *url.URL) string {
	var b strings.Builder
	seen := make(map[string]bool)
	root.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		text := collapseSpace(s.Text())
		if text == "" {
			text = abs
		}
		fmt.Fprintf(&b, "- %s: %s\n", text, abs)
	})
	if b.Len() == 0 {
		return "No links found."
	}
	return strings.TrimSpace(b.String())
}

func extractTables(root *goquery.Selection) string {
	var b strings.Builder
	root.Find("table").Each(func(i int, table *goquery.Selection) {
		fmt.Fprintf(&b, "Table %d:\n", i+1)
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, collapseSpace(cell.Text()))
			})
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, " | "))
				b.WriteString("\n")
			}
		})
		b.WriteString("\n")
	})
	if b.Len() == 0 {
		return "No tables found."
	}
	return strings.TrimSpace(b.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
