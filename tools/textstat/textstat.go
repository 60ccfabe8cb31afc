// Package textstat computes statistics over a text: character, word,
// sentence, and line counts, plus average word length and the most frequent
// words. Input is NFKC-normalized first so fullwidth and compatibility forms
// count the same as their plain equivalents.
package textstat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	carnet "github.com/carnetd/carnet"
)

// Tool computes text statistics.
type Tool struct{}

// New creates a textstat tool.
func New() *Tool { return &Tool{} }

var _ carnet.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "text_analysis",
		Description: "Compute statistics for a text: character, word, sentence and line counts, average word length, and the most frequent words.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"text":{"type":"string","description":"Text to analyze"},
			"top_words":{"type":"integer","description":"How many most-frequent words to report","default":5}
		},"required":["text"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Text     string `json:"text"`
		TopWords int    `json:"top_words"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if params.Text == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "text is required"), nil
	}
	if params.TopWords <= 0 {
		params.TopWords = 5
	}

	stats := Analyze(params.Text, params.TopWords)

	var b strings.Builder
	fmt.Fprintf(&b, "Characters: %d (without spaces: %d)\n", stats.Characters, stats.CharactersNoSpace)
	fmt.Fprintf(&b, "Words: %d\n", stats.Words)
	fmt.Fprintf(&b, "Sentences: %d\n", stats.Sentences)
	fmt.Fprintf(&b, "Lines: %d\n", stats.Lines)
	fmt.Fprintf(&b, "Average word length: %.2f\n", stats.AvgWordLength)
	if len(stats.TopWords) > 0 {
		b.WriteString("Most frequent words:")
		for _, w := range stats.TopWords {
			fmt.Fprintf(&b, " %s(%d)", w.Word, w.Count)
		}
		b.WriteString("\n")
	}

	return carnet.ToolResult{
		Success: true,
		Output:  b.String(),
		Data: map[string]any{
			"characters": stats.Characters,
			"words":      stats.Words,
			"sentences":  stats.Sentences,
			"lines":      stats.Lines,
		},
	}, nil
}

// WordCount is one entry of the frequency table.
type WordCount struct {
	Word  string
	Count int
}

// Stats holds the computed statistics.
type Stats struct {
	Characters        int
	CharactersNoSpace int
	Words             int
	Sentences         int
	Lines             int
	AvgWordLength     float64
	TopWords          []WordCount
}

// Analyze computes statistics for text, reporting the topN most frequent
// words (ties broken alphabetically).
func Analyze(text string, topN int) Stats {
	text = norm.NFKC.String(text)

	var stats Stats
	for _, r := range text {
		stats.Characters++
		if !unicode.IsSpace(r) {
			stats.CharactersNoSpace++
		}
		if r == '.' || r == '!' || r == '?' {
			stats.Sentences++
		}
	}
	stats.Lines = 1 + strings.Count(text, "\n")
	if strings.TrimSpace(text) == "" {
		stats.Lines = 0
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\'' && r != '-'
	})
	stats.Words = len(words)

	freq := make(map[string]int)
	var totalLen int
	for _, w := range words {
		totalLen += len([]rune(w))
		freq[strings.ToLower(w)]++
	}
	if stats.Words > 0 {
		stats.AvgWordLength = float64(totalLen) / float64(stats.Words)
	}

	counts := make([]WordCount, 0, len(freq))
	for w, c := range freq {
		counts = append(counts, WordCount{Word: w, Count: c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Word < counts[j].Word
	})
	if len(counts) > topN {
		counts = counts[:topN]
	}
	stats.TopWords = counts
	return stats
}
