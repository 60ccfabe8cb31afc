package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	carnet "github.com/carnetd/carnet"
)

// streamSSE reads an SSE stream from body, forwards content deltas to ch, and
// returns the fully accumulated response. The channel is closed when
// streaming completes.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- string) (carnet.ChatResponse, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var (
		full         strings.Builder
		use          carnet.Usage
		model        string
		finishReason string
	)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			use.InputTokens = chunk.Usage.PromptTokens
			use.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue // usage-only chunk
		}

		c := chunk.Choices[0]
		if c.FinishReason != "" {
			finishReason = c.FinishReason
		}
		if c.Delta == nil || c.Delta.Content == "" {
			continue
		}

		full.WriteString(c.Delta.Content)
		select {
		case ch <- c.Delta.Content:
		case <-ctx.Done():
			return carnet.ChatResponse{}, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return carnet.ChatResponse{}, err
	}

	return carnet.ChatResponse{
		Content:      full.String(),
		Model:        model,
		FinishReason: finishReason,
		Usage:        use,
	}, nil
}
