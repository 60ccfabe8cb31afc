package carnet

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error kinds carried in ToolResult.Error and SSE error payloads.
// These are wire-level tags, not Go error types.
const (
	ErrKindAuthorization  = "authorization_required"
	ErrKindInvalidInput   = "invalid_input"
	ErrKindToolNotFound   = "tool_not_found"
	ErrKindToolTimeout    = "tool_timeout"
	ErrKindToolExternal   = "tool_external"
	ErrKindParserFormat   = "parser_format"
	ErrKindLLMStream      = "llm_stream"
	ErrKindKernelExec     = "kernel_exec"
	ErrKindNotFound       = "resource_not_found"
	ErrKindBlockedDomain  = "blocked_domain"
	ErrKindPackagesDenied = "packages_not_allowed"
	ErrKindInternal       = "internal"
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status int
	Body   string
	// RetryAfter is the parsed Retry-After header, when the server sent one.
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, either delay-seconds or
// an HTTP-date. Returns 0 for empty, malformed, or past values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
