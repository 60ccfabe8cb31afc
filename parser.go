package carnet

import (
	"encoding/json"
	"strings"
)

// The agent instructs the LLM to emit a tag-delimited wire format:
//
//	<think>reasoning</think>
//	<action>{"tool": NAME, "input": {...}}</action>
//	<answer>final answer</answer>
//
// tagParser consumes the stream incrementally: content inside think/answer
// regions is flushed as deltas while retaining a trailing lookahead window so
// a closing tag split across chunks is never flushed as content. Action
// regions are accumulated whole and parsed as JSON on close. The parser never
// nests; multiple tags in one stream are handled sequentially.

type parseEventKind int

const (
	evThinkStart parseEventKind = iota
	evThinkDelta
	evThought
	evAction
	evAnswerDelta
	evAnswer
	evFormatError
)

type parseEvent struct {
	kind  parseEventKind
	text  string
	tool  string
	input map[string]any
}

type tagMode int

const (
	modeNone tagMode = iota
	modeThink
	modeAction
	modeAnswer
)

const (
	openThink  = "<think>"
	openAction = "<action>"
	openAnswer = "<answer>"

	closeThink  = "</think>"
	closeAction = "</action>"
	closeAnswer = "</answer>"

	// tagLookahead is the number of trailing bytes kept unflushed inside a
	// think/answer region. Longer than any closing tag, so a sentinel split
	// across two chunks cannot leak into a content delta.
	tagLookahead = 15
)

type tagParser struct {
	mode tagMode
	buf  string          // unconsumed bytes of the current region (or scan window)
	full strings.Builder // region content including already-flushed deltas
}

// Feed consumes the next stream chunk and returns the events it completes.
func (p *tagParser) Feed(chunk string) []parseEvent {
	p.buf += chunk
	var events []parseEvent

	for {
		switch p.mode {
		case modeNone:
			idx, tag, mode := earliestOpenTag(p.buf)
			if idx < 0 {
				// Keep a tail in case an opening tag is split across chunks;
				// bytes before it are outside any region and discarded.
				if keep := len(openAction) - 1; len(p.buf) > keep {
					p.buf = p.buf[len(p.buf)-keep:]
				}
				return events
			}
			p.buf = p.buf[idx+len(tag):]
			p.mode = mode
			p.full.Reset()
			if mode == modeThink {
				events = append(events, parseEvent{kind: evThinkStart})
			}

		case modeThink, modeAnswer:
			closing, deltaKind, finalKind := closeThink, evThinkDelta, evThought
			if p.mode == modeAnswer {
				closing, deltaKind, finalKind = closeAnswer, evAnswerDelta, evAnswer
			}
			if i := strings.Index(p.buf, closing); i >= 0 {
				if i > 0 {
					events = append(events, parseEvent{kind: deltaKind, text: p.buf[:i]})
					p.full.WriteString(p.buf[:i])
				}
				events = append(events, parseEvent{kind: finalKind, text: strings.TrimSpace(p.full.String())})
				p.buf = p.buf[i+len(closing):]
				p.mode = modeNone
				p.full.Reset()
				continue
			}
			if n := len(p.buf) - tagLookahead; n > 0 {
				events = append(events, parseEvent{kind: deltaKind, text: p.buf[:n]})
				p.full.WriteString(p.buf[:n])
				p.buf = p.buf[n:]
			}
			return events

		case modeAction:
			i := strings.Index(p.buf, closeAction)
			if i < 0 {
				// Accumulate silently; action content is never streamed.
				return events
			}
			raw := strings.TrimSpace(p.buf[:i])
			p.buf = p.buf[i+len(closeAction):]
			p.mode = modeNone
			tool, input, ok := parseActionJSON(raw)
			if !ok {
				events = append(events, parseEvent{
					kind: evFormatError,
					text: "tool-call format error, falling back to direct answer",
				})
				continue
			}
			events = append(events, parseEvent{kind: evAction, tool: tool, input: input})
		}
	}
}

// Finish flushes the parser at end of stream. An unterminated think or
// answer region finalizes with what arrived; an unterminated action region
// gets one parse attempt before degrading to a format error.
func (p *tagParser) Finish() []parseEvent {
	var events []parseEvent

	switch p.mode {
	case modeThink, modeAnswer:
		deltaKind, finalKind := evThinkDelta, evThought
		if p.mode == modeAnswer {
			deltaKind, finalKind = evAnswerDelta, evAnswer
		}
		if p.buf != "" {
			events = append(events, parseEvent{kind: deltaKind, text: p.buf})
			p.full.WriteString(p.buf)
		}
		if text := strings.TrimSpace(p.full.String()); text != "" {
			events = append(events, parseEvent{kind: finalKind, text: text})
		}

	case modeAction:
		if tool, input, ok := parseActionJSON(strings.TrimSpace(p.buf)); ok {
			events = append(events, parseEvent{kind: evAction, tool: tool, input: input})
		} else if strings.TrimSpace(p.buf) != "" {
			events = append(events, parseEvent{
				kind: evFormatError,
				text: "tool-call format error, falling back to direct answer",
			})
		}
	}

	p.mode = modeNone
	p.buf = ""
	p.full.Reset()
	return events
}

// earliestOpenTag finds the first opening tag in s. Returns index -1 when
// none is present.
func earliestOpenTag(s string) (int, string, tagMode) {
	idx, tag, mode := -1, "", modeNone
	for _, cand := range []struct {
		tag  string
		mode tagMode
	}{
		{openThink, modeThink},
		{openAction, modeAction},
		{openAnswer, modeAnswer},
	} {
		if i := strings.Index(s, cand.tag); i >= 0 && (idx < 0 || i < idx) {
			idx, tag, mode = i, cand.tag, cand.mode
		}
	}
	return idx, tag, mode
}

// parseActionJSON parses the body of an action region:
// {"tool": NAME, "input": {...}}.
func parseActionJSON(raw string) (string, map[string]any, bool) {
	var call struct {
		Tool  string         `json:"tool"`
		Input map[string]any `json:"input"`
	}
	if err := json.Unmarshal([]byte(raw), &call); err != nil || call.Tool == "" {
		return "", nil, false
	}
	if call.Input == nil {
		call.Input = map[string]any{}
	}
	return call.Tool, call.Input, true
}

// extractBareAction scans free text for a JSON object carrying a "tool" key.
// LLMs sometimes emit the call without tag delimiters; this is the first
// recovery path when a stream ends with no closed tag.
func extractBareAction(s string) (string, map[string]any, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		tool, _ := obj["tool"].(string)
		if tool == "" {
			continue
		}
		input, _ := obj["input"].(map[string]any)
		if input == nil {
			input = map[string]any{}
		}
		return tool, input, true
	}
	return "", nil, false
}

// stripTagArtifacts removes wire-format markers from raw LLM output so the
// remainder can serve as a best-effort answer: action regions are dropped
// whole, think/answer tags are unwrapped.
func stripTagArtifacts(s string) string {
	for {
		start := strings.Index(s, openAction)
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], closeAction)
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len(closeAction):]
	}
	replacer := strings.NewReplacer(
		openThink, "", closeThink, "",
		openAnswer, "", closeAnswer, "",
		openAction, "", closeAction, "",
	)
	return strings.TrimSpace(replacer.Replace(s))
}
