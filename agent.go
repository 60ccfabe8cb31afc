package carnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// maxObservationLen caps the tool output carried in observation events and
// step traces. The full output still reaches the LLM via the observation
// message; the cap only protects the UI stream.
const maxObservationLen = 2000

const systemPromptTemplate = `You are a careful research assistant working inside an interactive notebook service.

Answer the user by reasoning step by step and calling tools when you need facts, computation, or notebook access.

Respond using exactly this wire format, nothing else:
<think>your reasoning for this step</think>
<action>{"tool": "tool_name", "input": {"param": "value"}}</action>

At most one <think> and one <action> per response. After an action you will
receive the tool output inside an <observation> block. When you can answer
the user, emit instead:
<answer>your final answer</answer>

Available tools:
%s

Rules:
- Tool input must be a single valid JSON object matching the tool's parameters.
- Never invent tool names or observation content.
- Keep the final answer self-contained; the user does not see observations.`

const finalAnswerDirective = "You have used all available steps. Produce your final response now as a single <answer>...</answer> block. Do not call any more tools."

// Agent drives the LLM through a bounded Thought/Action/Observation/Answer
// loop, feeding the streamed response through the tag parser and dispatching
// actions to its tool registry. One Agent serves one turn; it holds the
// per-request registry and is discarded with it.
type Agent struct {
	provider      Provider
	registry      *ToolRegistry
	maxIterations int
	temperature   float64
	maxTokens     int
	logger        *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithMaxIterations bounds the number of Thought/Action rounds (default 8).
func WithMaxIterations(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithTemperature sets the sampling temperature for every LLM call.
func WithTemperature(t float64) AgentOption {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxTokens caps each LLM response.
func WithMaxTokens(n int) AgentOption {
	return func(a *Agent) { a.maxTokens = n }
}

// WithAgentLogger sets a structured logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAgent creates an Agent over a provider and a per-request tool registry.
func NewAgent(provider Provider, registry *ToolRegistry, opts ...AgentOption) *Agent {
	a := &Agent{
		provider:      provider,
		registry:      registry,
		maxIterations: 8,
		logger:        nopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AgentResult is the outcome of one agent turn.
type AgentResult struct {
	Answer   string
	Thought  string
	Steps    []AgentStep
	Usage    Usage
	Answered bool // the answer event fired before the turn ended
}

// roundKind classifies how one LLM round resolved.
type roundKind int

const (
	roundNothing roundKind = iota
	roundAction
	roundAnswer
)

type roundOutcome struct {
	kind   roundKind
	answer string
	tool   string
	input  map[string]any
	raw    string // full raw LLM text of the round
}

// Run executes one agent turn. history carries prior chat turns plus the new
// user message; events receives the ordered event stream and is closed when
// the turn ends. The done event is not emitted here: the bridge appends it
// after persistence so it can carry the stored message id.
//
// Tool failures are observations, not turn failures. A returned error means
// the turn itself died (LLM stream error or cancellation); the bridge maps
// it to a terminal error event.
func (a *Agent) Run(ctx context.Context, history []ChatMessage, events chan<- Event) (AgentResult, error) {
	defer close(events)

	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	info := ModelInfo{Provider: a.provider.Name(), Model: a.provider.Model()}
	emit(Event{Type: EventStart, Data: info})
	emit(Event{Type: EventModelInfo, Data: info})

	system := buildSystemPrompt(a.registry)
	messages := make([]ChatMessage, len(history))
	copy(messages, history)

	var (
		steps       []AgentStep
		lastThought string
		usage       Usage
	)

	fail := func(err error) (AgentResult, error) {
		return AgentResult{Thought: lastThought, Steps: steps, Usage: usage}, err
	}
	answered := func(answer string) (AgentResult, error) {
		steps = append(steps, AgentStep{Type: StepAnswer, Content: answer})
		emit(Event{Type: EventAnswer, Data: answer})
		return AgentResult{Answer: answer, Thought: lastThought, Steps: steps, Usage: usage, Answered: true}, nil
	}

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		req := ChatRequest{Messages: messages, System: system, Temperature: a.temperature, MaxTokens: a.maxTokens}
		out, err := a.streamRound(ctx, req, iteration, emit, &steps, &lastThought, &usage)
		if err != nil {
			return fail(err)
		}

		switch out.kind {
		case roundAnswer:
			return answered(out.answer)

		case roundAction:
			emit(Event{Type: EventAction, Data: ActionData{Tool: out.tool, Input: out.input}})
			steps = append(steps, AgentStep{Type: StepAction, ToolName: out.tool, ToolInput: out.input})

			args, _ := json.Marshal(out.input)
			result := a.registry.Execute(ctx, out.tool, args)
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			if requiresAuthorization(result) {
				emit(Event{Type: EventAuthorizationRequired, Data: AuthorizationData{Action: out.tool}})
			}
			obs := truncateStr(result.Output, maxObservationLen)
			emit(Event{Type: EventObservation, Data: ObservationData{Tool: out.tool, Success: result.Success, Output: obs}})
			steps = append(steps, AgentStep{Type: StepObservation, ToolName: out.tool, ToolOutput: obs, Success: result.Success})

			// The observation changes the context; the remainder of the LLM
			// stream (already cancelled) is irrelevant. Restart the loop with
			// the assistant's raw output and the observation appended.
			messages = append(messages,
				AssistantMessage(out.raw),
				UserMessage(observationMessage(result.Output)))

		case roundNothing:
			a.logger.Warn("round produced no parsable output", "iteration", iteration)
			messages = append(messages,
				UserMessage("Respond using the required format: <think>, then one <action> or your final <answer>."))
		}
	}

	// Max iterations without an answer: one more call directing the model to
	// answer, then take whatever comes out.
	a.logger.Warn("max iterations reached, forcing final answer", "iterations", a.maxIterations)
	messages = append(messages, UserMessage(finalAnswerDirective))
	req := ChatRequest{Messages: messages, System: system, Temperature: a.temperature, MaxTokens: a.maxTokens}
	out, err := a.streamRound(ctx, req, a.maxIterations, emit, &steps, &lastThought, &usage)
	if err != nil {
		return fail(err)
	}

	answer := out.answer
	if out.kind != roundAnswer {
		answer = stripTagArtifacts(out.raw)
	}
	if answer == "" {
		answer = "I was unable to reach a conclusion within the allotted steps."
	}
	return answered(answer)
}

// streamRound runs one LLM streaming call, feeds the tag parser, emits
// thinking events, and resolves to the round's first action or answer. The
// stream is cancelled as soon as the round resolves; the recovery paths
// (bare JSON action, tag-stripped answer) run when it ends unresolved.
func (a *Agent) streamRound(ctx context.Context, req ChatRequest, iteration int, emit func(Event), steps *[]AgentStep, lastThought *string, usage *Usage) (roundOutcome, error) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deltas := make(chan string, 64)
	type streamEnd struct {
		resp ChatResponse
		err  error
	}
	endCh := make(chan streamEnd, 1)
	go func() {
		resp, err := a.provider.ChatStream(roundCtx, req, deltas)
		endCh <- streamEnd{resp, err}
	}()

	var (
		raw      strings.Builder
		parser   tagParser
		out      roundOutcome
		resolved bool
	)

	handle := func(evs []parseEvent) {
		for _, pe := range evs {
			if resolved {
				return
			}
			switch pe.kind {
			case evThinkStart:
				emit(Event{Type: EventThinkingStart, Data: ThinkingStartData{Iteration: iteration}})
			case evThinkDelta:
				emit(Event{Type: EventThinking, Data: pe.text})
			case evThought:
				*lastThought = pe.text
				*steps = append(*steps, AgentStep{Type: StepThought, Content: pe.text})
				emit(Event{Type: EventThought, Data: pe.text})
			case evFormatError:
				// Degrade to a best-effort thought and keep scanning.
				*steps = append(*steps, AgentStep{Type: StepThought, Content: pe.text})
				emit(Event{Type: EventThought, Data: pe.text})
			case evAnswerDelta:
				emit(Event{Type: EventContent, Data: pe.text})
			case evAnswer:
				out.kind, out.answer = roundAnswer, pe.text
				resolved = true
			case evAction:
				out.kind, out.tool, out.input = roundAction, pe.tool, pe.input
				resolved = true
			}
		}
	}

	for delta := range deltas {
		raw.WriteString(delta)
		if !resolved {
			handle(parser.Feed(delta))
			if resolved {
				cancel() // stop the LLM; keep draining so the provider can exit
			}
		}
	}
	end := <-endCh
	usage.InputTokens += end.resp.Usage.InputTokens
	usage.OutputTokens += end.resp.Usage.OutputTokens
	out.raw = raw.String()

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if end.err != nil && !resolved && !errors.Is(end.err, context.Canceled) {
		return out, fmt.Errorf("%s: %w", ErrKindLLMStream, end.err)
	}
	if resolved {
		return out, nil
	}

	handle(parser.Finish())
	if resolved {
		return out, nil
	}

	// Stream ended with no closed tag: recover.
	if tool, input, ok := extractBareAction(out.raw); ok {
		out.kind, out.tool, out.input = roundAction, tool, input
		return out, nil
	}
	if cleaned := stripTagArtifacts(out.raw); cleaned != "" {
		out.kind, out.answer = roundAnswer, cleaned
	}
	return out, nil
}

func requiresAuthorization(res ToolResult) bool {
	if res.Success || res.Data == nil {
		return false
	}
	required, _ := res.Data["requires_authorization"].(bool)
	return required
}

func observationMessage(output string) string {
	return "<observation>\n" + output + "\n</observation>\n\nContinue: emit <think> with your reasoning, then either one <action> or your final <answer>."
}

func buildSystemPrompt(registry *ToolRegistry) string {
	manifest, err := json.MarshalIndent(registry.Manifest(), "", "  ")
	if err != nil {
		manifest = []byte("[]")
	}
	return fmt.Sprintf(systemPromptTemplate, manifest)
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
