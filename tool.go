package carnet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolDefinition describes one callable function: its name, the description
// rendered into the LLM system prompt, and a JSON-schema object with
// "properties" and "required".
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult is the outcome of a tool execution. Output is what the agent
// sees as the observation; Data carries structured fields for the bridge;
// Error is an error-kind tag (see errors.go), empty on success.
type ToolResult struct {
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolOK builds a successful result.
func ToolOK(output string) ToolResult {
	return ToolResult{Success: true, Output: output}
}

// ToolErr builds a failed result with an error-kind tag. The output is what
// the LLM reads back, so it should explain the failure in plain words.
func ToolErr(kind, output string) ToolResult {
	return ToolResult{Success: false, Output: output, Error: kind}
}

// ToolRegistry holds the tools available to one agent turn and dispatches
// execution. A registry is built per request: the caller decides which tools
// it carries (and, for notebook turns, whether the privileged ones were
// constructed authorized). Registries are not shared across requests.
type ToolRegistry struct {
	tools  []Tool
	logger *slog.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{logger: nopLogger}
}

// SetLogger sets a structured logger for dispatch events.
func (r *ToolRegistry) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Names returns the sorted names of all registered tool functions.
func (r *ToolRegistry) Names() []string {
	var names []string
	for _, d := range r.AllDefinitions() {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Manifest renders all definitions in the OpenAI "tools" convention:
// {type:"function", function:{name, description, parameters}}.
func (r *ToolRegistry) Manifest() []map[string]any {
	defs := r.AllDefinitions()
	manifest := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		manifest = append(manifest, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  params,
			},
		})
	}
	return manifest
}

// Execute dispatches a tool call by name. Schema defaults are applied to
// missing arguments before the call. Errors never escape: an unknown name, a
// tool error return, or a panic all become a ToolResult with Success=false,
// so a bad call degrades to an observation instead of aborting the agent loop.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (result ToolResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panic", "tool", name, "panic", p)
			result = ToolErr(ErrKindInternal, fmt.Sprintf("tool %q failed unexpectedly: %v", name, p))
		}
	}()

	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name != name {
				continue
			}
			res, err := t.Execute(ctx, name, applyDefaults(d.Parameters, args))
			if err != nil {
				if ctx.Err() != nil {
					return ToolErr(ErrKindToolTimeout, fmt.Sprintf("tool %q cancelled: %v", name, ctx.Err()))
				}
				r.logger.Warn("tool error", "tool", name, "error", err)
				return ToolErr(ErrKindInternal, fmt.Sprintf("tool %q failed: %v", name, err))
			}
			return res
		}
	}

	return ToolErr(ErrKindToolNotFound,
		fmt.Sprintf("unknown tool %q. Available tools: %s", name, strings.Join(r.Names(), ", ")))
}

// applyDefaults fills arguments missing from args with the "default" values
// declared in the JSON-schema parameters. Returns args unchanged when there
// is nothing to fill or either side does not parse.
func applyDefaults(params, args json.RawMessage) json.RawMessage {
	var schema struct {
		Properties map[string]struct {
			Default json.RawMessage `json:"default"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(params, &schema); err != nil || len(schema.Properties) == 0 {
		return args
	}

	var defaults map[string]json.RawMessage
	for name, prop := range schema.Properties {
		if len(prop.Default) > 0 {
			if defaults == nil {
				defaults = make(map[string]json.RawMessage)
			}
			defaults[name] = prop.Default
		}
	}
	if defaults == nil {
		return args
	}

	parsed := map[string]json.RawMessage{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return args
		}
	}
	changed := false
	for name, def := range defaults {
		if _, ok := parsed[name]; !ok {
			parsed[name] = def
			changed = true
		}
	}
	if !changed {
		return args
	}
	merged, err := json.Marshal(parsed)
	if err != nil {
		return args
	}
	return merged
}
