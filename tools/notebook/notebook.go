// Package notebook holds the notebook-scoped agent tools: code execution in
// the notebook's kernel, cell manipulation, variable inspection, package
// installation, web scraping, and static code analysis.
//
// Authorization is a capability passed at construction: a registry built for
// an unauthorized turn carries tools that refuse privileged operations with
// an authorization_required result, and the bridge surfaces that to the user
// as an approval prompt. Nothing is re-checked at runtime.
package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	carnet "github.com/carnetd/carnet"
)

// agentExecTimeout caps agent-driven cell execution. Longer than the direct
// execution default: agent turns routinely install-then-compute.
const agentExecTimeout = 60 * time.Second

// Session binds the notebook tools to one request: the caller's notebook,
// the shared registries, and the turn's authorization capability.
type Session struct {
	Kernels    *carnet.KernelRegistry
	Notebooks  *carnet.NotebookStore
	NotebookID string
	Authorized bool
}

func unauthorized(action string) carnet.ToolResult {
	return carnet.ToolResult{
		Success: false,
		Output:  fmt.Sprintf("The %s action requires user authorization. Ask the user to approve it and retry.", action),
		Error:   carnet.ErrKindAuthorization,
		Data:    map[string]any{"requires_authorization": true, "action": action},
	}
}

// --- notebook_execute ---

// ExecuteTool runs code in the notebook's kernel and appends a code cell
// carrying the outputs.
type ExecuteTool struct {
	session *Session
}

// NewExecuteTool creates the notebook_execute tool.
func NewExecuteTool(s *Session) *ExecuteTool { return &ExecuteTool{session: s} }

var _ carnet.Tool = (*ExecuteTool)(nil)

func (t *ExecuteTool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "notebook_execute",
		Description: "Run Python code in the notebook's persistent kernel. Variables persist across calls. Appends a code cell with the outputs to the notebook. Requires user authorization.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"Python code to execute"}},"required":["code"]}`),
	}}
}

func (t *ExecuteTool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	if !t.session.Authorized {
		return unauthorized("notebook_execute"), nil
	}

	var params struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if strings.TrimSpace(params.Code) == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "code is required"), nil
	}

	kernel := t.session.Kernels.GetOrCreate(t.session.NotebookID)
	result, err := kernel.Execute(ctx, params.Code, agentExecTimeout)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindKernelExec, "execution failed: "+err.Error()), nil
	}

	// Record the execution as a new cell. A missing notebook record is not
	// fatal: the execution already happened in the kernel.
	cell, cellErr := t.session.Notebooks.AddCell(t.session.NotebookID, carnet.CellCode, params.Code, -1)
	if cellErr == nil {
		cellErr = t.session.Notebooks.SetExecutionCount(t.session.NotebookID, cell.ID, result.ExecutionCount, result.Outputs)
	}

	out := carnet.ToolResult{
		Success: result.Success,
		Output:  summarizeOutputs(result),
		Data: map[string]any{
			"execution_count":   result.ExecutionCount,
			"execution_time_ms": result.ExecutionTimeMS,
		},
	}
	if cellErr == nil {
		out.Data["cell_id"] = cell.ID
	}
	if !result.Success {
		out.Error = carnet.ErrKindKernelExec
	}
	return out, nil
}

// summarizeOutputs renders execution outputs as the observation text.
func summarizeOutputs(result carnet.ExecResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution %d finished in %dms.\n", result.ExecutionCount, result.ExecutionTimeMS)
	for _, out := range result.Outputs {
		switch out.Type {
		case carnet.OutputStream:
			fmt.Fprintf(&b, "[%s]\n%s\n", out.Name, out.Content)
		case carnet.OutputExecuteResult:
			fmt.Fprintf(&b, "[result]\n%s\n", out.Content)
		case carnet.OutputDisplayData:
			fmt.Fprintf(&b, "[plot] generated a %s image (%d bytes base64)\n", out.MimeType, len(out.Content))
		case carnet.OutputError:
			if out.Error != nil {
				fmt.Fprintf(&b, "[error] %s: %s\n", out.Error.Name, out.Error.Value)
			}
		}
	}
	if len(result.Outputs) == 0 {
		b.WriteString("No output.\n")
	}
	return strings.TrimSpace(b.String())
}

// --- notebook_cell ---

// CellTool manipulates notebook cells. get is unprivileged; add, update,
// delete, and move require authorization.
type CellTool struct {
	session *Session
}

// NewCellTool creates the notebook_cell tool.
func NewCellTool(s *Session) *CellTool { return &CellTool{session: s} }

var _ carnet.Tool = (*CellTool)(nil)

func (t *CellTool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "notebook_cell",
		Description: "Manage notebook cells: get (read a cell or the whole notebook), add, update, delete, move. All actions except get require user authorization.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"action":{"type":"string","enum":["get","add","update","delete","move"],"description":"Cell operation"},
			"cell_id":{"type":"string","description":"Target cell id (get/update/delete/move)"},
			"kind":{"type":"string","enum":["code","markdown"],"description":"Cell kind for add","default":"code"},
			"source":{"type":"string","description":"Cell source for add/update"},
			"index":{"type":"integer","description":"Insert or move position; -1 appends","default":-1}
		},"required":["action"]}`),
	}}
}

func (t *CellTool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Action string `json:"action"`
		CellID string `json:"cell_id"`
		Kind   string `json:"kind"`
		Source string `json:"source"`
		Index  *int   `json:"index"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	index := -1
	if params.Index != nil {
		index = *params.Index
	}
	if params.Kind == "" {
		params.Kind = string(carnet.CellCode)
	}

	nb := t.session.Notebooks
	id := t.session.NotebookID

	switch params.Action {
	case "get":
		notebook, err := nb.Get(id)
		if err != nil {
			return carnet.ToolErr(carnet.ErrKindNotFound, err.Error()), nil
		}
		if params.CellID != "" {
			for _, c := range notebook.Cells {
				if c.ID == params.CellID {
					return cellResult("Cell:", c), nil
				}
			}
			return carnet.ToolErr(carnet.ErrKindNotFound, fmt.Sprintf("cell %s not found", params.CellID)), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Notebook %q has %d cells:\n", notebook.Title, len(notebook.Cells))
		for i, c := range notebook.Cells {
			fmt.Fprintf(&b, "%d. [%s] id=%s: %s\n", i, c.Kind, c.ID, firstLine(c.Source))
		}
		return carnet.ToolOK(strings.TrimSpace(b.String())), nil

	case "add":
		if !t.session.Authorized {
			return unauthorized("notebook_cell add"), nil
		}
		if params.Source == "" {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, "source is required for add"), nil
		}
		cell, err := nb.AddCell(id, carnet.CellKind(params.Kind), params.Source, index)
		if err != nil {
			return carnet.ToolErr(carnet.ErrKindNotFound, err.Error()), nil
		}
		return cellResult("Added cell:", cell), nil

	case "update":
		if !t.session.Authorized {
			return unauthorized("notebook_cell update"), nil
		}
		if params.CellID == "" {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, "cell_id is required for update"), nil
		}
		upd := carnet.CellUpdate{}
		if params.Source != "" {
			upd.Source = &params.Source
		}
		cell, err := nb.UpdateCell(id, params.CellID, upd)
		if err != nil {
			return carnet.ToolErr(carnet.ErrKindNotFound, err.Error()), nil
		}
		return cellResult("Updated cell:", cell), nil

	case "delete":
		if !t.session.Authorized {
			return unauthorized("notebook_cell delete"), nil
		}
		if params.CellID == "" {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, "cell_id is required for delete"), nil
		}
		if err := nb.DeleteCell(id, params.CellID); err != nil {
			return carnet.ToolErr(carnet.ErrKindNotFound, err.Error()), nil
		}
		return carnet.ToolOK(fmt.Sprintf("Deleted cell %s.", params.CellID)), nil

	case "move":
		if !t.session.Authorized {
			return unauthorized("notebook_cell move"), nil
		}
		if params.CellID == "" {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, "cell_id is required for move"), nil
		}
		if err := nb.MoveCell(id, params.CellID, index); err != nil {
			return carnet.ToolErr(carnet.ErrKindNotFound, err.Error()), nil
		}
		return carnet.ToolOK(fmt.Sprintf("Moved cell %s to position %d.", params.CellID, index)), nil
	}

	return carnet.ToolErr(carnet.ErrKindInvalidInput,
		fmt.Sprintf("unknown action %q, expected get, add, update, delete, or move", params.Action)), nil
}

func cellResult(prefix string, c carnet.Cell) carnet.ToolResult {
	return carnet.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("%s [%s] id=%s\n%s", prefix, c.Kind, c.ID, c.Source),
		Data:    map[string]any{"cell_id": c.ID, "kind": string(c.Kind)},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// --- notebook_variables ---

// VariablesTool lists the kernel namespace.
type VariablesTool struct {
	session *Session
}

// NewVariablesTool creates the notebook_variables tool.
func NewVariablesTool(s *Session) *VariablesTool { return &VariablesTool{session: s} }

var _ carnet.Tool = (*VariablesTool)(nil)

func (t *VariablesTool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "notebook_variables",
		Description: "List the variables currently defined in the notebook's kernel with their types.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	}}
}

func (t *VariablesTool) Execute(ctx context.Context, _ string, _ json.RawMessage) (carnet.ToolResult, error) {
	kernel, ok := t.session.Kernels.Get(t.session.NotebookID)
	if !ok {
		return carnet.ToolOK("No kernel is running for this notebook; no variables are defined."), nil
	}

	vars, err := kernel.Variables(ctx)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindKernelExec, "reading variables failed: "+err.Error()), nil
	}
	if len(vars) == 0 {
		return carnet.ToolOK("No variables are defined."), nil
	}

	var b strings.Builder
	for name, typ := range vars {
		fmt.Fprintf(&b, "%s: %s\n", name, typ)
	}
	return carnet.ToolResult{
		Success: true,
		Output:  strings.TrimSpace(b.String()),
		Data:    map[string]any{"count": len(vars)},
	}, nil
}
