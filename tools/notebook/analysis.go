package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	carnet "github.com/carnetd/carnet"
)

// AnalysisTool inspects Python code without executing it: line counts,
// imports, and top-level definitions. Unprivileged; nothing runs.
type AnalysisTool struct{}

// NewAnalysisTool creates the code_analysis tool.
func NewAnalysisTool() *AnalysisTool { return &AnalysisTool{} }

var _ carnet.Tool = (*AnalysisTool)(nil)

func (t *AnalysisTool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "code_analysis",
		Description: "Statically analyze Python code without running it: line counts, imported modules, defined functions and classes.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"Python code to analyze"}},"required":["code"]}`),
	}}
}

func (t *AnalysisTool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if strings.TrimSpace(params.Code) == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "code is required"), nil
	}

	report := analyzeCode(params.Code)

	var b strings.Builder
	fmt.Fprintf(&b, "Lines: %d (code: %d, comments: %d, blank: %d)\n",
		report.Total, report.Code, report.Comments, report.Blank)
	if len(report.Imports) > 0 {
		fmt.Fprintf(&b, "Imports: %s\n", strings.Join(report.Imports, ", "))
	}
	if len(report.Functions) > 0 {
		fmt.Fprintf(&b, "Functions: %s\n", strings.Join(report.Functions, ", "))
	}
	if len(report.Classes) > 0 {
		fmt.Fprintf(&b, "Classes: %s\n", strings.Join(report.Classes, ", "))
	}

	return carnet.ToolResult{
		Success: true,
		Output:  strings.TrimSpace(b.String()),
		Data: map[string]any{
			"lines":     report.Total,
			"imports":   report.Imports,
			"functions": report.Functions,
			"classes":   report.Classes,
		},
	}, nil
}

type codeReport struct {
	Total     int
	Code      int
	Comments  int
	Blank     int
	Imports   []string
	Functions []string
	Classes   []string
}

func analyzeCode(code string) codeReport {
	var report codeReport
	imports := make(map[string]bool)

	for _, line := range strings.Split(code, "\n") {
		report.Total++
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			report.Blank++
			continue
		case strings.HasPrefix(trimmed, "#"):
			report.Comments++
			continue
		}
		report.Code++

		switch {
		case strings.HasPrefix(trimmed, "import "):
			for _, part := range strings.Split(strings.TrimPrefix(trimmed, "import "), ",") {
				name := strings.Fields(part)
				if len(name) > 0 {
					imports[rootModule(name[0])] = true
				}
			}
		case strings.HasPrefix(trimmed, "from "):
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				imports[rootModule(fields[1])] = true
			}
		case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def "):
			if name := defName(trimmed); name != "" {
				report.Functions = append(report.Functions, name)
			}
		case strings.HasPrefix(trimmed, "class "):
			if name := className(trimmed); name != "" {
				report.Classes = append(report.Classes, name)
			}
		}
	}

	for name := range imports {
		report.Imports = append(report.Imports, name)
	}
	sort.Strings(report.Imports)
	return report
}

func rootModule(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

func defName(line string) string {
	line = strings.TrimPrefix(line, "async ")
	line = strings.TrimPrefix(line, "def ")
	if i := strings.IndexByte(line, '('); i >= 0 {
		return strings.TrimSpace(line[:i])
	}
	return ""
}

func className(line string) string {
	line = strings.TrimPrefix(line, "class ")
	end := len(line)
	if i := strings.IndexAny(line, "(:"); i >= 0 {
		end = i
	}
	return strings.TrimSpace(line[:end])
}
