package notebook

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	carnet "github.com/carnetd/carnet"
)

func TestAnalyzeCode(t *testing.T) {
	code := `# data prep
import pandas as pd
import os, sys
from collections import Counter
from sklearn.linear_model import LinearRegression

def load(path):
    return pd.read_csv(path)

async def fetch(url):
    pass

class Pipeline:
    def run(self):
        pass

class Empty(object):
    pass
`
	report := analyzeCode(code)

	if report.Blank != 5 || report.Comments != 1 {
		t.Errorf("blank = %d, comments = %d", report.Blank, report.Comments)
	}
	if report.Total != report.Code+report.Comments+report.Blank {
		t.Errorf("line counts do not add up: %+v", report)
	}
	if want := []string{"collections", "os", "pandas", "sklearn", "sys"}; !reflect.DeepEqual(report.Imports, want) {
		t.Errorf("imports = %v, want %v", report.Imports, want)
	}
	if want := []string{"load", "fetch", "run"}; !reflect.DeepEqual(report.Functions, want) {
		t.Errorf("functions = %v, want %v", report.Functions, want)
	}
	if want := []string{"Pipeline", "Empty"}; !reflect.DeepEqual(report.Classes, want) {
		t.Errorf("classes = %v, want %v", report.Classes, want)
	}
}

func TestAnalyzeCodeMethodsCountAsFunctions(t *testing.T) {
	// Indented defs are not top-level, but the line scan keeps them; trimming
	// means methods show up alongside module functions.
	report := analyzeCode("class A:\n    def method(self):\n        pass")
	if want := []string{"method"}; !reflect.DeepEqual(report.Functions, want) {
		t.Errorf("functions = %v", report.Functions)
	}
}

func TestAnalysisToolExecute(t *testing.T) {
	tool := NewAnalysisTool()

	res, err := tool.Execute(context.Background(), "code_analysis",
		json.RawMessage(`{"code": "import numpy\n\ndef f():\n    return 1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "Lines: 4") {
		t.Errorf("output = %q", res.Output)
	}
	if !strings.Contains(res.Output, "Imports: numpy") || !strings.Contains(res.Output, "Functions: f") {
		t.Errorf("output = %q", res.Output)
	}
	if lines, _ := res.Data["lines"].(int); lines != 4 {
		t.Errorf("data lines = %v", res.Data["lines"])
	}

	res, _ = tool.Execute(context.Background(), "code_analysis", json.RawMessage(`{"code": "  "}`))
	if res.Success || res.Error != carnet.ErrKindInvalidInput {
		t.Errorf("empty code = %+v", res)
	}
}
