package carnet

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// requirePython skips tests that need a real interpreter.
func requirePython(t *testing.T) string {
	t.Helper()
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return bin
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k := NewKernel("nb-test", requirePython(t))
	t.Cleanup(k.Close)
	return k
}

func resultText(res ExecResult) string {
	var b strings.Builder
	for _, out := range res.Outputs {
		b.WriteString(out.Content)
	}
	return b.String()
}

func TestKernelSharedState(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	res, err := k.Execute(ctx, "x = 41", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ExecutionCount != 1 {
		t.Fatalf("first execute = %+v", res)
	}

	// The namespace persists: x defined above is visible here.
	res, err = k.Execute(ctx, "x + 1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ExecutionCount != 2 {
		t.Fatalf("second execute = %+v", res)
	}
	var value string
	for _, out := range res.Outputs {
		if out.Type == OutputExecuteResult {
			value = out.Content
		}
	}
	if strings.TrimSpace(value) != "42" {
		t.Errorf("execute result = %q, want 42", value)
	}
}

func TestKernelStdoutCapture(t *testing.T) {
	k := newTestKernel(t)

	res, err := k.Execute(context.Background(), "print('hello world')", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	var stdout string
	for _, out := range res.Outputs {
		if out.Type == OutputStream && out.Name == "stdout" {
			stdout += out.Content
		}
	}
	if !strings.Contains(stdout, "hello world") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestKernelUserException(t *testing.T) {
	k := newTestKernel(t)

	res, err := k.Execute(context.Background(), "1/0", 0)
	if err != nil {
		t.Fatalf("user exception must not be an infra error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	var errOut *ErrorInfo
	for _, out := range res.Outputs {
		if out.Type == OutputError {
			errOut = out.Error
		}
	}
	if errOut == nil || errOut.Name != "ZeroDivisionError" {
		t.Errorf("error output = %+v", errOut)
	}
	if res.ExecutionCount != 1 {
		t.Errorf("failed execution must still consume a count, got %d", res.ExecutionCount)
	}

	// The kernel survives the exception.
	res, err = k.Execute(context.Background(), "2 + 2", 0)
	if err != nil || !res.Success {
		t.Fatalf("kernel unusable after exception: res=%+v err=%v", res, err)
	}
	if res.ExecutionCount != 2 {
		t.Errorf("count after exception = %d, want 2", res.ExecutionCount)
	}
}

func TestKernelExecutionTimeout(t *testing.T) {
	k := newTestKernel(t)

	res, err := k.Execute(context.Background(), "x = 7\nimport time\ntime.sleep(10)", 1*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if text := resultText(res); !strings.Contains(strings.ToLower(text), "timeout") {
		// Error payload lives in the error output, not Content.
		var name string
		for _, out := range res.Outputs {
			if out.Error != nil {
				name = out.Error.Name
			}
		}
		if !strings.Contains(strings.ToLower(name), "timeout") {
			t.Errorf("outputs = %+v, want a timeout error", res.Outputs)
		}
	}

	// The in-worker alarm preserves the namespace.
	res, err = k.Execute(context.Background(), "x", 0)
	if err != nil || !res.Success {
		t.Fatalf("kernel unusable after timeout: res=%+v err=%v", res, err)
	}
	if strings.TrimSpace(resultText(res)) != "7" {
		t.Errorf("x = %q after timeout, want 7", resultText(res))
	}
}

func TestKernelVariables(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	// Cold kernel: no worker, empty namespace.
	vars, err := k.Variables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 0 {
		t.Errorf("cold variables = %v, want empty", vars)
	}

	if _, err := k.Execute(ctx, "import math as m_mod\nalpha = 1\nbeta = 'hi'\n_hidden = 3\ndef fn(): pass", 0); err != nil {
		t.Fatal(err)
	}
	vars, err = k.Variables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if vars["alpha"] != "int" || vars["beta"] != "str" {
		t.Errorf("variables = %v", vars)
	}
	if _, ok := vars["_hidden"]; ok {
		t.Error("private names must be excluded")
	}
	if _, ok := vars["fn"]; ok {
		t.Error("callables must be excluded")
	}
	// Imported modules are ambient bindings, not user variables.
	if _, ok := vars["m_mod"]; ok {
		t.Error("modules must be excluded")
	}
}

func TestKernelReset(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	if _, err := k.Execute(ctx, "y = 5", 0); err != nil {
		t.Fatal(err)
	}
	if err := k.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if k.ExecutionCount() != 0 {
		t.Errorf("count after reset = %d, want 0", k.ExecutionCount())
	}

	res, err := k.Execute(ctx, "'y' in dir()", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExecutionCount != 1 {
		t.Errorf("count restarts at 1, got %d", res.ExecutionCount)
	}
	if got := strings.TrimSpace(resultText(res)); got != "False" {
		t.Errorf("y survived reset: %q", got)
	}
}

func TestKernelCancelledContext(t *testing.T) {
	k := newTestKernel(t)

	// Warm up so cancellation hits the round trip, not startup.
	if _, err := k.Execute(context.Background(), "pass", 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := k.Execute(ctx, "1+1", 0); err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func TestKernelAccessors(t *testing.T) {
	k := NewKernel("nb-1", "python3")
	defer k.Close()

	if k.NotebookID() != "nb-1" {
		t.Errorf("NotebookID = %q", k.NotebookID())
	}
	if k.CreatedAt().IsZero() {
		t.Error("CreatedAt is zero")
	}
	if k.LastUsed().IsZero() {
		t.Error("LastUsed is zero")
	}
	if k.ExecutionCount() != 0 {
		t.Errorf("fresh kernel count = %d", k.ExecutionCount())
	}
}
