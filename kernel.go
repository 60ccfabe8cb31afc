package carnet

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

//go:embed kernel.py
var kernelSource string

// OutputType tags a CellOutput variant.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputExecuteResult OutputType = "execute_result"
	OutputDisplayData   OutputType = "display_data"
	OutputError         OutputType = "error"
)

// ErrorInfo is the structured payload of an error output.
type ErrorInfo struct {
	Name      string   `json:"name"`
	Value     string   `json:"value"`
	Traceback []string `json:"traceback"`
}

// CellOutput is one unit of execution output. Content holds stream text, the
// formatted execute_result value, or base64 image data for display_data.
type CellOutput struct {
	Type     OutputType `json:"type"`
	Name     string     `json:"name,omitempty"` // stream name: stdout or stderr
	Content  string     `json:"content,omitempty"`
	MimeType string     `json:"mime_type,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// ExecResult is the outcome of one Kernel.Execute call.
type ExecResult struct {
	Success         bool         `json:"success"`
	Outputs         []CellOutput `json:"outputs"`
	ExecutionCount  int          `json:"execution_count"`
	ExecutionTimeMS int64        `json:"execution_time_ms"`
}

const (
	// DefaultExecTimeout governs Execute calls that pass no timeout.
	DefaultExecTimeout = 30 * time.Second

	// kernelGrace is how long past the in-worker timeout the host waits
	// before declaring the worker wedged and killing it.
	kernelGrace = 5 * time.Second

	kernelReadyTimeout = 30 * time.Second
	kernelCallTimeout  = 10 * time.Second // variables/reset round trips
)

// Kernel is one persistent interpreter namespace tied to one notebook. The
// namespace lives in a long-running Python worker subprocess speaking a
// JSON-lines protocol; the worker starts lazily on first use and is killed
// and restarted if it stops responding.
//
// At most one Execute runs at a time per Kernel: outputs and the execution
// counter depend on prior mutations, so serialization is a correctness
// requirement, not just memory safety.
type Kernel struct {
	notebookID string
	pythonBin  string
	logger     *slog.Logger
	createdAt  time.Time

	execCount atomic.Int64
	lastUsed  atomic.Int64 // unix nanos

	mu   sync.Mutex // serializes execute/variables/reset and guards proc
	proc *kernelProc
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithKernelLogger sets a structured logger.
func WithKernelLogger(l *slog.Logger) KernelOption {
	return func(k *Kernel) {
		if l != nil {
			k.logger = l
		}
	}
}

// NewKernel creates a Kernel for the given notebook. The worker subprocess
// is not started until the first execute/variables call.
func NewKernel(notebookID, pythonBin string, opts ...KernelOption) *Kernel {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	k := &Kernel{
		notebookID: notebookID,
		pythonBin:  pythonBin,
		logger:     nopLogger,
		createdAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.touch()
	return k
}

// NotebookID returns the stable identity this kernel is bound to.
func (k *Kernel) NotebookID() string { return k.notebookID }

// CreatedAt returns the kernel creation time.
func (k *Kernel) CreatedAt() time.Time { return k.createdAt }

// LastUsed returns the time of the most recent execute/variables call.
func (k *Kernel) LastUsed() time.Time { return time.Unix(0, k.lastUsed.Load()) }

// ExecutionCount returns the monotonic execution counter. It never decreases
// except via Reset, and reflects failed executions too.
func (k *Kernel) ExecutionCount() int { return int(k.execCount.Load()) }

func (k *Kernel) touch() { k.lastUsed.Store(time.Now().UnixNano()) }

// Execute runs a code fragment in the kernel namespace and captures its
// outputs. User exceptions and timeouts produce an error output with
// Success=false and a nil error; a non-nil error means the execution
// infrastructure itself failed.
func (k *Kernel) Execute(ctx context.Context, code string, timeout time.Duration) (ExecResult, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.touch()

	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	if err := k.ensureStarted(); err != nil {
		return ExecResult{}, fmt.Errorf("kernel %s: %w", k.notebookID, err)
	}

	count := int(k.execCount.Add(1))
	start := time.Now()
	reply, err := k.roundTrip(ctx, kernelRequest{
		Op:      "execute",
		Code:    code,
		Timeout: int(timeout.Seconds()),
		Count:   count,
	}, timeout+kernelGrace)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			return ExecResult{}, ctx.Err()
		}
		// Worker wedged past the in-worker alarm: it was killed and the
		// namespace is gone. Report as an error output, not an infra error.
		k.logger.Warn("kernel worker killed", "notebook", k.notebookID, "error", err)
		return ExecResult{
			Success: false,
			Outputs: []CellOutput{{
				Type: OutputError,
				Error: &ErrorInfo{
					Name:  "KernelError",
					Value: fmt.Sprintf("kernel stopped responding and was restarted; variables were lost (%v)", err),
				},
			}},
			ExecutionCount:  count,
			ExecutionTimeMS: elapsed,
		}, nil
	}

	return ExecResult{
		Success:         reply.OK,
		Outputs:         decodeOutputs(reply.Outputs),
		ExecutionCount:  count,
		ExecutionTimeMS: elapsed,
	}, nil
}

// Variables returns the public namespace bindings as a name to type-name
// mapping, excluding private names, callables, and types.
func (k *Kernel) Variables(ctx context.Context) (map[string]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.touch()

	if k.proc == nil {
		// Never executed (or reset to cold): the namespace is empty.
		return map[string]string{}, nil
	}
	reply, err := k.roundTrip(ctx, kernelRequest{Op: "variables"}, kernelCallTimeout)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: variables: %w", k.notebookID, err)
	}
	if reply.Variables == nil {
		return map[string]string{}, nil
	}
	return reply.Variables, nil
}

// Reset clears the namespace, reseeds the init bindings, and rewinds the
// execution counter to zero.
func (k *Kernel) Reset(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.proc != nil {
		if _, err := k.roundTrip(ctx, kernelRequest{Op: "reset"}, kernelCallTimeout); err != nil {
			// A wedged worker was killed by roundTrip; a fresh one starts on
			// next use with a clean namespace, which is what reset wanted.
			k.logger.Warn("kernel reset forced worker restart", "notebook", k.notebookID, "error", err)
		}
	}
	k.execCount.Store(0)
	return nil
}

// Close kills the worker subprocess. The kernel may be reused afterwards; a
// new worker starts on demand.
func (k *Kernel) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.killLocked()
}

// --- worker subprocess plumbing ---

type kernelRequest struct {
	Op      string `json:"op"`
	Code    string `json:"code,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type kernelReply struct {
	Status         string            `json:"status,omitempty"`
	OK             bool              `json:"ok"`
	ExecutionCount int               `json:"execution_count,omitempty"`
	Outputs        []wireOutput      `json:"outputs,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type wireOutput struct {
	Type      string   `json:"type"`
	Name      string   `json:"name,omitempty"`
	Content   string   `json:"content,omitempty"`
	MimeType  string   `json:"mime_type,omitempty"`
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

type kernelProc struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	replies    chan kernelReply
	scriptPath string
}

const maxKernelReplyBytes = 16 << 20 // rich outputs carry base64 PNGs

// ensureStarted launches the worker if none is running and waits for its
// ready banner. Callers hold k.mu.
func (k *Kernel) ensureStarted() error {
	if k.proc != nil {
		return nil
	}

	script, err := os.CreateTemp("", "carnet-kernel-*.py")
	if err != nil {
		return fmt.Errorf("write worker script: %w", err)
	}
	if _, err := script.WriteString(kernelSource); err != nil {
		script.Close()
		os.Remove(script.Name())
		return fmt.Errorf("write worker script: %w", err)
	}
	script.Close()

	cmd := exec.Command(k.pythonBin, script.Name())
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("start %s: %w", k.pythonBin, err)
	}

	proc := &kernelProc{
		cmd:        cmd,
		stdin:      stdin,
		replies:    make(chan kernelReply, 16),
		scriptPath: script.Name(),
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxKernelReplyBytes)
		for scanner.Scan() {
			var reply kernelReply
			if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
				continue // stray output on the protocol channel
			}
			proc.replies <- reply
		}
		close(proc.replies)
	}()
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			k.logger.Debug("kernel stderr", "notebook", k.notebookID, "line", scanner.Text())
		}
	}()

	k.proc = proc

	select {
	case reply, ok := <-proc.replies:
		if !ok || reply.Status != "ready" {
			k.killLocked()
			return fmt.Errorf("worker exited before ready")
		}
	case <-time.After(kernelReadyTimeout):
		k.killLocked()
		return fmt.Errorf("worker not ready after %s", kernelReadyTimeout)
	}

	k.logger.Info("kernel started", "notebook", k.notebookID, "python", k.pythonBin)
	return nil
}

// roundTrip sends one request and waits for its reply. On deadline or
// cancellation the worker is killed so a wedged execution cannot block the
// next caller. Callers hold k.mu.
func (k *Kernel) roundTrip(ctx context.Context, req kernelRequest, deadline time.Duration) (kernelReply, error) {
	if err := k.ensureStarted(); err != nil {
		return kernelReply{}, err
	}
	proc := k.proc

	payload, err := json.Marshal(req)
	if err != nil {
		return kernelReply{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(proc.stdin, "%s\n", payload); err != nil {
		k.killLocked()
		return kernelReply{}, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case reply, ok := <-proc.replies:
		if !ok {
			k.killLocked()
			return kernelReply{}, fmt.Errorf("worker exited")
		}
		return reply, nil
	case <-timer.C:
		k.killLocked()
		return kernelReply{}, fmt.Errorf("no reply within %s", deadline)
	case <-ctx.Done():
		k.killLocked()
		return kernelReply{}, ctx.Err()
	}
}

// killLocked tears down the worker subprocess. Callers hold k.mu.
func (k *Kernel) killLocked() {
	if k.proc == nil {
		return
	}
	proc := k.proc
	k.proc = nil

	proc.stdin.Close()
	if proc.cmd.Process != nil {
		proc.cmd.Process.Kill()
	}
	go func() {
		proc.cmd.Wait()
		os.Remove(proc.scriptPath)
	}()
}

func decodeOutputs(wire []wireOutput) []CellOutput {
	outputs := make([]CellOutput, 0, len(wire))
	for _, w := range wire {
		out := CellOutput{
			Type:     OutputType(w.Type),
			Name:     w.Name,
			Content:  w.Content,
			MimeType: w.MimeType,
		}
		if w.Type == string(OutputError) {
			out.Error = &ErrorInfo{Name: w.EName, Value: w.EValue, Traceback: w.Traceback}
		}
		outputs = append(outputs, out)
	}
	return outputs
}
