package carnet

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultIdleTimeout is how long a kernel may sit unused before the
	// sweeper shuts it down.
	DefaultIdleTimeout = 2 * time.Hour

	// DefaultSweepInterval is how often the sweeper scans for idle kernels.
	DefaultSweepInterval = 1 * time.Hour
)

// KernelRegistry owns the live kernels, one per notebook. Kernels are created
// lazily on first access and reaped by a background sweeper once idle past
// the timeout. Reaping only kills the worker subprocess; the notebook and its
// cells are unaffected, and the next access starts a fresh kernel.
type KernelRegistry struct {
	pythonBin     string
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	kernels map[string]*Kernel

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// RegistryOption configures a KernelRegistry.
type RegistryOption func(*KernelRegistry)

// WithIdleTimeout sets the idle threshold for reaping.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *KernelRegistry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithSweepInterval sets how often the sweeper runs.
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *KernelRegistry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithPythonBin sets the interpreter binary kernels are started with.
func WithPythonBin(bin string) RegistryOption {
	return func(r *KernelRegistry) {
		if bin != "" {
			r.pythonBin = bin
		}
	}
}

// WithRegistryLogger sets a structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *KernelRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewKernelRegistry creates a registry and starts its sweeper.
func NewKernelRegistry(opts ...RegistryOption) *KernelRegistry {
	r := &KernelRegistry{
		pythonBin:     "python3",
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		logger:        nopLogger,
		kernels:       make(map[string]*Kernel),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweepLoop()
	return r
}

// GetOrCreate returns the kernel for a notebook, creating it if absent.
func (r *KernelRegistry) GetOrCreate(notebookID string) *Kernel {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kernels[notebookID]
	if !ok {
		k = NewKernel(notebookID, r.pythonBin, WithKernelLogger(r.logger))
		r.kernels[notebookID] = k
		r.logger.Info("kernel registered", "notebook", notebookID, "total", len(r.kernels))
	}
	return k
}

// Get returns the kernel for a notebook without creating one.
func (r *KernelRegistry) Get(notebookID string) (*Kernel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kernels[notebookID]
	return k, ok
}

// Destroy removes a notebook's kernel and kills its worker.
func (r *KernelRegistry) Destroy(notebookID string) {
	r.mu.Lock()
	k, ok := r.kernels[notebookID]
	delete(r.kernels, notebookID)
	r.mu.Unlock()
	if ok {
		k.Close()
		r.logger.Info("kernel destroyed", "notebook", notebookID)
	}
}

// Len returns the number of live kernels.
func (r *KernelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kernels)
}

// Close stops the sweeper and kills every worker. Idempotent.
func (r *KernelRegistry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done

		r.mu.Lock()
		kernels := make([]*Kernel, 0, len(r.kernels))
		for _, k := range r.kernels {
			kernels = append(kernels, k)
		}
		r.kernels = make(map[string]*Kernel)
		r.mu.Unlock()

		for _, k := range kernels {
			k.Close()
		}
	})
}

func (r *KernelRegistry) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

// sweep collects expired kernels under the lock and closes them outside it,
// so a slow worker teardown never blocks GetOrCreate.
func (r *KernelRegistry) sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*Kernel
	for id, k := range r.kernels {
		if k.LastUsed().Before(cutoff) {
			expired = append(expired, k)
			delete(r.kernels, id)
		}
	}
	remaining := len(r.kernels)
	r.mu.Unlock()

	for _, k := range expired {
		k.Close()
		r.logger.Info("idle kernel reaped", "notebook", k.NotebookID(), "idle_since", k.LastUsed())
	}
	if len(expired) > 0 {
		r.logger.Info("kernel sweep complete", "reaped", len(expired), "remaining", remaining)
	}
}
