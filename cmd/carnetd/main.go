// Command carnetd runs the carnet agent service: an SSE endpoint that drives
// agent turns over a notebook, plus a small REST surface for notebooks and
// conversation history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	carnet "github.com/carnetd/carnet"
	"github.com/carnetd/carnet/internal/config"
	"github.com/carnetd/carnet/observer"
	"github.com/carnetd/carnet/provider/openaicompat"
	"github.com/carnetd/carnet/store/postgres"
	"github.com/carnetd/carnet/store/sqlite"
	"github.com/carnetd/carnet/tools/calculator"
	"github.com/carnetd/carnet/tools/datetime"
	"github.com/carnetd/carnet/tools/knowledge"
	"github.com/carnetd/carnet/tools/literature"
	"github.com/carnetd/carnet/tools/notebook"
	"github.com/carnetd/carnet/tools/textstat"
	"github.com/carnetd/carnet/tools/units"
	"github.com/carnetd/carnet/tools/websearch"
)

func main() {
	configPath := flag.String("config", "", "path to carnet.toml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("carnetd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := config.Load(configPath)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Observability is opt-in; without it the wrappers are skipped entirely.
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var (
			shutdown func(context.Context) error
			err      error
		)
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("observer shutdown", "error", err)
			}
		}()
	}

	// Chat provider with retry on transient errors.
	var provider carnet.Provider = openaicompat.New(
		cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openaicompat.WithName(cfg.LLM.Provider))
	provider = carnet.WithRetry(provider, carnet.RetryLogger(logger))
	if inst != nil {
		provider = observer.WrapProvider(provider, inst)
	}

	var embedding carnet.EmbeddingProvider = openaicompat.NewEmbedding(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions)
	embedding = carnet.WithEmbeddingRetry(embedding, carnet.RetryLogger(logger))
	if inst != nil {
		embedding = observer.WrapEmbedding(embedding, inst)
	}

	// Retrieval stores are optional: without Postgres the knowledge and
	// literature tools simply are not registered.
	var retrieval *postgres.Store
	if cfg.Database.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		retrieval = postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		if err := retrieval.Init(ctx); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
	}

	log := sqlite.New(cfg.Database.SQLitePath, sqlite.WithLogger(logger))
	defer log.Close()
	if err := log.Init(ctx); err != nil {
		return fmt.Errorf("init message log: %w", err)
	}

	kernels := carnet.NewKernelRegistry(
		carnet.WithPythonBin(cfg.Kernel.PythonBin),
		carnet.WithIdleTimeout(time.Duration(cfg.Kernel.IdleTimeoutMins)*time.Minute),
		carnet.WithSweepInterval(time.Duration(cfg.Kernel.SweepIntervalMin)*time.Minute),
		carnet.WithRegistryLogger(logger))
	defer kernels.Close()

	notebooks := carnet.NewNotebookStore()
	history := carnet.NewHistory()

	buildTools := func(req carnet.TurnRequest) *carnet.ToolRegistry {
		registry := carnet.NewToolRegistry()
		registry.SetLogger(logger)

		add := func(t carnet.Tool) {
			if inst != nil {
				t = observer.WrapTool(t, inst)
			}
			registry.Add(t)
		}

		add(calculator.New())
		add(datetime.New())
		add(units.New())
		add(textstat.New())
		add(websearch.New(cfg.Search.SerperAPIKey))
		if retrieval != nil {
			add(knowledge.New(req.UserID, embedding, retrieval))
			add(literature.New(req.UserID, retrieval))
		}

		session := &notebook.Session{
			Kernels:    kernels,
			Notebooks:  notebooks,
			NotebookID: req.NotebookID,
			Authorized: req.Authorized,
		}
		add(notebook.NewExecuteTool(session))
		add(notebook.NewCellTool(session))
		add(notebook.NewVariablesTool(session))
		add(notebook.NewPipTool(session, cfg.Kernel.PythonBin))
		add(notebook.NewScrapeTool())
		add(notebook.NewAnalysisTool())

		return registry
	}

	bridge := carnet.NewBridge(provider, buildTools, history, log,
		carnet.WithBridgeMaxIterations(cfg.Agent.MaxIterations),
		carnet.WithBridgeTemperature(cfg.Agent.Temperature),
		carnet.WithBridgeMaxTokens(cfg.Agent.MaxTokens),
		carnet.WithBridgeLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("POST /v1/agent/stream", bridge)
	registerNotebookRoutes(mux, notebooks, kernels, log, logger)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
		// No WriteTimeout: SSE streams stay open for the whole turn.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("carnetd listening", "addr", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
