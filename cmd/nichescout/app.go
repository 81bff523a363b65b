package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nichescout/nichescout/internal/config"
	"github.com/nichescout/nichescout/internal/graph"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/logging"
	"github.com/nichescout/nichescout/internal/prompts"
	"github.com/nichescout/nichescout/internal/registry"
	"github.com/nichescout/nichescout/internal/router"
	"github.com/nichescout/nichescout/internal/store"
	"github.com/nichescout/nichescout/internal/tools"
	"github.com/nichescout/nichescout/internal/tracer"
)

// app holds what every command shares. Fields past store are only set by
// withGraph.
type app struct {
	cfg     *config.Config
	store   *store.Store
	client  llm.Client
	runner  *graph.Runner
	workers []router.Destination

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg}
	_, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLog)

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdownTracer(context.Background()) })

	db, err := store.New(cfg.Store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.store = db
	a.closers = append(a.closers, db.Close)
	slog.Debug("store initialized", "path", cfg.Store.Path)

	return a, nil
}

// withGraph builds the model client, the router, the workers and the graph
// runner.
func (a *app) withGraph(ctx context.Context) error {
	ollama, err := llm.NewOllama(a.cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	if a.cfg.LLM.RequireHealthy {
		if err := ollama.Ping(ctx); err != nil {
			return fmt.Errorf("llm health check: %w", err)
		}
	}
	a.client = llm.NewBreaker(ollama, ollama.Name(), a.cfg.LLM.CircuitBreaker)

	reg := registry.New(a.cfg, filepath.Dir(config.Path()))
	workers, err := router.ParseWorkers(reg.Workers())
	if err != nil {
		return err
	}
	a.workers = workers

	rt, err := router.New(a.client, router.Config{
		Workers:       workers,
		MaxSteps:      a.cfg.Routing.MaxSteps,
		LoopWindow:    a.cfg.Routing.LoopWindow,
		LoopThreshold: a.cfg.Routing.LoopThreshold,
		SystemPrompt:  prompts.Supervisor(reg.Workers(), reg.Descriptions()),
	})
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	agents, err := reg.Agents(a.client, tools.NewWebSearcher(a.cfg.Search))
	if err != nil {
		return fmt.Errorf("init workers: %w", err)
	}
	nodes := make([]graph.Worker, 0, len(agents))
	for _, id := range reg.Workers() {
		nodes = append(nodes, agents[id])
	}

	runner, err := graph.NewRunner(rt, workers, nodes)
	if err != nil {
		return fmt.Errorf("init graph: %w", err)
	}
	a.runner = runner

	if path, err := graph.WriteMermaid(a.cfg.Output.GraphsDir, workers); err != nil {
		slog.Warn("write graph failed", "error", err)
	} else {
		slog.Debug("graph written", "path", path)
	}

	slog.Info("research graph ready", "model", a.cfg.LLM.Model, "workers", reg.Workers(), "max_steps", a.cfg.Routing.MaxSteps)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
