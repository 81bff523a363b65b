// Package registry resolves per-worker settings (model, prompt, description)
// from configuration and builds the worker agents of a run.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nichescout/nichescout/internal/config"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/prompts"
	"github.com/nichescout/nichescout/internal/tools"
	"github.com/nichescout/nichescout/internal/worker"
)

type Registry struct {
	workers       []string
	defs          map[string]config.WorkerDefinition
	model         string
	maxIterations int
	basePath      string
}

// New returns a registry for cfg. Prompt files are resolved against basePath,
// normally the directory holding the config file.
func New(cfg *config.Config, basePath string) *Registry {
	return &Registry{
		workers:       cfg.Routing.Workers,
		defs:          cfg.Workers,
		model:         cfg.LLM.Model,
		maxIterations: cfg.Routing.MaxIterations,
		basePath:      basePath,
	}
}

// Workers returns the configured worker ids in routing order.
func (r *Registry) Workers() []string {
	out := make([]string, len(r.workers))
	copy(out, r.workers)
	return out
}

func (r *Registry) GetDefinition(id string) (config.WorkerDefinition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

func (r *Registry) ResolveModel(id string) string {
	if def, ok := r.defs[id]; ok && def.Model != "" {
		return def.Model
	}
	return r.model
}

// SystemPrompt returns the worker's prompt file when one is configured and
// present, otherwise the built-in prompt.
func (r *Registry) SystemPrompt(id string) (string, error) {
	if def, ok := r.defs[id]; ok && def.PromptFile != "" {
		path := def.PromptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.basePath, path)
		}
		data, err := os.ReadFile(path)
		switch {
		case err == nil && strings.TrimSpace(string(data)) != "":
			return string(data), nil
		case err == nil, os.IsNotExist(err):
			slog.Warn("worker prompt file missing or empty, using built-in prompt", "worker", id, "path", path)
		default:
			return "", fmt.Errorf("read prompt for %s: %w", id, err)
		}
	}

	p, ok := prompts.Worker(id)
	if !ok {
		return "", fmt.Errorf("no prompt for worker %q", id)
	}
	return p, nil
}

// Descriptions returns the supervisor-facing description of every worker,
// with configured overrides applied.
func (r *Registry) Descriptions() map[string]string {
	descs := make(map[string]string, len(r.workers))
	for _, id := range r.workers {
		descs[id] = prompts.Descriptions[id]
		if def, ok := r.defs[id]; ok && def.Description != "" {
			descs[id] = def.Description
		}
	}
	return descs
}

// Agents builds one worker agent per configured worker, in routing order.
func (r *Registry) Agents(client llm.Client, searcher tools.Searcher) (map[string]*worker.Agent, error) {
	agents := make(map[string]*worker.Agent, len(r.workers))
	for _, id := range r.workers {
		set, err := tools.ForWorker(id, searcher, client)
		if err != nil {
			return nil, err
		}
		prompt, err := r.SystemPrompt(id)
		if err != nil {
			return nil, err
		}
		agents[id] = worker.New(id, client, set, worker.Options{
			Model:         r.ResolveModel(id),
			SystemPrompt:  prompt,
			MaxIterations: r.maxIterations,
		})
	}
	return agents, nil
}
