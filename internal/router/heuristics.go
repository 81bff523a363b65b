package router

import (
	"fmt"
	"log/slog"

	"github.com/nichescout/nichescout/internal/llm"
)

// verdict is what a routing heuristic concludes about a candidate decision:
// keep it, or redirect to another one. A heuristic that cannot run returns
// a keep verdict carrying the reason in err.
type verdict struct {
	redirect bool
	decision Decision
	err      error
}

func keep() verdict { return verdict{} }

func skip(err error) verdict { return verdict{err: err} }

func redirectTo(d Decision) verdict { return verdict{redirect: true, decision: d} }

func apply(d Decision, stage string, v verdict) Decision {
	if v.err != nil {
		slog.Warn("routing heuristic skipped, keeping prior decision", "stage", stage, "next", d.Destination.String(), "error", v.err)
		return d
	}
	if v.redirect {
		return v.decision
	}
	return d
}

// avoidLoop redirects a worker that already produced loopThreshold or more of
// the last loopWindow messages to the least used other worker, first in
// configured order on ties. With no other worker the run finishes.
func (r *Router) avoidLoop(history []llm.Message, d Decision) verdict {
	if d.Destination == Finish {
		return keep()
	}
	if r.cfg.LoopWindow <= 0 {
		return skip(fmt.Errorf("loop window must be positive, got %d", r.cfg.LoopWindow))
	}
	if r.cfg.LoopThreshold <= 0 {
		return skip(fmt.Errorf("loop threshold must be positive, got %d", r.cfg.LoopThreshold))
	}

	recent := history
	if len(recent) > r.cfg.LoopWindow {
		recent = recent[len(recent)-r.cfg.LoopWindow:]
	}
	counts := make(map[Destination]int, len(r.cfg.Workers))
	for _, m := range recent {
		if w, ok := ParseWorker(m.Name); ok {
			counts[w]++
		}
	}

	if counts[d.Destination] < r.cfg.LoopThreshold {
		return keep()
	}

	alt, found := Finish, false
	for _, w := range r.cfg.Workers {
		if w == d.Destination {
			continue
		}
		if !found || counts[w] < counts[alt] {
			alt, found = w, true
		}
	}

	if !found {
		slog.Info("loop detected with no alternative worker, finishing", "worker", d.Destination.String())
		return redirectTo(Decision{
			Destination: Finish,
			Reason:      "No new information from workers; finishing to avoid loop",
			Path:        PathLoop,
		})
	}

	slog.Info("loop detected, selecting alternative", "worker", d.Destination.String(), "alternative", alt.String())
	return redirectTo(Decision{
		Destination: alt,
		Reason:      fmt.Sprintf("Avoiding repeat routing to %s; choosing %s as it was used less recently.", d.Destination, alt),
		Path:        PathLoop,
	})
}

// enforceBudget forces Finish once the run has used maxSteps worker turns.
func (r *Router) enforceBudget(history []llm.Message, d Decision) verdict {
	if r.cfg.MaxSteps <= 0 {
		return skip(fmt.Errorf("max steps must be positive, got %d", r.cfg.MaxSteps))
	}
	steps := r.Steps(history)
	if steps < r.cfg.MaxSteps {
		return keep()
	}

	slog.Info("max steps reached, finishing", "max_steps", r.cfg.MaxSteps, "steps", steps)
	return redirectTo(Decision{
		Destination: Finish,
		Reason:      fmt.Sprintf("Reached maximum steps (%d); finishing to avoid infinite loop", r.cfg.MaxSteps),
		Path:        PathBudget,
	})
}
