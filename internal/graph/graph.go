// Package graph wires the supervisor and the workers into a flyt flow and
// runs it until the supervisor decides to finish.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/flyt"

	"github.com/nichescout/nichescout/internal/conversation"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/router"
	"github.com/nichescout/nichescout/internal/tracer"
)

const keyState = "state"

type Worker interface {
	ID() string
	Run(ctx context.Context, state *conversation.State) llm.Message
}

type Decider interface {
	Decide(ctx context.Context, state *conversation.State) (router.Outcome, error)
}

// Observer is told about every routing decision and every message appended
// to the run. Calls happen on the run's goroutine, in order.
type Observer interface {
	Routed(d router.Decision, step int)
	Appended(msg llm.Message, step int)
}

type nopObserver struct{}

func (nopObserver) Routed(router.Decision, int) {}
func (nopObserver) Appended(llm.Message, int) {}

type Result struct {
	Report llm.Message
	Steps  int
	State  *conversation.State
}

// Runner holds what every run of the graph shares. Flows and nodes are built
// per run, so one Runner can serve concurrent runs.
type Runner struct {
	decider Decider
	order   []router.Destination
	workers map[router.Destination]Worker
}

func NewRunner(decider Decider, order []router.Destination, workers []Worker) (*Runner, error) {
	if decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no workers configured")
	}

	byDest := make(map[router.Destination]Worker, len(workers))
	for _, w := range workers {
		d, ok := router.ParseDestination(w.ID())
		if !ok || !d.IsWorker() {
			return nil, fmt.Errorf("unknown worker %q", w.ID())
		}
		byDest[d] = w
	}
	for _, d := range order {
		if _, ok := byDest[d]; !ok {
			return nil, fmt.Errorf("worker %s is routed to but not provided", d)
		}
	}

	return &Runner{decider: decider, order: order, workers: byDest}, nil
}

func (r *Runner) Workers() []router.Destination {
	out := make([]router.Destination, len(r.order))
	copy(out, r.order)
	return out
}

// Run drives state through the graph until the supervisor finishes, and
// returns the final report. The state is appended to in place.
func (r *Runner) Run(ctx context.Context, state *conversation.State, obs Observer) (*Result, error) {
	ctx, span := tracer.StartSpan(ctx, "graph.run")
	defer span.End()

	if obs == nil {
		obs = nopObserver{}
	}
	steps := 0
	flow := r.build(obs, &steps)

	shared := flyt.NewSharedStore()
	shared.Set(keyState, state)

	if err := flow.Run(ctx, shared); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("run research graph: %w", err)
	}

	reports := state.Named(router.ReportName)
	if len(reports) == 0 {
		err := fmt.Errorf("graph ended without a final report")
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(tracer.IntAttr("graph.steps", steps))
	tracer.SetOK(span)
	return &Result{Report: reports[len(reports)-1], Steps: steps, State: state}, nil
}

func (r *Runner) build(obs Observer, steps *int) *flyt.Flow {
	sup := &supervisorNode{BaseNode: flyt.NewBaseNode(), decider: r.decider, obs: obs, steps: steps}
	flow := flyt.NewFlow(sup)
	for _, d := range r.order {
		wn := &workerNode{BaseNode: flyt.NewBaseNode(), worker: r.workers[d], obs: obs, steps: steps}
		flow.Connect(sup, flyt.Action(d.String()), wn)
		flow.Connect(wn, flyt.DefaultAction, sup)
	}
	return flow
}

func stateFrom(shared *flyt.SharedStore) (*conversation.State, error) {
	v, ok := shared.Get(keyState)
	if !ok {
		return nil, fmt.Errorf("no conversation state in shared store")
	}
	s, ok := v.(*conversation.State)
	if !ok {
		return nil, fmt.Errorf("shared state has type %T", v)
	}
	return s, nil
}

type supervisorNode struct {
	*flyt.BaseNode
	decider Decider
	obs     Observer
	steps   *int
}

func (n *supervisorNode) Prep(_ context.Context, shared *flyt.SharedStore) (any, error) {
	return stateFrom(shared)
}

func (n *supervisorNode) Exec(ctx context.Context, prep any) (any, error) {
	return n.decider.Decide(ctx, prep.(*conversation.State))
}

func (n *supervisorNode) Post(_ context.Context, _ *flyt.SharedStore, prep, exec any) (flyt.Action, error) {
	state := prep.(*conversation.State)
	out := exec.(router.Outcome)

	state.SetNext(out.Decision.Destination.String())
	n.obs.Routed(out.Decision, *n.steps)

	if out.Report != nil {
		state.Append(*out.Report)
		n.obs.Appended(*out.Report, *n.steps)
		slog.Info("research graph finished", "steps", *n.steps, "reason", out.Decision.Reason)
	}
	// FINISH has no outgoing transition, which ends the flow.
	return flyt.Action(out.Decision.Destination.String()), nil
}

type workerNode struct {
	*flyt.BaseNode
	worker Worker
	obs    Observer
	steps  *int
}

func (n *workerNode) Prep(_ context.Context, shared *flyt.SharedStore) (any, error) {
	return stateFrom(shared)
}

func (n *workerNode) Exec(ctx context.Context, prep any) (any, error) {
	return n.worker.Run(ctx, prep.(*conversation.State)), nil
}

func (n *workerNode) Post(_ context.Context, _ *flyt.SharedStore, prep, exec any) (flyt.Action, error) {
	state := prep.(*conversation.State)
	msg := exec.(llm.Message)

	*n.steps++
	state.Append(msg)
	n.obs.Appended(msg, *n.steps)
	return flyt.DefaultAction, nil
}
