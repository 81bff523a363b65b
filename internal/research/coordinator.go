// Package research runs niche research end to end: it persists runs and
// their messages, publishes progress events, writes reports and keeps runs
// of the same origin from overlapping.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nichescout/nichescout/internal/conversation"
	"github.com/nichescout/nichescout/internal/graph"
	"github.com/nichescout/nichescout/internal/llm"
	"github.com/nichescout/nichescout/internal/natsbus"
	"github.com/nichescout/nichescout/internal/router"
	"github.com/nichescout/nichescout/internal/store"
)

// Origins identify who asked for a run.
const (
	OriginCLI = "cli"
	OriginWeb = "web"
)

func OriginTelegram(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}

func OriginSchedule(scheduleID string) string {
	return "scheduler:" + scheduleID
}

// ErrCancelled is the failure recorded for runs stopped by Cancel or Delete.
var ErrCancelled = errors.New("run cancelled")

// Publisher sends run events to the bus.
type Publisher interface {
	PublishEvent(e natsbus.Event) error
}

type Coordinator struct {
	runner     *graph.Runner
	store      *store.Store
	publisher  Publisher
	reportsDir string
	tracker    *Tracker

	queues map[string]*OriginQueue
	closed bool
	mu     sync.Mutex

	listeners  []func(store.Run)
	listenerMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires a coordinator. publisher may be nil.
func NewCoordinator(runner *graph.Runner, s *store.Store, publisher Publisher, reportsDir string) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		runner:     runner,
		store:      s,
		publisher:  publisher,
		reportsDir: reportsDir,
		tracker:    NewTracker(),
		queues:     make(map[string]*OriginQueue),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnComplete registers fn to be called with every run that finishes,
// successfully or not.
func (c *Coordinator) OnComplete(fn func(store.Run)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start queues a run and returns it immediately. The run executes in the
// background, after any earlier run of the same origin.
func (c *Coordinator) Start(ctx context.Context, niche, origin string) (*store.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("coordinator is shut down")
	}
	c.wg.Add(1)
	c.mu.Unlock()

	run, err := c.create(niche, origin)
	if err != nil {
		c.wg.Done()
		return nil, err
	}

	q := c.getQueue(origin)
	q.Enqueue(run)

	// Runs outlive the request that started them.
	go c.processQueue(origin)

	return run, nil
}

// Run executes a run on the caller's goroutine and returns its final state.
// An error means the run could not be created; a run that fails is
// returned with status failed.
func (c *Coordinator) Run(ctx context.Context, niche, origin string) (*store.Run, error) {
	run, err := c.create(niche, origin)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, run), nil
}

func (c *Coordinator) create(niche, origin string) (*store.Run, error) {
	niche = strings.TrimSpace(niche)
	if niche == "" {
		return nil, fmt.Errorf("niche is required")
	}
	if origin == "" {
		origin = OriginCLI
	}

	run := &store.Run{
		ID:        uuid.New().String(),
		Niche:     niche,
		Origin:    origin,
		Status:    store.RunQueued,
		StartedAt: time.Now().UTC(),
	}
	if err := c.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

func (c *Coordinator) getQueue(origin string) *OriginQueue {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[origin]
	if !ok {
		q = NewOriginQueue(origin)
		c.queues[origin] = q
	}
	return q
}

func (c *Coordinator) processQueue(origin string) {
	defer c.wg.Done()
	q := c.getQueue(origin)

	for {
		if !q.TryLock() {
			return // another goroutine is draining
		}
		for {
			run, ok := q.Dequeue()
			if !ok {
				break
			}
			c.execute(c.ctx, run)
		}
		q.Unlock()

		// A run enqueued between the last Dequeue and Unlock saw the lock
		// held and left; pick it up.
		if q.Len() == 0 {
			return
		}
	}
}

// removeQueued takes a run that has not started yet out of its queue.
func (c *Coordinator) removeQueued(runID string) (*store.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, q := range c.queues {
		if run, ok := q.Remove(runID); ok {
			return run, true
		}
	}
	return nil, false
}

func (c *Coordinator) execute(ctx context.Context, run *store.Run) *store.Run {
	if r, err := c.store.GetRun(run.ID); err == nil && r == nil {
		slog.Info("research run deleted before start", "run", run.ID)
		return run
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	now := time.Now()
	c.tracker.Set(&ActiveRun{
		ID:         run.ID,
		Niche:      run.Niche,
		Origin:     run.Origin,
		StartedAt:  now,
		LastActive: now,
		cancel:     cancel,
	})
	defer c.tracker.Remove(run.ID)

	slog.Info("research run started", "run", run.ID, "niche", run.Niche, "origin", run.Origin)
	if err := c.store.UpdateRunStatus(run.ID, store.RunRunning); err != nil {
		slog.Error("update run status failed", "run", run.ID, "error", err)
	}
	c.publish(run.ID, natsbus.EventRunStarted, map[string]any{
		"niche":  run.Niche,
		"origin": run.Origin,
	})

	state := conversation.New(run.Niche)
	obs := &runObserver{c: c, runID: run.ID}
	if seed, ok := state.Last(); ok {
		obs.persist(seed)
	}

	res, err := c.runner.Run(ctx, state, obs)
	if err == nil {
		var path string
		path, err = c.writeReport(run.ID, res.Report.Content)
		if err == nil {
			c.finish(run, store.RunCompleted, res.Report.Content, res.Steps, "")
			c.publish(run.ID, natsbus.EventRunCompleted, map[string]any{
				"steps":  res.Steps,
				"report": path,
			})
			slog.Info("research run completed", "run", run.ID, "steps", res.Steps, "report", path)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		c.finish(run, store.RunFailed, "", obs.steps, err.Error())
		c.publish(run.ID, natsbus.EventRunFailed, map[string]any{"error": err.Error()})
		slog.Error("research run failed", "run", run.ID, "error", err)
	}

	final, gerr := c.store.GetRun(run.ID)
	if gerr == nil && final == nil {
		// Deleted while executing: drop what was written since.
		if err := c.removeFiles(run.ID); err != nil {
			slog.Warn("clean up deleted run failed", "run", run.ID, "error", err)
		}
		return run
	}
	if final == nil {
		final = run
	}
	c.notify(*final)
	return final
}

func (c *Coordinator) finish(run *store.Run, status, report string, steps int, errMsg string) {
	if err := c.store.FinishRun(run.ID, status, report, steps, errMsg); err != nil {
		slog.Error("finish run failed", "run", run.ID, "error", err)
	}
	now := time.Now().UTC()
	run.Status = status
	run.FinalReport = report
	run.Steps = steps
	run.Error = errMsg
	run.CompletedAt = &now
}

func (c *Coordinator) notify(run store.Run) {
	c.listenerMu.RLock()
	listeners := make([]func(store.Run), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(run)
	}
}

// ReportPath is where the markdown report of a run is written.
func (c *Coordinator) ReportPath(runID string) string {
	return filepath.Join(c.reportsDir, runID+".md")
}

func (c *Coordinator) writeReport(runID, content string) (string, error) {
	if err := os.MkdirAll(c.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	path := c.ReportPath(runID)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (c *Coordinator) publish(runID, eventType string, data map[string]any) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishEvent(natsbus.NewRunEvent(eventType, runID, data)); err != nil {
		slog.Warn("publish run event failed", "run", runID, "type", eventType, "error", err)
	}
}

// Active returns the runs currently executing.
func (c *Coordinator) Active() []ActiveRun {
	return c.tracker.List()
}

// Cancel stops a run that is queued or executing. It reports whether the
// run was found in either state. A queued run is failed right away.
func (c *Coordinator) Cancel(runID string) bool {
	if run, ok := c.removeQueued(runID); ok {
		c.finish(run, store.RunFailed, "", 0, ErrCancelled.Error())
		c.publish(run.ID, natsbus.EventRunFailed, map[string]any{"error": ErrCancelled.Error()})
		slog.Info("queued research run cancelled", "run", run.ID)

		final, err := c.store.GetRun(run.ID)
		if err != nil || final == nil {
			final = run
		}
		c.notify(*final)
		return true
	}
	return c.tracker.Cancel(runID, ErrCancelled)
}

func (c *Coordinator) Get(runID string) (*store.Run, error) {
	return c.store.GetRun(runID)
}

// Delete removes a run with its messages and report file. A queued run
// never starts; an executing one is cancelled first.
func (c *Coordinator) Delete(runID string) error {
	if _, ok := c.removeQueued(runID); !ok {
		c.tracker.Cancel(runID, ErrCancelled)
	}
	return c.removeFiles(runID)
}

func (c *Coordinator) removeFiles(runID string) error {
	if err := c.store.DeleteRun(runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if err := os.Remove(c.ReportPath(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove report: %w", err)
	}
	return nil
}

// StartIdleReaper cancels runs that made no progress for longer than
// timeout, until ctx is done. A zero timeout disables it.
func (c *Coordinator) StartIdleReaper(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	interval := min(timeout/2, time.Minute)
	if interval <= 0 {
		interval = timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapIdle(timeout)
		}
	}
}

func (c *Coordinator) reapIdle(timeout time.Duration) {
	for _, id := range c.tracker.ListIdle(timeout) {
		run := c.tracker.Get(id)
		if run == nil {
			continue
		}
		slog.Info("cancelling idle research run", "run", id, "niche", run.Niche, "last_active", run.LastActive, "timeout", timeout)
		c.tracker.Cancel(id, fmt.Errorf("run idle for more than %s", timeout))
	}
}

// Shutdown cancels executing runs and waits for background work to stop.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runObserver persists and publishes a run's progress.
type runObserver struct {
	c      *Coordinator
	runID  string
	seq    int
	steps  int
	reason string
}

func (o *runObserver) Routed(d router.Decision, step int) {
	o.reason = d.Reason
	o.c.tracker.Touch(o.runID, step, d.Destination.String())
	o.c.publish(o.runID, natsbus.EventRunRouted, map[string]any{
		"next":   d.Destination.String(),
		"reason": d.Reason,
		"path":   string(d.Path),
		"step":   step,
	})
}

func (o *runObserver) Appended(msg llm.Message, step int) {
	o.steps = step
	o.persist(msg)
	o.c.tracker.Touch(o.runID, step, "")
	o.c.publish(o.runID, natsbus.EventRunTurn, map[string]any{
		"name":    msg.Name,
		"step":    step,
		"content": truncate(msg.Content, 500),
	})
}

func (o *runObserver) persist(msg llm.Message) {
	m := &store.RunMessage{
		RunID:   o.runID,
		Seq:     o.seq,
		Role:    string(msg.Role),
		Name:    msg.Name,
		Content: msg.Content,
	}
	if msg.Name != "" {
		m.Reason = o.reason
	}
	o.seq++
	if err := o.c.store.SaveRunMessage(m); err != nil {
		slog.Error("save run message failed", "run", o.runID, "seq", m.Seq, "error", err)
	}
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
