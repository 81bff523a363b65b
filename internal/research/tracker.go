package research

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ActiveRun is the live view of a run being executed.
type ActiveRun struct {
	ID         string    `json:"id"`
	Niche      string    `json:"niche"`
	Origin     string    `json:"origin"`
	Step       int       `json:"step"`
	Next       string    `json:"next,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`

	cancel context.CancelCauseFunc
}

type Tracker struct {
	runs map[string]*ActiveRun // run id → run
	mu   sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]*ActiveRun),
	}
}

func (t *Tracker) Set(run *ActiveRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.ID] = run
}

// Get returns a copy of the active run, or nil.
func (t *Tracker) Get(id string) *ActiveRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.runs[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, id)
}

// Touch records progress of a run.
func (t *Tracker) Touch(id string, step int, next string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[id]; ok {
		r.Step = step
		if next != "" {
			r.Next = next
		}
		r.LastActive = time.Now()
	}
}

// Cancel stops an active run with cause. It reports whether the run was
// active.
func (t *Tracker) Cancel(id string, cause error) bool {
	t.mu.RLock()
	r, ok := t.runs[id]
	t.mu.RUnlock()
	if !ok || r.cancel == nil {
		return false
	}
	r.cancel(cause)
	return true
}

// List returns the active runs, oldest first.
func (t *Tracker) List() []ActiveRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ActiveRun, 0, len(t.runs))
	for _, r := range t.runs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ListIdle returns the ids of runs without progress for longer than timeout.
func (t *Tracker) ListIdle(timeout time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var idle []string
	now := time.Now()
	for id, r := range t.runs {
		if now.Sub(r.LastActive) > timeout {
			idle = append(idle, id)
		}
	}
	return idle
}
