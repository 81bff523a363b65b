package research

import (
	"sync"

	"github.com/nichescout/nichescout/internal/store"
)

// OriginQueue holds the runs waiting for one origin (a chat, the web UI, a
// schedule). At most one drainer holds the lock, so runs of the same origin
// execute one after another.
type OriginQueue struct {
	origin  string
	pending []*store.Run
	mu      sync.Mutex
	locked  bool
}

func NewOriginQueue(origin string) *OriginQueue {
	return &OriginQueue{origin: origin}
}

func (q *OriginQueue) Enqueue(run *store.Run) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, run)
}

func (q *OriginQueue) Dequeue() (*store.Run, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}

	run := q.pending[0]
	q.pending = q.pending[1:]
	return run, true
}

func (q *OriginQueue) TryLock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

func (q *OriginQueue) Unlock() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.locked = false
}

func (q *OriginQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Remove drops a pending run. It reports whether the run was waiting here.
func (q *OriginQueue) Remove(runID string) (*store.Run, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, r := range q.pending {
		if r.ID == runID {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			return r, true
		}
	}
	return nil, false
}
