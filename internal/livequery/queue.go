package livequery

import (
	"sync"

	"github.com/roach88/livegraph/internal/graph"
)

// snapshotQueue is the per-subscription FIFO of committed snapshots
// waiting to be recomputed against.
//
// The queue is unbounded so the writer never blocks on a slow
// subscriber. It signals through a channel so the subscription goroutine
// can wait on it alongside ctx.Done().
type snapshotQueue struct {
	mu     sync.Mutex
	items  []*graph.Snapshot
	closed bool
	signal chan struct{} // buffered, size 1
}

func newSnapshotQueue() *snapshotQueue {
	return &snapshotQueue{
		items:  make([]*graph.Snapshot, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a snapshot to the back of the queue. Safe from any
// goroutine. Returns false if the queue is closed.
func (q *snapshotQueue) Enqueue(s *graph.Snapshot) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// DrainLatest empties the queue and returns its newest snapshot. Every
// snapshot is a complete commit, so skipping older ones never exposes a
// partial transaction.
func (q *snapshotQueue) DrainLatest() (*graph.Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	latest := q.items[len(q.items)-1]
	clear(q.items)
	q.items = q.items[:0]
	return latest, true
}

// Wait returns a channel that signals when snapshots may be available.
// It is closed when the queue is closed.
func (q *snapshotQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *snapshotQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes any waiter and rejects further snapshots.
func (q *snapshotQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
