package orchestrator

import (
	"sync"
	"time"

	"github.com/orionsec/ad-guardian/internal/types"
)

// eventQueue is the unbounded ingestion queue. Push never blocks and never
// rejects; producers are not backpressured by the pipeline. Pop waits up
// to a bounded timeout so the dispatch loop can observe cancellation.
type eventQueue struct {
	mu    sync.Mutex
	items []*types.SecurityEvent
	wake  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e *types.SecurityEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop returns the oldest queued event, waiting up to timeout for one to
// arrive. The second return is false on timeout.
func (q *eventQueue) pop(timeout time.Duration) (*types.SecurityEvent, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-deadline.C:
			return nil, false
		}
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
