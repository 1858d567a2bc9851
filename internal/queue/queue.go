// Package queue carries pre-encoded request payloads from workload
// generators to connections.
package queue

import "context"

// Queue is a bounded multi-producer/multi-consumer queue of request
// payloads. Producers block when it is full; consumers never block. Ordering
// across producers is unspecified, only boundedness and liveness are
// guaranteed.
type Queue struct {
	ch chan []byte
}

// New creates a Queue holding at most capacity items.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan []byte, capacity)}
}

// Push enqueues item, blocking while the queue is full. It returns the
// context error if ctx is cancelled first; the item is never dropped
// silently.
func (q *Queue) Push(ctx context.Context, item []byte) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush enqueues item without blocking, reporting whether it was accepted.
func (q *Queue) TryPush(item []byte) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// TryPop dequeues one item without blocking. An empty queue is a transient
// condition, not an error; the caller retries on its next readiness tick.
func (q *Queue) TryPop() ([]byte, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		return nil, false
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
