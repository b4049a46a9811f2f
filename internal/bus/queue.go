package bus

import (
	"context"
	"sync"

	"mmhedge/pkg/exception"
)

// Queue is a bounded event queue between one or more producers and a single
// consumer goroutine.
type Queue[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Publish enqueues an event, waiting for room until ctx is done.
func (q *Queue[T]) Publish(ctx context.Context, e T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue from accepting new events. Buffered events are still
// delivered on C before it reports closed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// C exposes the receive side for consumers that select over other sources.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}
