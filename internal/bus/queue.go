package bus

import (
	"context"
	"sync"
	"time"

	"quoter/pkg/exception"
)

var (
	ErrQueueFull   = exception.ErrQueueFull
	ErrQueueClosed = exception.ErrQueueClosed
)

// Queue is a bounded, non-blocking queue. Any number of goroutines may publish; one consumer
// drains it with Receive or Run.
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

// TryPublish enqueues v without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new values. Buffered values can still be received.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Drained reports whether the queue is closed and every buffered value was received.
func (q *Queue[T]) Drained() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed && len(q.ch) == 0
}

// Receive waits up to timeout for a value. A zero timeout only takes what is already buffered.
func (q *Queue[T]) Receive(timeout time.Duration) (T, bool) {
	var zero T
	if timeout <= 0 {
		select {
		case v, ok := <-q.ch:
			return v, ok
		default:
			return zero, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-q.ch:
		return v, ok
	case <-timer.C:
		return zero, false
	}
}

// Run consumes values until the context is done or the queue is closed and drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
