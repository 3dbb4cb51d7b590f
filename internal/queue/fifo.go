// Package queue provides the FIFO used between pipeline stages.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Get once the FIFO is closed and drained.
var ErrClosed = errors.New("queue closed")

// FIFO is a first-in-first-out queue with task acknowledgement.
//
// Every item taken with Get must be acknowledged with Done once it has been
// handled; Join blocks until all items put so far have been acknowledged.
// A capacity of zero or less makes Put block until a consumer takes the item.
type FIFO[T any] struct {
	items chan T

	mu         sync.Mutex
	unfinished int
	idle       chan struct{} // closed while unfinished == 0
	closed     bool
}

// New creates a FIFO holding up to capacity items.
func New[T any](capacity int) *FIFO[T] {
	if capacity < 0 {
		capacity = 0
	}
	idle := make(chan struct{})
	close(idle)
	return &FIFO[T]{
		items: make(chan T, capacity),
		idle:  idle,
	}
}

// Put enqueues v, blocking while the FIFO is full.
func (q *FIFO[T]) Put(ctx context.Context, v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++
	q.mu.Unlock()

	select {
	case q.items <- v:
		return nil
	case <-ctx.Done():
		q.Done()
		return ctx.Err()
	}
}

// Get dequeues the oldest item, blocking while the FIFO is empty.
func (q *FIFO[T]) Get(ctx context.Context) (T, error) {
	select {
	case v, ok := <-q.items:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done acknowledges one item previously returned by Get.
func (q *FIFO[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		panic("queue: Done called more times than items were put")
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
}

// Join blocks until every item put so far has been acknowledged.
func (q *FIFO[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Empty reports whether no item is waiting to be taken.
func (q *FIFO[T]) Empty() bool {
	return len(q.items) == 0
}

// Len returns the number of items waiting to be taken.
func (q *FIFO[T]) Len() int {
	return len(q.items)
}

// Unfinished returns the number of items put but not yet acknowledged.
func (q *FIFO[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Close stops further Puts. Items already queued can still be taken; after
// that Get returns ErrClosed. Close must not race with a blocked Put.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}
