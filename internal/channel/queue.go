package channel

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("channel: queue closed")

// fifo is the submission queue between adapter callers and the single
// background worker goroutine. A depth of zero or less means unbounded;
// a bounded queue makes push block, giving writers backpressure before
// the slot's own backpressure is reached.
type fifo[T any] struct {
	mu     sync.Mutex
	items  []T
	depth  int
	closed bool
	notify chan struct{} // closed and replaced on every state change
}

func newFIFO[T any](depth int) *fifo[T] {
	return &fifo[T]{depth: depth, notify: make(chan struct{})}
}

func (q *fifo[T]) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// push appends an item, blocking while a bounded queue is full.
func (q *fifo[T]) push(ctx context.Context, item T) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return errQueueClosed
		}
		if q.depth <= 0 || len(q.items) < q.depth {
			q.items = append(q.items, item)
			q.wake()
			q.mu.Unlock()
			return nil
		}
		ch := q.notify
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		q.mu.Lock()
	}
}

// pop removes the oldest item, blocking while the queue is empty. It
// returns errQueueClosed once the queue is closed.
func (q *fifo[T]) pop(ctx context.Context) (T, error) {
	var zero T
	q.mu.Lock()
	for {
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.wake()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, errQueueClosed
		}
		ch := q.notify
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		q.mu.Lock()
	}
}

// close marks the queue closed and returns everything still pending so
// the caller can cancel it.
func (q *fifo[T]) close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.wake()
	return pending
}
