package channel

import (
	"context"
	"sync"
)

// Future carries the result of one background adapter request. It is
// completed exactly once by the adapter's worker goroutine and awaited
// by the submitting side without blocking anything else.
type Future struct {
	done chan struct{}
	once sync.Once
	vals []any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(vals []any, err error) {
	f.once.Do(func() {
		f.vals = vals
		f.err = err
		close(f.done)
	})
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the result is available or ctx is cancelled.
func (f *Future) Await(ctx context.Context) ([]any, error) {
	select {
	case <-f.done:
		return f.vals, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
