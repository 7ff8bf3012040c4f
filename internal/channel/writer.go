package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrExecutionCancelled is returned for requests submitted to an
// adapter after it has been closed.
var ErrExecutionCancelled = errors.New("channel: execution cancelled")

// Writer is the capability contract shared by the synchronous and
// background channel writers.
type Writer interface {
	Start(ctx context.Context) error
	Write(ctx context.Context, value any) error
	Close() error
	NumWrites() int64
}

var (
	_ Writer = (*SynchronousWriter)(nil)
	_ Writer = (*AwaitableBackgroundWriter)(nil)
)

// SynchronousWriter writes with direct blocking calls on the caller's
// goroutine.
type SynchronousWriter struct {
	ch        *Channel
	numWrites atomic.Int64
	closed    atomic.Bool
}

// NewSynchronousWriter wraps the given output channel.
func NewSynchronousWriter(ch *Channel) *SynchronousWriter {
	return &SynchronousWriter{ch: ch}
}

// Start eagerly completes writer registration.
func (w *SynchronousWriter) Start(ctx context.Context) error {
	return w.ch.ensureRegisteredAsWriter(ctx)
}

// Write publishes one value, blocking until the slot is free.
func (w *SynchronousWriter) Write(ctx context.Context, value any) error {
	if w.closed.Load() {
		return ErrExecutionCancelled
	}
	if err := w.ch.Write(ctx, value); err != nil {
		return err
	}
	w.numWrites.Add(1)
	return nil
}

// Close closes the wrapped channel.
func (w *SynchronousWriter) Close() error {
	w.closed.Store(true)
	return w.ch.Close()
}

// NumWrites reports how many writes have completed.
func (w *SynchronousWriter) NumWrites() int64 { return w.numWrites.Load() }

type writeRequest struct {
	value any
	fut   *Future
}

// AwaitableBackgroundWriter queues writes and drains them strictly in
// submission order on a dedicated worker goroutine. A bounded queue
// depth gives writers backpressure before the slot's own backpressure
// is reached; depth zero means unbounded.
type AwaitableBackgroundWriter struct {
	ch        *Channel
	queue     *fifo[writeRequest]
	numWrites atomic.Int64
	closed    atomic.Bool
	started   atomic.Bool
}

// NewAwaitableBackgroundWriter wraps the given output channel with a
// submission queue of the given depth.
func NewAwaitableBackgroundWriter(ch *Channel, maxQueueDepth int) *AwaitableBackgroundWriter {
	return &AwaitableBackgroundWriter{ch: ch, queue: newFIFO[writeRequest](maxQueueDepth)}
}

// Start eagerly completes writer registration and launches the worker
// goroutine.
func (w *AwaitableBackgroundWriter) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("channel: background writer already started")
	}
	if err := w.ch.ensureRegisteredAsWriter(ctx); err != nil {
		w.started.Store(false)
		return err
	}
	go w.run()
	return nil
}

// The worker drains requests one at a time, so writes are applied to
// the channel in exactly the order they were submitted.
func (w *AwaitableBackgroundWriter) run() {
	for {
		req, err := w.queue.pop(context.Background())
		if err != nil {
			return
		}
		req.fut.complete(nil, w.ch.Write(context.Background(), req.value))
	}
}

// WriteAsync queues one write and returns its future. Submitting after
// Close fails immediately with ErrExecutionCancelled; the value is
// never delivered. A full bounded queue blocks until space frees or ctx
// is cancelled.
func (w *AwaitableBackgroundWriter) WriteAsync(ctx context.Context, value any) (*Future, error) {
	if w.closed.Load() {
		return nil, ErrExecutionCancelled
	}
	fut := newFuture()
	if err := w.queue.push(ctx, writeRequest{value: value, fut: fut}); err != nil {
		if errors.Is(err, errQueueClosed) {
			return nil, ErrExecutionCancelled
		}
		return nil, err
	}
	w.numWrites.Add(1)
	return fut, nil
}

// Write queues one value for delivery. The write's outcome is only
// observable through WriteAsync's future; Write itself reports queue
// admission.
func (w *AwaitableBackgroundWriter) Write(ctx context.Context, value any) error {
	_, err := w.WriteAsync(ctx, value)
	return err
}

// Close cancels everything still queued and closes the wrapped
// channel. A write already blocked inside the store resolves with the
// terminal marker the close sets.
func (w *AwaitableBackgroundWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, req := range w.queue.close() {
		req.fut.complete(nil, ErrExecutionCancelled)
	}
	return w.ch.Close()
}

// NumWrites reports how many writes have been accepted into the queue.
func (w *AwaitableBackgroundWriter) NumWrites() int64 { return w.numWrites.Load() }
