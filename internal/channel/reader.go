package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

// Reader is the capability contract shared by the synchronous and
// background channel readers. The execution strategy is chosen once at
// construction and never switched.
type Reader interface {
	Start(ctx context.Context) error
	// BeginRead performs one logical read step: one value from each
	// input channel, in channel order. There is no cross-channel
	// ordering guarantee beyond that.
	BeginRead(ctx context.Context) ([]any, error)
	EndRead(ctx context.Context) error
	Close() error
	NumReads() int64
}

var (
	_ Reader = (*SynchronousReader)(nil)
	_ Reader = (*AwaitableBackgroundReader)(nil)
)

type readerCore struct {
	channels []*Channel
	numReads atomic.Int64
	closed   atomic.Bool
}

func (r *readerCore) NumReads() int64 { return r.numReads.Load() }

func (r *readerCore) beginReadAll(ctx context.Context) ([]any, error) {
	vals := make([]any, 0, len(r.channels))
	for _, ch := range r.channels {
		v, err := ch.BeginRead(ctx)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func (r *readerCore) endReadAll(ctx context.Context) error {
	for _, ch := range r.channels {
		if err := ch.EndRead(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *readerCore) closeChannels() error {
	var first error
	for _, ch := range r.channels {
		if err := ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SynchronousReader reads one or more channels with direct blocking
// calls on the caller's goroutine.
type SynchronousReader struct {
	readerCore
}

// NewSynchronousReader wraps the given input channels.
func NewSynchronousReader(channels ...*Channel) *SynchronousReader {
	r := &SynchronousReader{}
	r.channels = channels
	return r
}

// Start is a no-op for the synchronous variant.
func (r *SynchronousReader) Start(ctx context.Context) error { return nil }

// BeginRead blocks until every input channel has delivered a value.
func (r *SynchronousReader) BeginRead(ctx context.Context) ([]any, error) {
	vals, err := r.beginReadAll(ctx)
	if err != nil {
		return nil, err
	}
	r.numReads.Add(1)
	return vals, nil
}

// EndRead releases the current value on every input channel.
func (r *SynchronousReader) EndRead(ctx context.Context) error {
	return r.endReadAll(ctx)
}

// Close closes every input channel.
func (r *SynchronousReader) Close() error {
	r.closed.Store(true)
	return r.closeChannels()
}

// AwaitableBackgroundReader moves the blocking multi-channel read onto
// a dedicated worker goroutine and surfaces each result through a
// Future. Requests and results correspond one to one, in FIFO order.
type AwaitableBackgroundReader struct {
	readerCore
	requests *fifo[*Future]
	started  atomic.Bool
}

// NewAwaitableBackgroundReader wraps the given input channels.
func NewAwaitableBackgroundReader(channels ...*Channel) *AwaitableBackgroundReader {
	r := &AwaitableBackgroundReader{requests: newFIFO[*Future](0)}
	r.channels = channels
	return r
}

// Start launches the worker goroutine.
func (r *AwaitableBackgroundReader) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("channel: background reader already started")
	}
	go r.run()
	return nil
}

// The worker serves one pending future per iteration: pull the next
// request, perform one blocking multi-channel read, fulfill it. Closing
// the adapter does not interrupt a read already in flight; that read
// resolves when the underlying slot does.
func (r *AwaitableBackgroundReader) run() {
	for {
		fut, err := r.requests.pop(context.Background())
		if err != nil {
			return
		}
		vals, rerr := r.beginReadAll(context.Background())
		if rerr == nil {
			r.numReads.Add(1)
		}
		fut.complete(vals, rerr)
	}
}

// BeginReadAsync queues one read request and returns its future.
func (r *AwaitableBackgroundReader) BeginReadAsync() *Future {
	fut := newFuture()
	if r.closed.Load() {
		fut.complete(nil, ErrExecutionCancelled)
		return fut
	}
	if err := r.requests.push(context.Background(), fut); err != nil {
		fut.complete(nil, ErrExecutionCancelled)
	}
	return fut
}

// BeginRead queues one read request and awaits it.
func (r *AwaitableBackgroundReader) BeginRead(ctx context.Context) ([]any, error) {
	return r.BeginReadAsync().Await(ctx)
}

// EndRead releases the current value on every input channel. It runs on
// the calling goroutine: release does not block while a value is held.
func (r *AwaitableBackgroundReader) EndRead(ctx context.Context) error {
	return r.endReadAll(ctx)
}

// Close cancels pending read requests and closes every input channel.
// A read already blocked inside the store resolves with the terminal
// marker the close sets.
func (r *AwaitableBackgroundReader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, fut := range r.requests.close() {
		fut.complete(nil, ErrExecutionCancelled)
	}
	return r.closeChannels()
}
