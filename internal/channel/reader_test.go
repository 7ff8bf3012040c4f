package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagewise/handoff/internal/store"
)

func TestSynchronousReaderMultiChannel(t *testing.T) {
	env := testEnv("node_a")
	ctx := context.Background()

	ch1, err := New(ctx, env, nil, 1, 1024)
	require.NoError(t, err)
	ch2, err := New(ctx, env, nil, 1, 1024)
	require.NoError(t, err)

	r1, err := Attach(env, mustMarshal(t, ch1))
	require.NoError(t, err)
	r2, err := Attach(env, mustMarshal(t, ch2))
	require.NoError(t, err)

	require.NoError(t, ch1.Write(ctx, "left"))
	require.NoError(t, ch2.Write(ctx, "right"))

	reader := NewSynchronousReader(r1, r2)
	require.NoError(t, reader.Start(ctx))

	vals, err := reader.BeginRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"left", "right"}, vals)
	assert.Equal(t, int64(1), reader.NumReads())

	require.NoError(t, reader.EndRead(ctx))

	// Both slots are free again.
	require.NoError(t, ch1.Write(ctx, "left2"))
	require.NoError(t, ch2.Write(ctx, "right2"))
}

func TestBackgroundReaderServesFuturesInOrder(t *testing.T) {
	env := testEnv("node_a")
	ctx := context.Background()

	ch, err := New(ctx, env, nil, 1, 1024)
	require.NoError(t, err)
	rch, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	reader := NewAwaitableBackgroundReader(rch)
	require.NoError(t, reader.Start(ctx))

	fut1 := reader.BeginReadAsync()
	fut2 := reader.BeginReadAsync()

	require.NoError(t, ch.Write(ctx, "v1"))
	vals, err := fut1.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"v1"}, vals)
	require.NoError(t, reader.EndRead(ctx))

	require.NoError(t, ch.Write(ctx, "v2"))
	vals, err = fut2.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"v2"}, vals)
	require.NoError(t, reader.EndRead(ctx))

	assert.Equal(t, int64(2), reader.NumReads())
}

func TestBackgroundReaderBlockingFacade(t *testing.T) {
	env := testEnv("node_a")
	ctx := context.Background()

	ch, err := New(ctx, env, nil, 1, 1024)
	require.NoError(t, err)
	rch, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	reader := NewAwaitableBackgroundReader(rch)
	require.NoError(t, reader.Start(ctx))

	require.NoError(t, ch.Write(ctx, "v1"))
	vals, err := reader.BeginRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"v1"}, vals)
}

func TestBackgroundReaderCloseResolvesInFlightAndPending(t *testing.T) {
	env := testEnv("node_a")
	ctx := context.Background()

	ch, err := New(ctx, env, nil, 1, 1024)
	require.NoError(t, err)
	rch, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	reader := NewAwaitableBackgroundReader(rch)
	require.NoError(t, reader.Start(ctx))

	inflight := reader.BeginReadAsync()
	settle() // let the worker park on the empty slot
	pending := reader.BeginReadAsync()

	require.NoError(t, reader.Close())

	_, err = inflight.Await(ctx)
	assert.ErrorIs(t, err, store.ErrClosed, "in-flight read observes the terminal marker")

	_, err = pending.Await(ctx)
	assert.ErrorIs(t, err, ErrExecutionCancelled, "queued request is cancelled")
}

func TestBackgroundReaderRequestAfterClose(t *testing.T) {
	env := testEnv("node_a")
	ctx := context.Background()

	ch, err := New(ctx, env, nil, 1, 1024)
	require.NoError(t, err)
	rch, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	reader := NewAwaitableBackgroundReader(rch)
	require.NoError(t, reader.Start(ctx))
	require.NoError(t, reader.Close())

	_, err = reader.BeginReadAsync().Await(ctx)
	assert.ErrorIs(t, err, ErrExecutionCancelled)
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	fut := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := fut.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
