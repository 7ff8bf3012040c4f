package channel

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagewise/handoff/internal/shared/id"
	"github.com/stagewise/handoff/internal/store"
	"github.com/stagewise/handoff/internal/store/memstore"
)

func testEnv(node id.NodeID) Env {
	return Env{Node: node, Store: memstore.New()}
}

// fakeMirror records remote allocation calls and allocates from a
// designated store.
type fakeMirror struct {
	store *memstore.Store
	calls atomic.Int64
}

func (m *fakeMirror) AllocateReaderSlot(ctx context.Context, node id.NodeID, channel id.ChannelID, capacityBytes int64) (store.SlotRef, error) {
	m.calls.Add(1)
	return m.store.AllocateSlot(ctx, capacityBytes)
}

// settle gives a background goroutine time to park on a blocking call.
func settle() { time.Sleep(20 * time.Millisecond) }

func TestNewCoLocated(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 1024)
	require.NoError(t, err)

	assert.False(t, ch.IsRemote())
	assert.True(t, ch.writerRef.Same(ch.readerRef), "co-located channel shares one physical slot")
	assert.True(t, ch.writerRegistered, "writer registration is eager on the creator")
	assert.False(t, ch.readerRegistered)
}

func TestNewRejectsNegativeCapacity(t *testing.T) {
	_, err := New(context.Background(), testEnv("node_a"), nil, 1, -1)
	assert.ErrorContains(t, err, "non-negative")
}

func TestNewRemoteAdoptsMirroredRef(t *testing.T) {
	env := testEnv("node_a")
	mirror := &fakeMirror{store: memstore.New()}
	env.Mirror = mirror

	readers := []Peer{{ID: "stage-2", Node: "node_b"}}
	ch, err := New(context.Background(), env, readers, 1, 1024)
	require.NoError(t, err)

	assert.True(t, ch.IsRemote())
	assert.Equal(t, int64(1), mirror.calls.Load())
	assert.False(t, ch.writerRef.Same(ch.readerRef), "remote reader gets its own local slot")
}

func TestNewSameNodeReaderReusesWriterRef(t *testing.T) {
	env := testEnv("node_a")
	mirror := &fakeMirror{store: memstore.New()}
	env.Mirror = mirror

	readers := []Peer{{ID: "stage-2", Node: "node_a"}}
	ch, err := New(context.Background(), env, readers, 1, 1024)
	require.NoError(t, err)

	assert.False(t, ch.IsRemote())
	assert.Zero(t, mirror.calls.Load())
	assert.True(t, ch.writerRef.Same(ch.readerRef))
}

func TestNewRemoteWithoutMirrorFails(t *testing.T) {
	readers := []Peer{{ID: "stage-2", Node: "node_b"}}
	_, err := New(context.Background(), testEnv("node_a"), readers, 1, 1024)
	assert.ErrorContains(t, err, "no mirror client")
}

func TestWriteRejectsNonPositiveReaderCount(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 1024)
	require.NoError(t, err)

	assert.ErrorContains(t, ch.WriteN(context.Background(), "v", 0), "positive integer")
	assert.ErrorContains(t, ch.WriteN(context.Background(), "v", -2), "positive integer")
}

func TestWriteBlocksUntilEndRead(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 1024)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ch.Write(ctx, "v1"))

	var secondDone atomic.Bool
	go func() {
		if err := ch.Write(ctx, "v2"); err == nil {
			secondDone.Store(true)
		}
	}()

	reader, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	settle()
	assert.False(t, secondDone.Load())

	v, err := reader.BeginRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	settle()
	assert.False(t, secondDone.Load(), "read without release must not unblock the writer")

	require.NoError(t, reader.EndRead(ctx))
	assert.Eventually(t, secondDone.Load, time.Second, 5*time.Millisecond)
}

func TestFanOutThreeReaders(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 3, 1024)
	require.NoError(t, err)
	ctx := context.Background()

	desc := mustMarshal(t, ch)
	readers := make([]*Channel, 3)
	for i := range readers {
		readers[i], err = Attach(env, desc)
		require.NoError(t, err)
	}

	require.NoError(t, ch.Write(ctx, "v1"))

	var secondDone atomic.Bool
	go func() {
		if err := ch.Write(ctx, "v2"); err == nil {
			secondDone.Store(true)
		}
	}()

	for i, r := range readers {
		v, err := r.BeginRead(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
		require.NoError(t, r.EndRead(ctx))
		settle()
		if i < len(readers)-1 {
			assert.False(t, secondDone.Load(), "writer unblocked before all readers released")
		}
	}
	assert.Eventually(t, secondDone.Load, time.Second, 5*time.Millisecond)
}

func TestRemoteChannelForcesSingleReader(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 3, 1024)
	require.NoError(t, err)
	ctx := context.Background()

	// Hand the channel out with a remote reader node declared; the
	// writer-side process attaches it and must force the fan-out to 1.
	var desc Descriptor
	require.NoError(t, unmarshalDescriptor(mustMarshal(t, ch), &desc))
	desc.ReaderNode = "node_b"
	remote, err := Attach(env, mustMarshalDescriptor(t, desc))
	require.NoError(t, err)
	require.True(t, remote.IsRemote())

	require.NoError(t, remote.Write(ctx, "v1"))

	var secondDone atomic.Bool
	go func() {
		if err := remote.Write(ctx, "v2"); err == nil {
			secondDone.Store(true)
		}
	}()

	reader, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)
	_, err = reader.BeginRead(ctx)
	require.NoError(t, err)
	require.NoError(t, reader.EndRead(ctx))

	// One release suffices despite the configured fan-out of 3.
	assert.Eventually(t, secondDone.Load, time.Second, 5*time.Millisecond)
}

func TestWriteOnWrongNodeFailsLoudly(t *testing.T) {
	envA := testEnv("node_a")
	ch, err := New(context.Background(), envA, nil, 1, 1024)
	require.NoError(t, err)

	envB := envA
	envB.Node = "node_b"
	foreign, err := Attach(envB, mustMarshal(t, ch))
	require.NoError(t, err)

	err = foreign.Write(context.Background(), "v")
	assert.ErrorContains(t, err, "writer registration requires node")
}

func TestWriteSerializationFailure(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 1024)
	require.NoError(t, err)

	err = ch.Write(context.Background(), map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not serialize")
	assert.Contains(t, err.Error(), "chan")
}

func TestWritePayloadTooLarge(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 4)
	require.NoError(t, err)

	err = ch.Write(context.Background(), "definitely more than four bytes")
	assert.ErrorIs(t, err, store.ErrTooLarge)
}

func TestEndReadBeforeBeginReadDiscards(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 1024)
	require.NoError(t, err)
	ctx := context.Background()

	reader, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	var released atomic.Bool
	go func() {
		if err := reader.EndRead(ctx); err == nil {
			released.Store(true)
		}
	}()

	settle()
	assert.False(t, released.Load(), "release must block until a value exists")

	require.NoError(t, ch.Write(ctx, "v1"))
	assert.Eventually(t, released.Load, time.Second, 5*time.Millisecond)

	// v1 was discarded unobserved; the next read sees v2.
	require.NoError(t, ch.Write(ctx, "v2"))
	v, err := reader.BeginRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestCloseUnblocksReader(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, nil, 1, 1024)
	require.NoError(t, err)

	reader, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := reader.BeginRead(context.Background())
		errs <- err
	}()

	settle()
	require.NoError(t, ch.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, store.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader did not observe the terminal marker")
	}
}

func TestMarshalAttachResetsLatches(t *testing.T) {
	env := testEnv("node_a")
	ch, err := New(context.Background(), env, []Peer{{ID: "stage-2", Node: "node_a"}}, 2, 1024)
	require.NoError(t, err)
	require.True(t, ch.writerRegistered)

	attached, err := Attach(env, mustMarshal(t, ch))
	require.NoError(t, err)

	assert.Equal(t, ch.id, attached.id)
	assert.True(t, ch.writerRef.Same(attached.writerRef))
	assert.True(t, ch.readerRef.Same(attached.readerRef))
	assert.Equal(t, ch.writerNode, attached.writerNode)
	assert.Equal(t, ch.readerNode, attached.readerNode)
	assert.Equal(t, ch.numReaders, attached.numReaders)
	assert.Equal(t, ch.readers, attached.readers)

	assert.False(t, attached.writerRegistered, "attached instance must re-register")
	assert.False(t, attached.readerRegistered, "attached instance must re-register")
}

func TestAttachRejectsIncompleteDescriptor(t *testing.T) {
	env := testEnv("node_a")

	_, err := Attach(env, []byte(`{"writer_node":"","reader_ref":{"id":"slot_x"}}`))
	assert.ErrorContains(t, err, "no writer node")

	_, err = Attach(env, []byte(`{"writer_node":"node_a","reader_ref":{"id":""}}`))
	assert.ErrorContains(t, err, "no reader reference")
}

func TestAttachedChannelFailsOnUnknownSlot(t *testing.T) {
	envA := testEnv("node_a")
	ch, err := New(context.Background(), envA, nil, 1, 1024)
	require.NoError(t, err)

	// A different process (fresh store) holding the same descriptor
	// only learns the slot is gone at first use.
	envB := testEnv("node_a")
	stale, err := Attach(envB, mustMarshal(t, ch))
	require.NoError(t, err)

	_, err = stale.BeginRead(context.Background())
	assert.ErrorIs(t, err, store.ErrUnknownSlot)
}
