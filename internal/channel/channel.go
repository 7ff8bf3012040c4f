// Package channel implements a single-slot, cross-process
// synchronization channel over a shared memory-backed object store.
//
// A writer publishes one value at a time into a fixed-capacity slot;
// readers consume it and explicitly release it before the writer may
// publish again. The single buffered slot trades throughput for bounded
// memory and deterministic backpressure.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/stagewise/handoff/internal/codec"
	"github.com/stagewise/handoff/internal/infrastructure/monitoring"
	"github.com/stagewise/handoff/internal/logging"
	"github.com/stagewise/handoff/internal/shared/id"
	"github.com/stagewise/handoff/internal/store"
)

// MirrorClient performs the remote call that makes a reader node
// allocate its own local slot reference for a logical channel.
type MirrorClient interface {
	AllocateReaderSlot(ctx context.Context, node id.NodeID, channel id.ChannelID, capacityBytes int64) (store.SlotRef, error)
}

// Env carries the process-local collaborators a channel operates
// against. A channel handed to another process is re-attached to that
// process's Env.
type Env struct {
	Node    id.NodeID
	Store   store.Store
	Codec   codec.Codec
	Mirror  MirrorClient // required only for channels with remote readers
	Log     *logging.Logger
	Metrics *monitoring.Metrics
}

func (e Env) withDefaults() (Env, error) {
	if e.Store == nil {
		return e, errors.New("channel: env requires a store")
	}
	if e.Node == "" {
		return e, errors.New("channel: env requires a node identity")
	}
	if e.Codec == nil {
		e.Codec = codec.JSON{}
	}
	if e.Log == nil {
		e.Log = logging.NewNop()
	}
	return e, nil
}

// Peer names one reader of a channel and the node it runs on.
type Peer struct {
	ID   string    `json:"id"`
	Node id.NodeID `json:"node"`
}

// Channel owns a writer-side and a reader-side reference to the same
// logical slot, plus per-process registration state. A Channel instance
// is exclusively owned by the process holding it; the slot it refers to
// is shared.
type Channel struct {
	env Env

	id            id.ChannelID
	writerRef     store.SlotRef
	readerRef     store.SlotRef
	writerNode    id.NodeID
	readerNode    id.NodeID
	readers       []Peer
	numReaders    int
	capacityBytes int64

	// One-shot latches: once true they never reset for the lifetime of
	// this instance. A process that re-attaches the channel starts
	// unregistered again.
	writerRegistered bool
	readerRegistered bool
	readerReg        store.Reader
}

// New constructs a channel on the writer side: it allocates the slot,
// mirrors it to a remote reader node when needed, and eagerly completes
// writer registration. A channel is never handed out half-constructed.
func New(ctx context.Context, env Env, readers []Peer, numReaders int, capacityBytes int64) (*Channel, error) {
	env, err := env.withDefaults()
	if err != nil {
		return nil, err
	}
	if capacityBytes < 0 {
		return nil, fmt.Errorf("channel: buffer capacity must be non-negative, got %d", capacityBytes)
	}

	c := &Channel{
		env:           env,
		id:            id.NewChannelID(),
		writerNode:    env.Node,
		readers:       readers,
		numReaders:    numReaders,
		capacityBytes: capacityBytes,
	}

	c.writerRef, err = env.Store.AllocateSlot(ctx, capacityBytes)
	if err != nil {
		if errors.Is(err, store.ErrStoreFull) {
			env.Log.Info("slot allocation failed: store full of pinned objects or value too large",
				zap.String("channel", string(c.id)))
		}
		return nil, err
	}

	if len(readers) == 0 {
		// Reader and writer are co-located on the same node and share
		// the physical slot.
		c.readerNode = c.writerNode
		c.readerRef = c.writerRef
	} else {
		c.readerNode = readers[0].Node
		if c.IsRemote() {
			if env.Mirror == nil {
				return nil, fmt.Errorf("channel: reader on node %s is remote but no mirror client is configured", c.readerNode)
			}
			// The reader node allocates its own local reference for
			// the same logical channel. A failure here is surfaced
			// as-is: there is no retry or fallback.
			c.readerRef, err = env.Mirror.AllocateReaderSlot(ctx, c.readerNode, c.id, capacityBytes)
			if err != nil {
				return nil, err
			}
		} else {
			c.readerRef = c.writerRef
		}
	}

	if err := c.ensureRegisteredAsWriter(ctx); err != nil {
		return nil, err
	}
	if c.readerRef.IsZero() {
		return nil, errors.New("channel: constructed without a reader reference")
	}

	env.Metrics.ChannelOpened(capacityBytes)
	return c, nil
}

// ID returns the logical channel identity.
func (c *Channel) ID() id.ChannelID { return c.id }

// IsRemote reports whether the writer and reader live on different
// nodes.
func (c *Channel) IsRemote() bool { return c.writerNode != c.readerNode }

// ensureRegisteredAsWriter lazily completes the writer half of the
// registration handshake. Idempotent after the first successful call
// within a process.
func (c *Channel) ensureRegisteredAsWriter(ctx context.Context) error {
	if c.writerRegistered {
		return nil
	}
	if c.env.Node != c.writerNode {
		// Cross-node writer registration is unimplemented; fail loudly
		// rather than degrade.
		return fmt.Errorf("channel: writer registration requires node %s, this process is on %s", c.writerNode, c.env.Node)
	}
	if c.readerRef.IsZero() {
		return errors.New("channel: reader reference must be resolved before writer registration")
	}

	identity := ""
	if len(c.readers) > 0 {
		identity = c.readers[0].ID
	}
	err := c.env.Store.RegisterWriter(ctx, store.WriterBinding{
		WriterRef:      c.writerRef,
		ReaderRef:      c.readerRef,
		WriterNode:     c.writerNode,
		ReaderNode:     c.readerNode,
		ReaderIdentity: identity,
		NumReaders:     c.numReaders,
	})
	if err != nil {
		return err
	}
	c.writerRegistered = true
	return nil
}

// ensureRegisteredAsReader lazily binds this process's reader state.
// Always callable regardless of node.
func (c *Channel) ensureRegisteredAsReader(ctx context.Context) error {
	if c.readerRegistered {
		return nil
	}
	reg, err := c.env.Store.RegisterReader(ctx, c.readerRef)
	if err != nil {
		return err
	}
	c.readerReg = reg
	c.readerRegistered = true
	return nil
}

// Write publishes a value with the channel's configured fan-out.
// It blocks until the previous value, if any, has been released by all
// of its required readers.
func (c *Channel) Write(ctx context.Context, value any) error {
	return c.WriteN(ctx, value, c.numReaders)
}

// WriteN publishes a value that must be released by numReaders distinct
// readers before the next write may proceed. Remote channels support
// exactly one outstanding reader, so the count is forced to 1 there.
func (c *Channel) WriteN(ctx context.Context, value any, numReaders int) error {
	if numReaders <= 0 {
		return fmt.Errorf("channel: num readers must be a positive integer, got %d", numReaders)
	}
	if c.IsRemote() {
		numReaders = 1
	}

	if err := c.ensureRegisteredAsWriter(ctx); err != nil {
		return err
	}

	payload, err := c.env.Codec.Marshal(value)
	if err != nil {
		c.env.Metrics.WriteError("serialization")
		return err
	}

	start := time.Now()
	err = c.env.Store.Put(ctx, c.writerRef, payload, numReaders)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrWouldBlock):
		// Transient not-ready signal, expected control flow.
		err = nil
	case errors.Is(err, store.ErrStoreFull), errors.Is(err, store.ErrTooLarge):
		c.env.Log.Error("write rejected by store",
			zap.String("channel", string(c.id)),
			zap.Error(err),
		)
		c.env.Metrics.WriteError("exhaustion")
		return err
	default:
		c.env.Metrics.WriteError("store")
		return err
	}

	c.env.Metrics.ObserveWrite(time.Since(start))
	return nil
}

// BeginRead blocks until a value this process has not yet observed is
// available, then returns it deserialized. Calling BeginRead again
// before EndRead blocks until the next value is written; the previous
// value is not re-delivered.
func (c *Channel) BeginRead(ctx context.Context) (any, error) {
	if err := c.ensureRegisteredAsReader(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	payload, err := c.env.Store.Get(ctx, c.readerReg)
	if err != nil {
		return nil, err
	}
	value, err := c.env.Codec.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	c.env.Metrics.ObserveRead(time.Since(start))
	return value, nil
}

// EndRead releases the current slot value for this reader. Called
// before any BeginRead it blocks until a value exists and discards it
// unobserved. Context cancellation is the caller's escape hatch.
func (c *Channel) EndRead(ctx context.Context) error {
	if err := c.ensureRegisteredAsReader(ctx); err != nil {
		return err
	}
	if err := c.env.Store.Release(ctx, c.readerReg); err != nil {
		return err
	}
	c.env.Metrics.ObserveRelease()
	return nil
}

// Close sets the terminal error marker on the writer-side slot
// reference. Non-blocking and best effort: a busy slot is logged and
// abandoned, not escalated. Readers blocked on the slot observe the
// marker instead of a value.
func (c *Channel) Close() error {
	c.env.Log.Debug("setting error bit on channel", zap.String("channel", string(c.id)))
	if err := c.env.Store.SetError(c.writerRef); err != nil {
		if errors.Is(err, store.ErrWouldBlock) {
			c.env.Log.Info("could not close channel: slot busy",
				zap.String("channel", string(c.id)))
			return nil
		}
		return err
	}
	return nil
}

// Descriptor is the serialized form of a channel, suitable for handing
// to another process. Registration latches are not part of it: an
// attached instance starts unregistered.
type Descriptor struct {
	Channel       id.ChannelID  `json:"channel"`
	WriterRef     store.SlotRef `json:"writer_ref"`
	ReaderRef     store.SlotRef `json:"reader_ref"`
	WriterNode    id.NodeID     `json:"writer_node"`
	ReaderNode    id.NodeID     `json:"reader_node"`
	Readers       []Peer        `json:"readers,omitempty"`
	NumReaders    int           `json:"num_readers"`
	CapacityBytes int64         `json:"capacity_bytes"`
}

// Marshal serializes the channel for transfer to another process. A
// channel without a resolved reader reference cannot be transferred.
func (c *Channel) Marshal() ([]byte, error) {
	if c.readerRef.IsZero() {
		return nil, errors.New("channel: cannot serialize before the reader reference is resolved")
	}
	return sonic.Marshal(Descriptor{
		Channel:       c.id,
		WriterRef:     c.writerRef,
		ReaderRef:     c.readerRef,
		WriterNode:    c.writerNode,
		ReaderNode:    c.readerNode,
		Readers:       c.readers,
		NumReaders:    c.numReaders,
		CapacityBytes: c.capacityBytes,
	})
}

// Attach reconstructs a transferred channel against this process's Env.
// The new instance carries all references and node identities forward
// but starts with both registration latches unset; its validity is only
// known at first use.
func Attach(env Env, data []byte) (*Channel, error) {
	env, err := env.withDefaults()
	if err != nil {
		return nil, err
	}

	var desc Descriptor
	if err := sonic.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("channel: bad descriptor: %w", err)
	}
	if desc.WriterNode == "" {
		return nil, errors.New("channel: descriptor has no writer node")
	}
	if desc.ReaderRef.IsZero() {
		return nil, errors.New("channel: descriptor has no reader reference")
	}

	return &Channel{
		env:           env,
		id:            desc.Channel,
		writerRef:     desc.WriterRef,
		readerRef:     desc.ReaderRef,
		writerNode:    desc.WriterNode,
		readerNode:    desc.ReaderNode,
		readers:       desc.Readers,
		numReaders:    desc.NumReaders,
		capacityBytes: desc.CapacityBytes,
	}, nil
}
