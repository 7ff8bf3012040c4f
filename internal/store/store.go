// Package store defines the contract the channel core expects from the
// shared-memory object store.
//
// The store owns slot memory and arbitrates all cross-process access to
// it: a Put blocks until every required reader has released the previous
// value, and a Get blocks until a value is present. The channel layer
// adds no locking of its own around these calls.
package store

import (
	"context"
	"errors"

	"github.com/stagewise/handoff/internal/shared/id"
)

var (
	// ErrStoreFull indicates the store has no memory left for a slot.
	ErrStoreFull = errors.New("store: out of memory")
	// ErrTooLarge indicates a payload exceeds the slot capacity. This
	// is a caller error, not a condition the core recovers from.
	ErrTooLarge = errors.New("store: payload exceeds slot capacity")
	// ErrWouldBlock is a transient not-ready signal from a
	// non-blocking operation.
	ErrWouldBlock = errors.New("store: operation would block")
	// ErrClosed indicates the slot carries a terminal error marker.
	ErrClosed = errors.New("store: channel closed")
	// ErrUnknownSlot indicates a reference that resolves to nothing in
	// this store, e.g. after the owning process has exited.
	ErrUnknownSlot = errors.New("store: unknown slot reference")
)

// SlotRef is an opaque handle to a single fixed-capacity slot. The
// writer-side and reader-side references of a co-located channel are
// the same value.
type SlotRef struct {
	ID       id.SlotID `json:"id"`
	Capacity int64     `json:"capacity"`
}

// IsZero reports whether the reference is unresolved.
func (r SlotRef) IsZero() bool { return r.ID == "" }

// Same reports whether two references name the same slot.
func (r SlotRef) Same(o SlotRef) bool { return r.ID == o.ID }

// Reader is the local reader-side state bound by RegisterReader. It
// carries the per-process read and release cursors for one slot.
type Reader interface {
	Ref() SlotRef
}

// WriterBinding is the metadata bound by RegisterWriter.
type WriterBinding struct {
	WriterRef  SlotRef
	ReaderRef  SlotRef
	WriterNode id.NodeID
	ReaderNode id.NodeID
	// ReaderIdentity names the first reader, empty when the reader is
	// a co-located anonymous process.
	ReaderIdentity string
	NumReaders     int
}

// Store is the external collaborator contract. Implementations must
// serialize access to a given slot; blocking operations respect context
// cancellation.
type Store interface {
	// AllocateSlot reserves a fixed-capacity slot and returns its
	// reference. Fails with ErrStoreFull on exhaustion.
	AllocateSlot(ctx context.Context, capacityBytes int64) (SlotRef, error)

	// RegisterWriter binds slot metadata. Called exactly once per
	// process per slot before any Put.
	RegisterWriter(ctx context.Context, binding WriterBinding) error

	// RegisterReader binds local reader state for a slot. Called
	// exactly once per process per slot before any Get or Release.
	RegisterReader(ctx context.Context, ref SlotRef) (Reader, error)

	// Put publishes a serialized value. Blocks until the slot is free,
	// i.e. the previous value has been released by all of its required
	// readers.
	Put(ctx context.Context, writerRef SlotRef, payload []byte, numReaders int) error

	// Get blocks until a value the reader has not yet observed is
	// present, then returns its payload. A terminal error marker is
	// surfaced as ErrClosed.
	Get(ctx context.Context, r Reader) ([]byte, error)

	// Release signals that each reader is done with the current value.
	// A release with no pending value blocks until one is written,
	// then discards it.
	Release(ctx context.Context, readers ...Reader) error

	// SetError marks the slot terminal. Best effort and non-blocking:
	// implementations return ErrWouldBlock rather than wait.
	SetError(writerRef SlotRef) error
}
