// Package memstore is an in-process implementation of the store
// contract, used by co-located pipelines and the test suite.
//
// Each slot is a versioned single-value state machine: a Put installs
// version N and arms a release counter; readers track the last version
// they observed and released, so a value is delivered at most once per
// reader and the writer unblocks only after the full fan-out has
// released. Blocking is implemented with broadcast channels that are
// closed and replaced on every state change, which keeps waits
// cancellable through the caller's context.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stagewise/handoff/internal/logging"
	"github.com/stagewise/handoff/internal/shared/id"
	"github.com/stagewise/handoff/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory slot store.
type Store struct {
	mu        sync.Mutex
	slots     map[id.SlotID]*slot
	budget    int64 // 0 = unlimited
	allocated int64
	log       *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithBudget caps total slot capacity the store will allocate.
func WithBudget(bytes int64) Option {
	return func(s *Store) { s.budget = bytes }
}

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		slots: make(map[id.SlotID]*slot),
		log:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type slot struct {
	mu       sync.Mutex
	notify   chan struct{} // closed and replaced on every state change
	capacity int64

	payload   []byte
	version   uint64 // 0 = never written
	remaining int    // releases outstanding for the current value
	hasValue  bool
	failed    bool

	writerBound bool
	binding     store.WriterBinding
}

// broadcast wakes every waiter. Callers hold s.mu.
func (s *slot) broadcast() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// wait blocks until the slot state changes or ctx is done. Callers hold
// s.mu; it is held again on return.
func (s *slot) wait(ctx context.Context) error {
	ch := s.notify
	s.mu.Unlock()
	select {
	case <-ch:
		s.mu.Lock()
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		return ctx.Err()
	}
}

// reader holds the per-registration read/release cursors.
type reader struct {
	s   *slot
	ref store.SlotRef

	// Guarded by s.mu.
	readVersion    uint64
	releaseVersion uint64
}

func (r *reader) Ref() store.SlotRef { return r.ref }

// AllocateSlot reserves a slot. Fails with ErrStoreFull once the
// configured budget is exceeded.
func (s *Store) AllocateSlot(ctx context.Context, capacityBytes int64) (store.SlotRef, error) {
	if capacityBytes < 0 {
		return store.SlotRef{}, fmt.Errorf("slot capacity must be non-negative, got %d", capacityBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.budget > 0 && s.allocated+capacityBytes > s.budget {
		s.log.Warn("slot allocation rejected",
			zap.Int64("requested", capacityBytes),
			zap.Int64("allocated", s.allocated),
			zap.Int64("budget", s.budget),
		)
		return store.SlotRef{}, store.ErrStoreFull
	}

	ref := store.SlotRef{ID: id.NewSlotID(), Capacity: capacityBytes}
	s.slots[ref.ID] = &slot{
		notify:   make(chan struct{}),
		capacity: capacityBytes,
	}
	s.allocated += capacityBytes

	s.log.Debug("slot allocated", zap.String("slot", string(ref.ID)), zap.Int64("capacity", capacityBytes))
	return ref, nil
}

func (s *Store) lookup(refID id.SlotID) (*slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[refID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownSlot, refID)
	}
	return sl, nil
}

// RegisterWriter binds writer-side metadata to the slot named by the
// writer reference. The reader reference may live in another store.
func (s *Store) RegisterWriter(ctx context.Context, binding store.WriterBinding) error {
	sl, err := s.lookup(binding.WriterRef.ID)
	if err != nil {
		return err
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.writerBound = true
	sl.binding = binding
	return nil
}

// RegisterReader binds fresh read/release cursors for the slot. Each
// registration is an independent reader identity.
func (s *Store) RegisterReader(ctx context.Context, ref store.SlotRef) (store.Reader, error) {
	sl, err := s.lookup(ref.ID)
	if err != nil {
		return nil, err
	}
	return &reader{s: sl, ref: ref}, nil
}

// Put publishes a payload, blocking until the previous value has been
// fully released.
func (s *Store) Put(ctx context.Context, writerRef store.SlotRef, payload []byte, numReaders int) error {
	sl, err := s.lookup(writerRef.ID)
	if err != nil {
		return err
	}
	if numReaders <= 0 {
		return fmt.Errorf("num readers must be positive, got %d", numReaders)
	}
	if int64(len(payload)) > sl.capacity {
		return fmt.Errorf("payload is %d bytes, slot holds %d: %w", len(payload), sl.capacity, store.ErrTooLarge)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.writerBound {
		return fmt.Errorf("slot %s has no registered writer", writerRef.ID)
	}

	for sl.hasValue {
		if sl.failed {
			return store.ErrClosed
		}
		if err := sl.wait(ctx); err != nil {
			return err
		}
	}
	if sl.failed {
		return store.ErrClosed
	}

	sl.payload = append([]byte(nil), payload...)
	sl.version++
	sl.remaining = numReaders
	sl.hasValue = true
	sl.broadcast()
	return nil
}

// Get blocks until a value this reader has not observed is present.
func (s *Store) Get(ctx context.Context, r store.Reader) ([]byte, error) {
	rd, ok := r.(*reader)
	if !ok {
		return nil, fmt.Errorf("reader was not registered with this store")
	}

	sl := rd.s
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for {
		if sl.failed {
			return nil, store.ErrClosed
		}
		if sl.hasValue && sl.version > rd.readVersion {
			rd.readVersion = sl.version
			return append([]byte(nil), sl.payload...), nil
		}
		if err := sl.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Release marks each reader done with the current value. A reader that
// never observed the value still consumes its copy: the version is
// skipped for subsequent Gets on that registration.
func (s *Store) Release(ctx context.Context, readers ...store.Reader) error {
	for _, r := range readers {
		rd, ok := r.(*reader)
		if !ok {
			return fmt.Errorf("reader was not registered with this store")
		}
		if err := s.releaseOne(ctx, rd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) releaseOne(ctx context.Context, rd *reader) error {
	sl := rd.s
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for {
		if sl.failed {
			return store.ErrClosed
		}
		if sl.hasValue && sl.version > rd.releaseVersion {
			break
		}
		if err := sl.wait(ctx); err != nil {
			return err
		}
	}

	rd.releaseVersion = sl.version
	if sl.version > rd.readVersion {
		// Release before read: the value is discarded, not re-delivered.
		rd.readVersion = sl.version
	}

	sl.remaining--
	if sl.remaining <= 0 {
		sl.payload = nil
		sl.hasValue = false
		sl.broadcast()
	}
	return nil
}

// SetError marks the slot terminal. Non-blocking: if the slot lock is
// contended the call reports ErrWouldBlock instead of waiting.
func (s *Store) SetError(writerRef store.SlotRef) error {
	sl, err := s.lookup(writerRef.ID)
	if err != nil {
		return err
	}

	if !sl.mu.TryLock() {
		return store.ErrWouldBlock
	}
	defer sl.mu.Unlock()

	sl.failed = true
	sl.broadcast()
	return nil
}
