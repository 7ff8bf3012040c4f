// Package id provides prefixed, k-sortable identifiers for slots,
// channels, and nodes.
//
// ULIDs are the single identifier format: they sort by creation time,
// and the type prefix (slot_*, chan_*, node_*) keeps logs readable when
// references cross process boundaries.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SlotID identifies a single-slot shared-memory region.
type SlotID string

// ChannelID identifies a logical channel across every process that
// holds a reference to it.
type ChannelID string

// NodeID identifies the node a process runs on.
type NodeID string

const (
	slotPrefix    = "slot"
	channelPrefix = "chan"
	nodePrefix    = "node"
)

// Generator produces ULIDs from a shared entropy source.
type Generator struct {
	entropy io.Reader
	mu      sync.Mutex // entropy readers are not safe for concurrent use
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by the given entropy source.
// Tests may pass a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

func (g *Generator) next(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	u := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return fmt.Sprintf("%s_%s", prefix, strings.ToLower(u.String()))
}

// NewSlotID generates a slot identifier.
func NewSlotID() SlotID { return SlotID(Default().next(slotPrefix)) }

// NewChannelID generates a channel identifier.
func NewChannelID() ChannelID { return ChannelID(Default().next(channelPrefix)) }

// NewNodeID generates a node identifier for processes without a
// configured identity.
func NewNodeID() NodeID { return NodeID(Default().next(nodePrefix)) }
