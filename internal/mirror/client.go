package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/stagewise/handoff/internal/shared/id"
	"github.com/stagewise/handoff/internal/store"
)

// Directory resolves a node identity to the base URL of its mirror
// service. Node discovery itself lives outside this core.
type Directory interface {
	Lookup(node id.NodeID) (string, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(node id.NodeID) (string, error)

// Lookup implements Directory.
func (f DirectoryFunc) Lookup(node id.NodeID) (string, error) { return f(node) }

// Client calls remote mirror services. Registration is a one-time
// handshake: a failed call is surfaced as-is, never retried.
type Client struct {
	dir  Directory
	http *resty.Client
}

// NewClient creates a mirror client over the given directory.
func NewClient(dir Directory) *Client {
	return &Client{
		dir: dir,
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(0),
	}
}

// AllocateReaderSlot asks the reader's node to allocate a local slot
// reference for the logical channel and returns it.
func (c *Client) AllocateReaderSlot(ctx context.Context, node id.NodeID, channel id.ChannelID, capacityBytes int64) (store.SlotRef, error) {
	base, err := c.dir.Lookup(node)
	if err != nil {
		return store.SlotRef{}, fmt.Errorf("resolve mirror for node %s: %w", node, err)
	}

	var out AllocateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetBody(AllocateRequest{
			ChannelID:     string(channel),
			CapacityBytes: capacityBytes,
		}).
		SetResult(&out).
		Post(base + "/v1/slots")
	if err != nil {
		return store.SlotRef{}, fmt.Errorf("mirror call to node %s failed: %w", node, err)
	}
	if resp.IsError() {
		return store.SlotRef{}, fmt.Errorf("mirror on node %s rejected allocation: %s", node, resp.String())
	}
	if out.Ref.IsZero() {
		return store.SlotRef{}, fmt.Errorf("mirror on node %s returned no slot reference", node)
	}
	return out.Ref, nil
}
