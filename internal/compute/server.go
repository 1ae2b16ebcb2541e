// Package compute is the boundary between the fusion core and a device: buffer
// handles, kernels, the client that serializes access to a device server and the
// autotuner.
package compute

import (
	"sync"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// Server is one device. Implementations are not required to be safe for
// concurrent use; Client serializes calls.
type Server interface {
	// Name identifies the device in logs and autotune cache keys.
	Name() string
	// Create uploads data into a new buffer.
	Create(data []byte) Handle
	// Empty allocates an uninitialized buffer of size bytes.
	Empty(size int) Handle
	// Execute enqueues kernel over handles, bound in order.
	Execute(kernel Kernel, handles []Handle)
	// Read waits for pending work and returns the buffer content.
	Read(handle Handle) []byte
	// Sync waits until every enqueued kernel has completed.
	Sync()
}

// Stats counts device traffic through a Client.
type Stats struct {
	Allocations    int
	AllocatedBytes uint64
	Uploads        int
	UploadedBytes  uint64
	Dispatches     int
	Reads          int
}

// Client is the single-writer entry point to a Server.
type Client struct {
	mu     sync.Mutex
	server Server
	stats  Stats
}

// NewClient wraps server.
func NewClient(server Server) *Client {
	return &Client{server: server}
}

// Name returns the device name.
func (c *Client) Name() string {
	return c.server.Name()
}

// Create uploads data into a new buffer.
func (c *Client) Create(data []byte) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Uploads++
	c.stats.UploadedBytes += uint64(len(data))
	if klog.V(2).Enabled() {
		klog.Infof("%s: upload %s", c.server.Name(), humanize.Bytes(uint64(len(data))))
	}
	return c.server.Create(data)
}

// Empty allocates a buffer of size bytes.
func (c *Client) Empty(size int) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Allocations++
	c.stats.AllocatedBytes += uint64(size)
	if klog.V(2).Enabled() {
		klog.Infof("%s: allocate %s", c.server.Name(), humanize.Bytes(uint64(size)))
	}
	return c.server.Empty(size)
}

// Execute enqueues kernel over handles.
func (c *Client) Execute(kernel Kernel, handles []Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Dispatches++
	c.server.Execute(kernel, handles)
}

// Read returns the content of handle once every pending kernel has run.
func (c *Client) Read(handle Handle) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reads++
	return c.server.Read(handle)
}

// Sync waits for the device queue to drain.
func (c *Client) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server.Sync()
}

// Stats returns a snapshot of the traffic counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
