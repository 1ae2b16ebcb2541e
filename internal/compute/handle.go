package compute

import (
	"sync"
	"sync/atomic"

	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
)

// Resource is a device buffer owned by a Server.
type Resource interface {
	// Size returns the buffer size in bytes.
	Size() int
}

// memory is a reference-counted device buffer.
// A kernel may write into it in place only while refCount == 1.
type memory struct {
	resource Resource
	refCount atomic.Int32
	free     func(Resource)
	once     sync.Once
}

// Handle references a device buffer. Copies of a Handle value share the same
// reference; use Clone to take a new one.
type Handle struct {
	mem *memory
}

// NewHandle wraps a resource with a reference count of 1. free is called once
// when the last reference is released; it may be nil.
func NewHandle(resource Resource, free func(Resource)) Handle {
	mem := &memory{resource: resource, free: free}
	mem.refCount.Store(1)
	return Handle{mem: mem}
}

// IsNil reports whether the handle references nothing.
func (h Handle) IsNil() bool {
	return h.mem == nil
}

// Resource returns the underlying device buffer.
func (h Handle) Resource() Resource {
	if h.mem == nil {
		exceptions.Panicf("compute: use of a nil handle")
	}
	return h.mem.resource
}

// Size returns the buffer size in bytes.
func (h Handle) Size() int {
	return h.Resource().Size()
}

// Clone takes a new reference to the same buffer.
func (h Handle) Clone() Handle {
	h.mem.refCount.Add(1)
	return h
}

// Release drops one reference and frees the buffer when none remain.
func (h Handle) Release() {
	if h.mem == nil {
		return
	}
	if h.mem.refCount.Add(-1) == 0 && h.mem.free != nil {
		h.mem.once.Do(func() { h.mem.free(h.mem.resource) })
	}
}

// CanMut reports whether this is the only reference to the buffer, which makes
// it safe to overwrite.
func (h Handle) CanMut() bool {
	return h.mem != nil && h.mem.refCount.Load() == 1
}

// Refs returns the current number of references.
func (h Handle) Refs() int {
	if h.mem == nil {
		return 0
	}
	return int(h.mem.refCount.Load())
}

// FusionHandle is a device buffer plus the strides of the tensor stored in it.
type FusionHandle struct {
	Handle  Handle
	Strides []int
}

// IsContiguous reports whether the handle stores shape in row-major order.
func (h FusionHandle) IsContiguous(shape tensor.Shape) bool {
	return shape.IsContiguous(h.Strides)
}

// HandleContainer maps tensor ids to their device buffers. It is shared by fused and
// unfused execution, so every access goes through the mutex.
type HandleContainer struct {
	mu      sync.Mutex
	handles map[tensor.TensorID]FusionHandle
}

// NewHandleContainer returns an empty container.
func NewHandleContainer() *HandleContainer {
	return &HandleContainer{handles: make(map[tensor.TensorID]FusionHandle)}
}

// Register stores the buffer of tensor id, releasing the one it replaces.
func (c *HandleContainer) Register(id tensor.TensorID, handle FusionHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.handles[id]; ok && old.Handle.mem != handle.Handle.mem {
		old.Handle.Release()
	}
	c.handles[id] = handle
}

// Get resolves a tensor to its buffer according to status.
//
// ReadOnly returns a new reference and leaves the entry in place. ReadWrite is the last
// read of the tensor: the entry is removed and its reference handed to the caller, so the
// buffer becomes mutable when nothing else holds it. NotInit tensors have no buffer and panic.
func (c *HandleContainer) Get(id tensor.TensorID, status tensor.TensorStatus) FusionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.handles[id]
	if !ok {
		exceptions.Panicf("compute: no buffer registered for tensor %s", id)
	}
	switch status {
	case tensor.ReadOnly:
		return FusionHandle{Handle: handle.Handle.Clone(), Strides: append([]int(nil), handle.Strides...)}
	case tensor.ReadWrite:
		delete(c.handles, id)
		return handle
	default:
		exceptions.Panicf("compute: cannot read tensor %s with status %s", id, status)
		return FusionHandle{}
	}
}

// Peek returns the buffer of id without touching its reference count.
func (c *HandleContainer) Peek(id tensor.TensorID) (FusionHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.handles[id]
	return handle, ok
}

// Drop removes and releases the buffer of id.
func (c *HandleContainer) Drop(id tensor.TensorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle, ok := c.handles[id]; ok {
		handle.Handle.Release()
		delete(c.handles, id)
	}
}

// Len returns the number of registered tensors.
func (c *HandleContainer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}
