//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// bufferUsage is the usage of every pooled buffer: bound as storage, uploaded to and
// copied out of.
const bufferUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// BufferPool manages GPU buffer reuse to reduce allocation overhead.
// Buffers are grouped by power-of-two size class.
type BufferPool struct {
	device *wgpu.Device

	mu    sync.Mutex
	idle  map[uint64][]*wgpu.Buffer
	stats PoolStats
}

// NewBufferPool creates a new buffer pool for the given device.
func NewBufferPool(device *wgpu.Device) *BufferPool {
	return &BufferPool{device: device, idle: make(map[uint64][]*wgpu.Buffer)}
}

// Acquire returns a buffer of at least size bytes, reusing an idle one of the same class.
// The second result is the capacity of the buffer.
func (p *BufferPool) Acquire(size uint64) (*wgpu.Buffer, uint64) {
	class := sizeClass(size)

	p.mu.Lock()
	defer p.mu.Unlock()
	if pool := p.idle[class]; len(pool) > 0 {
		buffer := pool[len(pool)-1]
		p.idle[class] = pool[:len(pool)-1]
		p.stats.Hits++
		p.stats.Pooled--
		return buffer, class
	}

	p.stats.Misses++
	p.stats.Allocated++
	buffer := p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: bufferUsage,
		Size:  class,
	})
	return buffer, class
}

// Release returns a buffer of capacity class to the pool, or frees it when the pool is full.
func (p *BufferPool) Release(buffer *wgpu.Buffer, class uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Released++
	if len(p.idle[class]) >= maxPoolSize {
		buffer.Release()
		return
	}
	p.idle[class] = append(p.idle[class], buffer)
	p.stats.Pooled++
}

// Clear releases all pooled buffers.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for class, pool := range p.idle {
		for _, buffer := range pool {
			buffer.Release()
		}
		delete(p.idle, class)
	}
	p.stats.Pooled = 0
}

// Stats returns statistics about buffer pool usage.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
