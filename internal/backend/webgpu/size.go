// Package webgpu implements a compute server on a GPU through WebGPU. Generated WGSL is
// compiled once per kernel id, buffers are pooled by size class and dispatches are
// batched until a read or a sync.
//
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings. Only Windows
// builds talk to a device; elsewhere IsAvailable reports false.
package webgpu

import "math/bits"

const (
	// minBufferSize is the smallest size class. Storage bindings must be non-empty and
	// 4-byte aligned.
	minBufferSize = 256
	// maxPoolSize is the number of idle buffers kept per size class.
	maxPoolSize = 64
	// maxBatchSize is the number of command buffers queued before an automatic submit.
	maxBatchSize = 64
)

// sizeClass rounds size up to the power of two buffers of that size are allocated with.
func sizeClass(size uint64) uint64 {
	if size <= minBufferSize {
		return minBufferSize
	}
	return 1 << bits.Len64(size-1)
}

// align4 rounds size up to a multiple of 4 bytes.
func align4(size uint64) uint64 {
	return (size + 3) &^ 3
}

// PoolStats counts buffer pool traffic.
type PoolStats struct {
	Allocated uint64
	Released  uint64
	Hits      uint64
	Misses    uint64
	Pooled    int
}

// MemoryStats represents GPU memory usage statistics.
type MemoryStats struct {
	// Bytes held by live buffers, pooled ones excluded.
	LiveBytes uint64
	// Peak of LiveBytes.
	PeakBytes uint64
	// Number of live buffers.
	LiveBuffers int64
	Pool        PoolStats
	// Pipelines compiled so far.
	Pipelines int
}

type memoryTracker struct {
	stats MemoryStats
}

func (m *memoryTracker) allocate(size uint64) {
	m.stats.LiveBytes += size
	m.stats.LiveBuffers++
	m.stats.PeakBytes = max(m.stats.PeakBytes, m.stats.LiveBytes)
}

func (m *memoryTracker) release(size uint64) {
	m.stats.LiveBytes -= min(size, m.stats.LiveBytes)
	m.stats.LiveBuffers--
}
