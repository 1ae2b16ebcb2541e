//go:build windows

package webgpu

import (
	"github.com/go-webgpu/webgpu/wgpu"
)

// retiredBuffer is a released buffer waiting for the commands queued before its release
// to be submitted.
type retiredBuffer struct {
	buffer *wgpu.Buffer
	class  uint64
}

// commandBatch accumulates encoded dispatches for a single submission.
// Instead of submitting each dispatch separately, command buffers are queued and submitted
// together on the next read, sync or when maxBatchSize is reached.
type commandBatch struct {
	pending    []*wgpu.CommandBuffer
	bindGroups []*wgpu.BindGroup
	retired    []retiredBuffer
}

// add queues an encoded dispatch and reports whether the batch is full.
func (b *commandBatch) add(cmd *wgpu.CommandBuffer, bindGroup *wgpu.BindGroup) bool {
	b.pending = append(b.pending, cmd)
	b.bindGroups = append(b.bindGroups, bindGroup)
	return len(b.pending) >= maxBatchSize
}

// retire defers the return of a buffer to the pool until the next submission.
func (b *commandBatch) retire(buffer *wgpu.Buffer, class uint64) {
	b.retired = append(b.retired, retiredBuffer{buffer: buffer, class: class})
}

// submit sends every queued command buffer at once, then recycles what they referenced.
func (b *commandBatch) submit(queue *wgpu.Queue, pool *BufferPool) {
	if len(b.pending) > 0 {
		queue.Submit(b.pending...)
		b.pending = b.pending[:0]
	}
	for _, bg := range b.bindGroups {
		bg.Release()
	}
	b.bindGroups = b.bindGroups[:0]
	for _, r := range b.retired {
		pool.Release(r.buffer, r.class)
	}
	b.retired = b.retired[:0]
}

// count returns the number of queued dispatches.
func (b *commandBatch) count() int {
	return len(b.pending)
}
