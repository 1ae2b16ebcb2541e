//go:build windows

package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/go-webgpu/webgpu/wgpu"
	"k8s.io/klog/v2"
)

func check(name string, err error) {
	if err != nil {
		panic(name + " error: " + err.Error())
	}
}

// gpuBuffer is a device allocation of capacity bytes, of which size are in use.
type gpuBuffer struct {
	buffer   *wgpu.Buffer
	size     uint64
	capacity uint64
}

// Size implements compute.Resource.
func (b *gpuBuffer) Size() int { return int(b.size) } //nolint:gosec // sizes come from int

// bindingSize is the byte range bound to the shader; arrayLength in WGSL derives from it.
func (b *gpuBuffer) bindingSize() uint64 {
	return max(align4(b.size), 4)
}

// pipeline is a compiled kernel.
type pipeline struct {
	shader  *wgpu.ShaderModule
	compute *wgpu.ComputePipeline
}

// Server executes generated kernels on a GPU.
type Server struct {
	instance    *wgpu.Instance
	adapter     *wgpu.Adapter
	device      *wgpu.Device
	queue       *wgpu.Queue
	adapterInfo wgpu.AdapterInfo

	mu        sync.Mutex
	pipelines map[string]*pipeline
	pool      *BufferPool
	batch     commandBatch
	memory    memoryTracker
}

// New creates a server on the default high-performance adapter.
// Returns an error if WebGPU is not available or initialization fails.
func New() (server *Server, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			server = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}
	adapterInfo := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	klog.V(1).Infof("webgpu: using adapter %+v", adapterInfo)
	return &Server{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		adapterInfo: adapterInfo,
		pipelines:   make(map[string]*pipeline),
		pool:        NewBufferPool(device),
	}, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name implements compute.Server.
func (s *Server) Name() string { return "webgpu" }

// AdapterInfo returns information about the GPU adapter.
func (s *Server) AdapterInfo() wgpu.AdapterInfo { return s.adapterInfo }

// Create implements compute.Server. The buffer is uploaded through a mapping at creation.
func (s *Server) Create(data []byte) compute.Handle {
	size := uint64(len(data))
	class := sizeClass(size)
	buffer := s.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            bufferUsage,
		Size:             class,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, class)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), class)
	copy(mappedSlice, data)
	buffer.Unmap()

	return s.track(&gpuBuffer{buffer: buffer, size: size, capacity: class})
}

// Empty implements compute.Server. The buffer comes from the pool when one of its size
// class is idle.
func (s *Server) Empty(size int) compute.Handle {
	buffer, class := s.pool.Acquire(uint64(size)) //nolint:gosec // size is non-negative
	return s.track(&gpuBuffer{buffer: buffer, size: uint64(size), capacity: class})
}

func (s *Server) track(b *gpuBuffer) compute.Handle {
	s.mu.Lock()
	s.memory.allocate(b.capacity)
	s.mu.Unlock()
	return compute.NewHandle(b, s.free)
}

// free retires a buffer. Dispatches queued before the release may still bind it, so it
// goes back to the pool only after they are submitted.
func (s *Server) free(r compute.Resource) {
	b := r.(*gpuBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory.release(b.capacity)
	s.batch.retire(b.buffer, b.capacity)
}

// pipeline returns the compiled pipeline of kernel, compiling its WGSL on first use.
func (s *Server) pipeline(kernel compute.Kernel) *pipeline {
	if p, ok := s.pipelines[kernel.ID()]; ok {
		return p
	}
	shader := s.device.CreateShaderModuleWGSL(kernel.Source())
	p := &pipeline{
		shader:  shader,
		compute: s.device.CreateComputePipelineSimple(nil, shader, "main"),
	}
	s.pipelines[kernel.ID()] = p
	klog.V(1).Infof("webgpu: compiled %s (%d pipelines)", kernel.ID(), len(s.pipelines))
	return p
}

// Execute implements compute.Server. The dispatch is encoded now and submitted with the
// rest of the batch.
func (s *Server) Execute(kernel compute.Kernel, handles []compute.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pipeline(kernel)
	entries := make([]wgpu.BindGroupEntry, len(handles))
	for i, h := range handles {
		b := h.Resource().(*gpuBuffer)
		entries[i] = wgpu.BufferBindingEntry(uint32(i), b.buffer, 0, b.bindingSize()) //nolint:gosec // few bindings
	}
	bindGroup := s.device.CreateBindGroupSimple(p.compute.GetBindGroupLayout(0), entries)

	encoder := s.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, bindGroup, nil)
	wg := kernel.WorkGroup()
	pass.DispatchWorkgroups(wg.X, wg.Y, wg.Z)
	pass.End()

	if s.batch.add(encoder.Finish(nil), bindGroup) {
		s.batch.submit(s.queue, s.pool)
	}
}

// Read implements compute.Server. It submits the pending batch and copies the buffer
// through a staging buffer, since storage buffers can't be mapped directly.
func (s *Server) Read(handle compute.Handle) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.submit(s.queue, s.pool)

	b := handle.Resource().(*gpuBuffer)
	size := align4(b.size)
	if size == 0 {
		return nil
	}
	data, err := s.readBuffer(b.buffer, size)
	check("readBuffer", err)
	return data[:b.size]
}

func (s *Server) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := s.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := s.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	s.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(s.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mapped)
	staging.Unmap()
	return result, nil
}

// Sync implements compute.Server. Mapping a buffer completes only after every previously
// submitted command, so a one-word read acts as a fence.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.submit(s.queue, s.pool)

	fence, class := s.pool.Acquire(4)
	_, err := s.readBuffer(fence, 4)
	s.pool.Release(fence, class)
	check("Sync", err)
}

// Pending returns the number of dispatches encoded but not yet submitted.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch.count()
}

// MemoryStats returns current GPU memory usage statistics.
func (s *Server) MemoryStats() MemoryStats {
	s.mu.Lock()
	stats := s.memory.stats
	stats.Pipelines = len(s.pipelines)
	s.mu.Unlock()
	stats.Pool = s.pool.Stats()
	return stats
}

// Release releases all WebGPU resources. Buffers still referenced by handles must not be
// used afterwards.
func (s *Server) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch.submit(s.queue, s.pool)
	s.pool.Clear()
	for _, p := range s.pipelines {
		p.compute.Release()
		p.shader.Release()
	}
	s.pipelines = nil
	s.queue.Release()
	s.device.Release()
	s.adapter.Release()
	s.instance.Release()
}
