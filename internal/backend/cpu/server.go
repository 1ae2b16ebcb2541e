// Package cpu implements a compute server on host memory. Generated kernels are
// interpreted invocation by invocation, so fused and unfused programs run without a GPU.
package cpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/parallel"
)

// buffer is a host allocation.
type buffer struct {
	data []byte
}

// Size implements compute.Resource.
func (b *buffer) Size() int { return len(b.data) }

// Server executes kernels on the CPU.
type Server struct {
	cfg parallel.Config

	mu        sync.Mutex
	live      int
	liveBytes int
}

// NewServer returns a server splitting invocations across goroutines as cfg allows.
func NewServer(cfg parallel.Config) *Server {
	return &Server{cfg: cfg}
}

// Name implements compute.Server.
func (s *Server) Name() string { return "cpu" }

// Create implements compute.Server.
func (s *Server) Create(data []byte) compute.Handle {
	b := &buffer{data: append([]byte(nil), data...)}
	return s.track(b)
}

// Empty implements compute.Server.
func (s *Server) Empty(size int) compute.Handle {
	return s.track(&buffer{data: make([]byte, size)})
}

func (s *Server) track(b *buffer) compute.Handle {
	s.mu.Lock()
	s.live++
	s.liveBytes += len(b.data)
	s.mu.Unlock()
	return compute.NewHandle(b, func(r compute.Resource) {
		s.mu.Lock()
		s.live--
		s.liveBytes -= r.Size()
		s.mu.Unlock()
	})
}

// Live returns the number and total size of buffers not yet released.
func (s *Server) Live() (count, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live, s.liveBytes
}

// Execute implements compute.Server. It runs synchronously.
func (s *Server) Execute(kernel compute.Kernel, handles []compute.Handle) {
	buffers := make([][]byte, len(handles))
	for i, h := range handles {
		buffers[i] = h.Resource().(*buffer).data
	}
	switch k := kernel.(type) {
	case compute.ShaderKernel:
		interpret(k.Src.Shader(), buffers, s.cfg)
	case compute.StaticKernel:
		if k.Host == nil {
			panic(fmt.Sprintf("cpu: kernel %s has no host implementation", k.Name))
		}
		k.Host(buffers)
	default:
		panic(fmt.Sprintf("cpu: unsupported kernel type %T", kernel))
	}
}

// Read implements compute.Server.
func (s *Server) Read(handle compute.Handle) []byte {
	return append([]byte(nil), handle.Resource().(*buffer).data...)
}

// Sync implements compute.Server. Execution is synchronous, so there is nothing to wait for.
func (s *Server) Sync() {}
