//go:build !windows

package webgpu

import (
	"github.com/born-ml/fusion/internal/compute"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Server is unavailable on this platform; New always fails.
type Server struct{}

// New reports that WebGPU is not supported on this platform.
func New() (*Server, error) {
	return nil, errors.New("webgpu: only supported on windows builds")
}

// IsAvailable reports false on this platform.
func IsAvailable() bool { return false }

// Name implements compute.Server.
func (s *Server) Name() string { return "webgpu" }

// Create implements compute.Server.
func (s *Server) Create([]byte) compute.Handle { return unavailable() }

// Empty implements compute.Server.
func (s *Server) Empty(int) compute.Handle { return unavailable() }

// Execute implements compute.Server.
func (s *Server) Execute(compute.Kernel, []compute.Handle) { unavailable() }

// Read implements compute.Server.
func (s *Server) Read(compute.Handle) []byte {
	unavailable()
	return nil
}

// Sync implements compute.Server.
func (s *Server) Sync() { unavailable() }

// Pending returns 0.
func (s *Server) Pending() int { return 0 }

// MemoryStats returns zero statistics.
func (s *Server) MemoryStats() MemoryStats { return MemoryStats{} }

// Release does nothing.
func (s *Server) Release() {}

func unavailable() compute.Handle {
	exceptions.Panicf("webgpu: not available on this platform")
	return compute.Handle{}
}
