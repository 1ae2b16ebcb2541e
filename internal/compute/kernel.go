package compute

import (
	"math"
	"sync"

	"github.com/born-ml/fusion/internal/codegen"
	"github.com/google/uuid"
)

// WorkGroup is the number of workgroups dispatched along each axis.
type WorkGroup struct {
	X, Y, Z uint32
}

// Count returns the total number of workgroups.
func (w WorkGroup) Count() int {
	return int(w.X) * int(w.Y) * int(w.Z)
}

// ElemwiseWorkGroup spreads numInvocations over a square-ish 2D grid of workgroups of
// workgroupSize invocations, keeping each axis below the 65535 dispatch limit.
func ElemwiseWorkGroup(numInvocations, workgroupSize int) WorkGroup {
	groups := (numInvocations + workgroupSize - 1) / workgroupSize
	if groups == 0 {
		groups = 1
	}
	x := int(math.Ceil(math.Sqrt(float64(groups))))
	y := (groups + x - 1) / x
	return WorkGroup{X: uint32(x), Y: uint32(y), Z: 1} //nolint:gosec // bounded by sqrt
}

// Kernel is a compute program ready to be dispatched.
type Kernel interface {
	// ID identifies the program; devices cache pipelines by it.
	ID() string
	// Source returns the WGSL module.
	Source() string
	// WorkGroup returns the dispatch size.
	WorkGroup() WorkGroup
}

// kernelNamespace scopes the ids derived from generated sources.
var kernelNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("born-ml/fusion/kernel"))

// KernelSource is a generated shader. Its WGSL is rendered once, and its id is derived
// from that source, so equal programs share the pipelines cached under it.
type KernelSource struct {
	shader *codegen.Shader
	once   sync.Once
	wgsl   string
	id     string
}

// NewKernelSource wraps shader.
func NewKernelSource(shader *codegen.Shader) *KernelSource {
	return &KernelSource{shader: shader}
}

// ID returns the content id of the source.
func (s *KernelSource) ID() string {
	s.render()
	return s.id
}

// Shader returns the structured program.
func (s *KernelSource) Shader() *codegen.Shader { return s.shader }

// WGSL returns the rendered source.
func (s *KernelSource) WGSL() string {
	s.render()
	return s.wgsl
}

func (s *KernelSource) render() {
	s.once.Do(func() {
		s.wgsl = s.shader.WGSL()
		s.id = uuid.NewSHA1(kernelNamespace, []byte(s.wgsl)).String()
	})
}

// ShaderKernel dispatches a generated elementwise shader.
type ShaderKernel struct {
	Src   *KernelSource
	Group WorkGroup
}

// ID implements Kernel.
func (k ShaderKernel) ID() string { return k.Src.ID() }

// Source implements Kernel.
func (k ShaderKernel) Source() string { return k.Src.WGSL() }

// WorkGroup implements Kernel.
func (k ShaderKernel) WorkGroup() WorkGroup { return k.Group }

// HostFunc runs a static kernel on host memory, one byte slice per bound buffer.
type HostFunc func(buffers [][]byte)

// StaticKernel is a hand-written WGSL program with an equivalent host implementation
// for devices that do not compile WGSL.
type StaticKernel struct {
	Name  string
	WGSL  string
	Host  HostFunc
	Group WorkGroup
}

// ID implements Kernel.
func (k StaticKernel) ID() string { return k.Name }

// Source implements Kernel.
func (k StaticKernel) Source() string { return k.WGSL }

// WorkGroup implements Kernel.
func (k StaticKernel) WorkGroup() WorkGroup { return k.Group }
