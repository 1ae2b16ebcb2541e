package reduce

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/stat/distuv"
)

// AutotuneKey is the shape class of a reduction: the reduced dimension rounded up to a
// power of two, the product of the other dimensions and the stride of the reduced dimension.
func AutotuneKey(shape tensor.Shape, strides []int, dim int) string {
	others := 1
	for d, size := range shape {
		if d != dim {
			others *= size
		}
	}
	return fmt.Sprintf("reduce_dim/%d/%d/%d", nextPow2(shape[dim]), others, strides[dim])
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// operation dispatches one strategy on bound buffers.
type operation struct {
	name    string
	kernel  compute.Kernel
	client  *compute.Client
	buffers []compute.Handle
}

// Name implements compute.AutotuneOperation.
func (o *operation) Name() string { return o.name }

// Execute implements compute.AutotuneOperation.
func (o *operation) Execute() { o.client.Execute(o.kernel, o.buffers) }

// OperationSet is the autotune set of one reduction: every strategy of Strategies, bound
// either to random benchmark data or to the real tensors.
type OperationSet struct {
	client *compute.Client
	mode   Mode
	elem   tensor.Elem
	cfg    parallel.Config

	input   compute.FusionHandle
	shape   tensor.Shape
	dim     int
	output  compute.Handle
	info    compute.Handle
	scratch []compute.Handle
}

// NewOperationSet binds a reduction of input, of the given shape, along dim into output.
// Release must be called once the set has run.
func NewOperationSet(client *compute.Client, mode Mode, elem tensor.Elem, input compute.FusionHandle, shape tensor.Shape, dim int, output compute.Handle, cfg parallel.Config) *OperationSet {
	info := Info(shape, input.Strides, dim)
	return &OperationSet{
		client: client,
		mode:   mode,
		elem:   elem,
		cfg:    cfg,
		input:  input,
		shape:  shape.Clone(),
		dim:    dim,
		output: output,
		info:   client.Create(tensor.FromUint32(tensor.Shape{len(info)}, info).Bytes),
	}
}

// Key implements compute.AutotuneOperationSet.
func (s *OperationSet) Key() string {
	return AutotuneKey(s.shape, s.input.Strides, s.dim)
}

// Candidates implements compute.AutotuneOperationSet.
func (s *OperationSet) Candidates() []string {
	names := make([]string, len(Strategies))
	for i, strategy := range Strategies {
		names[i] = strategy.String()
	}
	return names
}

// Autotunables implements compute.AutotuneOperationSet. Every candidate reads its own
// copy of uniform random values in [-10, 10] laid out like the real input.
func (s *OperationSet) Autotunables() []compute.AutotuneOperation {
	numInput := 0
	for d, size := range s.shape {
		numInput = max(numInput, (size-1)*s.input.Strides[d]+1)
	}
	outShape := s.shape.Clone()
	outShape[s.dim] = 1

	ops := make([]compute.AutotuneOperation, len(Strategies))
	for i, strategy := range Strategies {
		input := s.client.Create(randomData(s.elem, numInput).Bytes)
		output := s.client.Empty(outShape.NumElements() * s.elem.Size())
		s.scratch = append(s.scratch, input, output)
		ops[i] = s.bind(strategy, input, output)
	}
	return ops
}

// Fastest implements compute.AutotuneOperationSet.
func (s *OperationSet) Fastest(index int) compute.AutotuneOperation {
	if index < 0 || index >= len(Strategies) {
		exceptions.Panicf("reduce: fastest index %d out of %d strategies", index, len(Strategies))
	}
	return s.bind(Strategies[index], s.input.Handle, s.output)
}

// Release frees the benchmark buffers and the layout buffer.
func (s *OperationSet) Release() {
	for _, h := range s.scratch {
		h.Release()
	}
	s.scratch = nil
	s.info.Release()
}

func (s *OperationSet) bind(strategy Strategy, input, output compute.Handle) *operation {
	numOutputs := s.shape.NumElements() / max(s.shape[s.dim], 1)
	return &operation{
		name:    strategy.String(),
		kernel:  Kernel(strategy, s.mode, s.elem, numOutputs, s.cfg),
		client:  s.client,
		buffers: []compute.Handle{input, output, s.info},
	}
}

// randomData returns n uniform values in [-10, 10].
func randomData(elem tensor.Elem, n int) *tensor.Data {
	dist := distuv.Uniform{Min: -10, Max: 10}
	if elem == tensor.I32 {
		values := make([]int32, n)
		for i := range values {
			values[i] = int32(math.Round(dist.Rand()))
		}
		return tensor.FromInt32(tensor.Shape{n}, values)
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(dist.Rand())
	}
	return tensor.FromFloat32(tensor.Shape{n}, values)
}
