package fusion

import (
	"fmt"

	"github.com/born-ml/fusion/internal/codegen"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
)

// elementWiseSource is a pair of compiled sources for one vector width: one writing every
// output to a fresh buffer, one writing mapped outputs into their donor input.
type elementWiseSource struct {
	normal     *compute.KernelSource
	inplace    *compute.KernelSource
	mappings   []codegen.InplaceMapping
	numOutputs int
	width      int
}

// canInplace reports whether every donor buffer is exclusively owned and contiguous.
func (s *elementWiseSource) canInplace(handles []compute.FusionHandle, inputs []tensor.TensorDescription) bool {
	if len(s.mappings) == 0 {
		return false
	}
	for _, m := range s.mappings {
		h := handles[m.PosInput]
		if !h.Handle.CanMut() || !h.IsContiguous(inputs[m.PosInput].Shape) {
			return false
		}
	}
	return true
}

func (s *elementWiseSource) score(inplace bool) uint8 {
	score := uint8(2 * s.width) //nolint:gosec // width is 1, 2 or 4
	if inplace {
		score++
	}
	return score
}

func (s *elementWiseSource) kernel(name string, handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) SelectedKernel {
	if len(outputs) != s.numOutputs {
		exceptions.Panicf("fusion: %s compiled for %d outputs, got %d", name, s.numOutputs, len(outputs))
	}
	inplace := s.canInplace(handles, inputs)
	source := s.normal
	info := make([]OutputInfo, len(outputs))
	for i, out := range outputs {
		// Every element type is stored as a 32-bit word.
		info[i] = ArrayOutput(out.Shape.NumElements() * 4)
	}
	if inplace {
		source = s.inplace
		for _, m := range s.mappings {
			info[m.PosOutput] = InplaceOutput(m.PosInput)
		}
		name += "+inplace"
	}

	numElements := 1
	if len(outputs) > 0 {
		numElements = outputs[0].Shape.NumElements()
	}
	invocations := numElements / s.width
	return SelectedKernel{
		Name:   name,
		Kernel: compute.ShaderKernel{Src: source, Group: compute.ElemwiseWorkGroup(invocations, codegen.WorkgroupSize)},
		Info:   info,
	}
}

// ScalarElementWise processes one element per invocation. It runs on any layout.
type ScalarElementWise struct {
	elementWiseSource
}

// NewScalarElementWise wraps the width-1 sources of a fusion.
func NewScalarElementWise(normal, inplace *compute.KernelSource, mappings []codegen.InplaceMapping, numOutputs int) *ScalarElementWise {
	return &ScalarElementWise{elementWiseSource{
		normal: normal, inplace: inplace, mappings: mappings, numOutputs: numOutputs, width: 1,
	}}
}

// Name implements FusionKernel.
func (k *ScalarElementWise) Name() string { return "elemwise_scalar" }

// Priority implements FusionKernel.
func (k *ScalarElementWise) Priority(handles []compute.FusionHandle, inputs, _ []tensor.TensorDescription) Priority {
	return Available(k.score(k.canInplace(handles, inputs)))
}

// Kernel implements FusionKernel.
func (k *ScalarElementWise) Kernel(handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) SelectedKernel {
	return k.kernel(k.Name(), handles, inputs, outputs)
}

// VecElementWise processes Width consecutive elements per invocation.
type VecElementWise struct {
	elementWiseSource
}

// NewVecElementWise wraps the sources of a fusion vectorized by width.
func NewVecElementWise(normal, inplace *compute.KernelSource, mappings []codegen.InplaceMapping, numOutputs, width int) *VecElementWise {
	return &VecElementWise{elementWiseSource{
		normal: normal, inplace: inplace, mappings: mappings, numOutputs: numOutputs, width: width,
	}}
}

// Name implements FusionKernel.
func (k *VecElementWise) Name() string { return fmt.Sprintf("elemwise_vec%d", k.width) }

// Priority implements FusionKernel. Every input must be contiguous along its last dimension
// with every other stride a multiple of the width, so each vector starts on an aligned
// element. Every last dimension must be a multiple of the width.
func (k *VecElementWise) Priority(handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) Priority {
	for i, h := range handles {
		if !k.aligned(inputs[i].Shape, h.Strides) || !k.divisible(inputs[i].Shape) {
			return Unavailable
		}
	}
	for _, out := range outputs {
		if !k.divisible(out.Shape) {
			return Unavailable
		}
	}
	return Available(k.score(k.canInplace(handles, inputs)))
}

func (k *VecElementWise) aligned(shape tensor.Shape, strides []int) bool {
	last := len(strides) - 1
	if last < 0 || strides[last] != 1 || len(shape) != len(strides) {
		return false
	}
	for d, stride := range strides[:last] {
		if shape[d] > 1 && stride%k.width != 0 {
			return false
		}
	}
	return true
}

func (k *VecElementWise) divisible(shape tensor.Shape) bool {
	return len(shape) > 0 && shape[len(shape)-1]%k.width == 0
}

// Kernel implements FusionKernel.
func (k *VecElementWise) Kernel(handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) SelectedKernel {
	return k.kernel(k.Name(), handles, inputs, outputs)
}
