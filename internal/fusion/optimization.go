package fusion

import (
	"encoding/json"

	"github.com/born-ml/fusion/internal/codegen"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scalars counts the scalar arguments of a fusion per element type.
type Scalars struct {
	NumF32 int `json:"num_f32"`
	NumI32 int `json:"num_i32"`
	NumU32 int `json:"num_u32"`
}

// CompilationPhase marks a fusion holding only its IR.
type CompilationPhase struct{}

// ExecutionPhase marks a compiled fusion ready to run.
type ExecutionPhase struct {
	kernelSet *FusionKernelSet
}

// KernelSet returns the compiled kernel variants.
func (p ExecutionPhase) KernelSet() *FusionKernelSet {
	return p.kernelSet
}

// Phase is the compile state of an ElementWise.
type Phase interface {
	CompilationPhase | ExecutionPhase
}

// ElementWise is one fused elementwise computation. Only an ElementWise[ExecutionPhase],
// obtained through Compile, can be executed.
type ElementWise[P Phase] struct {
	inputs    []TensorElem
	outputs   []TensorElem
	locals    []int
	scalars   Scalars
	operators []codegen.Operator
	client    *compute.Client
	options   Options
	phase     P
}

// ElementWiseState is the serializable form of a fusion. Kernels are not part of it:
// they are compiled again when the state is restored.
type ElementWiseState struct {
	Inputs    []TensorElem       `json:"inputs"`
	Outputs   []TensorElem       `json:"outputs"`
	Scalars   Scalars            `json:"scalars"`
	Operators []codegen.Operator `json:"operators"`
	Locals    []int              `json:"locals"`
}

// Len returns the number of fused operators.
func (e *ElementWise[P]) Len() int {
	return len(e.operators)
}

// Phase returns the compile state.
func (e *ElementWise[P]) Phase() P {
	return e.phase
}

// Inputs returns the fused input tensors in kernel order.
func (e *ElementWise[P]) Inputs() []TensorElem {
	return e.inputs
}

// Outputs returns the tensors written back by the kernel.
func (e *ElementWise[P]) Outputs() []TensorElem {
	return e.outputs
}

// Scalars returns the scalar counts.
func (e *ElementWise[P]) Scalars() Scalars {
	return e.scalars
}

// ToState captures the IR of the fusion.
func (e *ElementWise[P]) ToState() ElementWiseState {
	return ElementWiseState{
		Inputs:    append([]TensorElem(nil), e.inputs...),
		Outputs:   append([]TensorElem(nil), e.outputs...),
		Scalars:   e.scalars,
		Operators: append([]codegen.Operator(nil), e.operators...),
		Locals:    append([]int(nil), e.locals...),
	}
}

// FromState rebuilds and compiles a fusion.
func FromState(client *compute.Client, options Options, state ElementWiseState) *ElementWise[ExecutionPhase] {
	if len(state.Locals) != len(state.Outputs) {
		exceptions.Panicf("fusion: state has %d locals for %d outputs", len(state.Locals), len(state.Outputs))
	}
	return Compile(&ElementWise[CompilationPhase]{
		inputs:    state.Inputs,
		outputs:   state.Outputs,
		locals:    state.Locals,
		scalars:   state.Scalars,
		operators: state.Operators,
		client:    client,
		options:   options,
	})
}

// EncodeState serializes state as JSON.
func EncodeState(state ElementWiseState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "encoding elementwise state")
	}
	return raw, nil
}

// DecodeState parses a state produced by EncodeState.
func DecodeState(raw []byte) (ElementWiseState, error) {
	var state ElementWiseState
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, errors.Wrap(err, "decoding elementwise state")
	}
	return state, nil
}

// Compile lowers the IR into the kernel variants of the fusion.
func Compile(e *ElementWise[CompilationPhase]) *ElementWise[ExecutionPhase] {
	inputs := make([]codegen.Input, 0, len(e.inputs)+3)
	for _, in := range e.inputs {
		inputs = append(inputs, codegen.ArrayInput(in.Elem, codegen.Read, codegen.OutputLayout))
	}
	if e.scalars.NumF32 > 0 {
		inputs = append(inputs, codegen.ScalarInput(tensor.F32, e.scalars.NumF32))
	}
	if e.scalars.NumI32 > 0 {
		inputs = append(inputs, codegen.ScalarInput(tensor.I32, e.scalars.NumI32))
	}
	if e.scalars.NumU32 > 0 {
		inputs = append(inputs, codegen.ScalarInput(tensor.U32, e.scalars.NumU32))
	}

	outputs := make([]codegen.Output, len(e.outputs))
	for i, out := range e.outputs {
		outputs[i] = codegen.Output{Elem: out.Elem, Local: e.locals[i]}
	}

	var mappings []codegen.InplaceMapping
	if e.options.Inplace {
		mappings = inplaceMappings(e.inputs, e.outputs)
	}

	source := func(v codegen.Vectorization, inplace []codegen.InplaceMapping) *compute.KernelSource {
		return compute.NewKernelSource(codegen.NewElemWiseKernelCodegen().
			Vectorize(v).
			Inplace(inplace).
			Inputs(inputs).
			Body(e.operators).
			Outputs(outputs).
			Compile())
	}

	kernels := []FusionKernel{
		NewScalarElementWise(source(codegen.Scalar1, nil), source(codegen.Scalar1, mappings), mappings, len(outputs)),
	}
	if e.options.Vectorize {
		kernels = append(kernels,
			NewVecElementWise(source(codegen.Vec2, nil), source(codegen.Vec2, mappings), mappings, len(outputs), 2),
			NewVecElementWise(source(codegen.Vec4, nil), source(codegen.Vec4, mappings), mappings, len(outputs), 4),
		)
	}
	klog.V(1).Infof("fusion: compiled %d operators, %d inputs, %d outputs, %d in-place mappings",
		len(e.operators), len(e.inputs), len(e.outputs), len(mappings))

	return &ElementWise[ExecutionPhase]{
		inputs:    e.inputs,
		outputs:   e.outputs,
		locals:    e.locals,
		scalars:   e.scalars,
		operators: e.operators,
		client:    e.client,
		options:   e.options,
		phase:     ExecutionPhase{kernelSet: NewFusionKernelSet(kernels)},
	}
}

// inplaceMappings pairs every output with the first unused ReadWrite input of the same
// shape and element type, in declaration order.
func inplaceMappings(inputs, outputs []TensorElem) []codegen.InplaceMapping {
	var candidates []int
	for i, in := range inputs {
		if in.Tensor.Status == tensor.ReadWrite {
			candidates = append(candidates, i)
		}
	}
	var mappings []codegen.InplaceMapping
	for pos, out := range outputs {
		for c, input := range candidates {
			in := inputs[input]
			if in.Elem == out.Elem && in.Tensor.Shape.Equal(out.Tensor.Shape) {
				mappings = append(mappings, codegen.InplaceMapping{PosInput: input, PosOutput: pos})
				candidates = append(candidates[:c], candidates[c+1:]...)
				break
			}
		}
	}
	return mappings
}

// Execute runs the fusion over the buffers registered in ctx.
func Execute(e *ElementWise[ExecutionPhase], ctx *stream.Context) {
	inputs := make([]tensor.TensorDescription, len(e.inputs))
	for i, in := range e.inputs {
		inputs[i] = in.Tensor
	}
	outputs := make([]tensor.TensorDescription, len(e.outputs))
	for i, out := range e.outputs {
		outputs[i] = out.Tensor
	}
	e.phase.kernelSet.Execute(inputs, outputs, e.scalars, ctx, e.client)
}
