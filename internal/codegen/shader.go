package codegen

import (
	"fmt"

	"github.com/born-ml/fusion/internal/tensor"
)

// WorkgroupSize is the number of invocations per workgroup of generated elementwise kernels.
const WorkgroupSize = 256

// Visibility of an array binding.
type Visibility int

// Binding visibilities.
const (
	Read Visibility = iota
	ReadWrite
)

// ReadingStrategy tells how an input array is indexed.
type ReadingStrategy int

// Reading strategies.
const (
	// OutputLayout maps the invocation index through the layout of the output
	// so broadcast and strided inputs are read correctly.
	OutputLayout ReadingStrategy = iota
	// Plain reads the array at the invocation index.
	Plain
)

// Vectorization is the number of elements processed per invocation.
type Vectorization int

// Vectorization modes.
const (
	Scalar1 Vectorization = 1
	Vec2    Vectorization = 2
	Vec4    Vectorization = 4
)

// Width returns the vector width.
func (v Vectorization) Width() int {
	if v == 0 {
		return 1
	}
	return int(v)
}

// Input declares one kernel input: an array of tensor elements or a buffer of scalars.
type Input struct {
	// Elem is the element type of the array or of the scalar buffer.
	Elem       tensor.Elem
	Visibility Visibility
	Strategy   ReadingStrategy
	// Size is the number of scalars; zero for arrays.
	Size int
}

// ArrayInput declares a tensor input.
func ArrayInput(elem tensor.Elem, visibility Visibility, strategy ReadingStrategy) Input {
	return Input{Elem: elem, Visibility: visibility, Strategy: strategy}
}

// ScalarInput declares a buffer of size scalars of elem.
func ScalarInput(elem tensor.Elem, size int) Input {
	return Input{Elem: elem, Size: size}
}

// IsScalar reports whether the input is a scalar buffer.
func (in Input) IsScalar() bool {
	return in.Size > 0
}

// Output declares a kernel output written from local slot Local.
type Output struct {
	Elem  tensor.Elem `json:"elem"`
	Local int         `json:"local"`
}

// InplaceMapping writes output PosOutput into the buffer of input PosInput.
type InplaceMapping struct {
	PosInput  int `json:"pos_input"`
	PosOutput int `json:"pos_output"`
}

// Binding is one storage buffer of a compiled shader.
type Binding struct {
	Item       Item
	Visibility Visibility
}

// ScalarBinding is a fixed-size buffer of scalar arguments.
type ScalarBinding struct {
	Elem tensor.Elem
	Size int
}

// Shader is a compiled elementwise kernel. Buffers are bound in this order:
// Inputs, Outputs, the layout info buffer, then Scalars.
type Shader struct {
	Inputs  []Binding
	Outputs []Binding
	Scalars []ScalarBinding
	// Locals holds the item of every local slot used by Body.
	Locals        map[int]Item
	Body          []Operator
	Vectorization Vectorization
	WorkgroupSize int
}

// ElemWiseKernelCodegen assembles an elementwise Shader from declarative inputs, outputs and an operator body.
type ElemWiseKernelCodegen struct {
	inputs        []Input
	outputs       []Output
	body          []Operator
	mappings      []InplaceMapping
	vectorization Vectorization
}

// NewElemWiseKernelCodegen returns a scalar codegen without in-place mappings.
func NewElemWiseKernelCodegen() *ElemWiseKernelCodegen {
	return &ElemWiseKernelCodegen{vectorization: Scalar1}
}

// Inputs sets the kernel inputs.
func (c *ElemWiseKernelCodegen) Inputs(inputs []Input) *ElemWiseKernelCodegen {
	c.inputs = inputs
	return c
}

// Outputs sets the kernel outputs.
func (c *ElemWiseKernelCodegen) Outputs(outputs []Output) *ElemWiseKernelCodegen {
	c.outputs = outputs
	return c
}

// Body sets the operators computed per invocation.
func (c *ElemWiseKernelCodegen) Body(ops []Operator) *ElemWiseKernelCodegen {
	c.body = ops
	return c
}

// Inplace makes mapped outputs write into their input buffer.
func (c *ElemWiseKernelCodegen) Inplace(mappings []InplaceMapping) *ElemWiseKernelCodegen {
	c.mappings = mappings
	return c
}

// Vectorize sets the number of elements processed per invocation.
func (c *ElemWiseKernelCodegen) Vectorize(v Vectorization) *ElemWiseKernelCodegen {
	c.vectorization = v
	return c
}

// Compile produces the shader.
func (c *ElemWiseKernelCodegen) Compile() *Shader {
	width := c.vectorization.Width()
	shader := &Shader{
		Locals:        make(map[int]Item),
		Vectorization: c.vectorization,
		WorkgroupSize: WorkgroupSize,
	}

	donors := make(map[int]int, len(c.mappings)) // output -> input
	for _, m := range c.mappings {
		donors[m.PosOutput] = m.PosInput
	}

	arrays := make([]Input, 0, len(c.inputs))
	for _, in := range c.inputs {
		if in.IsScalar() {
			shader.Scalars = append(shader.Scalars, ScalarBinding{Elem: in.Elem, Size: in.Size})
			continue
		}
		arrays = append(arrays, in)
	}
	for i, in := range arrays {
		visibility := in.Visibility
		for _, m := range c.mappings {
			if m.PosInput == i {
				visibility = ReadWrite
			}
		}
		shader.Inputs = append(shader.Inputs, Binding{Item: Item{Elem: in.Elem, Width: width}, Visibility: visibility})
	}

	fresh := 0
	for pos, out := range c.outputs {
		if _, ok := donors[pos]; ok {
			continue
		}
		shader.Outputs = append(shader.Outputs, Binding{Item: Item{Elem: out.Elem, Width: width}, Visibility: ReadWrite})
		fresh++
	}

	// The layout tensor is the first freshly allocated output, or the first donor when all outputs are in place.
	layout := len(arrays)
	if fresh == 0 && len(c.mappings) > 0 {
		layout = c.mappings[0].PosInput
	}

	used := make(map[int]bool)
	for _, op := range c.body {
		for _, v := range op.Inputs {
			if v.Kind == VarInput {
				used[v.Index] = true
			}
		}
	}
	for i, in := range arrays {
		if !used[i] {
			continue
		}
		variable := Variable{Kind: VarInput, Index: i, Item: Item{Elem: in.Elem, Width: width}}
		if in.Strategy == OutputLayout {
			shader.Body = append(shader.Body, ReadGlobalWithLayout(variable, i, layout))
		} else {
			shader.Body = append(shader.Body, ReadGlobal(variable))
		}
	}

	for _, op := range c.body {
		op = op.vectorize(width)
		if op.Out.Kind == VarLocal {
			shader.Locals[op.Out.Index] = op.Out.Item
		}
		shader.Body = append(shader.Body, op)
	}

	fresh = 0
	for pos, out := range c.outputs {
		local := Variable{Kind: VarLocal, Index: out.Local, Item: Item{Elem: out.Elem, Width: width}}
		var target Variable
		if input, ok := donors[pos]; ok {
			target = Variable{Kind: VarInput, Index: input, Item: local.Item}
		} else {
			target = Variable{Kind: VarOutput, Index: fresh, Item: local.Item}
			fresh++
		}
		shader.Body = append(shader.Body, AssignGlobal(local, target))
	}

	return shader
}

// NumArrays returns the number of tensors described in the layout info buffer.
func (s *Shader) NumArrays() int {
	return len(s.Inputs) + len(s.Outputs)
}

// BoundArray returns the array whose length is the number of invocations: the first
// fresh output, or the first in-place target when every output reuses an input.
func (s *Shader) BoundArray() Variable {
	if len(s.Outputs) > 0 {
		return Variable{Kind: VarOutput, Item: s.Outputs[0].Item}
	}
	for _, op := range s.Body {
		if op.Code == OpAssignGlobal && op.Out.Kind == VarInput {
			return op.Out
		}
	}
	return Variable{Kind: VarInput, Item: Item{Width: s.Vectorization.Width()}}
}

// String summarizes the shader bindings.
func (s *Shader) String() string {
	return fmt.Sprintf("elemwise<vec%d>(inputs=%d, outputs=%d, scalars=%d, ops=%d)",
		s.Vectorization.Width(), len(s.Inputs), len(s.Outputs), len(s.Scalars), len(s.Body))
}
