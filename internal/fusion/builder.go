// Package fusion merges consecutive elementwise operations of the stream into single
// generated kernels and picks, at dispatch, the best compiled variant for the buffers at hand.
package fusion

import (
	"github.com/born-ml/fusion/internal/codegen"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
)

// OptimizationStatus tells whether a builder still accepts operations.
type OptimizationStatus int

// Builder statuses.
const (
	Open OptimizationStatus = iota
	Closed
)

// String returns the status name.
func (s OptimizationStatus) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// OptimizationProperties lets the caller compare candidate fusions.
type OptimizationProperties struct {
	// Ready is true once the fusion can be built.
	Ready bool
	// Score is the number of fused operators.
	Score uint64
}

// Options controls fusion and the kernel variants compiled for each fusion.
type Options struct {
	// Enabled lets consecutive operations share a kernel. When false every operation
	// runs as its own single-operator fusion.
	Enabled   bool
	Vectorize bool
	Inplace   bool
}

// DefaultOptions fuses and compiles every variant.
func DefaultOptions() Options {
	return Options{Enabled: true, Vectorize: true, Inplace: true}
}

// TensorElem is a tensor description together with its element type.
type TensorElem struct {
	Tensor tensor.TensorDescription `json:"tensor"`
	Elem   tensor.Elem              `json:"elem"`
}

// ElementWiseBuilder grows one elementwise fusion from the operation stream.
// It is not safe for concurrent use.
type ElementWiseBuilder struct {
	client  *compute.Client
	options Options

	inputs []tensor.TensorDescription
	// inputIndex maps a tensor to its position in inputs.
	inputIndex map[tensor.TensorID]int
	// locals maps a tensor to its local slot; localIDs is the reverse table.
	locals   map[tensor.TensorID]int
	localIDs []tensor.TensorID
	tensors  map[tensor.TensorID]TensorElem

	scalarsF32, scalarsI32, scalarsU32 int

	operators          []codegen.Operator
	currentOutputShape tensor.Shape
	status             OptimizationStatus
}

// NewElementWiseBuilder returns an empty, open builder for client.
func NewElementWiseBuilder(client *compute.Client, options Options) *ElementWiseBuilder {
	b := &ElementWiseBuilder{client: client, options: options}
	b.Reset()
	return b
}

// Register tries to append op to the fusion. An operation that cannot join closes the
// builder and leaves the fused operators untouched.
func (b *ElementWiseBuilder) Register(op stream.OperationDescription) {
	if b.status == Closed {
		return
	}
	if !b.register(op) {
		b.status = Closed
		return
	}
	b.status = Open
}

// Build compiles the accumulated operators.
func (b *ElementWiseBuilder) Build() *ElementWise[ExecutionPhase] {
	if len(b.operators) == 0 {
		exceptions.Panicf("fusion: cannot build an empty elementwise fusion")
	}
	outputs := b.outputDescriptions()
	locals := make([]int, len(outputs))
	for i, out := range outputs {
		locals[i] = b.locals[out.Tensor.ID]
	}
	ew := &ElementWise[CompilationPhase]{
		inputs:    b.inputDescriptions(),
		outputs:   outputs,
		locals:    locals,
		scalars:   Scalars{NumF32: b.scalarsF32, NumI32: b.scalarsI32, NumU32: b.scalarsU32},
		operators: append([]codegen.Operator(nil), b.operators...),
		client:    b.client,
		options:   b.options,
	}
	return Compile(ew)
}

// Len returns the number of fused operators.
func (b *ElementWiseBuilder) Len() int {
	return len(b.operators)
}

// Reset empties the builder and opens it again.
func (b *ElementWiseBuilder) Reset() {
	b.inputs = nil
	b.inputIndex = make(map[tensor.TensorID]int)
	b.locals = make(map[tensor.TensorID]int)
	b.localIDs = nil
	b.tensors = make(map[tensor.TensorID]TensorElem)
	b.scalarsF32, b.scalarsI32, b.scalarsU32 = 0, 0, 0
	b.operators = nil
	b.currentOutputShape = nil
	b.status = Open
}

// Status returns whether the builder still accepts operations.
func (b *ElementWiseBuilder) Status() OptimizationStatus {
	return b.status
}

// Properties returns the readiness and score of the fusion.
func (b *ElementWiseBuilder) Properties() OptimizationProperties {
	return OptimizationProperties{
		Ready: len(b.operators) > 0,
		Score: uint64(len(b.operators)),
	}
}

// Scalars returns the number of scalars registered per element type.
func (b *ElementWiseBuilder) Scalars() Scalars {
	return Scalars{NumF32: b.scalarsF32, NumI32: b.scalarsI32, NumU32: b.scalarsU32}
}

var binaryOps = map[stream.Kind]func(lhs, rhs, out codegen.Variable) codegen.Operator{
	stream.Add:          codegen.Add,
	stream.Sub:          codegen.Sub,
	stream.Mul:          codegen.Mul,
	stream.Div:          codegen.Div,
	stream.Powf:         codegen.Powf,
	stream.Equal:        codegen.Equal,
	stream.Lower:        codegen.Lower,
	stream.Greater:      codegen.Greater,
	stream.LowerEqual:   codegen.LowerEqual,
	stream.GreaterEqual: codegen.GreaterEqual,
}

var unaryOps = map[stream.Kind]func(input, out codegen.Variable) codegen.Operator{
	stream.Exp:   codegen.Exp,
	stream.Log:   codegen.Log,
	stream.Log1p: codegen.Log1p,
	stream.Cos:   codegen.Cos,
	stream.Sin:   codegen.Sin,
	stream.Tanh:  codegen.Tanh,
	stream.Erf:   codegen.Erf,
	stream.Sqrt:  codegen.Sqrt,
	stream.Abs:   codegen.Abs,
	stream.Recip: codegen.Recip,
}

func isComparison(k stream.Kind) bool {
	switch k {
	case stream.Equal, stream.Lower, stream.Greater, stream.LowerEqual, stream.GreaterEqual:
		return true
	}
	return false
}

func (b *ElementWiseBuilder) register(op stream.OperationDescription) bool {
	family := op.Family()
	elem := family.Elem()
	if !family.Defines(op.Kind()) {
		return false
	}
	outElem := elem
	if isComparison(op.Kind()) {
		outElem = tensor.Bool
	}

	switch o := op.(type) {
	case stream.BinaryOperation:
		fn, ok := binaryOps[o.K]
		if !ok || !b.outputIsCompatible(o.Out) {
			return false
		}
		lhs := b.inputToVar(o.Lhs, elem)
		rhs := b.inputToVar(o.Rhs, elem)
		out := b.outputToVar(o.Out, outElem)
		b.operators = append(b.operators, fn(lhs, rhs, out))

	case stream.UnaryOperation:
		fn, ok := unaryOps[o.K]
		if !ok || !b.outputIsCompatible(o.Out) {
			return false
		}
		input := b.inputToVar(o.Input, elem)
		out := b.outputToVar(o.Out, outElem)
		b.operators = append(b.operators, fn(input, out))

	case stream.ScalarOperation:
		fn, ok := binaryOps[o.K]
		if !ok || !b.outputIsCompatible(o.Out) {
			return false
		}
		lhs := b.inputToVar(o.Lhs, elem)
		rhs := b.valueToVar(o.Rhs, elem)
		out := b.outputToVar(o.Out, outElem)
		b.operators = append(b.operators, fn(lhs, rhs, out))

	case stream.ClampOperation:
		if !b.outputIsCompatible(o.Out) {
			return false
		}
		input := b.inputToVar(o.Input, elem)
		lo := b.scalarToVar(elem)
		hi := b.scalarToVar(elem)
		out := b.outputToVar(o.Out, elem)
		b.operators = append(b.operators, codegen.Clamp(input, lo, hi, out))

	case stream.MaskWhereOperation:
		if !b.outputIsCompatible(o.Out) {
			return false
		}
		cond := b.inputToVar(o.Mask, tensor.Bool)
		lhs := b.inputToVar(o.Value, elem)
		rhs := b.inputToVar(o.Tensor, elem)
		out := b.outputToVar(o.Out, elem)
		b.operators = append(b.operators, codegen.ConditionalAssign(cond, lhs, rhs, out))

	case stream.MaskFillOperation:
		if !b.outputIsCompatible(o.Out) {
			return false
		}
		cond := b.inputToVar(o.Mask, tensor.Bool)
		lhs := b.valueToVar(o.Value, elem)
		rhs := b.inputToVar(o.Tensor, elem)
		out := b.outputToVar(o.Out, elem)
		b.operators = append(b.operators, codegen.ConditionalAssign(cond, lhs, rhs, out))

	case stream.CreationOperation:
		switch o.K {
		case stream.Zeros, stream.Ones, stream.Full:
		default:
			return false
		}
		if !b.outputIsCompatible(o.Out) {
			return false
		}
		out := b.outputToVar(o.Out, elem)
		b.operators = append(b.operators, codegen.AssignLocal(codegen.Constant(o.FillValue(), elem), out))

	default:
		return false
	}
	return true
}

// outputIsCompatible gates every operator on the output shape of the first one.
func (b *ElementWiseBuilder) outputIsCompatible(out tensor.TensorDescription) bool {
	if b.currentOutputShape == nil {
		b.currentOutputShape = out.Shape.Clone()
		return true
	}
	return b.currentOutputShape.Equal(out.Shape)
}

// inputToVar resolves a tensor read by an operator: a new tensor becomes a kernel input,
// a tensor produced earlier in the fusion is its local.
func (b *ElementWiseBuilder) inputToVar(desc tensor.TensorDescription, elem tensor.Elem) codegen.Variable {
	var v codegen.Variable
	if _, seen := b.tensors[desc.ID]; !seen {
		b.inputIndex[desc.ID] = len(b.inputs)
		v = codegen.InputVar(len(b.inputs), elem)
		b.inputs = append(b.inputs, desc)
	} else if slot, ok := b.locals[desc.ID]; ok {
		v = codegen.Local(slot, elem)
	} else {
		v = codegen.InputVar(b.inputIndex[desc.ID], elem)
	}
	b.tensors[desc.ID] = TensorElem{Tensor: desc, Elem: elem}
	return v
}

// outputToVar assigns the local slot written by an operator.
func (b *ElementWiseBuilder) outputToVar(desc tensor.TensorDescription, elem tensor.Elem) codegen.Variable {
	b.tensors[desc.ID] = TensorElem{Tensor: desc, Elem: elem}
	if slot, ok := b.locals[desc.ID]; ok {
		return codegen.Local(slot, elem)
	}
	slot := len(b.localIDs)
	b.locals[desc.ID] = slot
	b.localIDs = append(b.localIDs, desc.ID)
	return codegen.Local(slot, elem)
}

// valueToVar passes v as a scalar argument. There is no boolean scalar buffer, so a
// boolean value is baked into the kernel as a constant.
func (b *ElementWiseBuilder) valueToVar(v float64, elem tensor.Elem) codegen.Variable {
	if elem == tensor.Bool {
		return codegen.Constant(v, elem)
	}
	return b.scalarToVar(elem)
}

// scalarToVar reserves the next scalar slot of elem.
func (b *ElementWiseBuilder) scalarToVar(elem tensor.Elem) codegen.Variable {
	switch elem {
	case tensor.F32:
		b.scalarsF32++
		return codegen.Scalar(b.scalarsF32-1, tensor.F32)
	case tensor.I32:
		b.scalarsI32++
		return codegen.Scalar(b.scalarsI32-1, tensor.I32)
	case tensor.U32:
		b.scalarsU32++
		return codegen.Scalar(b.scalarsU32-1, tensor.U32)
	default:
		exceptions.Panicf("fusion: %s scalars are not supported", elem)
		return codegen.Variable{}
	}
}

// inputDescriptions returns the kernel inputs with their latest description in this fusion.
func (b *ElementWiseBuilder) inputDescriptions() []TensorElem {
	out := make([]TensorElem, len(b.inputs))
	for i, in := range b.inputs {
		out[i] = b.tensors[in.ID]
	}
	return out
}

// outputDescriptions returns the locals that must be written back: those produced and never
// read by a later operator, and those still read after the fusion (latest status ReadOnly).
// Both groups are listed in local slot order.
func (b *ElementWiseBuilder) outputDescriptions() []TensorElem {
	produced := make([]bool, len(b.localIDs))
	consumed := make([]bool, len(b.localIDs))
	for _, op := range b.operators {
		for _, v := range op.Inputs {
			if v.IsLocal() {
				consumed[v.Index] = true
			}
		}
		if op.Out.IsLocal() {
			produced[op.Out.Index] = true
		}
	}

	var outputs []TensorElem
	added := make([]bool, len(b.localIDs))
	for slot, id := range b.localIDs {
		if produced[slot] && !consumed[slot] {
			outputs = append(outputs, b.tensors[id])
			added[slot] = true
		}
	}
	for slot, id := range b.localIDs {
		if added[slot] {
			continue
		}
		if b.tensors[id].Tensor.Status == tensor.ReadOnly {
			outputs = append(outputs, b.tensors[id])
		}
	}
	return outputs
}
