// Package stream describes the tensor operations recorded by the frontend and fed,
// one at a time, to the fusion builder.
package stream

import (
	"fmt"

	"github.com/born-ml/fusion/internal/tensor"
)

// Family is the numeric family an operation was recorded for.
type Family int

// Operation families.
const (
	Float Family = iota
	Int
	BoolFamily
)

// Elem returns the element type used for tensors and scalars of the family.
func (f Family) Elem() tensor.Elem {
	switch f {
	case Float:
		return tensor.F32
	case Int:
		return tensor.I32
	default:
		return tensor.Bool
	}
}

// String returns the family name.
func (f Family) String() string {
	switch f {
	case Float:
		return "float"
	case Int:
		return "int"
	case BoolFamily:
		return "bool"
	default:
		return "unknown"
	}
}

// Kind names an operation.
type Kind string

// Operation kinds.
const (
	Add          Kind = "add"
	Sub          Kind = "sub"
	Mul          Kind = "mul"
	Div          Kind = "div"
	Powf         Kind = "powf"
	Equal        Kind = "equal"
	Lower        Kind = "lower"
	Greater      Kind = "greater"
	LowerEqual   Kind = "lower_equal"
	GreaterEqual Kind = "greater_equal"

	Exp   Kind = "exp"
	Log   Kind = "log"
	Log1p Kind = "log1p"
	Cos   Kind = "cos"
	Sin   Kind = "sin"
	Tanh  Kind = "tanh"
	Erf   Kind = "erf"
	Sqrt  Kind = "sqrt"
	Abs   Kind = "abs"
	Recip Kind = "recip"

	Clamp     Kind = "clamp"
	MaskWhere Kind = "mask_where"
	MaskFill  Kind = "mask_fill"

	Zeros Kind = "zeros"
	Ones  Kind = "ones"
	Full  Kind = "full"

	SumDim  Kind = "sum_dim"
	MeanDim Kind = "mean_dim"
)

// floatOnly lists kinds defined only over floats.
var floatOnly = map[Kind]bool{
	Powf: true, Exp: true, Log: true, Log1p: true, Cos: true,
	Sin: true, Tanh: true, Erf: true, Sqrt: true, Recip: true,
}

// boolKinds lists the kinds defined over booleans.
var boolKinds = map[Kind]bool{
	Equal: true, MaskWhere: true, MaskFill: true, Zeros: true, Ones: true, Full: true,
}

// Defines reports whether kind is an operation of the family.
func (f Family) Defines(kind Kind) bool {
	switch f {
	case Float:
		return true
	case Int:
		return !floatOnly[kind]
	case BoolFamily:
		return boolKinds[kind]
	default:
		return false
	}
}

// OperationDescription is one recorded tensor operation.
type OperationDescription interface {
	Family() Family
	Kind() Kind
	// Tensors returns every tensor touched, inputs first and the output last.
	Tensors() []tensor.TensorDescription
}

// Op carries the family and kind shared by every description.
type Op struct {
	F Family
	K Kind
}

// Family implements OperationDescription.
func (o Op) Family() Family { return o.F }

// Kind implements OperationDescription.
func (o Op) Kind() Kind { return o.K }

// BinaryOperation combines two tensors elementwise.
type BinaryOperation struct {
	Op
	Lhs, Rhs, Out tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o BinaryOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Lhs, o.Rhs, o.Out}
}

// UnaryOperation maps a tensor elementwise.
type UnaryOperation struct {
	Op
	Input, Out tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o UnaryOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Input, o.Out}
}

// ScalarOperation combines a tensor with a scalar of the operation family.
type ScalarOperation struct {
	Op
	Lhs tensor.TensorDescription
	Rhs float64
	Out tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o ScalarOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Lhs, o.Out}
}

// ClampOperation limits a tensor to [Min, Max].
type ClampOperation struct {
	Op
	Input    tensor.TensorDescription
	Min, Max float64
	Out      tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o ClampOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Input, o.Out}
}

// MaskWhereOperation selects Value where Mask is true and Tensor elsewhere.
type MaskWhereOperation struct {
	Op
	Tensor, Mask, Value, Out tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o MaskWhereOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Tensor, o.Mask, o.Value, o.Out}
}

// MaskFillOperation writes Value where Mask is true and keeps Tensor elsewhere.
type MaskFillOperation struct {
	Op
	Tensor, Mask tensor.TensorDescription
	Value        float64
	Out          tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o MaskFillOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Tensor, o.Mask, o.Out}
}

// CreationOperation fills a new tensor with zeros, ones or Value.
type CreationOperation struct {
	Op
	Value float64
	Out   tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o CreationOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Out}
}

// FillValue returns the value written by the creation.
func (o CreationOperation) FillValue() float64 {
	switch o.K {
	case Zeros:
		return 0
	case Ones:
		return 1
	default:
		return o.Value
	}
}

// ReduceDimOperation sums or averages Input along Dim. Out keeps the rank of Input
// with Out.Shape[Dim] == 1.
type ReduceDimOperation struct {
	Op
	Input tensor.TensorDescription
	Dim   int
	Out   tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o ReduceDimOperation) Tensors() []tensor.TensorDescription {
	return []tensor.TensorDescription{o.Input, o.Out}
}

// OpaqueOperation is any operation the fusion core does not look into, such as a
// matmul or a reshape. It always ends the current fusion.
type OpaqueOperation struct {
	Op
	Inputs []tensor.TensorDescription
	Out    tensor.TensorDescription
}

// Tensors implements OperationDescription.
func (o OpaqueOperation) Tensors() []tensor.TensorDescription {
	return append(append([]tensor.TensorDescription(nil), o.Inputs...), o.Out)
}

// Describe returns a one-line summary of op for logs.
func Describe(op OperationDescription) string {
	return fmt.Sprintf("%s.%s%v", op.Family(), op.Kind(), op.Tensors())
}
