package cpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// hostTensor is a tensor evaluated by the Reference evaluator.
type hostTensor struct {
	shape  tensor.Shape
	elem   tensor.Elem
	values []float64
}

// Reference evaluates operations one at a time, without fusion, on host values.
// It is the baseline fused results are compared against.
type Reference struct {
	tensors map[tensor.TensorID]hostTensor
}

// NewReference returns an empty evaluator.
func NewReference() *Reference {
	return &Reference{tensors: make(map[tensor.TensorID]hostTensor)}
}

// Set stores data as the value of id.
func (r *Reference) Set(id tensor.TensorID, data *tensor.Data) {
	r.tensors[id] = hostTensor{shape: data.Shape.Clone(), elem: data.Elem, values: data.Float64()}
}

// Values returns the values of id in row-major order.
func (r *Reference) Values(id tensor.TensorID) []float64 {
	t, ok := r.tensors[id]
	if !ok {
		panic(fmt.Sprintf("reference: tensor %s was never computed", id))
	}
	return t.values
}

// Data returns the value of id as host data.
func (r *Reference) Data(id tensor.TensorID) *tensor.Data {
	t, ok := r.tensors[id]
	if !ok {
		panic(fmt.Sprintf("reference: tensor %s was never computed", id))
	}
	d := tensor.NewData(t.shape, t.elem)
	for i, v := range t.values {
		binary.LittleEndian.PutUint32(d.Bytes[i*4:], tensor.EncodeWord(t.elem, v))
	}
	return d
}

// Run evaluates op and stores its output.
func (r *Reference) Run(op stream.OperationDescription) {
	elem := op.Family().Elem()
	switch o := op.(type) {
	case stream.BinaryOperation:
		r.binary(o, elem)
	case stream.ScalarOperation:
		lhs := r.get(o.Lhs)
		out := append([]float64(nil), lhs.values...)
		scalar := round(elem, o.Rhs)
		switch o.Kind() {
		case stream.Add:
			floats.AddConst(scalar, out)
		case stream.Sub:
			floats.AddConst(-scalar, out)
		case stream.Mul:
			floats.Scale(scalar, out)
		default:
			for i, v := range lhs.values {
				out[i] = binaryValue(o.Kind(), elem, v, scalar)
			}
		}
		r.store(o.Out, resultElem(o.Kind(), elem), out)
	case stream.UnaryOperation:
		in := r.get(o.Input)
		out := make([]float64, len(in.values))
		for i, v := range in.values {
			out[i] = unaryValue(o.Kind(), elem, v)
		}
		r.store(o.Out, elem, out)
	case stream.ClampOperation:
		in := r.get(o.Input)
		lo, hi := round(elem, o.Min), round(elem, o.Max)
		out := make([]float64, len(in.values))
		for i, v := range in.values {
			out[i] = math.Min(math.Max(v, lo), hi)
		}
		r.store(o.Out, elem, out)
	case stream.MaskWhereOperation:
		shape := o.Out.Shape
		t := broadcastTo(r.get(o.Tensor).values, o.Tensor.Shape, shape)
		mask := broadcastTo(r.get(o.Mask).values, o.Mask.Shape, shape)
		value := broadcastTo(r.get(o.Value).values, o.Value.Shape, shape)
		out := make([]float64, shape.NumElements())
		for i := range out {
			out[i] = t[i]
			if mask[i] != 0 {
				out[i] = value[i]
			}
		}
		r.store(o.Out, elem, out)
	case stream.MaskFillOperation:
		shape := o.Out.Shape
		t := broadcastTo(r.get(o.Tensor).values, o.Tensor.Shape, shape)
		mask := broadcastTo(r.get(o.Mask).values, o.Mask.Shape, shape)
		value := round(elem, o.Value)
		out := make([]float64, shape.NumElements())
		for i := range out {
			out[i] = t[i]
			if mask[i] != 0 {
				out[i] = value
			}
		}
		r.store(o.Out, elem, out)
	case stream.CreationOperation:
		out := make([]float64, o.Out.Shape.NumElements())
		for i := range out {
			out[i] = round(elem, o.FillValue())
		}
		r.store(o.Out, elem, out)
	case stream.ReduceDimOperation:
		in := r.get(o.Input)
		var out []float64
		if o.Kind() == stream.MeanDim {
			out, _ = MeanDim(in.values, in.shape, o.Dim)
		} else {
			out, _ = SumDim(in.values, in.shape, o.Dim)
		}
		r.store(o.Out, elem, out)
	default:
		panic(fmt.Sprintf("reference: cannot evaluate %s", stream.Describe(op)))
	}
}

func (r *Reference) binary(o stream.BinaryOperation, elem tensor.Elem) {
	shape := o.Out.Shape
	lhs := broadcastTo(r.get(o.Lhs).values, o.Lhs.Shape, shape)
	rhs := broadcastTo(r.get(o.Rhs).values, o.Rhs.Shape, shape)
	out := make([]float64, shape.NumElements())
	switch {
	case o.Kind() == stream.Add:
		floats.AddTo(out, lhs, rhs)
	case o.Kind() == stream.Sub:
		floats.SubTo(out, lhs, rhs)
	case o.Kind() == stream.Mul:
		floats.MulTo(out, lhs, rhs)
	case o.Kind() == stream.Div && elem == tensor.F32:
		floats.DivTo(out, lhs, rhs)
	default:
		for i := range out {
			out[i] = binaryValue(o.Kind(), elem, lhs[i], rhs[i])
		}
	}
	r.store(o.Out, resultElem(o.Kind(), elem), out)
}

func (r *Reference) get(desc tensor.TensorDescription) hostTensor {
	t, ok := r.tensors[desc.ID]
	if !ok {
		panic(fmt.Sprintf("reference: tensor %s was never computed", desc.ID))
	}
	return t
}

func (r *Reference) store(desc tensor.TensorDescription, elem tensor.Elem, values []float64) {
	for i, v := range values {
		values[i] = round(elem, v)
	}
	r.tensors[desc.ID] = hostTensor{shape: desc.Shape.Clone(), elem: elem, values: values}
}

func resultElem(kind stream.Kind, elem tensor.Elem) tensor.Elem {
	switch kind {
	case stream.Equal, stream.Lower, stream.Greater, stream.LowerEqual, stream.GreaterEqual:
		return tensor.Bool
	}
	return elem
}

func binaryValue(kind stream.Kind, elem tensor.Elem, lhs, rhs float64) float64 {
	switch kind {
	case stream.Add:
		return lhs + rhs
	case stream.Sub:
		return lhs - rhs
	case stream.Mul:
		return lhs * rhs
	case stream.Div:
		return divide(elem, lhs, rhs)
	case stream.Powf:
		return powf(lhs, rhs)
	case stream.Equal:
		return boolValue(lhs == rhs)
	case stream.Lower:
		return boolValue(lhs < rhs)
	case stream.Greater:
		return boolValue(lhs > rhs)
	case stream.LowerEqual:
		return boolValue(lhs <= rhs)
	case stream.GreaterEqual:
		return boolValue(lhs >= rhs)
	}
	panic(fmt.Sprintf("reference: %s is not a binary operation", kind))
}

func unaryValue(kind stream.Kind, elem tensor.Elem, x float64) float64 {
	switch kind {
	case stream.Exp:
		return math.Exp(x)
	case stream.Log:
		return math.Log(x)
	case stream.Log1p:
		return math.Log1p(x)
	case stream.Cos:
		return math.Cos(x)
	case stream.Sin:
		return math.Sin(x)
	case stream.Tanh:
		return math.Tanh(x)
	case stream.Erf:
		return math.Erf(x)
	case stream.Sqrt:
		return math.Sqrt(x)
	case stream.Abs:
		return math.Abs(x)
	case stream.Recip:
		return divide(elem, 1, x)
	}
	panic(fmt.Sprintf("reference: %s is not a unary operation", kind))
}
