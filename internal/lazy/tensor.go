package lazy

import (
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
)

type refCount struct {
	n int
}

// Tensor is a reference to a tensor recorded on a Device.
type Tensor struct {
	dev      *Device
	id       tensor.TensorID
	shape    tensor.Shape
	elem     tensor.Elem
	refs     *refCount
	consumed bool
}

// ID returns the tensor identifier.
func (t *Tensor) ID() tensor.TensorID { return t.id }

// Shape returns the tensor shape.
func (t *Tensor) Shape() tensor.Shape { return t.shape.Clone() }

// Elem returns the element type.
func (t *Tensor) Elem() tensor.Elem { return t.elem }

// Clone returns a new reference to the same tensor.
func (t *Tensor) Clone() *Tensor {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	t.check()
	t.refs.n++
	return &Tensor{dev: t.dev, id: t.id, shape: t.shape, elem: t.elem, refs: t.refs}
}

// Release drops this reference without using it. The buffer is freed with the last reference.
func (t *Tensor) Release() {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.consumed {
		return
	}
	t.consumed = true
	t.refs.n--
	if t.refs.n == 0 {
		t.dev.stream.Drop(t.id)
	}
}

// Data executes pending work and reads the tensor back. It does not consume t.
func (t *Tensor) Data() *tensor.Data {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	t.check()
	return t.dev.stream.Read(t.id, t.elem)
}

// Float32 reads back a float tensor.
func (t *Tensor) Float32() []float32 { return t.Data().Float32() }

// Int32 reads back an integer tensor.
func (t *Tensor) Int32() []int32 { return t.Data().Int32() }

// Bool reads back a boolean tensor.
func (t *Tensor) Bool() []bool { return t.Data().Bool() }

func (t *Tensor) check() {
	if t.consumed {
		exceptions.Panicf("lazy: tensor %s used after it was consumed", t.id)
	}
}

func (t *Tensor) desc(status tensor.TensorStatus) tensor.TensorDescription {
	return tensor.TensorDescription{ID: t.id, Shape: t.shape.Clone(), Status: status}
}

// use consumes this reference. The last reference is read with ReadWrite status so the
// kernel reading it may reuse its buffer.
func (t *Tensor) use() tensor.TensorDescription {
	t.check()
	t.consumed = true
	t.refs.n--
	if t.refs.n == 0 {
		return t.desc(tensor.ReadWrite)
	}
	return t.desc(tensor.ReadOnly)
}

func (t *Tensor) op(kind stream.Kind) stream.Op {
	return operation(t.elem, kind)
}

func broadcast(lhs, rhs tensor.Shape) tensor.Shape {
	if len(lhs) != len(rhs) {
		exceptions.Panicf("lazy: shapes %v and %v have different ranks", lhs, rhs)
	}
	shape, _, err := tensor.BroadcastShapes(lhs, rhs)
	if err != nil {
		exceptions.Panicf("lazy: %v", err)
	}
	return shape
}

func isComparison(kind stream.Kind) bool {
	switch kind {
	case stream.Equal, stream.Lower, stream.Greater, stream.LowerEqual, stream.GreaterEqual:
		return true
	}
	return false
}

func (t *Tensor) binary(kind stream.Kind, rhs *Tensor) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := t.elem
	if isComparison(kind) {
		elem = tensor.Bool
	}
	out := d.alloc(broadcast(t.shape, rhs.shape), elem)
	op := stream.BinaryOperation{Op: t.op(kind), Lhs: t.use(), Rhs: rhs.use(), Out: out.desc(tensor.NotInit)}
	d.stream.Register(op)
	return out
}

func (t *Tensor) scalar(kind stream.Kind, value float64) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	elem := t.elem
	if isComparison(kind) {
		elem = tensor.Bool
	}
	out := d.alloc(t.shape, elem)
	d.stream.Register(stream.ScalarOperation{Op: t.op(kind), Lhs: t.use(), Rhs: value, Out: out.desc(tensor.NotInit)})
	return out
}

func (t *Tensor) unary(kind stream.Kind) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.alloc(t.shape, t.elem)
	d.stream.Register(stream.UnaryOperation{Op: t.op(kind), Input: t.use(), Out: out.desc(tensor.NotInit)})
	return out
}

// Add returns t + rhs.
func (t *Tensor) Add(rhs *Tensor) *Tensor { return t.binary(stream.Add, rhs) }

// Sub returns t - rhs.
func (t *Tensor) Sub(rhs *Tensor) *Tensor { return t.binary(stream.Sub, rhs) }

// Mul returns t * rhs.
func (t *Tensor) Mul(rhs *Tensor) *Tensor { return t.binary(stream.Mul, rhs) }

// Div returns t / rhs.
func (t *Tensor) Div(rhs *Tensor) *Tensor { return t.binary(stream.Div, rhs) }

// Powf returns t ^ rhs.
func (t *Tensor) Powf(rhs *Tensor) *Tensor { return t.binary(stream.Powf, rhs) }

// Equal returns the boolean tensor t == rhs.
func (t *Tensor) Equal(rhs *Tensor) *Tensor { return t.binary(stream.Equal, rhs) }

// Lower returns the boolean tensor t < rhs.
func (t *Tensor) Lower(rhs *Tensor) *Tensor { return t.binary(stream.Lower, rhs) }

// Greater returns the boolean tensor t > rhs.
func (t *Tensor) Greater(rhs *Tensor) *Tensor { return t.binary(stream.Greater, rhs) }

// LowerEqual returns the boolean tensor t <= rhs.
func (t *Tensor) LowerEqual(rhs *Tensor) *Tensor { return t.binary(stream.LowerEqual, rhs) }

// GreaterEqual returns the boolean tensor t >= rhs.
func (t *Tensor) GreaterEqual(rhs *Tensor) *Tensor { return t.binary(stream.GreaterEqual, rhs) }

// AddScalar returns t + v.
func (t *Tensor) AddScalar(v float64) *Tensor { return t.scalar(stream.Add, v) }

// SubScalar returns t - v.
func (t *Tensor) SubScalar(v float64) *Tensor { return t.scalar(stream.Sub, v) }

// MulScalar returns t * v.
func (t *Tensor) MulScalar(v float64) *Tensor { return t.scalar(stream.Mul, v) }

// DivScalar returns t / v.
func (t *Tensor) DivScalar(v float64) *Tensor { return t.scalar(stream.Div, v) }

// PowfScalar returns t ^ v.
func (t *Tensor) PowfScalar(v float64) *Tensor { return t.scalar(stream.Powf, v) }

// EqualScalar returns the boolean tensor t == v.
func (t *Tensor) EqualScalar(v float64) *Tensor { return t.scalar(stream.Equal, v) }

// LowerScalar returns the boolean tensor t < v.
func (t *Tensor) LowerScalar(v float64) *Tensor { return t.scalar(stream.Lower, v) }

// GreaterScalar returns the boolean tensor t > v.
func (t *Tensor) GreaterScalar(v float64) *Tensor { return t.scalar(stream.Greater, v) }

// LowerEqualScalar returns the boolean tensor t <= v.
func (t *Tensor) LowerEqualScalar(v float64) *Tensor { return t.scalar(stream.LowerEqual, v) }

// GreaterEqualScalar returns the boolean tensor t >= v.
func (t *Tensor) GreaterEqualScalar(v float64) *Tensor { return t.scalar(stream.GreaterEqual, v) }

// Exp returns e^t.
func (t *Tensor) Exp() *Tensor { return t.unary(stream.Exp) }

// Log returns ln(t).
func (t *Tensor) Log() *Tensor { return t.unary(stream.Log) }

// Log1p returns ln(1 + t).
func (t *Tensor) Log1p() *Tensor { return t.unary(stream.Log1p) }

// Cos returns cos(t).
func (t *Tensor) Cos() *Tensor { return t.unary(stream.Cos) }

// Sin returns sin(t).
func (t *Tensor) Sin() *Tensor { return t.unary(stream.Sin) }

// Tanh returns tanh(t).
func (t *Tensor) Tanh() *Tensor { return t.unary(stream.Tanh) }

// Erf returns erf(t).
func (t *Tensor) Erf() *Tensor { return t.unary(stream.Erf) }

// Sqrt returns sqrt(t).
func (t *Tensor) Sqrt() *Tensor { return t.unary(stream.Sqrt) }

// Abs returns |t|.
func (t *Tensor) Abs() *Tensor { return t.unary(stream.Abs) }

// Recip returns 1 / t.
func (t *Tensor) Recip() *Tensor { return t.unary(stream.Recip) }

// Clamp limits t to [lo, hi].
func (t *Tensor) Clamp(lo, hi float64) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.alloc(t.shape, t.elem)
	d.stream.Register(stream.ClampOperation{Op: t.op(stream.Clamp), Input: t.use(), Min: lo, Max: hi, Out: out.desc(tensor.NotInit)})
	return out
}

// MaskWhere takes value where mask is true and t elsewhere.
func (t *Tensor) MaskWhere(mask, value *Tensor) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.alloc(broadcast(broadcast(t.shape, mask.shape), value.shape), t.elem)
	d.stream.Register(stream.MaskWhereOperation{
		Op:     t.op(stream.MaskWhere),
		Tensor: t.use(),
		Mask:   mask.use(),
		Value:  value.use(),
		Out:    out.desc(tensor.NotInit),
	})
	return out
}

// MaskFill writes value where mask is true and keeps t elsewhere.
func (t *Tensor) MaskFill(mask *Tensor, value float64) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.alloc(broadcast(t.shape, mask.shape), t.elem)
	d.stream.Register(stream.MaskFillOperation{
		Op:     t.op(stream.MaskFill),
		Tensor: t.use(),
		Mask:   mask.use(),
		Value:  value,
		Out:    out.desc(tensor.NotInit),
	})
	return out
}

// SumDim sums along dim, keeping it with size 1.
func (t *Tensor) SumDim(dim int) *Tensor { return t.reduce(stream.SumDim, dim) }

// MeanDim averages along dim, keeping it with size 1.
func (t *Tensor) MeanDim(dim int) *Tensor { return t.reduce(stream.MeanDim, dim) }

func (t *Tensor) reduce(kind stream.Kind, dim int) *Tensor {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if dim < 0 {
		dim += len(t.shape)
	}
	if dim < 0 || dim >= len(t.shape) {
		exceptions.Panicf("lazy: dimension %d out of range for shape %v", dim, t.shape)
	}
	shape := t.shape.Clone()
	shape[dim] = 1
	out := d.alloc(shape, t.elem)
	d.stream.Register(stream.ReduceDimOperation{Op: t.op(kind), Input: t.use(), Dim: dim, Out: out.desc(tensor.NotInit)})
	return out
}
