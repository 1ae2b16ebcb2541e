package cpu

import (
	"testing"

	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/stretchr/testify/assert"
)

func desc(shape ...int) tensor.TensorDescription {
	return tensor.TensorDescription{ID: tensor.NewTensorID(), Shape: shape, Status: tensor.ReadOnly}
}

func TestSumDim(t *testing.T) {
	// [[1, 2, 3], [4, 5, 6]]
	values := []float64{1, 2, 3, 4, 5, 6}

	rows, shape := SumDim(values, tensor.Shape{2, 3}, -1)
	assert.Equal(t, tensor.Shape{2, 1}, shape)
	assert.Equal(t, []float64{6, 15}, rows)

	cols, shape := SumDim(values, tensor.Shape{2, 3}, 0)
	assert.Equal(t, tensor.Shape{1, 3}, shape)
	assert.Equal(t, []float64{5, 7, 9}, cols)

	assert.Panics(t, func() { SumDim(values, tensor.Shape{2, 3}, 2) })
}

func TestMeanDim(t *testing.T) {
	mean, shape := MeanDim([]float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, 1)
	assert.Equal(t, tensor.Shape{2, 1}, shape)
	assert.InDeltaSlice(t, []float64{2, 5}, mean, 1e-12)
}

func TestReferenceChain(t *testing.T) {
	r := NewReference()
	a, b := desc(2, 2), desc(1, 2)
	r.Set(a.ID, tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, -2, 3, -4}))
	r.Set(b.ID, tensor.FromFloat32(tensor.Shape{1, 2}, []float32{10, 20}))

	sum, scaled, clamped := desc(2, 2), desc(2, 2), desc(2, 2)
	r.Run(stream.BinaryOperation{Op: stream.Op{F: stream.Float, K: stream.Add}, Lhs: a, Rhs: b, Out: sum})
	r.Run(stream.ScalarOperation{Op: stream.Op{F: stream.Float, K: stream.Mul}, Lhs: sum, Rhs: 0.5, Out: scaled})
	r.Run(stream.ClampOperation{Op: stream.Op{F: stream.Float, K: stream.Clamp}, Input: scaled, Min: 5, Max: 8, Out: clamped})

	assert.Equal(t, []float64{11, 18, 13, 16}, r.Values(sum.ID))
	assert.Equal(t, []float64{5.5, 8, 6.5, 8}, r.Values(clamped.ID))
	assert.Equal(t, []float32{5.5, 8, 6.5, 8}, r.Data(clamped.ID).Float32())
}

func TestReferenceMaskAndCompare(t *testing.T) {
	r := NewReference()
	x := desc(4)
	r.Set(x.ID, tensor.FromInt32(tensor.Shape{4}, []int32{-1, 3, 0, 8}))

	mask, filled := desc(4), desc(4)
	r.Run(stream.ScalarOperation{Op: stream.Op{F: stream.Int, K: stream.Lower}, Lhs: x, Rhs: 1, Out: mask})
	r.Run(stream.MaskFillOperation{Op: stream.Op{F: stream.Int, K: stream.MaskFill}, Tensor: x, Mask: mask, Value: 100, Out: filled})

	assert.Equal(t, []bool{true, false, true, false}, r.Data(mask.ID).Bool())
	assert.Equal(t, []int32{100, 3, 100, 8}, r.Data(filled.ID).Int32())
}

func TestReferenceIntegerDivision(t *testing.T) {
	r := NewReference()
	x, y, q := desc(3), desc(3), desc(3)
	r.Set(x.ID, tensor.FromInt32(tensor.Shape{3}, []int32{7, -7, 5}))
	r.Set(y.ID, tensor.FromInt32(tensor.Shape{3}, []int32{2, 2, 0}))
	r.Run(stream.BinaryOperation{Op: stream.Op{F: stream.Int, K: stream.Div}, Lhs: x, Rhs: y, Out: q})
	assert.Equal(t, []int32{3, -3, 5}, r.Data(q.ID).Int32())
}

func TestReferenceReduceAndCreation(t *testing.T) {
	r := NewReference()
	ones, mean := desc(2, 4), desc(2, 1)
	r.Run(stream.CreationOperation{Op: stream.Op{F: stream.Float, K: stream.Ones}, Out: ones})
	r.Run(stream.ReduceDimOperation{Op: stream.Op{F: stream.Float, K: stream.MeanDim}, Input: ones, Dim: 1, Out: mean})
	assert.Equal(t, []float64{1, 1}, r.Values(mean.ID))

	assert.Panics(t, func() {
		r.Run(stream.OpaqueOperation{Op: stream.Op{F: stream.Float, K: "matmul"}, Out: desc(1)})
	})
}
