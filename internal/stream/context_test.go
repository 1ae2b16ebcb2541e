package stream

import (
	"testing"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/stretchr/testify/assert"
)

func desc(status tensor.TensorStatus) tensor.TensorDescription {
	return tensor.TensorDescription{ID: tensor.NewTensorID(), Shape: tensor.Shape{2, 2}, Status: status}
}

func TestTrackKeepsLatestDescription(t *testing.T) {
	ctx := NewContext(compute.NewHandleContainer())
	x := desc(tensor.ReadOnly)
	out := desc(tensor.NotInit)

	ctx.Track(UnaryOperation{Op: Op{F: Float, K: Exp}, Input: x, Out: out})
	assert.Equal(t, tensor.ReadOnly, ctx.Tensors[x.ID].Status)
	assert.Equal(t, tensor.NotInit, ctx.Tensors[out.ID].Status)

	ctx.Track(UnaryOperation{Op: Op{F: Float, K: Log}, Input: x.WithStatus(tensor.ReadWrite), Out: desc(tensor.NotInit)})
	assert.Equal(t, tensor.ReadWrite, ctx.Tensors[x.ID].Status)
	assert.Len(t, ctx.Tensors, 3)
}

func TestAppendScalarsOrder(t *testing.T) {
	ctx := NewContext(compute.NewHandleContainer())
	ctx.AppendScalars(ScalarOperation{Op: Op{F: Float, K: Add}, Lhs: desc(tensor.ReadWrite), Rhs: 1.5})
	ctx.AppendScalars(ClampOperation{Op: Op{F: Float, K: Clamp}, Input: desc(tensor.ReadWrite), Min: -1, Max: 1})
	ctx.AppendScalars(ScalarOperation{Op: Op{F: Int, K: Mul}, Lhs: desc(tensor.ReadWrite), Rhs: -3})
	ctx.AppendScalars(MaskFillOperation{Op: Op{F: Int, K: MaskFill}, Tensor: desc(tensor.ReadWrite), Mask: desc(tensor.ReadOnly), Value: 9})
	ctx.AppendScalars(UnaryOperation{Op: Op{F: Float, K: Exp}})

	assert.Equal(t, []float32{1.5, -1, 1}, ctx.ScalarFloats)
	assert.Equal(t, []int32{-3, 9}, ctx.ScalarInts)
	assert.Empty(t, ctx.ScalarUints)

	ctx.ClearScalars()
	assert.Empty(t, ctx.ScalarFloats)
	assert.Empty(t, ctx.ScalarInts)
}

func TestOperationKinds(t *testing.T) {
	op := BinaryOperation{Op: Op{F: BoolFamily, K: Equal}, Lhs: desc(tensor.ReadOnly), Rhs: desc(tensor.ReadOnly), Out: desc(tensor.NotInit)}
	assert.Equal(t, BoolFamily, op.Family())
	assert.Equal(t, Equal, op.Kind())
	assert.Len(t, op.Tensors(), 3)
	assert.Equal(t, tensor.Bool, BoolFamily.Elem())
	assert.Equal(t, tensor.I32, Int.Elem())

	assert.Equal(t, 1.0, CreationOperation{Op: Op{F: Float, K: Ones}, Value: 7}.FillValue())
	assert.Equal(t, 0.0, CreationOperation{Op: Op{F: Float, K: Zeros}, Value: 7}.FillValue())
	assert.Equal(t, 7.0, CreationOperation{Op: Op{F: Float, K: Full}, Value: 7}.FillValue())
}
