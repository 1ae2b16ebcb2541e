package tensor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeComputeStrides(t *testing.T) {
	tests := []struct {
		shape Shape
		want  []int
	}{
		{Shape{}, []int{}},
		{Shape{4}, []int{1}},
		{Shape{2, 3}, []int{3, 1}},
		{Shape{2, 3, 4}, []int{12, 4, 1}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.shape.ComputeStrides(), "shape %v", tt.shape)
	}
}

func TestShapeIsContiguous(t *testing.T) {
	s := Shape{2, 3}
	assert.True(t, s.IsContiguous([]int{3, 1}))
	assert.False(t, s.IsContiguous([]int{1, 2}), "transposed layout")
	assert.True(t, Shape{1, 3}.IsContiguous([]int{42, 1}), "size-1 dimensions ignore their stride")
	assert.False(t, s.IsContiguous([]int{1}), "rank mismatch")
}

func TestBroadcastShapes(t *testing.T) {
	out, needs, err := BroadcastShapes(Shape{1, 32}, Shape{32, 32})
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Equal(t, Shape{32, 32}, out)

	_, _, err = BroadcastShapes(Shape{32, 32}, Shape{32, 42})
	assert.Error(t, err)
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int{0, 1}, Shape{1, 4}.BroadcastStrides(Shape{3, 4}))
	assert.Equal(t, []int{1, 0}, Shape{3, 1}.BroadcastStrides(Shape{3, 4}))
	assert.Equal(t, []int{0, 4, 1}, Shape{2, 4}.BroadcastStrides(Shape{5, 2, 4}))
	assert.Equal(t, 1, Shape{}.NumElements())
}

func TestDataRoundTrip(t *testing.T) {
	f := FromFloat32(Shape{2, 2}, []float32{1, -2.5, 3, 4})
	assert.Equal(t, []float32{1, -2.5, 3, 4}, f.Float32())
	assert.Equal(t, []float64{1, -2.5, 3, 4}, f.Float64())

	i := FromInt32(Shape{3}, []int32{-1, 0, 7})
	assert.Equal(t, []int32{-1, 0, 7}, i.Int32())

	b := FromBool(Shape{3}, []bool{true, false, true})
	assert.Equal(t, []bool{true, false, true}, b.Bool())
	assert.Len(t, b.Bytes, 12, "booleans are stored as u32 words")

	assert.Panics(t, func() { f.Int32() })
	assert.Panics(t, func() { FromFloat32(Shape{3}, []float32{1}) })
}

func TestDescriptionJSON(t *testing.T) {
	desc := TensorDescription{ID: NewTensorID(), Shape: Shape{4, 4}, Status: ReadWrite}
	raw, err := json.Marshal(desc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"read_write"`)

	var decoded TensorDescription
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, desc, decoded)
}

func TestElemText(t *testing.T) {
	for _, e := range []Elem{F32, I32, U32, Bool} {
		text, err := e.MarshalText()
		require.NoError(t, err)
		var back Elem
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, e, back)
	}
	assert.Equal(t, "u32", Bool.StorageWGSL())
}
