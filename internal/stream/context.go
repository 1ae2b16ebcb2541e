package stream

import (
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/tensor"
)

// Context is what an executing fusion sees of the stream: the latest description of
// every tensor, the buffers behind them and the scalar arguments of the pending segment.
type Context struct {
	Tensors      map[tensor.TensorID]tensor.TensorDescription
	Handles      *compute.HandleContainer
	ScalarFloats []float32
	ScalarInts   []int32
	ScalarUints  []uint32
}

// NewContext returns an empty context over handles.
func NewContext(handles *compute.HandleContainer) *Context {
	return &Context{
		Tensors: make(map[tensor.TensorID]tensor.TensorDescription),
		Handles: handles,
	}
}

// Track records the descriptions carried by op as the latest ones.
func (c *Context) Track(op OperationDescription) {
	for _, desc := range op.Tensors() {
		c.Tensors[desc.ID] = desc
	}
}

// Forget drops the description of a tensor that will not be read again.
func (c *Context) Forget(id tensor.TensorID) {
	delete(c.Tensors, id)
}

// AppendScalars pushes the scalar arguments of op in the order the fusion builder
// numbers them.
func (c *Context) AppendScalars(op OperationDescription) {
	switch o := op.(type) {
	case ScalarOperation:
		c.appendScalar(o.F, o.Rhs)
	case ClampOperation:
		c.appendScalar(o.F, o.Min)
		c.appendScalar(o.F, o.Max)
	case MaskFillOperation:
		c.appendScalar(o.F, o.Value)
	}
}

func (c *Context) appendScalar(f Family, v float64) {
	switch f.Elem() {
	case tensor.F32:
		c.ScalarFloats = append(c.ScalarFloats, float32(v))
	case tensor.I32:
		c.ScalarInts = append(c.ScalarInts, int32(v))
	case tensor.U32:
		c.ScalarUints = append(c.ScalarUints, uint32(v))
	}
}

// ClearScalars drops the scalars of an executed segment.
func (c *Context) ClearScalars() {
	c.ScalarFloats = c.ScalarFloats[:0]
	c.ScalarInts = c.ScalarInts[:0]
	c.ScalarUints = c.ScalarUints[:0]
}
