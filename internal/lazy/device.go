// Package lazy records tensor operations into a fusion stream instead of running them.
// Work reaches the device when a fusion closes or when a result is read back.
//
// Tensors follow move semantics: an operation consumes its operands, and a tensor that
// is needed again must be cloned first. The last reference to a tensor is what lets a
// fused kernel write its output into that tensor's buffer.
package lazy

import (
	"sync"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/fusion"
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
)

// Device owns a fusion stream over one compute client. It is safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	stream *fusion.Stream
}

// NewDevice returns a device recording into a new stream on client.
func NewDevice(client *compute.Client, options fusion.Options, executors ...fusion.Executor) *Device {
	return &Device{stream: fusion.NewStream(client, options, executors...)}
}

// Name returns the name of the compute server.
func (d *Device) Name() string {
	return d.stream.Client().Name()
}

// Stats returns the memory statistics of the client.
func (d *Device) Stats() compute.Stats {
	return d.stream.Client().Stats()
}

// Segments returns the fusions executed so far.
func (d *Device) Segments() []fusion.SegmentInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fusion.SegmentInfo(nil), d.stream.Segments()...)
}

// Pending returns the number of operations waiting in the open fusion.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream.Pending()
}

// Sync executes pending work and waits for the device.
func (d *Device) Sync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream.Sync()
}

// FromData uploads host data.
func (d *Device) FromData(data *tensor.Data) *Tensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.alloc(data.Shape, data.Elem)
	d.stream.Create(t.desc(tensor.NotInit), data)
	return t
}

// FromFloat32 uploads float values.
func (d *Device) FromFloat32(shape tensor.Shape, values []float32) *Tensor {
	return d.FromData(tensor.FromFloat32(shape, values))
}

// FromInt32 uploads integer values.
func (d *Device) FromInt32(shape tensor.Shape, values []int32) *Tensor {
	return d.FromData(tensor.FromInt32(shape, values))
}

// FromBool uploads boolean values.
func (d *Device) FromBool(shape tensor.Shape, values []bool) *Tensor {
	return d.FromData(tensor.FromBool(shape, values))
}

// Zeros records a tensor of zeros.
func (d *Device) Zeros(shape tensor.Shape, elem tensor.Elem) *Tensor {
	return d.creation(stream.Zeros, shape, elem, 0)
}

// Ones records a tensor of ones.
func (d *Device) Ones(shape tensor.Shape, elem tensor.Elem) *Tensor {
	return d.creation(stream.Ones, shape, elem, 1)
}

// Full records a tensor filled with value.
func (d *Device) Full(shape tensor.Shape, elem tensor.Elem, value float64) *Tensor {
	return d.creation(stream.Full, shape, elem, value)
}

func (d *Device) creation(kind stream.Kind, shape tensor.Shape, elem tensor.Elem, value float64) *Tensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	op := operation(elem, kind)
	out := d.alloc(shape, elem)
	d.stream.Register(stream.CreationOperation{
		Op:    op,
		Value: value,
		Out:   out.desc(tensor.NotInit),
	})
	return out
}

func (d *Device) alloc(shape tensor.Shape, elem tensor.Elem) *Tensor {
	_ = family(elem)
	return &Tensor{
		dev:   d,
		id:    tensor.NewTensorID(),
		shape: shape.Clone(),
		elem:  elem,
		refs:  &refCount{n: 1},
	}
}

// family maps an element type to its operation family. Unsigned tensors have no family
// of their own and are refused rather than computed as signed ones.
func family(elem tensor.Elem) stream.Family {
	switch elem {
	case tensor.F32:
		return stream.Float
	case tensor.I32:
		return stream.Int
	case tensor.Bool:
		return stream.BoolFamily
	default:
		exceptions.Panicf("lazy: %s tensors are not supported", elem)
		return 0
	}
}

// operation returns the description header of kind over elem tensors.
func operation(elem tensor.Elem, kind stream.Kind) stream.Op {
	f := family(elem)
	if !f.Defines(kind) {
		exceptions.Panicf("lazy: %s is not defined for %s tensors", kind, elem)
	}
	return stream.Op{F: f, K: kind}
}
