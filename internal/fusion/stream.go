package fusion

import (
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Executor runs operations that never fuse, such as reductions.
type Executor interface {
	// Execute runs op and reports whether it handled it.
	Execute(op stream.OperationDescription, ctx *stream.Context, client *compute.Client) bool
}

// Stream feeds recorded operations to an elementwise builder and executes each fused
// segment once the builder closes. Operations the builder rejects on an empty fusion go
// to the executors.
type Stream struct {
	client    *compute.Client
	ctx       *stream.Context
	builder   *ElementWiseBuilder
	options   Options
	executors []Executor

	// drops are released tensors still used by the pending fusion.
	drops    []tensor.TensorID
	segments []SegmentInfo
}

// SegmentInfo describes one executed fusion.
type SegmentInfo struct {
	Operators int
	Inputs    int
	Outputs   int
	Kernel    string
}

// NewStream returns a stream executing on client.
func NewStream(client *compute.Client, options Options, executors ...Executor) *Stream {
	return &Stream{
		client:    client,
		ctx:       stream.NewContext(compute.NewHandleContainer()),
		builder:   NewElementWiseBuilder(client, options),
		options:   options,
		executors: executors,
	}
}

// Context returns the execution context of the stream.
func (s *Stream) Context() *stream.Context {
	return s.ctx
}

// Client returns the device client.
func (s *Stream) Client() *compute.Client {
	return s.client
}

// Segments returns the fusions executed so far.
func (s *Stream) Segments() []SegmentInfo {
	return s.segments
}

// Pending returns the number of operators waiting in the open fusion.
func (s *Stream) Pending() int {
	return s.builder.Len()
}

// Register records op. It runs now only if it closes the pending fusion or never fuses.
func (s *Stream) Register(op stream.OperationDescription) {
	s.ctx.Track(op)
	if s.tryFuse(op) {
		if !s.options.Enabled {
			s.Flush()
		}
		return
	}
	klog.V(1).Infof("fusion: %s closes the fusion of %d operators", stream.Describe(op), s.builder.Len())
	s.Flush()
	if s.tryFuse(op) {
		if !s.options.Enabled {
			s.Flush()
		}
		return
	}
	s.builder.Reset()
	for _, ex := range s.executors {
		if ex.Execute(op, s.ctx, s.client) {
			return
		}
	}
	exceptions.Panicf("fusion: no executor for %s", stream.Describe(op))
}

func (s *Stream) tryFuse(op stream.OperationDescription) bool {
	s.builder.Register(op)
	if s.builder.Status() == Closed {
		return false
	}
	s.ctx.AppendScalars(op)
	return true
}

// Flush executes the pending fusion, if any.
func (s *Stream) Flush() {
	if s.builder.Len() == 0 {
		s.builder.Reset()
		s.applyDrops()
		return
	}
	ew := s.builder.Build()
	klog.V(1).Infof("fusion: executing %d fused operators", ew.Len())
	Execute(ew, s.ctx)
	s.segments = append(s.segments, SegmentInfo{
		Operators: ew.Len(),
		Inputs:    len(ew.inputs),
		Outputs:   len(ew.outputs),
		Kernel:    ew.phase.kernelSet.LastSelected(),
	})
	s.ctx.ClearScalars()
	s.forgetConsumed()
	s.builder.Reset()
	s.applyDrops()
}

// forgetConsumed drops the descriptions of the tensors the executed fusion consumed:
// ReadWrite inputs and locals that were never written back.
func (s *Stream) forgetConsumed() {
	for id := range s.builder.tensors {
		if _, ok := s.ctx.Handles.Peek(id); !ok {
			s.ctx.Forget(id)
		}
	}
}

// Drop frees the buffer and description of tensor id. A tensor the pending fusion still
// reads or writes is dropped right after that fusion executes.
func (s *Stream) Drop(id tensor.TensorID) {
	if _, pending := s.builder.tensors[id]; pending {
		s.drops = append(s.drops, id)
		return
	}
	s.drop(id)
}

func (s *Stream) drop(id tensor.TensorID) {
	s.ctx.Handles.Drop(id)
	s.ctx.Forget(id)
}

func (s *Stream) applyDrops() {
	for _, id := range s.drops {
		s.drop(id)
	}
	s.drops = s.drops[:0]
}

// Create uploads data as tensor desc.
func (s *Stream) Create(desc tensor.TensorDescription, data *tensor.Data) {
	s.CreateStrided(desc, data, desc.Shape.ComputeStrides())
}

// CreateStrided uploads data whose elements are laid out with strides.
func (s *Stream) CreateStrided(desc tensor.TensorDescription, data *tensor.Data, strides []int) {
	handle := s.client.Create(data.Bytes)
	s.ctx.Handles.Register(desc.ID, compute.FusionHandle{Handle: handle, Strides: append([]int(nil), strides...)})
	s.ctx.Tensors[desc.ID] = desc
}

// Read flushes pending work and returns the content of tensor id in row-major order.
func (s *Stream) Read(id tensor.TensorID, elem tensor.Elem) *tensor.Data {
	s.Flush()
	handle, ok := s.ctx.Handles.Peek(id)
	if !ok {
		exceptions.Panicf("fusion: tensor %s has no buffer", id)
	}
	desc := s.ctx.Tensors[id]
	raw := s.client.Read(handle.Handle)
	if handle.IsContiguous(desc.Shape) {
		return tensor.FromBytes(desc.Shape, elem, raw)
	}
	return gather(desc.Shape, handle.Strides, elem, raw)
}

// Sync executes the pending fusion and waits for the device.
func (s *Stream) Sync() {
	s.Flush()
	s.client.Sync()
}

// gather copies a strided buffer into row-major order.
func gather(shape tensor.Shape, strides []int, elem tensor.Elem, raw []byte) *tensor.Data {
	out := tensor.NewData(shape, elem)
	contiguous := shape.ComputeStrides()
	for i := range shape.NumElements() {
		offset := 0
		for d := range shape {
			offset += (i / contiguous[d]) % shape[d] * strides[d]
		}
		copy(out.Bytes[i*4:i*4+4], raw[offset*4:offset*4+4])
	}
	return out
}
