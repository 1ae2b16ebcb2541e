package fusion

import (
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Priority ranks a kernel variant for one dispatch. Higher scores win.
type Priority struct {
	Available bool
	Score     uint8
}

// Available returns a priority with the given score.
func Available(score uint8) Priority {
	return Priority{Available: true, Score: score}
}

// Unavailable marks a variant that cannot run on the given buffers.
var Unavailable = Priority{}

// OutputInfo tells where an output of the selected kernel is stored.
type OutputInfo struct {
	// Inplace outputs reuse the buffer of input InputIndex.
	Inplace    bool
	InputIndex int
	// Size is the byte size of a freshly allocated output.
	Size int
}

// InplaceOutput reuses the buffer of input index.
func InplaceOutput(index int) OutputInfo {
	return OutputInfo{Inplace: true, InputIndex: index}
}

// ArrayOutput allocates size bytes.
func ArrayOutput(size int) OutputInfo {
	return OutputInfo{Size: size}
}

// SelectedKernel is a dispatchable kernel and the placement of its outputs.
type SelectedKernel struct {
	Name   string
	Kernel compute.Kernel
	Info   []OutputInfo
}

// FusionKernel is one compiled variant of a fusion.
type FusionKernel interface {
	// Name identifies the variant in logs.
	Name() string
	// Priority tells whether and how well the variant runs on the given buffers.
	Priority(handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) Priority
	// Kernel binds the variant to the given buffers.
	Kernel(handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) SelectedKernel
}

// FusionKernelSet holds every compiled variant of one fusion and runs the best one.
type FusionKernelSet struct {
	kernels      []FusionKernel
	lastSelected string
}

// NewFusionKernelSet groups kernels; the order of registration breaks priority ties.
func NewFusionKernelSet(kernels []FusionKernel) *FusionKernelSet {
	return &FusionKernelSet{kernels: kernels}
}

// Kernels returns the registered variants.
func (s *FusionKernelSet) Kernels() []FusionKernel {
	return s.kernels
}

// LastSelected returns the name of the variant chosen by the latest Select.
func (s *FusionKernelSet) LastSelected() string {
	return s.lastSelected
}

// Select returns the variant with the highest priority; the first registered wins ties.
// It panics when no variant is available.
func (s *FusionKernelSet) Select(handles []compute.FusionHandle, inputs, outputs []tensor.TensorDescription) SelectedKernel {
	var best FusionKernel
	var bestScore uint8
	for _, k := range s.kernels {
		p := k.Priority(handles, inputs, outputs)
		if !p.Available {
			continue
		}
		if best == nil || p.Score > bestScore {
			best, bestScore = k, p.Score
		}
	}
	if best == nil {
		exceptions.Panicf("fusion: no kernel available among %d variants", len(s.kernels))
	}
	selected := best.Kernel(handles, inputs, outputs)
	s.lastSelected = selected.Name
	klog.V(2).Infof("fusion: selected %s (priority %d)", selected.Name, bestScore)
	return selected
}

// Execute resolves the buffers of the fusion, dispatches the best variant and registers
// the outputs in the handle table.
//
// The read status of every input is taken from inputs, the fusion's own view, since the
// stream may already hold a later description of the same tensor.
func (s *FusionKernelSet) Execute(inputs, outputs []tensor.TensorDescription, scalars Scalars, ctx *stream.Context, client *compute.Client) {
	handles := make([]compute.FusionHandle, len(inputs))
	inputsUpdated := make([]tensor.TensorDescription, len(inputs))
	for i, in := range inputs {
		inputsUpdated[i] = latest(ctx, in)
		handles[i] = ctx.Handles.Get(in.ID, in.Status)
	}
	outputsUpdated := make([]tensor.TensorDescription, len(outputs))
	for i, out := range outputs {
		outputsUpdated[i] = latest(ctx, out)
	}

	selected := s.Select(handles, inputsUpdated, outputsUpdated)

	var info []uint32
	bindings := make([]compute.Handle, 0, len(inputs)+len(outputs)+4)
	for i, h := range handles {
		info = appendInfo(info, inputsUpdated[i].Shape, h.Strides)
		bindings = append(bindings, h.Handle)
	}

	type registration struct {
		id     tensor.TensorID
		handle compute.FusionHandle
	}
	registrations := make([]registration, 0, len(outputs))
	for i, out := range outputsUpdated {
		strides := out.Shape.ComputeStrides()
		placement := selected.Info[i]
		if placement.Inplace {
			donor := handles[placement.InputIndex].Handle.Clone()
			registrations = append(registrations, registration{out.ID, compute.FusionHandle{Handle: donor, Strides: strides}})
			continue
		}
		buffer := client.Empty(placement.Size)
		info = appendInfo(info, out.Shape, strides)
		bindings = append(bindings, buffer)
		registrations = append(registrations, registration{out.ID, compute.FusionHandle{Handle: buffer, Strides: strides}})
	}

	temporaries := []compute.Handle{client.Create(tensor.FromUint32(tensor.Shape{len(info)}, info).Bytes)}
	if scalars.NumF32 > 0 {
		values := take(ctx.ScalarFloats, scalars.NumF32, "f32")
		temporaries = append(temporaries, client.Create(tensor.FromFloat32(tensor.Shape{len(values)}, values).Bytes))
	}
	if scalars.NumI32 > 0 {
		values := take(ctx.ScalarInts, scalars.NumI32, "i32")
		temporaries = append(temporaries, client.Create(tensor.FromInt32(tensor.Shape{len(values)}, values).Bytes))
	}
	if scalars.NumU32 > 0 {
		values := take(ctx.ScalarUints, scalars.NumU32, "u32")
		temporaries = append(temporaries, client.Create(tensor.FromUint32(tensor.Shape{len(values)}, values).Bytes))
	}
	bindings = append(bindings, temporaries...)

	client.Execute(selected.Kernel, bindings)

	for _, r := range registrations {
		ctx.Handles.Register(r.id, r.handle)
	}
	for _, h := range handles {
		h.Handle.Release()
	}
	for _, h := range temporaries {
		h.Release()
	}
}

func latest(ctx *stream.Context, desc tensor.TensorDescription) tensor.TensorDescription {
	if updated, ok := ctx.Tensors[desc.ID]; ok {
		return updated
	}
	return desc
}

func take[T any](values []T, n int, name string) []T {
	if len(values) < n {
		exceptions.Panicf("fusion: kernel needs %d %s scalars, context holds %d", n, name, len(values))
	}
	return values[:n]
}

// appendInfo writes the layout block of one tensor: the rank first if info is empty, then
// its strides and its shape, as u32 words.
func appendInfo(info []uint32, shape tensor.Shape, strides []int) []uint32 {
	if len(info) == 0 {
		info = append(info, uint32(len(strides))) //nolint:gosec // rank is small
	} else if int(info[0]) != len(strides) || len(shape) != len(strides) {
		exceptions.Panicf("fusion: tensor of rank %d fused with tensors of rank %d", len(shape), info[0])
	}
	for _, s := range strides {
		info = append(info, uint32(s)) //nolint:gosec // strides fit in u32 on the device
	}
	for _, d := range shape {
		info = append(info, uint32(d)) //nolint:gosec // dims fit in u32 on the device
	}
	return info
}
