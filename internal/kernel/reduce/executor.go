package reduce

import (
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/born-ml/fusion/internal/stream"
	"github.com/born-ml/fusion/internal/tensor"
	"k8s.io/klog/v2"
)

// Executor runs SumDim and MeanDim operations of the stream through the autotuner.
type Executor struct {
	tuner *compute.Tuner
	cfg   parallel.Config
	// Autotune false always runs the first strategy.
	Autotune bool
}

// NewExecutor returns an executor tuning with tuner, or with the process-wide tuner when nil.
func NewExecutor(tuner *compute.Tuner, cfg parallel.Config) *Executor {
	if tuner == nil {
		tuner = compute.DefaultTuner()
	}
	return &Executor{tuner: tuner, cfg: cfg, Autotune: true}
}

// Execute runs op when it is a dimension reduction and reports whether it did.
func (e *Executor) Execute(op stream.OperationDescription, ctx *stream.Context, client *compute.Client) bool {
	reduce, ok := op.(stream.ReduceDimOperation)
	if !ok {
		return false
	}
	mode := Sum
	switch reduce.Kind() {
	case stream.SumDim:
	case stream.MeanDim:
		mode = Mean
	default:
		return false
	}
	elem := reduce.Family().Elem()
	if elem != tensor.F32 && elem != tensor.I32 {
		return false
	}

	input := ctx.Handles.Get(reduce.Input.ID, reduce.Input.Status)
	outStrides := reduce.Out.Shape.ComputeStrides()
	output := client.Empty(reduce.Out.Shape.NumElements() * elem.Size())

	set := NewOperationSet(client, mode, elem, input, reduce.Input.Shape, reduce.Dim, output, e.cfg)
	if e.Autotune {
		e.tuner.Execute(set, client)
	} else {
		set.Fastest(0).Execute()
	}
	klog.V(2).Infof("reduce: %s %v along %d", mode, reduce.Input.Shape, reduce.Dim)

	ctx.Handles.Register(reduce.Out.ID, compute.FusionHandle{Handle: output, Strides: outStrides})
	ctx.Tensors[reduce.Out.ID] = reduce.Out
	if reduce.Input.Status == tensor.ReadWrite {
		ctx.Forget(reduce.Input.ID)
	}
	set.Release()
	input.Handle.Release()
	return true
}
