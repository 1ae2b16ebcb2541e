package cpu

import (
	"github.com/born-ml/fusion/internal/tensor"
)

// broadcastTo expands values of shape to outShape, sharing the slice when nothing changes.
func broadcastTo(values []float64, shape, outShape tensor.Shape) []float64 {
	if shape.Equal(outShape) {
		return values
	}
	outStrides := outShape.ComputeStrides()
	inStrides := shape.BroadcastStrides(outShape)
	out := make([]float64, outShape.NumElements())
	for i := range out {
		rem, src := i, 0
		for d, stride := range outStrides {
			src += rem / stride * inStrides[d]
			rem %= stride
		}
		out[i] = values[src]
	}
	return out
}
