package cpu

import (
	"fmt"

	"github.com/born-ml/fusion/internal/tensor"
	"gonum.org/v1/gonum/floats"
)

// SumDim sums values of shape along dim. The result keeps the rank with shape[dim] == 1.
func SumDim(values []float64, shape tensor.Shape, dim int) ([]float64, tensor.Shape) {
	ndim := len(shape)
	if dim < 0 {
		dim = ndim + dim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("sumdim: dimension %d out of range for %dD tensor", dim, ndim))
	}

	outShape := shape.Clone()
	outShape[dim] = 1
	result := make([]float64, outShape.NumElements())
	sumDim(values, result, shape, dim)
	return result, outShape
}

// MeanDim averages values of shape along dim. The result keeps the rank with shape[dim] == 1.
func MeanDim(values []float64, shape tensor.Shape, dim int) ([]float64, tensor.Shape) {
	result, outShape := SumDim(values, shape, dim)
	if dim < 0 {
		dim = len(shape) + dim
	}
	floats.Scale(1/float64(shape[dim]), result)
	return result, outShape
}

// sumDim accumulates every element of data into result at its coordinate with dim dropped.
func sumDim(data, result []float64, shape tensor.Shape, dim int) {
	strides := shape.ComputeStrides()
	numElements := shape.NumElements()

	outShape := shape.Clone()
	outShape[dim] = 1
	outStrides := outShape.ComputeStrides()

	for i := 0; i < numElements; i++ {
		outIdx := 0
		temp := i
		for d := 0; d < len(shape); d++ {
			coord := temp / strides[d]
			temp %= strides[d]

			// The reduced dimension always maps to coordinate 0.
			if d != dim {
				outIdx += coord * outStrides[d]
			}
		}

		result[outIdx] += data[i]
	}
}
