// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides lazily evaluated tensors whose elementwise operations are fused
// into generated compute kernels.
//
// # Overview
//
// Operations are recorded instead of executed. Consecutive elementwise operations over
// tensors of the same shape are compiled into one WGSL kernel, which runs when the chain
// ends or when a result is read back:
//
//	import (
//	    "github.com/born-ml/fusion/backend/cpu"
//	    "github.com/born-ml/fusion/tensor"
//	)
//
//	func main() {
//	    dev, _ := cpu.New()
//	    x := dev.FromFloat32(tensor.Shape{2, 4}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
//	    y := x.Clone().Exp().Add(x).MulScalar(0.5) // one kernel
//	    fmt.Println(y.Float32())
//	}
//
// # Ownership
//
// Every operation consumes its tensor operands. A tensor used again later must be cloned
// first; Release drops a tensor that is no longer needed. When an operand is the last
// reference to its buffer and the layout allows it, the fused kernel writes its output
// in place.
//
// # Element Types
//
// Tensors hold F32, I32 or Bool elements. Comparisons return Bool tensors; booleans are
// stored as 32-bit words on the device.
//
// # Reductions
//
// SumDim and MeanDim never fuse. Each one runs the fastest of several kernels, picked by
// benchmarking per shape class on first use.
package tensor
