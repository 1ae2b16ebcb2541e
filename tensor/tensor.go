// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/fusion/internal/lazy"
	"github.com/born-ml/fusion/internal/tensor"
)

// Tensor is a lazily evaluated tensor owned by a Device.
type Tensor = lazy.Tensor

// Device records operations and executes fused kernels on one compute server.
type Device = lazy.Device

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Elem is the element type of a tensor.
type Elem = tensor.Elem

// Element types.
const (
	F32  Elem = tensor.F32
	I32  Elem = tensor.I32
	Bool Elem = tensor.Bool
)

// Data is a host-side copy of tensor values.
type Data = tensor.Data

// FromFloat32 wraps values as host data of the given shape.
func FromFloat32(shape Shape, values []float32) *Data {
	return tensor.FromFloat32(shape, values)
}

// FromInt32 wraps values as host data of the given shape.
func FromInt32(shape Shape, values []int32) *Data {
	return tensor.FromInt32(shape, values)
}

// FromBool wraps values as host data of the given shape.
func FromBool(shape Shape, values []bool) *Data {
	return tensor.FromBool(shape, values)
}
