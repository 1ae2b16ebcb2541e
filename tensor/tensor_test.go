// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/fusion/backend/cpu"
	"github.com/born-ml/fusion/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicAPI(t *testing.T) {
	dev, err := cpu.New()
	require.NoError(t, err)

	x := dev.FromData(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4}))
	y := x.Clone().MulScalar(2).Add(x)
	assert.Equal(t, []float32{3, 6, 9, 12}, y.Float32())
	assert.Equal(t, tensor.F32, y.Elem())

	mask := dev.FromData(tensor.FromInt32(tensor.Shape{2}, []int32{1, -1})).GreaterScalar(0)
	assert.Equal(t, tensor.Bool, mask.Elem())
	assert.Equal(t, []bool{true, false}, mask.Bool())
}
