package tensor

import (
	"slices"

	"github.com/pkg/errors"
)

// Shape represents the dimensions of a tensor. The empty shape is a scalar.
type Shape []int

// NumElements returns the product of the dimensions.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	return slices.Clone(s)
}

// ComputeStrides returns the row-major strides of the shape, in elements.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

// IsContiguous reports whether strides describe a row-major layout of the shape.
// Dimensions of size 1 are ignored since their stride is never used.
func (s Shape) IsContiguous(strides []int) bool {
	if len(strides) != len(s) {
		return false
	}
	expected := 1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != 1 && strides[i] != expected {
			return false
		}
		expected *= s[i]
	}
	return true
}

// BroadcastStrides returns the strides that read a row-major s as if it had shape out.
// Dimensions broadcast from 1, or missing on the left, get stride 0.
func (s Shape) BroadcastStrides(out Shape) []int {
	own := s.ComputeStrides()
	strides := make([]int, len(out))
	offset := len(out) - len(s)
	for i := range out {
		if j := i - offset; j >= 0 && s[j] != 1 {
			strides[i] = own[j]
		}
	}
	return strides
}

// BroadcastShapes aligns a and b from the right; each pair of dimensions must match or
// one of them must be 1. The flag reports whether either side is expanded.
//
//	(3, 1) + (3, 5) → (3, 5), true
//	(3, 5) + (3, 5) → (3, 5), false
//	(3, 4) + (3, 5) → error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	rank := max(len(a), len(b))
	out := make(Shape, rank)
	expanded := false
	for i := 1; i <= rank; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db:
			out[rank-i] = da
		case da == 1:
			out[rank-i] = db
			expanded = true
		case db == 1:
			out[rank-i] = da
			expanded = true
		default:
			return nil, false, errors.Errorf("shapes %v and %v cannot broadcast: dimension %d is %d vs %d",
				a, b, rank-i, da, db)
		}
	}
	return out, expanded, nil
}
