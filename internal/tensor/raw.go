package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Data is a host-side tensor: little-endian element words laid out row-major.
// It is what callers upload to the device and what they get back from a read.
type Data struct {
	Shape Shape
	Elem  Elem
	Bytes []byte
}

// NewData allocates zeroed host data for the given shape and element type.
func NewData(shape Shape, elem Elem) *Data {
	return &Data{
		Shape: shape.Clone(),
		Elem:  elem,
		Bytes: make([]byte, shape.NumElements()*elem.Size()),
	}
}

// FromFloat32 creates F32 data. Panics if len(values) does not match the shape.
func FromFloat32(shape Shape, values []float32) *Data {
	d := NewData(shape, F32)
	checkLen(shape, len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(d.Bytes[i*4:], math.Float32bits(v))
	}
	return d
}

// FromInt32 creates I32 data. Panics if len(values) does not match the shape.
func FromInt32(shape Shape, values []int32) *Data {
	d := NewData(shape, I32)
	checkLen(shape, len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(d.Bytes[i*4:], uint32(v)) //nolint:gosec // bit reinterpretation
	}
	return d
}

// FromUint32 creates U32 data. Panics if len(values) does not match the shape.
func FromUint32(shape Shape, values []uint32) *Data {
	d := NewData(shape, U32)
	checkLen(shape, len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(d.Bytes[i*4:], v)
	}
	return d
}

// FromBool creates Bool data stored as u32 words (0 or 1).
func FromBool(shape Shape, values []bool) *Data {
	d := NewData(shape, Bool)
	checkLen(shape, len(values))
	for i, v := range values {
		if v {
			binary.LittleEndian.PutUint32(d.Bytes[i*4:], 1)
		}
	}
	return d
}

// FromBytes wraps device bytes read back for a tensor.
func FromBytes(shape Shape, elem Elem, raw []byte) *Data {
	n := shape.NumElements() * elem.Size()
	if len(raw) < n {
		panic(fmt.Sprintf("tensor: %d bytes cannot hold %v elements of %s", len(raw), shape, elem))
	}
	return &Data{Shape: shape.Clone(), Elem: elem, Bytes: raw[:n]}
}

func checkLen(shape Shape, n int) {
	if shape.NumElements() != n {
		panic(fmt.Sprintf("tensor: %d values given for shape %v", n, shape))
	}
}

// NumElements returns the total number of elements.
func (d *Data) NumElements() int {
	return d.Shape.NumElements()
}

// Float32 interprets the data as []float32.
// Panics if the element type is not F32.
func (d *Data) Float32() []float32 {
	if d.Elem != F32 {
		panic(fmt.Sprintf("tensor elem is %s, not f32", d.Elem))
	}
	out := make([]float32, d.NumElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(d.Bytes[i*4:]))
	}
	return out
}

// Int32 interprets the data as []int32.
// Panics if the element type is not I32.
func (d *Data) Int32() []int32 {
	if d.Elem != I32 {
		panic(fmt.Sprintf("tensor elem is %s, not i32", d.Elem))
	}
	out := make([]int32, d.NumElements())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(d.Bytes[i*4:])) //nolint:gosec // bit reinterpretation
	}
	return out
}

// Uint32 interprets the data as []uint32.
// Panics if the element type is not U32.
func (d *Data) Uint32() []uint32 {
	if d.Elem != U32 {
		panic(fmt.Sprintf("tensor elem is %s, not u32", d.Elem))
	}
	out := make([]uint32, d.NumElements())
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(d.Bytes[i*4:])
	}
	return out
}

// Bool interprets the data as []bool.
// Panics if the element type is not Bool.
func (d *Data) Bool() []bool {
	if d.Elem != Bool {
		panic(fmt.Sprintf("tensor elem is %s, not bool", d.Elem))
	}
	out := make([]bool, d.NumElements())
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(d.Bytes[i*4:]) != 0
	}
	return out
}

// Float64 converts any element type to float64 values, which is what the reference
// evaluator computes with.
func (d *Data) Float64() []float64 {
	out := make([]float64, d.NumElements())
	for i := range out {
		out[i] = DecodeWord(d.Elem, binary.LittleEndian.Uint32(d.Bytes[i*4:]))
	}
	return out
}

// DecodeWord converts a stored 32-bit word into its numeric value.
func DecodeWord(elem Elem, word uint32) float64 {
	switch elem {
	case F32:
		return float64(math.Float32frombits(word))
	case I32:
		return float64(int32(word)) //nolint:gosec // bit reinterpretation
	case U32:
		return float64(word)
	case Bool:
		if word != 0 {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("unknown element type %d", int(elem)))
	}
}

// EncodeWord converts a numeric value into the 32-bit word stored for elem.
func EncodeWord(elem Elem, v float64) uint32 {
	switch elem {
	case F32:
		return math.Float32bits(float32(v))
	case I32:
		return uint32(int32(v)) //nolint:gosec // bit reinterpretation
	case U32:
		return uint32(v)
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("unknown element type %d", int(elem)))
	}
}
