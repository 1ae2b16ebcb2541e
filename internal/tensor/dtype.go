// Package tensor provides the descriptors shared by the fusion compiler: element types,
// shapes, tensor identifiers and the host-side data container.
package tensor

import "fmt"

// Elem is the element type of a tensor as seen by generated kernels.
type Elem int

// Supported element types.
const (
	F32 Elem = iota
	I32
	U32
	Bool
)

// Size returns the byte size of one element on the device.
// Booleans are stored as u32 words since WGSL storage buffers cannot hold bool.
func (e Elem) Size() int {
	switch e {
	case F32, I32, U32, Bool:
		return 4
	default:
		panic(fmt.Sprintf("unknown element type %d", int(e)))
	}
}

// String returns a human-readable name for the element type.
func (e Elem) String() string {
	switch e {
	case F32:
		return "f32"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// WGSL returns the WGSL scalar type used for values of this element type.
func (e Elem) WGSL() string {
	return e.String()
}

// StorageWGSL returns the WGSL type used to store this element in a storage buffer.
func (e Elem) StorageWGSL() string {
	if e == Bool {
		return "u32"
	}
	return e.String()
}

// MarshalText implements encoding.TextMarshaler.
func (e Elem) MarshalText() ([]byte, error) {
	if e < F32 || e > Bool {
		return nil, fmt.Errorf("unknown element type %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Elem) UnmarshalText(text []byte) error {
	switch string(text) {
	case "f32":
		*e = F32
	case "i32":
		*e = I32
	case "u32":
		*e = U32
	case "bool":
		*e = Bool
	default:
		return fmt.Errorf("unknown element type %q", text)
	}
	return nil
}
