// Package codegen holds the scalar dataflow IR of a fused elementwise kernel and
// lowers it to WGSL compute shaders.
package codegen

import (
	"fmt"

	"github.com/born-ml/fusion/internal/tensor"
)

// VarKind tells where a Variable lives.
type VarKind int

// Variable kinds.
const (
	// VarInput is a kernel input array, read once per invocation.
	VarInput VarKind = iota
	// VarLocal is an SSA-like temporary scoped to one invocation.
	VarLocal
	// VarOutput is a kernel output array written from a local.
	VarOutput
	// VarScalar is an element of one of the scalar argument buffers.
	VarScalar
	// VarConstant is a literal baked into the kernel source.
	VarConstant
)

var varKindNames = [...]string{"input", "local", "output", "scalar", "constant"}

// String returns the kind name.
func (k VarKind) String() string {
	if k < VarInput || k > VarConstant {
		return "unknown"
	}
	return varKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k VarKind) MarshalText() ([]byte, error) {
	if k < VarInput || k > VarConstant {
		return nil, fmt.Errorf("unknown variable kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *VarKind) UnmarshalText(text []byte) error {
	for i, name := range varKindNames {
		if name == string(text) {
			*k = VarKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown variable kind %q", text)
}

// Item is the type of a value: an element type and a vector width (1, 2 or 4).
type Item struct {
	Elem  tensor.Elem `json:"elem"`
	Width int         `json:"width"`
}

// ScalarItem returns a width-1 item of elem.
func ScalarItem(elem tensor.Elem) Item {
	return Item{Elem: elem, Width: 1}
}

// WGSL returns the WGSL value type of the item.
func (i Item) WGSL() string {
	if i.Width <= 1 {
		return i.Elem.WGSL()
	}
	return fmt.Sprintf("vec%d<%s>", i.Width, i.Elem.WGSL())
}

// StorageWGSL returns the WGSL type used for an array element holding this item.
func (i Item) StorageWGSL() string {
	if i.Width <= 1 {
		return i.Elem.StorageWGSL()
	}
	return fmt.Sprintf("vec%d<%s>", i.Width, i.Elem.StorageWGSL())
}

// Variable is a reference to a value inside the fused kernel.
type Variable struct {
	Kind  VarKind `json:"kind"`
	Index int     `json:"index"`
	Item  Item    `json:"item"`
	Value float64 `json:"value,omitempty"`
}

// InputVar references kernel input array number index.
func InputVar(index int, elem tensor.Elem) Variable {
	return Variable{Kind: VarInput, Index: index, Item: ScalarItem(elem)}
}

// Local references local slot number index.
func Local(index int, elem tensor.Elem) Variable {
	return Variable{Kind: VarLocal, Index: index, Item: ScalarItem(elem)}
}

// OutputVar references kernel output array number index.
func OutputVar(index int, elem tensor.Elem) Variable {
	return Variable{Kind: VarOutput, Index: index, Item: ScalarItem(elem)}
}

// Scalar references entry index of the scalar buffer of elem.
func Scalar(index int, elem tensor.Elem) Variable {
	return Variable{Kind: VarScalar, Index: index, Item: ScalarItem(elem)}
}

// Constant is a literal value of elem.
func Constant(value float64, elem tensor.Elem) Variable {
	return Variable{Kind: VarConstant, Value: value, Item: ScalarItem(elem)}
}

// IsLocal reports whether v is a local slot.
func (v Variable) IsLocal() bool {
	return v.Kind == VarLocal
}

// vectorize returns v with its width set, except for scalars which stay width 1
// and are splatted at use.
func (v Variable) vectorize(width int) Variable {
	if v.Kind == VarScalar {
		return v
	}
	v.Item.Width = width
	return v
}

// String returns a compact form used in logs and test failures.
func (v Variable) String() string {
	if v.Kind == VarConstant {
		return fmt.Sprintf("const(%v:%s)", v.Value, v.Item.WGSL())
	}
	return fmt.Sprintf("%s_%d:%s", v.Kind, v.Index, v.Item.WGSL())
}
