package tensor

import (
	"fmt"

	"github.com/google/uuid"
)

// TensorID identifies one logical tensor version in the operation stream.
type TensorID uuid.UUID

// NewTensorID returns a fresh random identifier.
func NewTensorID() TensorID {
	return TensorID(uuid.New())
}

// String returns the canonical uuid form of the id.
func (id TensorID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText implements encoding.TextMarshaler.
func (id TensorID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TensorID) UnmarshalText(text []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(text); err != nil {
		return err
	}
	*id = TensorID(u)
	return nil
}

// TensorStatus tells a kernel what it may do with the buffer behind a tensor.
type TensorStatus int

const (
	// ReadOnly tensors are read later by other operations and must not be mutated.
	ReadOnly TensorStatus = iota
	// ReadWrite tensors are read for the last time: the kernel may overwrite their buffer.
	ReadWrite
	// NotInit tensors are fresh outputs with no buffer yet.
	NotInit
)

// String returns a human-readable name for the status.
func (s TensorStatus) String() string {
	switch s {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	case NotInit:
		return "not_init"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TensorStatus) MarshalText() ([]byte, error) {
	if s < ReadOnly || s > NotInit {
		return nil, fmt.Errorf("unknown tensor status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TensorStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read_only":
		*s = ReadOnly
	case "read_write":
		*s = ReadWrite
	case "not_init":
		*s = NotInit
	default:
		return fmt.Errorf("unknown tensor status %q", text)
	}
	return nil
}

// TensorDescription is the recorder's view of a tensor at one point of the stream.
type TensorDescription struct {
	ID     TensorID     `json:"id"`
	Shape  Shape        `json:"shape"`
	Status TensorStatus `json:"status"`
}

// WithStatus returns a copy of the description with a different status.
func (d TensorDescription) WithStatus(status TensorStatus) TensorDescription {
	d.Shape = d.Shape.Clone()
	d.Status = status
	return d
}

// String returns a short representation used in logs.
func (d TensorDescription) String() string {
	return fmt.Sprintf("%s%v(%s)", d.ID.String()[:8], []int(d.Shape), d.Status)
}
