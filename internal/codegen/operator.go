package codegen

import "fmt"

// OpCode identifies the operation performed by an Operator.
type OpCode int

// Operator codes. The order is part of nothing persistent: states are serialized by name.
const (
	OpAdd OpCode = iota
	OpSub
	OpMul
	OpDiv
	OpPowf
	OpRecip
	OpSqrt
	OpAbs
	OpExp
	OpLog
	OpLog1p
	OpCos
	OpSin
	OpTanh
	OpErf
	OpClamp
	OpLower
	OpGreater
	OpLowerEqual
	OpGreaterEqual
	OpEqual
	OpConditionalAssign
	OpAssignLocal
	OpAssignGlobal
	OpReadGlobal
	OpReadGlobalWithLayout
	numOpCodes
)

var opCodeNames = [numOpCodes]string{
	"add", "sub", "mul", "div", "powf", "recip", "sqrt", "abs",
	"exp", "log", "log1p", "cos", "sin", "tanh", "erf", "clamp",
	"lower", "greater", "lower_equal", "greater_equal", "equal",
	"conditional_assign", "assign_local", "assign_global",
	"read_global", "read_global_with_layout",
}

// String returns the operator name.
func (c OpCode) String() string {
	if c < 0 || c >= numOpCodes {
		return "unknown"
	}
	return opCodeNames[c]
}

// MarshalText implements encoding.TextMarshaler.
func (c OpCode) MarshalText() ([]byte, error) {
	if c < 0 || c >= numOpCodes {
		return nil, fmt.Errorf("unknown operator code %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *OpCode) UnmarshalText(text []byte) error {
	for i, name := range opCodeNames {
		if name == string(text) {
			*c = OpCode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operator code %q", text)
}

// IsComparison reports whether the operator produces a boolean from two operands.
func (c OpCode) IsComparison() bool {
	switch c {
	case OpLower, OpGreater, OpLowerEqual, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

// IsMemory reports whether the operator moves data between global memory and locals.
func (c OpCode) IsMemory() bool {
	switch c {
	case OpAssignGlobal, OpReadGlobal, OpReadGlobalWithLayout:
		return true
	}
	return false
}

// Operands names the roles of Operator.Inputs for the code.
func (c OpCode) Operands() []string {
	switch {
	case c == OpClamp:
		return []string{"input", "min", "max"}
	case c == OpConditionalAssign:
		return []string{"cond", "lhs", "rhs"}
	case c.IsMemory() && c != OpAssignGlobal:
		return nil
	case c >= OpRecip && c <= OpErf, c == OpAssignLocal, c == OpAssignGlobal:
		return []string{"input"}
	default:
		return []string{"lhs", "rhs"}
	}
}

// Operator is one node of the fused IR.
//
// Operand roles by code:
//   - binary ops and comparisons: Inputs = [lhs, rhs]
//   - unary ops, AssignLocal, AssignGlobal: Inputs = [input]
//   - Clamp: Inputs = [input, min, max]
//   - ConditionalAssign: Inputs = [cond, lhs, rhs], out = cond ? lhs : rhs
//   - ReadGlobal, ReadGlobalWithLayout: no Inputs, Out is the input variable being read
type Operator struct {
	Code      OpCode     `json:"code"`
	Inputs    []Variable `json:"inputs,omitempty"`
	Out       Variable   `json:"out"`
	ReadPos   int        `json:"read_pos,omitempty"`
	LayoutPos int        `json:"layout_pos,omitempty"`
}

func binary(code OpCode, lhs, rhs, out Variable) Operator {
	return Operator{Code: code, Inputs: []Variable{lhs, rhs}, Out: out}
}

func unary(code OpCode, input, out Variable) Operator {
	return Operator{Code: code, Inputs: []Variable{input}, Out: out}
}

// Add returns out = lhs + rhs.
func Add(lhs, rhs, out Variable) Operator { return binary(OpAdd, lhs, rhs, out) }

// Sub returns out = lhs - rhs.
func Sub(lhs, rhs, out Variable) Operator { return binary(OpSub, lhs, rhs, out) }

// Mul returns out = lhs * rhs.
func Mul(lhs, rhs, out Variable) Operator { return binary(OpMul, lhs, rhs, out) }

// Div returns out = lhs / rhs.
func Div(lhs, rhs, out Variable) Operator { return binary(OpDiv, lhs, rhs, out) }

// Powf returns out = lhs ^ rhs.
func Powf(lhs, rhs, out Variable) Operator { return binary(OpPowf, lhs, rhs, out) }

// Lower returns out = lhs < rhs.
func Lower(lhs, rhs, out Variable) Operator { return binary(OpLower, lhs, rhs, out) }

// Greater returns out = lhs > rhs.
func Greater(lhs, rhs, out Variable) Operator { return binary(OpGreater, lhs, rhs, out) }

// LowerEqual returns out = lhs <= rhs.
func LowerEqual(lhs, rhs, out Variable) Operator { return binary(OpLowerEqual, lhs, rhs, out) }

// GreaterEqual returns out = lhs >= rhs.
func GreaterEqual(lhs, rhs, out Variable) Operator { return binary(OpGreaterEqual, lhs, rhs, out) }

// Equal returns out = lhs == rhs.
func Equal(lhs, rhs, out Variable) Operator { return binary(OpEqual, lhs, rhs, out) }

// Recip returns out = 1 / input.
func Recip(input, out Variable) Operator { return unary(OpRecip, input, out) }

// Sqrt returns out = sqrt(input).
func Sqrt(input, out Variable) Operator { return unary(OpSqrt, input, out) }

// Abs returns out = |input|.
func Abs(input, out Variable) Operator { return unary(OpAbs, input, out) }

// Exp returns out = e^input.
func Exp(input, out Variable) Operator { return unary(OpExp, input, out) }

// Log returns out = ln(input).
func Log(input, out Variable) Operator { return unary(OpLog, input, out) }

// Log1p returns out = ln(1 + input).
func Log1p(input, out Variable) Operator { return unary(OpLog1p, input, out) }

// Cos returns out = cos(input).
func Cos(input, out Variable) Operator { return unary(OpCos, input, out) }

// Sin returns out = sin(input).
func Sin(input, out Variable) Operator { return unary(OpSin, input, out) }

// Tanh returns out = tanh(input).
func Tanh(input, out Variable) Operator { return unary(OpTanh, input, out) }

// Erf returns out = erf(input).
func Erf(input, out Variable) Operator { return unary(OpErf, input, out) }

// Clamp returns out = min(max(input, lo), hi).
func Clamp(input, lo, hi, out Variable) Operator {
	return Operator{Code: OpClamp, Inputs: []Variable{input, lo, hi}, Out: out}
}

// ConditionalAssign returns out = cond ? lhs : rhs.
func ConditionalAssign(cond, lhs, rhs, out Variable) Operator {
	return Operator{Code: OpConditionalAssign, Inputs: []Variable{cond, lhs, rhs}, Out: out}
}

// AssignLocal copies input into a local.
func AssignLocal(input, out Variable) Operator { return unary(OpAssignLocal, input, out) }

// AssignGlobal writes a local into an output (or in-place input) array.
func AssignGlobal(input, out Variable) Operator { return unary(OpAssignGlobal, input, out) }

// ReadGlobal reads input array variable at the invocation index.
func ReadGlobal(variable Variable) Operator {
	return Operator{Code: OpReadGlobal, Out: variable}
}

// ReadGlobalWithLayout reads input array variable at the position obtained by mapping the
// invocation index through the layout of tensor layoutPos onto the strides of tensor readPos.
func ReadGlobalWithLayout(variable Variable, readPos, layoutPos int) Operator {
	return Operator{Code: OpReadGlobalWithLayout, Out: variable, ReadPos: readPos, LayoutPos: layoutPos}
}

// String returns a compact form used in logs.
func (op Operator) String() string {
	return fmt.Sprintf("%s(%v) -> %v", op.Code, op.Inputs, op.Out)
}

// vectorize returns a copy of op with every variable widened.
func (op Operator) vectorize(width int) Operator {
	out := op
	if len(op.Inputs) > 0 {
		out.Inputs = make([]Variable, len(op.Inputs))
		for i, v := range op.Inputs {
			out.Inputs[i] = v.vectorize(width)
		}
	}
	out.Out = op.Out.vectorize(width)
	return out
}
