package codegen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/fusion/internal/tensor"
)

const powfHelper = `fn powf(lhs: f32, rhs: f32) -> f32 {
    let modulo = rhs % 2.0;
    if (modulo == 0.0) {
        return pow(abs(lhs), rhs);
    } else if (modulo == 1.0 && lhs < 0.0) {
        return -pow(abs(lhs), rhs);
    }
    return pow(lhs, rhs);
}
`

const erfHelper = `fn erf_positive(x: f32) -> f32 {
    let p = 0.3275911;
    let a1 = 0.254829592;
    let a2 = -0.284496736;
    let a3 = 1.421413741;
    let a4 = -1.453152027;
    let a5 = 1.061405429;
    let t = 1.0 / (1.0 + p * abs(x));
    let tmp = ((((a5 * t + a4) * t) + a3) * t + a2) * t + a1;
    return 1.0 - (tmp * t * exp(-x * x));
}

fn erf(x: f32) -> f32 {
    if (x < 0.0) {
        return -erf_positive(-x);
    }
    return erf_positive(x);
}
`

const indexHelper = `fn index_at(read_pos: u32, layout_pos: u32, position: u32) -> u32 {
    let rank = info[0];
    let read_base = 1u + read_pos * 2u * rank;
    let layout_base = 1u + layout_pos * 2u * rank;
    var index = 0u;
    for (var d = 0u; d < rank; d++) {
        let stride_read = info[read_base + d];
        let shape_read = info[read_base + rank + d];
        let stride_layout = info[layout_base + d];
        index += position / stride_layout % shape_read * stride_read;
    }
    return index;
}
`

var binarySymbols = map[OpCode]string{
	OpAdd:          "+",
	OpSub:          "-",
	OpMul:          "*",
	OpDiv:          "/",
	OpLower:        "<",
	OpGreater:      ">",
	OpLowerEqual:   "<=",
	OpGreaterEqual: ">=",
	OpEqual:        "==",
}

var unaryBuiltins = map[OpCode]string{
	OpSqrt: "sqrt",
	OpAbs:  "abs",
	OpExp:  "exp",
	OpLog:  "log",
	OpCos:  "cos",
	OpSin:  "sin",
	OpTanh: "tanh",
}

// WGSL renders the shader as a WGSL compute module with entry point "main".
func (s *Shader) WGSL() string {
	var b strings.Builder
	width := s.Vectorization.Width()
	binding := 0

	for i, in := range s.Inputs {
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, %s> input_%d: array<%s>;\n",
			binding, access(in.Visibility), i, in.Item.StorageWGSL())
		binding++
	}
	for i, out := range s.Outputs {
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read_write> output_%d: array<%s>;\n",
			binding, i, out.Item.StorageWGSL())
		binding++
	}
	fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> info: array<u32>;\n", binding)
	binding++
	for _, sc := range s.Scalars {
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> scalars_%s: array<%s, %d>;\n",
			binding, sc.Elem, sc.Elem.StorageWGSL(), sc.Size)
		binding++
	}
	b.WriteString("\n")

	s.writeHelpers(&b)

	fmt.Fprintf(&b, "@compute @workgroup_size(%d, 1, 1)\n", s.WorkgroupSize)
	b.WriteString("fn main(\n")
	b.WriteString("    @builtin(global_invocation_id) global_id: vec3<u32>,\n")
	b.WriteString("    @builtin(num_workgroups) num_workgroups: vec3<u32>,\n")
	b.WriteString(") {\n")
	fmt.Fprintf(&b, "    let id = global_id.y * (num_workgroups.x * %du) + global_id.x;\n", s.WorkgroupSize)
	fmt.Fprintf(&b, "    if (id >= arrayLength(&%s)) {\n        return;\n    }\n", s.layoutArray())

	slots := make([]int, 0, len(s.Locals))
	for slot := range s.Locals {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		fmt.Fprintf(&b, "    var local_%d: %s;\n", slot, s.Locals[slot].WGSL())
	}

	for _, op := range s.Body {
		b.WriteString("    ")
		b.WriteString(s.statement(op, width))
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func access(v Visibility) string {
	if v == ReadWrite {
		return "read_write"
	}
	return "read"
}

// layoutArray names the array whose length bounds the invocation index.
func (s *Shader) layoutArray() string {
	v := s.BoundArray()
	if v.Kind == VarOutput {
		return fmt.Sprintf("output_%d", v.Index)
	}
	return fmt.Sprintf("input_%d", v.Index)
}

func (s *Shader) writeHelpers(b *strings.Builder) {
	var layout, powf, erf bool
	for _, op := range s.Body {
		switch op.Code {
		case OpReadGlobalWithLayout:
			layout = true
		case OpPowf:
			powf = true
		case OpErf:
			erf = true
		}
	}
	width := s.Vectorization.Width()
	if layout {
		b.WriteString(indexHelper)
		b.WriteString("\n")
	}
	if powf {
		b.WriteString(powfHelper)
		b.WriteString("\n")
		if width > 1 {
			b.WriteString(componentwise("powf", width, 2))
		}
	}
	if erf {
		b.WriteString(erfHelper)
		b.WriteString("\n")
		if width > 1 {
			b.WriteString(componentwise("erf", width, 1))
		}
	}
}

// componentwise emits fn <name>_vec<width> applying the scalar helper on every component.
func componentwise(name string, width, arity int) string {
	vec := fmt.Sprintf("vec%d<f32>", width)
	params := []string{"x", "y"}[:arity]
	decl := make([]string, arity)
	for i, p := range params {
		decl[i] = fmt.Sprintf("%s: %s", p, vec)
	}
	parts := make([]string, width)
	for c := range width {
		args := make([]string, arity)
		for i, p := range params {
			args[i] = fmt.Sprintf("%s[%d]", p, c)
		}
		parts[c] = fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
	}
	return fmt.Sprintf("fn %s_vec%d(%s) -> %s {\n    return %s(%s);\n}\n\n",
		name, width, strings.Join(decl, ", "), vec, vec, strings.Join(parts, ", "))
}

func (s *Shader) statement(op Operator, width int) string {
	out := op.Out
	switch op.Code {
	case OpReadGlobal:
		return fmt.Sprintf("let input_%d_global = %s;", out.Index,
			load(out.Item, fmt.Sprintf("input_%d[id]", out.Index)))
	case OpReadGlobalWithLayout:
		index := fmt.Sprintf("index_at(%du, %du, id * %du)", op.ReadPos, op.LayoutPos, width)
		if width > 1 {
			index = fmt.Sprintf("%s / %du", index, width)
		}
		return fmt.Sprintf("let input_%d_global = %s;", out.Index,
			load(out.Item, fmt.Sprintf("input_%d[%s]", out.Index, index)))
	case OpAssignGlobal:
		target := fmt.Sprintf("output_%d[id]", out.Index)
		if out.Kind == VarInput {
			target = fmt.Sprintf("input_%d[id]", out.Index)
		}
		return fmt.Sprintf("%s = %s;", target, store(out.Item, value(op.Inputs[0], width)))
	}

	dst := value(out, width)
	args := make([]string, len(op.Inputs))
	for i, v := range op.Inputs {
		args[i] = value(v, width)
	}
	suffix := ""
	if width > 1 {
		suffix = fmt.Sprintf("_vec%d", width)
	}

	var expr string
	switch op.Code {
	case OpAdd, OpSub, OpMul, OpDiv, OpLower, OpGreater, OpLowerEqual, OpGreaterEqual, OpEqual:
		expr = fmt.Sprintf("%s %s %s", args[0], binarySymbols[op.Code], args[1])
	case OpPowf:
		expr = fmt.Sprintf("powf%s(%s, %s)", suffix, args[0], args[1])
	case OpRecip:
		expr = fmt.Sprintf("%s(1) / %s", out.Item.WGSL(), args[0])
	case OpLog1p:
		expr = fmt.Sprintf("log(%s(1) + %s)", out.Item.WGSL(), args[0])
	case OpErf:
		expr = fmt.Sprintf("erf%s(%s)", suffix, args[0])
	case OpClamp:
		expr = fmt.Sprintf("clamp(%s, %s, %s)", args[0], args[1], args[2])
	case OpConditionalAssign:
		expr = fmt.Sprintf("select(%s, %s, %s)", args[2], args[1], args[0])
	case OpAssignLocal:
		expr = args[0]
	default:
		fn, ok := unaryBuiltins[op.Code]
		if !ok {
			panic(fmt.Sprintf("codegen: no WGSL lowering for %s", op.Code))
		}
		expr = fmt.Sprintf("%s(%s)", fn, args[0])
	}
	return fmt.Sprintf("%s = %s;", dst, expr)
}

// value renders v as an operand of the given width, splatting scalars.
func value(v Variable, width int) string {
	var s string
	switch v.Kind {
	case VarInput:
		return fmt.Sprintf("input_%d_global", v.Index)
	case VarLocal:
		return fmt.Sprintf("local_%d", v.Index)
	case VarOutput:
		return fmt.Sprintf("output_%d[id]", v.Index)
	case VarScalar:
		s = fmt.Sprintf("scalars_%s[%d]", v.Item.Elem, v.Index)
		if v.Item.Elem == tensor.Bool {
			s = fmt.Sprintf("bool(%s)", s)
		}
	case VarConstant:
		s = literal(v.Value, v.Item.Elem)
	}
	if width > 1 {
		return fmt.Sprintf("vec%d<%s>(%s)", width, v.Item.Elem.WGSL(), s)
	}
	return s
}

func literal(v float64, elem tensor.Elem) string {
	switch elem {
	case tensor.F32:
		return fmt.Sprintf("f32(%s)", strconv.FormatFloat(v, 'g', -1, 32))
	case tensor.I32:
		return fmt.Sprintf("i32(%d)", int64(v))
	case tensor.U32:
		return fmt.Sprintf("u32(%d)", uint64(v))
	default:
		return strconv.FormatBool(v != 0)
	}
}

func load(item Item, expr string) string {
	if item.Elem == tensor.Bool {
		return fmt.Sprintf("%s(%s)", item.WGSL(), expr)
	}
	return expr
}

func store(item Item, expr string) string {
	if item.Elem == tensor.Bool {
		return fmt.Sprintf("%s(%s)", item.StorageWGSL(), expr)
	}
	return expr
}
