package cpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/born-ml/fusion/internal/codegen"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/born-ml/fusion/internal/tensor"
)

// lanes holds one value per vector component. Only the first width entries are used.
type lanes [4]float64

// program is a shader bound to its buffers.
type program struct {
	shader  *codegen.Shader
	width   int
	inputs  [][]byte
	outputs [][]byte
	info    []uint32
	scalars map[tensor.Elem][]byte
	slots   int
}

// interpret runs every invocation of shader over buffers, bound in shader order.
func interpret(shader *codegen.Shader, buffers [][]byte, cfg parallel.Config) {
	p := bind(shader, buffers)
	parallel.ForRange(p.invocations(), func(start, end int) {
		f := p.newFrame()
		for id := start; id < end; id++ {
			p.invoke(&f, id)
		}
	}, cfg)
}

func bind(shader *codegen.Shader, buffers [][]byte) *program {
	nIn, nOut := len(shader.Inputs), len(shader.Outputs)
	if want := nIn + nOut + 1 + len(shader.Scalars); len(buffers) != want {
		panic(fmt.Sprintf("cpu: %s expects %d buffers, got %d", shader, want, len(buffers)))
	}
	p := &program{
		shader:  shader,
		width:   shader.Vectorization.Width(),
		inputs:  buffers[:nIn],
		outputs: buffers[nIn : nIn+nOut],
		scalars: make(map[tensor.Elem][]byte, len(shader.Scalars)),
	}
	raw := buffers[nIn+nOut]
	p.info = make([]uint32, len(raw)/4)
	for i := range p.info {
		p.info[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	for i, sc := range shader.Scalars {
		p.scalars[sc.Elem] = buffers[nIn+nOut+1+i]
	}
	for slot := range shader.Locals {
		p.slots = max(p.slots, slot+1)
	}
	return p
}

// invocations mirrors the bounds check of the generated kernel: one invocation per
// vector of the bounding array.
func (p *program) invocations() int {
	v := p.shader.BoundArray()
	buf := p.inputs
	if v.Kind == codegen.VarOutput {
		buf = p.outputs
	}
	if v.Index >= len(buf) {
		return 0
	}
	return len(buf[v.Index]) / 4 / p.width
}

type frame struct {
	globals map[int]lanes
	locals  []lanes
}

// newFrame returns the registers of one worker. Every invocation writes a register
// before reading it, so a frame is reused across invocations.
func (p *program) newFrame() frame {
	return frame{globals: make(map[int]lanes, len(p.inputs)), locals: make([]lanes, p.slots)}
}

func (p *program) invoke(f *frame, id int) {
	for _, op := range p.shader.Body {
		p.step(f, id, op)
	}
}

func (p *program) step(f *frame, id int, op codegen.Operator) {
	w := p.width
	switch op.Code {
	case codegen.OpReadGlobal:
		f.globals[op.Out.Index] = p.load(p.inputs[op.Out.Index], op.Out.Item.Elem, id*w)
		return
	case codegen.OpReadGlobalWithLayout:
		index := p.indexAt(op.ReadPos, op.LayoutPos, id*w)
		f.globals[op.Out.Index] = p.load(p.inputs[op.Out.Index], op.Out.Item.Elem, index/w*w)
		return
	case codegen.OpAssignGlobal:
		target := p.outputs
		if op.Out.Kind == codegen.VarInput {
			target = p.inputs
		}
		p.store(target[op.Out.Index], op.Out.Item.Elem, id*w, p.operand(f, op.Inputs[0]))
		return
	}

	args := make([]lanes, len(op.Inputs))
	for i, v := range op.Inputs {
		args[i] = p.operand(f, v)
	}
	var out lanes
	for l := range w {
		out[l] = round(op.Out.Item.Elem, apply(op.Code, op.Out.Item.Elem, args, l))
	}
	f.locals[op.Out.Index] = out
}

// apply computes lane l of op. elem is the type of the result.
func apply(code codegen.OpCode, elem tensor.Elem, args []lanes, l int) float64 {
	x := args[0][l]
	switch code {
	case codegen.OpAdd:
		return x + args[1][l]
	case codegen.OpSub:
		return x - args[1][l]
	case codegen.OpMul:
		return x * args[1][l]
	case codegen.OpDiv:
		return divide(elem, x, args[1][l])
	case codegen.OpPowf:
		return powf(x, args[1][l])
	case codegen.OpRecip:
		return divide(elem, 1, x)
	case codegen.OpSqrt:
		return math.Sqrt(x)
	case codegen.OpAbs:
		return math.Abs(x)
	case codegen.OpExp:
		return math.Exp(x)
	case codegen.OpLog:
		return math.Log(x)
	case codegen.OpLog1p:
		return math.Log(1 + x)
	case codegen.OpCos:
		return math.Cos(x)
	case codegen.OpSin:
		return math.Sin(x)
	case codegen.OpTanh:
		return math.Tanh(x)
	case codegen.OpErf:
		return Erf(x)
	case codegen.OpClamp:
		return math.Min(math.Max(x, args[1][l]), args[2][l])
	case codegen.OpLower:
		return boolValue(x < args[1][l])
	case codegen.OpGreater:
		return boolValue(x > args[1][l])
	case codegen.OpLowerEqual:
		return boolValue(x <= args[1][l])
	case codegen.OpGreaterEqual:
		return boolValue(x >= args[1][l])
	case codegen.OpEqual:
		return boolValue(x == args[1][l])
	case codegen.OpConditionalAssign:
		if x != 0 {
			return args[1][l]
		}
		return args[2][l]
	case codegen.OpAssignLocal:
		return x
	}
	panic(fmt.Sprintf("cpu: cannot interpret %s", code))
}

// operand returns the lanes of v, splatting scalars and constants.
func (p *program) operand(f *frame, v codegen.Variable) lanes {
	switch v.Kind {
	case codegen.VarInput:
		return f.globals[v.Index]
	case codegen.VarLocal:
		return f.locals[v.Index]
	case codegen.VarScalar:
		buf := p.scalars[v.Item.Elem]
		return splat(tensor.DecodeWord(v.Item.Elem, binary.LittleEndian.Uint32(buf[v.Index*4:])))
	case codegen.VarConstant:
		return splat(round(v.Item.Elem, v.Value))
	}
	panic(fmt.Sprintf("cpu: %s cannot be an operand", v))
}

// indexAt maps position in the layout tensor to an element index of tensor readPos.
func (p *program) indexAt(readPos, layoutPos, position int) int {
	rank := int(p.info[0])
	readBase := 1 + readPos*2*rank
	layoutBase := 1 + layoutPos*2*rank
	index := 0
	for d := range rank {
		strideRead := int(p.info[readBase+d])
		shapeRead := int(p.info[readBase+rank+d])
		strideLayout := int(p.info[layoutBase+d])
		index += position / strideLayout % shapeRead * strideRead
	}
	return index
}

func (p *program) load(buf []byte, elem tensor.Elem, start int) lanes {
	var v lanes
	for l := range p.width {
		v[l] = tensor.DecodeWord(elem, binary.LittleEndian.Uint32(buf[(start+l)*4:]))
	}
	return v
}

func (p *program) store(buf []byte, elem tensor.Elem, start int, v lanes) {
	for l := range p.width {
		binary.LittleEndian.PutUint32(buf[(start+l)*4:], tensor.EncodeWord(elem, v[l]))
	}
}

func splat(x float64) lanes {
	return lanes{x, x, x, x}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// round brings a float64 result back to what a 32-bit device register of elem holds.
func round(elem tensor.Elem, v float64) float64 {
	switch elem {
	case tensor.F32:
		return float64(float32(v))
	case tensor.I32:
		return float64(int32(int64(v))) //nolint:gosec // wrapping arithmetic
	case tensor.U32:
		return float64(uint32(int64(v))) //nolint:gosec // wrapping arithmetic
	default:
		return boolValue(v != 0)
	}
}

// divide follows WGSL: integer division truncates and returns lhs on a zero divisor.
func divide(elem tensor.Elem, lhs, rhs float64) float64 {
	if elem == tensor.F32 {
		return lhs / rhs
	}
	if rhs == 0 {
		return lhs
	}
	return math.Trunc(lhs / rhs)
}

// powf raises lhs to rhs, keeping the sign of negative bases under integral exponents.
func powf(lhs, rhs float64) float64 {
	modulo := math.Mod(rhs, 2)
	switch {
	case modulo == 0:
		return math.Pow(math.Abs(lhs), rhs)
	case modulo == 1 && lhs < 0:
		return -math.Pow(math.Abs(lhs), rhs)
	}
	return math.Pow(lhs, rhs)
}

// Erf is the Abramowitz and Stegun 7.1.26 approximation used by generated kernels.
// Its absolute error is below 1.5e-7.
func Erf(x float64) float64 {
	if x < 0 {
		return -Erf(-x)
	}
	const (
		p  = 0.3275911
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
	)
	t := 1 / (1 + p*x)
	poly := ((((a5*t+a4)*t)+a3)*t+a2)*t + a1
	return 1 - poly*t*math.Exp(-x*x)
}
