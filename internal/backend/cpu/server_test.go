package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/fusion/internal/codegen"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return NewServer(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 2})
}

func infoBuffer(server *Server, blocks ...[]int) compute.Handle {
	// blocks alternate strides and shape for every tensor.
	words := []uint32{uint32(len(blocks[0]))}
	for _, b := range blocks {
		for _, v := range b {
			words = append(words, uint32(v))
		}
	}
	return server.Create(tensor.FromUint32(tensor.Shape{len(words)}, words).Bytes)
}

func TestServerBuffers(t *testing.T) {
	server := newTestServer()
	h := server.Create([]byte{1, 2, 3, 4})
	e := server.Empty(8)
	count, bytes := server.Live()
	assert.Equal(t, 2, count)
	assert.Equal(t, 12, bytes)

	read := server.Read(h)
	read[0] = 9
	assert.Equal(t, []byte{1, 2, 3, 4}, server.Read(h), "Read must return a copy")

	h.Release()
	e.Release()
	count, bytes = server.Live()
	assert.Zero(t, count)
	assert.Zero(t, bytes)
}

func TestInterpretAddScalar(t *testing.T) {
	// output_0 = input_0 * scalar + input_1, input_1 broadcast along rows.
	shader := codegen.NewElemWiseKernelCodegen().
		Inputs([]codegen.Input{
			codegen.ArrayInput(tensor.F32, codegen.Read, codegen.OutputLayout),
			codegen.ArrayInput(tensor.F32, codegen.Read, codegen.OutputLayout),
			codegen.ScalarInput(tensor.F32, 1),
		}).
		Body([]codegen.Operator{
			codegen.Mul(codegen.InputVar(0, tensor.F32), codegen.Scalar(0, tensor.F32), codegen.Local(0, tensor.F32)),
			codegen.Add(codegen.Local(0, tensor.F32), codegen.InputVar(1, tensor.F32), codegen.Local(1, tensor.F32)),
		}).
		Outputs([]codegen.Output{{Elem: tensor.F32, Local: 1}}).
		Compile()

	server := newTestServer()
	a := server.Create(tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6}).Bytes)
	b := server.Create(tensor.FromFloat32(tensor.Shape{1, 3}, []float32{10, 20, 30}).Bytes)
	out := server.Empty(6 * 4)
	info := infoBuffer(server, []int{3, 1}, []int{2, 3}, []int{3, 1}, []int{1, 3}, []int{3, 1}, []int{2, 3})
	scalar := server.Create(tensor.FromFloat32(tensor.Shape{1}, []float32{2}).Bytes)

	server.Execute(compute.ShaderKernel{Src: compute.NewKernelSource(shader)}, []compute.Handle{a, b, out, info, scalar})
	got := tensor.FromBytes(tensor.Shape{2, 3}, tensor.F32, server.Read(out)).Float32()
	assert.Equal(t, []float32{12, 24, 36, 18, 30, 42}, got)
}

func TestInterpretVectorizedInplace(t *testing.T) {
	shader := codegen.NewElemWiseKernelCodegen().
		Vectorize(codegen.Vec4).
		Inplace([]codegen.InplaceMapping{{PosInput: 0, PosOutput: 0}}).
		Inputs([]codegen.Input{codegen.ArrayInput(tensor.F32, codegen.Read, codegen.OutputLayout)}).
		Body([]codegen.Operator{
			codegen.Abs(codegen.InputVar(0, tensor.F32), codegen.Local(0, tensor.F32)),
			codegen.Sqrt(codegen.Local(0, tensor.F32), codegen.Local(1, tensor.F32)),
		}).
		Outputs([]codegen.Output{{Elem: tensor.F32, Local: 1}}).
		Compile()

	server := newTestServer()
	data := server.Create(tensor.FromFloat32(tensor.Shape{2, 4}, []float32{-1, 4, -9, 16, 25, -36, 49, 64}).Bytes)
	info := infoBuffer(server, []int{4, 1}, []int{2, 4})

	server.Execute(compute.ShaderKernel{Src: compute.NewKernelSource(shader)}, []compute.Handle{data, info})
	got := tensor.FromBytes(tensor.Shape{2, 4}, tensor.F32, server.Read(data)).Float32()
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, got)
}

func TestInterpretMaskAndCompare(t *testing.T) {
	// local_0 = input_0 > 0; local_1 = select(input_0, const 7, local_0)
	shader := codegen.NewElemWiseKernelCodegen().
		Inputs([]codegen.Input{codegen.ArrayInput(tensor.I32, codegen.Read, codegen.OutputLayout)}).
		Body([]codegen.Operator{
			codegen.Greater(codegen.InputVar(0, tensor.I32), codegen.Constant(0, tensor.I32), codegen.Local(0, tensor.Bool)),
			codegen.ConditionalAssign(codegen.Local(0, tensor.Bool), codegen.Constant(7, tensor.I32), codegen.InputVar(0, tensor.I32), codegen.Local(1, tensor.I32)),
		}).
		Outputs([]codegen.Output{{Elem: tensor.Bool, Local: 0}, {Elem: tensor.I32, Local: 1}}).
		Compile()

	server := newTestServer()
	in := server.Create(tensor.FromInt32(tensor.Shape{4}, []int32{-3, 5, 0, 2}).Bytes)
	mask := server.Empty(16)
	out := server.Empty(16)
	info := infoBuffer(server, []int{1}, []int{4}, []int{1}, []int{4}, []int{1}, []int{4})

	server.Execute(compute.ShaderKernel{Src: compute.NewKernelSource(shader)}, []compute.Handle{in, mask, out, info})
	assert.Equal(t, []bool{false, true, false, true}, tensor.FromBytes(tensor.Shape{4}, tensor.Bool, server.Read(mask)).Bool())
	assert.Equal(t, []int32{-3, 7, 0, 7}, tensor.FromBytes(tensor.Shape{4}, tensor.I32, server.Read(out)).Int32())
}

func TestInterpretStaticKernel(t *testing.T) {
	server := newTestServer()
	h := server.Empty(4)
	kernel := compute.StaticKernel{Name: "fill", Host: func(buffers [][]byte) { buffers[0][0] = 42 }}
	server.Execute(kernel, []compute.Handle{h})
	assert.Equal(t, byte(42), server.Read(h)[0])

	require.Panics(t, func() {
		server.Execute(compute.StaticKernel{Name: "no-host"}, []compute.Handle{h})
	})
}

func TestIntegerDivision(t *testing.T) {
	assert.Equal(t, 3.0, divide(tensor.I32, 7, 2))
	assert.Equal(t, -3.0, divide(tensor.I32, -7, 2))
	assert.Equal(t, 7.0, divide(tensor.I32, 7, 0))
	assert.True(t, math.IsInf(divide(tensor.F32, 1, 0), 1))
}

func TestPowfSign(t *testing.T) {
	assert.Equal(t, 8.0, powf(2, 3))
	assert.Equal(t, -8.0, powf(-2, 3))
	assert.Equal(t, 4.0, powf(-2, 2))
	assert.True(t, math.IsNaN(powf(-2, 0.5)))
}

func TestErfApproximation(t *testing.T) {
	for _, x := range []float64{-3, -1.2, -0.3, 0, 0.1, 0.5, 1, 2.5} {
		assert.InDelta(t, math.Erf(x), Erf(x), 2e-7, "x=%v", x)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, float64(float32(0.1)), round(tensor.F32, 0.1))
	assert.Equal(t, float64(math.MinInt32), round(tensor.I32, float64(math.MaxInt32)+1))
	assert.Equal(t, float64(math.MaxUint32), round(tensor.U32, -1))
	assert.Equal(t, 1.0, round(tensor.Bool, -2))
}
