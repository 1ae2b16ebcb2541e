package lazy

import (
	"math/rand/v2"
	"testing"

	"github.com/born-ml/fusion/internal/backend/cpu"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/fusion"
	"github.com/born-ml/fusion/internal/kernel/reduce"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

var testParallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}

func newDevice(t *testing.T, options fusion.Options) (*Device, *cpu.Server) {
	t.Helper()
	server := cpu.NewServer(testParallel)
	client := compute.NewClient(server)
	return NewDevice(client, options, reduce.NewExecutor(compute.NewTuner(0, 1, ""), testParallel)), server
}

func uniform(n int, lo, hi float64, seed uint64) []float32 {
	dist := distuv.Uniform{Min: lo, Max: hi, Src: rand.NewPCG(seed, seed)}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(dist.Rand())
	}
	return out
}

func widen(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func TestAddSubScalarChain(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{8, 8}
	v1 := uniform(shape.NumElements(), -10, 10, 1)
	v2 := uniform(shape.NumElements(), -10, 10, 2)
	x1 := dev.FromFloat32(shape, v1)
	x2 := dev.FromFloat32(shape, v2)

	got := x1.Clone().Add(x2).Sub(x1).AddScalar(5)
	assert.Equal(t, 3, dev.Pending())

	want := make([]float64, len(v1))
	for i := range want {
		want[i] = float64((v1[i]+v2[i])-v1[i]) + 5
	}
	assert.InDeltaSlice(t, want, widen(got.Float32()), 1e-5)

	segments := dev.Segments()
	require.Len(t, segments, 1)
	assert.Equal(t, 3, segments[0].Operators)
	assert.Equal(t, 2, segments[0].Inputs)
	assert.Equal(t, "elemwise_vec4+inplace", segments[0].Kernel)
}

func TestExpLogRoundTrip(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{32, 32}
	values := uniform(shape.NumElements(), 0.1, 5, 3)

	got := dev.FromFloat32(shape, values).Exp().Log()
	assert.InDeltaSlice(t, widen(values), widen(got.Float32()), 1e-3)
}

func TestFusionStopsAtShapeChange(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	x := dev.FromFloat32(tensor.Shape{32, 32}, uniform(32*32, 0.1, 1, 4))
	y := dev.FromFloat32(tensor.Shape{32, 42}, uniform(32*42, 0.1, 1, 5))

	a := x.Exp().Log()
	require.Equal(t, 2, dev.Pending())
	b := y.Exp()
	require.Len(t, dev.Segments(), 1)
	assert.Equal(t, 2, dev.Segments()[0].Operators, "the mismatched operation is not part of the fusion")
	assert.Equal(t, 1, dev.Pending())

	a.Release()
	b.Release()
}

func TestMaskFill(t *testing.T) {
	shape := tensor.Shape{2, 4}
	values := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	want := []float32{1, 2, 3, 4, -1, -1, -1, -1}

	t.Run("inplace", func(t *testing.T) {
		dev, _ := newDevice(t, fusion.DefaultOptions())
		x := dev.FromFloat32(shape, values)
		mask := x.Clone().GreaterScalar(4)
		got := x.MaskFill(mask, -1)
		assert.Equal(t, want, got.Float32())
		assert.Equal(t, "elemwise_vec4+inplace", dev.Segments()[0].Kernel)
	})

	t.Run("not inplace", func(t *testing.T) {
		dev, _ := newDevice(t, fusion.DefaultOptions())
		x := dev.FromFloat32(shape, values)
		keep := x.Clone()
		mask := x.Clone().GreaterScalar(4)
		got := x.MaskFill(mask, -1)
		assert.Equal(t, want, got.Float32())
		assert.Equal(t, "elemwise_vec4", dev.Segments()[0].Kernel)
		assert.Equal(t, values, keep.Float32(), "the source tensor is left untouched")
	})

	t.Run("inplace disabled", func(t *testing.T) {
		dev, _ := newDevice(t, fusion.Options{Enabled: true, Vectorize: true})
		x := dev.FromFloat32(shape, values)
		mask := x.Clone().GreaterScalar(4)
		got := x.MaskFill(mask, -1)
		assert.Equal(t, want, got.Float32())
		assert.Equal(t, "elemwise_vec4", dev.Segments()[0].Kernel)
	})
}

func TestMaskWhereAndCompare(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{1, 6}
	x := dev.FromFloat32(shape, []float32{-3, -2, -1, 1, 2, 3})
	y := dev.FromFloat32(shape, []float32{0, 0, 0, 0, 0, 0})

	mask := x.Clone().Lower(y.Clone())
	assert.Equal(t, []bool{true, true, true, false, false, false}, mask.Bool())

	got := x.MaskWhere(mask, y)
	assert.Equal(t, []float32{0, 0, 0, 1, 2, 3}, got.Float32())
}

func TestClampAndUnary(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{5}
	x := dev.FromFloat32(shape, []float32{-4, -1, 0, 1, 4})

	got := x.Clamp(-2, 2).Abs().Sqrt().MulScalar(2).Recip()
	want := []float64{1 / (2 * 1.4142135), 0.5, 0, 0.5, 1 / (2 * 1.4142135)}
	values := widen(got.Float32())
	assert.InDelta(t, want[0], values[0], 1e-5)
	assert.InDelta(t, want[1], values[1], 1e-6)
	assert.True(t, values[2] > 1e30, "1/0 is +Inf")
	assert.InDelta(t, want[4], values[4], 1e-5)
}

func TestIntegerOps(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{2, 2}
	x := dev.FromInt32(shape, []int32{7, -7, 9, 0})

	got := x.DivScalar(2).MulScalar(3).SubScalar(1)
	assert.Equal(t, []int32{8, -10, 11, -1}, got.Int32())
	assert.Equal(t, tensor.I32, got.Elem())
}

func TestCreation(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{2, 4}
	got := dev.Full(shape, tensor.F32, 3).Add(dev.Ones(shape, tensor.F32)).Mul(dev.Zeros(shape, tensor.F32).AddScalar(2))
	assert.Equal(t, []float32{8, 8, 8, 8, 8, 8, 8, 8}, got.Float32())
	require.Len(t, dev.Segments(), 1)
	assert.Zero(t, dev.Segments()[0].Inputs)
}

func TestReduceThroughExecutor(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{3, 300}
	values := uniform(shape.NumElements(), -1, 1, 6)
	host := widen(values)
	for i := range host {
		host[i] *= 2
	}

	x := dev.FromFloat32(shape, values).MulScalar(2)
	sum := x.Clone().SumDim(1)
	mean := x.MeanDim(-2)

	wantSum, sumShape := cpu.SumDim(host, shape, 1)
	wantMean, meanShape := cpu.MeanDim(host, shape, 0)
	assert.Equal(t, sumShape, sum.Shape())
	assert.Equal(t, meanShape, mean.Shape())
	assert.InDeltaSlice(t, wantSum, widen(sum.Float32()), 1e-3)
	assert.InDeltaSlice(t, wantMean, widen(mean.Float32()), 1e-5)

	require.Len(t, dev.Segments(), 1, "reductions run outside fusions")
	require.Panics(t, func() { dev.Ones(shape, tensor.F32).SumDim(2) })
}

func TestMoveSemantics(t *testing.T) {
	dev, server := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{4}
	x := dev.FromFloat32(shape, []float32{1, 2, 3, 4})
	y := dev.FromFloat32(shape, []float32{1, 1, 1, 1})

	z := x.Add(y)
	require.Panics(t, func() { x.Exp() }, "x was consumed by Add")
	require.Panics(t, func() { y.Clone() })
	require.Panics(t, func() { dev.FromFloat32(shape, make([]float32, 4)).Add(dev.Ones(tensor.Shape{2, 2}, tensor.F32)) })

	assert.Equal(t, []float32{2, 3, 4, 5}, z.Float32())
	z.Release()
	z.Release()
	count, _ := server.Live()
	assert.Equal(t, 2, count, "the operands of the rejected Add are still alive")
}

func TestReleaseFreesBuffers(t *testing.T) {
	dev, server := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{16}
	x := dev.FromFloat32(shape, uniform(16, 0, 1, 7))
	y := dev.FromFloat32(shape, uniform(16, 0, 1, 8))
	keep := x.Clone()

	z := x.Mul(y).Tanh()
	z.Release()
	assert.Equal(t, 2, dev.Pending(), "the release waits for the pending fusion")
	dev.Sync()
	count, _ := server.Live()
	assert.Equal(t, 1, count, "only the buffer of keep is live")

	keep.Release()
	count, _ = server.Live()
	assert.Zero(t, count)
}

func TestFusionDisabled(t *testing.T) {
	dev, _ := newDevice(t, fusion.Options{Enabled: false, Vectorize: true, Inplace: true})
	x := dev.FromFloat32(tensor.Shape{4}, []float32{1, 2, 3, 4})
	got := x.AddScalar(1).MulScalar(2).Exp().Log()
	assert.InDeltaSlice(t, []float64{4, 6, 8, 10}, widen(got.Float32()), 1e-4)
	assert.Len(t, dev.Segments(), 4)
	for _, seg := range dev.Segments() {
		assert.Equal(t, 1, seg.Operators)
	}
}

func TestBoolTensors(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{2, 4}

	assert.Equal(t, make([]bool, 8), dev.Zeros(shape, tensor.Bool).Bool())
	assert.Equal(t, []bool{true, true, true, true, true, true, true, true}, dev.Ones(shape, tensor.Bool).Bool())

	flags := dev.FromBool(shape, []bool{true, false, true, false, false, false, true, true})
	mask := dev.FromFloat32(shape, []float32{0, 1, 0, 1, 0, 1, 0, 1}).GreaterScalar(0.5)
	filled := flags.MaskFill(mask, 1)
	assert.Equal(t, []bool{true, true, true, true, false, true, true, true}, filled.Bool())

	a := dev.Full(shape, tensor.Bool, 0)
	b := dev.FromBool(shape, []bool{true, true, false, false, true, true, false, false})
	where := dev.FromBool(shape, []bool{true, false, true, false, true, false, true, false})
	assert.Equal(t, []bool{true, false, false, false, true, false, false, false}, a.MaskWhere(where, b).Bool())
}

func TestIntegerClamp(t *testing.T) {
	dev, _ := newDevice(t, fusion.DefaultOptions())
	x := dev.FromInt32(tensor.Shape{6}, []int32{-9, -2, 0, 3, 5, 12})
	got := x.Clamp(-2, 4).MulScalar(2)
	assert.Equal(t, []int32{-4, -4, 0, 6, 8, 8}, got.Int32())
	require.Len(t, dev.Segments(), 1)
	assert.Equal(t, 2, dev.Segments()[0].Operators)
}

func TestUndefinedOperationsPanic(t *testing.T) {
	dev, server := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{4}
	i := dev.FromInt32(shape, []int32{1, 2, 3, 4})
	flags := dev.FromBool(shape, []bool{true, false, true, false})

	assert.PanicsWithError(t, "lazy: exp is not defined for i32 tensors", func() { i.Exp() })
	assert.Panics(t, func() { flags.Clone().Add(flags.Clone()) })
	assert.Panics(t, func() { flags.SumDim(0) })
	assert.Equal(t, []int32{1, 2, 3, 4}, i.Int32(), "a rejected operation does not consume its operands")

	assert.Panics(t, func() { dev.FromData(tensor.FromUint32(shape, []uint32{1, 2, 3, 4})) })
	assert.Panics(t, func() { dev.Zeros(shape, tensor.U32) })
	assert.Zero(t, dev.Pending())
	count, _ := server.Live()
	assert.Equal(t, 2, count, "nothing was uploaded for the unsigned tensors")
}

func TestReleaseKeepsFusionOpen(t *testing.T) {
	dev, server := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{8}
	x := dev.FromFloat32(shape, uniform(8, 0.5, 1, 9))

	y := x.Exp()
	keep := y.Clone()
	z := y.Log()
	keep.Release()
	assert.Equal(t, 2, dev.Pending(), "releasing an intermediate does not cut the fusion")

	assert.InDeltaSlice(t, widen(uniform(8, 0.5, 1, 9)), widen(z.Float32()), 1e-5)
	require.Len(t, dev.Segments(), 1)
	assert.Equal(t, 2, dev.Segments()[0].Operators)
	count, _ := server.Live()
	assert.Equal(t, 1, count, "the released intermediate is freed after the fusion ran")
}

func TestContextStaysBounded(t *testing.T) {
	dev, server := newDevice(t, fusion.DefaultOptions())
	shape := tensor.Shape{4, 16}
	for i := range 25 {
		x := dev.FromFloat32(shape, uniform(shape.NumElements(), -1, 1, uint64(i)))
		sum := x.MulScalar(2).Tanh().SumDim(1)
		require.Len(t, sum.Float32(), 4)
		sum.Release()
	}
	assert.Empty(t, dev.stream.Context().Tensors)
	assert.Zero(t, dev.stream.Context().Handles.Len())
	count, _ := server.Live()
	assert.Zero(t, count)
}
