// Package reduce holds the dimension reduction kernels. They never fuse: each one is a
// standalone kernel whose implementation is picked per shape class by the autotuner.
package reduce

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/born-ml/fusion/internal/tensor"
)

// Mode is the reduction performed along the dimension.
type Mode int

// Reduction modes.
const (
	Sum Mode = iota
	Mean
)

// String returns the operation name of the mode.
func (m Mode) String() string {
	if m == Mean {
		return "mean_dim"
	}
	return "sum_dim"
}

// Strategy is one implementation of a dimension reduction.
type Strategy int

// Reduction strategies.
const (
	// Naive runs one invocation per output element, looping over the reduced dimension.
	Naive Strategy = iota
	// SharedMemory runs one workgroup per output element; invocations accumulate strided
	// partial sums and combine them with a tree reduction in workgroup memory.
	SharedMemory
)

// Strategies is the candidate order of every reduce operation set. Cached autotune
// indices refer to it, whatever the mode.
var Strategies = []Strategy{Naive, SharedMemory}

// String returns the candidate name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Naive:
		return "naive"
	case SharedMemory:
		return "shared_memory"
	default:
		return "unknown"
	}
}

// workgroupSize is the number of invocations per workgroup of both strategies.
const workgroupSize = 256

// Kernel returns the kernel of strategy reducing elem values with mode over numOutputs outputs.
// It binds three buffers: input, output and the info buffer built by Info.
func Kernel(strategy Strategy, mode Mode, elem tensor.Elem, numOutputs int, cfg parallel.Config) compute.StaticKernel {
	name := fmt.Sprintf("%s_%s_%s", mode, strategy, elem)
	switch strategy {
	case Naive:
		return compute.StaticKernel{
			Name:  name,
			WGSL:  render(naiveTemplate, mode, elem),
			Host:  func(buffers [][]byte) { naive(buffers, mode, elem, cfg) },
			Group: compute.ElemwiseWorkGroup(numOutputs, workgroupSize),
		}
	case SharedMemory:
		return compute.StaticKernel{
			Name:  name,
			WGSL:  render(sharedTemplate, mode, elem),
			Host:  func(buffers [][]byte) { shared(buffers, mode, elem, cfg) },
			Group: compute.ElemwiseWorkGroup(numOutputs, 1),
		}
	}
	panic(fmt.Sprintf("reduce: unknown strategy %d", int(strategy)))
}

// Info packs the layout read by the kernels: rank, dim, input strides, input shape,
// output strides, output shape.
func Info(inShape tensor.Shape, inStrides []int, dim int) []uint32 {
	rank := len(inShape)
	outShape := inShape.Clone()
	outShape[dim] = 1
	words := make([]uint32, 0, 2+4*rank)
	words = append(words, uint32(rank), uint32(dim)) //nolint:gosec // small
	for _, block := range [][]int{inStrides, inShape, outShape.ComputeStrides(), outShape} {
		for _, v := range block {
			words = append(words, uint32(v)) //nolint:gosec // fits the device
		}
	}
	return words
}

// layout is the decoded info buffer.
type layout struct {
	rank, dim    int
	inStrides    []int
	inShape      []int
	outStrides   []int
	outShape     []int
	numOutputs   int
	reduceSize   int
	reduceStride int
}

func decode(raw []byte) layout {
	word := func(i int) int { return int(binary.LittleEndian.Uint32(raw[i*4:])) }
	l := layout{rank: word(0), dim: word(1)}
	block := func(b int) []int {
		out := make([]int, l.rank)
		for d := range out {
			out[d] = word(2 + b*l.rank + d)
		}
		return out
	}
	l.inStrides, l.inShape, l.outStrides, l.outShape = block(0), block(1), block(2), block(3)
	l.numOutputs = tensor.Shape(l.outShape).NumElements()
	l.reduceSize = l.inShape[l.dim]
	l.reduceStride = l.inStrides[l.dim]
	return l
}

// offset returns the input index of the first element reduced into output id.
func (l layout) offset(id int) int {
	offset := 0
	for d := range l.rank {
		offset += id / l.outStrides[d] % l.outShape[d] * l.inStrides[d]
	}
	return offset
}

func naive(buffers [][]byte, mode Mode, elem tensor.Elem, cfg parallel.Config) {
	input, output := buffers[0], buffers[1]
	l := decode(buffers[2])
	parallel.For(l.numOutputs, func(id int) {
		offset := l.offset(id)
		sum := 0.0
		for k := range l.reduceSize {
			sum = accumulate(elem, sum, read(input, elem, offset+k*l.reduceStride))
		}
		write(output, elem, id, finish(mode, elem, sum, l.reduceSize))
	}, cfg)
}

func shared(buffers [][]byte, mode Mode, elem tensor.Elem, cfg parallel.Config) {
	input, output := buffers[0], buffers[1]
	l := decode(buffers[2])
	parallel.For(l.numOutputs, func(id int) {
		offset := l.offset(id)
		var partial [workgroupSize]float64
		for local := range partial {
			for k := local; k < l.reduceSize; k += workgroupSize {
				partial[local] = accumulate(elem, partial[local], read(input, elem, offset+k*l.reduceStride))
			}
		}
		for s := workgroupSize / 2; s > 0; s >>= 1 {
			for local := range s {
				partial[local] = accumulate(elem, partial[local], partial[local+s])
			}
		}
		write(output, elem, id, finish(mode, elem, partial[0], l.reduceSize))
	}, cfg)
}

// accumulate adds with the precision of a device register of elem.
func accumulate(elem tensor.Elem, sum, v float64) float64 {
	if elem == tensor.F32 {
		return float64(float32(sum + v))
	}
	return float64(int32(int64(sum + v))) //nolint:gosec // wrapping arithmetic
}

func finish(mode Mode, elem tensor.Elem, sum float64, size int) float64 {
	if mode == Sum || size == 0 {
		return sum
	}
	if elem == tensor.F32 {
		return float64(float32(sum) / float32(size))
	}
	return float64(int64(sum) / int64(size))
}

func read(buf []byte, elem tensor.Elem, index int) float64 {
	return tensor.DecodeWord(elem, binary.LittleEndian.Uint32(buf[index*4:]))
}

func write(buf []byte, elem tensor.Elem, index int, v float64) {
	binary.LittleEndian.PutUint32(buf[index*4:], tensor.EncodeWord(elem, v))
}

func render(template string, mode Mode, elem tensor.Elem) string {
	mean := ""
	if mode == Mean {
		mean = fmt.Sprintf("sum = sum / %s(size);", elem.WGSL())
	}
	return strings.NewReplacer("{{elem}}", elem.WGSL(), "{{mean}}", mean).Replace(template)
}

const layoutWGSL = `@group(0) @binding(0) var<storage, read> input: array<{{elem}}>;
@group(0) @binding(1) var<storage, read_write> output: array<{{elem}}>;
@group(0) @binding(2) var<storage, read> info: array<u32>;

fn input_offset(id: u32) -> u32 {
    let rank = info[0];
    var offset = 0u;
    for (var d = 0u; d < rank; d++) {
        let stride_in = info[2u + d];
        let stride_out = info[2u + 2u * rank + d];
        let shape_out = info[2u + 3u * rank + d];
        offset += id / stride_out % shape_out * stride_in;
    }
    return offset;
}
`

const naiveTemplate = layoutWGSL + `
@compute @workgroup_size(256, 1, 1)
fn main(
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(num_workgroups) num_workgroups: vec3<u32>,
) {
    let id = global_id.y * (num_workgroups.x * 256u) + global_id.x;
    if (id >= arrayLength(&output)) {
        return;
    }
    let rank = info[0];
    let dim = info[1];
    let stride = info[2u + dim];
    let size = info[2u + rank + dim];
    let offset = input_offset(id);
    var sum = {{elem}}(0);
    for (var k = 0u; k < size; k++) {
        sum += input[offset + k * stride];
    }
    {{mean}}
    output[id] = sum;
}
`

const sharedTemplate = layoutWGSL + `
var<workgroup> partial: array<{{elem}}, 256>;

@compute @workgroup_size(256, 1, 1)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) group_id: vec3<u32>,
    @builtin(num_workgroups) num_workgroups: vec3<u32>,
) {
    let id = group_id.y * num_workgroups.x + group_id.x;
    if (id >= arrayLength(&output)) {
        return;
    }
    let lid = local_id.x;
    let rank = info[0];
    let dim = info[1];
    let stride = info[2u + dim];
    let size = info[2u + rank + dim];
    let offset = input_offset(id);
    var sum = {{elem}}(0);
    for (var k = lid; k < size; k += 256u) {
        sum += input[offset + k * stride];
    }
    partial[lid] = sum;
    workgroupBarrier();
    for (var s = 128u; s > 0u; s >>= 1u) {
        if (lid < s) {
            partial[lid] += partial[lid + s];
        }
        workgroupBarrier();
    }
    if (lid == 0u) {
        sum = partial[0];
        {{mean}}
        output[id] = sum;
    }
}
`
