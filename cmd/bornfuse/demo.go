package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/born-ml/fusion/internal/backend/cpu"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/config"
	"github.com/born-ml/fusion/internal/lazy"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col > 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

// program is a tensor expression run by demo and wgsl.
type program struct {
	name string
	run  func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor
}

func ramp(n int, scale float32) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(i%23-11) * scale
	}
	return values
}

var programs = []program{
	{"add_sub_scalar", func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor {
		x1 := dev.FromFloat32(shape, ramp(shape.NumElements(), 0.5))
		x2 := dev.FromFloat32(shape, ramp(shape.NumElements(), -0.25))
		return x1.Clone().Add(x2).Sub(x1).AddScalar(5)
	}},
	{"exp_log", func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor {
		x := dev.FromFloat32(shape, ramp(shape.NumElements(), 0.1))
		return x.Exp().Log()
	}},
	{"gelu", func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor {
		x := dev.FromFloat32(shape, ramp(shape.NumElements(), 0.2))
		return x.Clone().DivScalar(math.Sqrt2).Erf().AddScalar(1).Mul(x).MulScalar(0.5)
	}},
	{"relu_mask_fill", func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor {
		x := dev.FromFloat32(shape, ramp(shape.NumElements(), 1))
		mask := x.Clone().LowerScalar(0)
		return x.MaskFill(mask, 0)
	}},
	{"shape_change", func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor {
		wide := tensor.Shape{shape[0], shape[1] + 10}
		x := dev.FromFloat32(shape, ramp(shape.NumElements(), 0.1)).Exp()
		y := dev.FromFloat32(wide, ramp(wide.NumElements(), 0.1)).Log1p()
		x.Release()
		return y
	}},
	{"softmax_denominator", func(dev *lazy.Device, shape tensor.Shape) *lazy.Tensor {
		x := dev.FromFloat32(shape, ramp(shape.NumElements(), 0.05))
		return x.Exp().SumDim(1)
	}},
}

// recorder captures the source of every distinct kernel it executes.
type recorder struct {
	compute.Server
	seen    map[string]bool
	sources []string
}

func (r *recorder) Execute(kernel compute.Kernel, handles []compute.Handle) {
	if !r.seen[kernel.ID()] {
		r.seen[kernel.ID()] = true
		r.sources = append(r.sources, kernel.Source())
	}
	r.Server.Execute(kernel, handles)
}

func runDemo(cfg config.Config, size int) {
	dev, tuner := cfg.NewDevice(cpu.NewServer(cfg.Parallel))
	shape := tensor.Shape{size, size}
	klog.V(1).Infof("demo: %d programs on %v, %s elements each", len(programs), shape, humanize.Comma(int64(shape.NumElements())))

	table := newTable("program", "segment", "operators", "inputs", "outputs", "kernel")
	for _, p := range programs {
		before := len(dev.Segments())
		out := p.run(dev, shape)
		_ = out.Data()
		out.Release()
		segments := dev.Segments()[before:]
		if len(segments) == 0 {
			table.Row(p.name, "-", "-", "-", "-", "(unfused)")
		}
		for i, s := range segments {
			table.Row(p.name, strconv.Itoa(i), strconv.Itoa(s.Operators), strconv.Itoa(s.Inputs),
				strconv.Itoa(s.Outputs), s.Kernel)
		}
	}
	fmt.Println(table.Render())

	stats := dev.Stats()
	summary := newTable("device", "allocations", "allocated", "uploaded", "dispatches", "reads", "autotuned")
	summary.Row(dev.Name(), humanize.Comma(int64(stats.Allocations)), humanize.Bytes(stats.AllocatedBytes),
		humanize.Bytes(stats.UploadedBytes), humanize.Comma(int64(stats.Dispatches)),
		humanize.Comma(int64(stats.Reads)), strconv.Itoa(tuner.Len()))
	fmt.Println(summary.Render())
}

func runWGSL(cfg config.Config, size int) {
	rec := &recorder{Server: cpu.NewServer(cfg.Parallel), seen: make(map[string]bool)}
	dev, _ := cfg.NewDevice(rec)
	shape := tensor.Shape{size, size}
	for _, p := range programs {
		first := len(rec.sources)
		p.run(dev, shape).Release()
		dev.Sync()
		for i, source := range rec.sources[first:] {
			fmt.Printf("// %s: kernel %d\n%s\n", p.name, i, source)
		}
	}
}
