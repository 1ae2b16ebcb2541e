package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/fusion/internal/backend/cpu"
	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/config"
	"github.com/born-ml/fusion/internal/kernel/reduce"
	"github.com/born-ml/fusion/internal/tensor"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// parseShapes parses "32x32,64x128" into shapes.
func parseShapes(list string) []tensor.Shape {
	var shapes []tensor.Shape
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		var shape tensor.Shape
		for _, dim := range strings.Split(field, "x") {
			n, err := strconv.Atoi(dim)
			if err != nil || n <= 0 {
				exceptions.Panicf("invalid shape %q", field)
			}
			shape = append(shape, n)
		}
		shapes = append(shapes, shape)
	}
	return shapes
}

func runTune(cfg config.Config, list string, dim int, cachePath string) {
	if cachePath != "" {
		cfg.Autotune.CachePath = cachePath
	}
	cfg.Autotune.Enabled = true
	shapes := parseShapes(list)
	dev, tuner := cfg.NewDevice(cpu.NewServer(cfg.Parallel))

	bar := progressbar.NewOptions(len(shapes)*len(reduce.Strategies),
		progressbar.OptionSetDescription("autotune"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	tuner.OnCandidate = func(key, name string) {
		bar.Describe(fmt.Sprintf("%s %s", key, name))
		_ = bar.Add(1)
	}

	keys := make([]string, len(shapes))
	for i, shape := range shapes {
		d := dim
		if d < 0 {
			d += len(shape)
		}
		keys[i] = compute.DeviceKey(dev.Name(), reduce.AutotuneKey(shape, shape.ComputeStrides(), d))
		values := make([]float32, shape.NumElements())
		out := dev.FromFloat32(shape, values).MeanDim(d)
		out.Release()
	}
	_ = bar.Finish()
	fmt.Println()

	table := newTable("shape", "elements", "key", "fastest", "timings")
	for i, shape := range shapes {
		entry, found := tuner.Lookup(keys[i])
		if !found {
			table.Row(fmt.Sprint(shape), humanize.Comma(int64(shape.NumElements())), keys[i], "-", "-")
			continue
		}
		timings := make([]string, len(entry.Timings))
		for j, d := range entry.Timings {
			timings[j] = d.String()
		}
		table.Row(fmt.Sprint(shape), humanize.Comma(int64(shape.NumElements())), keys[i], entry.Name,
			strings.Join(timings, " / "))
	}
	fmt.Println(table.Render())

	if cfg.Autotune.CachePath == "" {
		klog.Infof("tune: no cache path set, results are not saved")
		return
	}
	must.M(tuner.SaveCache(cfg.Autotune.CachePath))
	klog.Infof("tune: saved %d entries to %s", tuner.Len(), cfg.Autotune.CachePath)
}
