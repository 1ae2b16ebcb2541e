// Package main provides the bornfuse CLI: it runs fused tensor programs on the CPU device,
// prints the WGSL they compile to, and pre-tunes reduction kernels.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/born-ml/fusion/internal/config"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

var (
	flagConfig = flag.String("config", "", "YAML configuration file; defaults to $"+config.ConfigEnv)
	flagSize   = flag.Int("size", 64, "Side of the square tensors used by demo and wgsl.")
	flagShapes = flag.String("shapes", "32x32,256x256,1024x64,64x4096", "Comma-separated shapes reduced by tune.")
	flagDim    = flag.Int("dim", -1, "Dimension reduced by tune.")
	flagCache  = flag.String("cache", "", "Autotune cache file written by tune; defaults to autotune.cache_path.")
)

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Born fusion compiler %s\n\n", version)
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <command>\n\n", os.Args[0])
	_, _ = fmt.Fprintln(out, "Commands:")
	_, _ = fmt.Fprintln(out, "  version    Show version")
	_, _ = fmt.Fprintln(out, "  demo       Run fused programs on the CPU device and report the kernels used")
	_, _ = fmt.Fprintln(out, "  wgsl       Print the WGSL generated for the demo programs")
	_, _ = fmt.Fprintln(out, "  tune       Autotune mean_dim for -shapes and save the cache")
	_, _ = fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func loadConfig() config.Config {
	if *flagConfig != "" {
		return must.M1(config.Load(*flagConfig)).ApplyEnv()
	}
	return must.M1(config.FromEnv())
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	command := flag.Arg(0)
	if command == "version" {
		fmt.Printf("Born fusion compiler %s\n", version)
		return
	}

	exception := exceptions.Try(func() {
		cfg := loadConfig()
		must.M(cfg.Validate())
		switch command {
		case "demo":
			runDemo(cfg, *flagSize)
		case "wgsl":
			runWGSL(cfg, *flagSize)
		case "tune":
			runTune(cfg, *flagShapes, *flagDim, *flagCache)
		default:
			usage()
			os.Exit(2)
		}
	})
	if exception != nil {
		klog.Errorf("%s failed: %v", command, exception)
		os.Exit(1)
	}
}
