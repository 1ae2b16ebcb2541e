// Package config loads the settings of the fusion runtime from YAML and the environment.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"

	"github.com/born-ml/fusion/internal/compute"
	"github.com/born-ml/fusion/internal/fusion"
	"github.com/born-ml/fusion/internal/kernel/reduce"
	"github.com/born-ml/fusion/internal/lazy"
	"github.com/born-ml/fusion/internal/parallel"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

var (
	// ConfigEnv is the environment variable naming a YAML configuration file.
	ConfigEnv = "BORN_FUSION_CONFIG"

	// AutotuneCacheEnv is the environment variable overriding Autotune.CachePath.
	AutotuneCacheEnv = "BORN_FUSION_AUTOTUNE_CACHE"

	// DisableEnv is the environment variable that, when true, runs every operation unfused.
	DisableEnv = "BORN_FUSION_DISABLE"
)

// Fusion selects which fusions and kernel variants are built.
type Fusion struct {
	Enabled   bool `yaml:"enabled"`
	Vectorize bool `yaml:"vectorize"`
	Inplace   bool `yaml:"inplace"`
}

// Autotune configures kernel benchmarking.
type Autotune struct {
	Enabled    bool   `yaml:"enabled"`
	WarmupRuns int    `yaml:"warmup_runs"`
	SampleRuns int    `yaml:"sample_runs"`
	CachePath  string `yaml:"cache_path"`
}

// Config holds every setting of the runtime.
type Config struct {
	Fusion   Fusion          `yaml:"fusion"`
	Autotune Autotune        `yaml:"autotune"`
	Parallel parallel.Config `yaml:"parallel"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Fusion:   Fusion{Enabled: true, Vectorize: true, Inplace: true},
		Autotune: Autotune{Enabled: true, WarmupRuns: 1, SampleRuns: 3},
		Parallel: parallel.DefaultConfig(),
	}
}

// Load reads path on top of the defaults. Unknown keys are logged and ignored.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err == nil || errors.Is(err, io.EOF) {
		return cfg, cfg.Validate()
	}
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	for _, msg := range typeErr.Errors {
		klog.Warningf("config: %s", msg)
	}
	cfg = Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	return cfg, cfg.Validate()
}

// FromEnv loads the file named by ConfigEnv, or the defaults when it is unset, and applies
// the environment overrides.
func FromEnv() (Config, error) {
	cfg := Default()
	if path, found := os.LookupEnv(ConfigEnv); found && path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return Config{}, err
		}
	}
	return cfg.ApplyEnv(), nil
}

// ApplyEnv returns cfg with AutotuneCacheEnv and DisableEnv applied.
func (c Config) ApplyEnv() Config {
	if path, found := os.LookupEnv(AutotuneCacheEnv); found {
		c.Autotune.CachePath = path
	}
	if value, found := os.LookupEnv(DisableEnv); found && value != "" {
		disable, err := strconv.ParseBool(value)
		if err != nil {
			klog.Warningf("config: ignoring %s=%q: %v", DisableEnv, value, err)
		} else if disable {
			c.Fusion.Enabled = false
		}
	}
	return c
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	if c.Autotune.WarmupRuns < 0 {
		return errors.Errorf("autotune.warmup_runs must not be negative, got %d", c.Autotune.WarmupRuns)
	}
	if c.Autotune.SampleRuns < 1 {
		return errors.Errorf("autotune.sample_runs must be at least 1, got %d", c.Autotune.SampleRuns)
	}
	if c.Parallel.NumWorkers < 0 {
		return errors.Errorf("parallel.num_workers must not be negative, got %d", c.Parallel.NumWorkers)
	}
	return nil
}

// FusionOptions returns the options of the fusion stream.
func (c Config) FusionOptions() fusion.Options {
	return fusion.Options{Enabled: c.Fusion.Enabled, Vectorize: c.Fusion.Vectorize, Inplace: c.Fusion.Inplace}
}

// NewTuner returns a tuner with the configured runs and cache file.
func (c Config) NewTuner() *compute.Tuner {
	return compute.NewTuner(c.Autotune.WarmupRuns, c.Autotune.SampleRuns, c.Autotune.CachePath)
}

// NewDevice returns a lazy device over server with the reduce executor attached. The tuner
// is returned too, so callers can save its cache or watch its progress.
func (c Config) NewDevice(server compute.Server) (*lazy.Device, *compute.Tuner) {
	tuner := c.NewTuner()
	executor := reduce.NewExecutor(tuner, c.Parallel)
	executor.Autotune = c.Autotune.Enabled
	return lazy.NewDevice(compute.NewClient(server), c.FusionOptions(), executor), tuner
}
