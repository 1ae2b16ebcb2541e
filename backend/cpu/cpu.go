// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/fusion/internal/backend/cpu"
	"github.com/born-ml/fusion/internal/config"
	"github.com/born-ml/fusion/tensor"
)

// Config holds the fusion, autotune and parallelism settings of a device.
type Config = config.Config

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return config.Default()
}

// New creates a CPU device configured from the environment.
//
// BORN_FUSION_CONFIG names an optional YAML file, BORN_FUSION_AUTOTUNE_CACHE a file where
// autotune results persist, and BORN_FUSION_DISABLE=true turns fusion off.
//
// Example:
//
//	dev, err := cpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	x := dev.Ones(tensor.Shape{2, 3}, tensor.F32)
func New() (*tensor.Device, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a CPU device with cfg.
func NewWithConfig(cfg Config) (*tensor.Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dev, _ := cfg.NewDevice(internalcpu.NewServer(cfg.Parallel))
	return dev, nil
}
