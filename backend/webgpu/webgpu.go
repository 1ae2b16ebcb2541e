// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU device for fused tensor kernels.
//
// WebGPU is a cross-platform graphics and compute API that works on:
//   - Windows (via Dawn/D3D12)
//   - macOS (via Dawn/Metal)
//   - Linux (via Dawn/Vulkan)
//
// The native library is currently wired on Windows builds only; elsewhere New returns
// an error and IsAvailable reports false.
//
// Example:
//
//	gpu, release, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer release()
//
//	x := gpu.Ones(tensor.Shape{1024, 1024}, tensor.F32)
//	y := x.MulScalar(2).Tanh()
package webgpu

import (
	"github.com/born-ml/fusion/internal/backend/webgpu"
	"github.com/born-ml/fusion/internal/config"
	"github.com/born-ml/fusion/tensor"
)

// Config holds the fusion, autotune and parallelism settings of a device.
type Config = config.Config

// New creates a WebGPU device configured from the environment. The returned function
// releases the GPU resources.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
func New() (*tensor.Device, func(), error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a WebGPU device with cfg.
func NewWithConfig(cfg Config) (*tensor.Device, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	server, err := webgpu.New()
	if err != nil {
		return nil, nil, err
	}
	dev, _ := cfg.NewDevice(server)
	release := func() {
		dev.Sync()
		server.Release()
	}
	return dev, release, nil
}

// IsAvailable checks if WebGPU is available on the current system.
//
// It is useful for graceful fallback to the CPU device when no GPU is present:
//
//	if webgpu.IsAvailable() {
//	    dev, release, _ = webgpu.New()
//	} else {
//	    dev, _ = cpu.New()
//	}
func IsAvailable() bool {
	return webgpu.IsAvailable()
}
