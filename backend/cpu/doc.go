// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go device for fused tensor kernels.
//
// # Overview
//
// The CPU device interprets the same generated kernels the GPU device compiles to WGSL:
//   - Pure Go implementation (no CGO)
//   - Vectorized kernel variants run lane by lane
//   - Invocations split across goroutines (see Config.Parallel)
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/fusion/backend/cpu"
//	    "github.com/born-ml/fusion/tensor"
//	)
//
//	func main() {
//	    dev, err := cpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    x := dev.Ones(tensor.Shape{2, 3}, tensor.F32)
//	    y := x.AddScalar(1).Exp()
//	    fmt.Println(y.Float32())
//	}
//
// # Thread Safety
//
// A device is safe for concurrent use. Operations are recorded in one stream and
// kernels run one at a time.
package cpu
