// Copyright 2026 BevGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the public API for the WebGPU backend.
package webgpu

import "github.com/bevgrid-ml/bevgrid/internal/backend/webgpu"

// Backend executes float32 elementwise and matmul kernels on the GPU and
// falls back to the host backend for everything else.
type Backend = webgpu.Backend

// New opens the GPU adapter at the given index.
func New(index int) (*Backend, error) { return webgpu.New(index) }
