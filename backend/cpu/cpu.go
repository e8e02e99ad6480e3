// Copyright 2026 BevGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the public API for the host backend.
package cpu

import "github.com/bevgrid-ml/bevgrid/internal/backend/cpu"

// CPUBackend executes tensor operations on the host with worker parallelism.
type CPUBackend = cpu.CPUBackend

// New returns a parallel host backend.
func New() *CPUBackend { return cpu.New() }

// NewSequential returns a single-threaded host backend.
func NewSequential() *CPUBackend { return cpu.NewSequential() }
