// Copyright 2026 BevGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides the public API for reverse-mode differentiation.
package autodiff

import (
	"github.com/bevgrid-ml/bevgrid/internal/autodiff"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// AutodiffBackend decorates a backend with gradient tape recording.
type AutodiffBackend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// GradientTape records the operation graph during a forward pass.
type GradientTape = autodiff.GradientTape

// New wraps a backend with autodiff support.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return autodiff.New[B](backend)
}
