// Copyright 2026 BevGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the public API for the bevgrid optimizers.
package optim

import (
	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/optim"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Optimizer applies parameter updates from a gradient map.
type Optimizer = optim.Optimizer

type SGD[B tensor.Backend] = optim.SGD[B]

type Adam[B tensor.Backend] = optim.Adam[B]

// MultiStepLR decays the learning rate at fixed epoch milestones.
type MultiStepLR = optim.MultiStepLR

func NewSGD[B tensor.Backend](params []*nn.Parameter[B], lr, momentum, weightDecay float32) *SGD[B] {
	return optim.NewSGD[B](params, lr, momentum, weightDecay)
}

func NewAdam[B tensor.Backend](params []*nn.Parameter[B], lr, weightDecay float32) *Adam[B] {
	return optim.NewAdam[B](params, lr, weightDecay)
}

func NewMultiStepLR(o Optimizer, milestones []int, gamma float32) *MultiStepLR {
	return optim.NewMultiStepLR(o, milestones, gamma)
}

// Build constructs the optimizer and schedule named by the configuration.
func Build[B tensor.Backend](cfg *config.Config, params []*nn.Parameter[B]) (Optimizer, *MultiStepLR, error) {
	return optim.Build[B](cfg, params)
}
