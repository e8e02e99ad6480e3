// Copyright 2026 BevGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the public API for the bevgrid network layers.
package nn

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Module is the base interface for single-input network components.
type Module[B tensor.Backend] = nn.Module[B]

// Stateful is implemented by modules with distinct train and eval modes.
type Stateful = nn.Stateful

// Parameter is a named trainable tensor.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// Layers.

type Linear[B tensor.Backend] = nn.Linear[B]

type Conv2D[B tensor.Backend] = nn.Conv2D[B]

type BatchNorm2D[B tensor.Backend] = nn.BatchNorm2D[B]

type Dropout[B tensor.Backend] = nn.Dropout[B]

type ReLU[B tensor.Backend] = nn.ReLU[B]

type Sigmoid[B tensor.Backend] = nn.Sigmoid[B]

type Upsample[B tensor.Backend] = nn.Upsample[B]

type MaxPool2D[B tensor.Backend] = nn.MaxPool2D[B]

type Sequential[B tensor.Backend] = nn.Sequential[B]

// Constructors.

func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return nn.NewParameter[B](name, t)
}

func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear[B](inFeatures, outFeatures, backend)
}

func NewConv2D[B tensor.Backend](inChannels, outChannels, kernelSize, stride, padding int, useBias bool, backend B) *Conv2D[B] {
	return nn.NewConv2D[B](inChannels, outChannels, kernelSize, stride, padding, useBias, backend)
}

func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	return nn.NewBatchNorm2D[B](numFeatures, backend)
}

func NewDropout[B tensor.Backend](p float32, backend B) *Dropout[B] {
	return nn.NewDropout[B](p, backend)
}

func NewReLU[B tensor.Backend]() *ReLU[B] { return nn.NewReLU[B]() }

func NewSigmoid[B tensor.Backend]() *Sigmoid[B] { return nn.NewSigmoid[B]() }

func NewUpsample[B tensor.Backend](scale int, backend B) *Upsample[B] {
	return nn.NewUpsample[B](scale, backend)
}

func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	return nn.NewMaxPool2D[B](kernelSize, stride, backend)
}

func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential[B](modules...)
}

// SetTraining switches a module tree between training and evaluation mode.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	nn.SetTraining(m, training)
}

// MoveParameters retags parameters onto a device.
func MoveParameters[B tensor.Backend](params []*Parameter[B], d tensor.Device) {
	nn.MoveParameters(params, d)
}
