// Copyright 2026 BevGrid Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for bevgrid tensors.
//
// The package re-exports the core types for type-safe tensor compute:
//   - Tensor[T, B]: generic tensor bound to a compute backend
//   - RawTensor: untyped storage shared between backends
//   - Backend: the compute backend interface
//   - Shape, DataType, Device: core definitions
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	y := tensor.Ones(tensor.Shape{2, 3}, backend)
//	z := x.Add(y)
package tensor

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// DType is the constraint for tensor element types.
type DType = tensor.DType

// DataType identifies an element type at runtime.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 DataType = tensor.Float32
	Int32   DataType = tensor.Int32
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// Device names a concrete compute device.
type Device = tensor.Device

// DeviceKind identifies a class of compute device.
type DeviceKind = tensor.DeviceKind

// Supported device kinds.
const (
	Host DeviceKind = tensor.Host
	GPU  DeviceKind = tensor.GPU
)

// HostDevice is the default placement for new tensors.
var HostDevice = tensor.HostDevice

// GPUDevice returns the device for the i-th GPU adapter.
func GPUDevice(i int) Device { return tensor.GPUDevice(i) }

// Shape describes tensor dimensions.
type Shape = tensor.Shape

// RawTensor is untyped tensor storage.
type RawTensor = tensor.RawTensor

// Backend is the compute backend interface.
type Backend = tensor.Backend

// Tensor is a typed tensor bound to a backend.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// New wraps raw storage for a backend.
func New[T DType, B Backend](raw *RawTensor, backend B) *Tensor[T, B] {
	return tensor.New[T](raw, backend)
}

// NewRaw allocates untyped storage.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// MustNewRaw allocates untyped storage, panicking on invalid shape.
func MustNewRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	return tensor.MustNewRaw(shape, dtype, device)
}

// Zeros creates a zero-filled tensor.
func Zeros[T DType, B Backend](shape Shape, backend B) *Tensor[T, B] {
	return tensor.Zeros[T](shape, backend)
}

// Ones creates a one-filled float32 tensor.
func Ones[B Backend](shape Shape, backend B) *Tensor[float32, B] {
	return tensor.Ones(shape, backend)
}

// Full creates a float32 tensor filled with value.
func Full[B Backend](shape Shape, value float32, backend B) *Tensor[float32, B] {
	return tensor.Full(shape, value, backend)
}

// Randn creates a float32 tensor with standard normal samples.
func Randn[B Backend](shape Shape, backend B) *Tensor[float32, B] {
	return tensor.Randn(shape, backend)
}

// FromSlice creates a tensor by copying a Go slice.
func FromSlice[T DType, B Backend](data []T, shape Shape, backend B) (*Tensor[T, B], error) {
	return tensor.FromSlice[T, B](data, shape, backend)
}

// Scalar creates a shape-[1] float32 tensor.
func Scalar[B Backend](value float32, backend B) *Tensor[float32, B] {
	return tensor.Scalar(value, backend)
}

// Cat concatenates tensors along dim.
func Cat[T DType, B Backend](tensors []*Tensor[T, B], dim int) *Tensor[T, B] {
	return tensor.Cat(tensors, dim)
}

// Chunk splits a tensor into n even parts along dim.
func Chunk[T DType, B Backend](t *Tensor[T, B], n, dim int) []*Tensor[T, B] {
	return tensor.Chunk(t, n, dim)
}
