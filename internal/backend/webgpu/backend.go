// Package webgpu implements a GPU compute backend over WebGPU, using
// go-webgpu for zero-CGO bindings. The element-wise operations and matrix
// multiply run as WGSL compute shaders; the remaining operations fall back
// to the CPU backend, so the backend always implements the full tensor
// interface regardless of shader coverage.
package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Backend implements tensor.Backend on a WebGPU device.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache, keyed by shader name.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	// fallback executes the operations without GPU kernels.
	fallback *cpu.CPUBackend

	deviceID tensor.Device
}

// New initialises the WebGPU backend on GPU index. It returns an error when
// no adapter or native library is available, so callers can fall back to
// the CPU backend.
func New(index int) (backend *Backend, err error) {
	// The native library panics rather than erroring when absent.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: create instance: %w", err)
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: no queue on device")
	}

	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    device,
		queue:     queue,
		shaders:   map[string]*wgpu.ShaderModule{},
		pipelines: map[string]*wgpu.ComputePipeline{},
		fallback:  cpu.New(),
		deviceID:  tensor.GPUDevice(index),
	}, nil
}

// Release frees the device resources.
func (b *Backend) Release() {
	b.queue = nil
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

// Name identifies the backend.
func (b *Backend) Name() string { return "webgpu" }

// Device reports the device this backend computes on.
func (b *Backend) Device() tensor.Device { return b.deviceID }

// Element-wise operations dispatch to WGSL shaders when both operands
// share a shape; broadcasting is left to the CPU fallback.

func (b *Backend) Add(a, other *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("add", a, other)
}

func (b *Backend) Sub(a, other *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("sub", a, other)
}

func (b *Backend) Mul(a, other *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("mul", a, other)
}

func (b *Backend) Div(a, other *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("div", a, other)
}

func (b *Backend) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return b.scalarOp("add_scalar", x, s)
}

func (b *Backend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return b.scalarOp("mul_scalar", x, s)
}

func (b *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor { return b.unaryOp("exp", x) }

func (b *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor { return b.unaryOp("log", x) }

func (b *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor { return b.unaryOp("sqrt", x) }

func (b *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor { return b.unaryOp("sigmoid", x) }

func (b *Backend) Relu(x *tensor.RawTensor) *tensor.RawTensor { return b.unaryOp("relu", x) }

func (b *Backend) MatMul(a, other *tensor.RawTensor) *tensor.RawTensor {
	out, err := b.runMatMul(a, other)
	if err != nil {
		return b.fallback.MatMul(a, other)
	}
	return out
}

// Operations without shaders delegate to the CPU fallback. Host data stays
// authoritative, so the fallback sees the same bytes the shaders would.

func (b *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.retag(b.fallback.Conv2D(input, kernel, stride, padding))
}

func (b *Backend) Conv2DInputBackward(input, kernel, outputGrad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.retag(b.fallback.Conv2DInputBackward(input, kernel, outputGrad, stride, padding))
}

func (b *Backend) Conv2DKernelBackward(input, kernel, outputGrad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.retag(b.fallback.Conv2DKernelBackward(input, kernel, outputGrad, stride, padding))
}

func (b *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	return b.retag(b.fallback.MaxPool2D(input, kernelSize, stride))
}

func (b *Backend) MaxPool2DBackward(input, outputGrad *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	return b.retag(b.fallback.MaxPool2DBackward(input, outputGrad, kernelSize, stride))
}

func (b *Backend) Upsample(x *tensor.RawTensor, scale int) *tensor.RawTensor {
	return b.retag(b.fallback.Upsample(x, scale))
}

func (b *Backend) UpsampleBackward(outputGrad *tensor.RawTensor, scale int) *tensor.RawTensor {
	return b.retag(b.fallback.UpsampleBackward(outputGrad, scale))
}

func (b *Backend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	return b.retag(b.fallback.Sum(x))
}

func (b *Backend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.retag(b.fallback.SumDim(x, dim, keepDim))
}

func (b *Backend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return b.retag(b.fallback.MeanDim(x, dim, keepDim))
}

func (b *Backend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return b.retag(b.fallback.Reshape(x, shape))
}

func (b *Backend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	return b.retag(b.fallback.Transpose(x, axes...))
}

func (b *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.retag(b.fallback.Cat(tensors, dim))
}

func (b *Backend) Chunk(x *tensor.RawTensor, n, dim int) []*tensor.RawTensor {
	parts := b.fallback.Chunk(x, n, dim)
	for _, p := range parts {
		b.retag(p)
	}
	return parts
}

func (b *Backend) IndexSelect(x *tensor.RawTensor, dim int, index []int) *tensor.RawTensor {
	return b.retag(b.fallback.IndexSelect(x, dim, index))
}

func (b *Backend) IndexSelectBackward(x, outputGrad *tensor.RawTensor, dim int, index []int) *tensor.RawTensor {
	return b.retag(b.fallback.IndexSelectBackward(x, outputGrad, dim, index))
}

func (b *Backend) retag(t *tensor.RawTensor) *tensor.RawTensor {
	t.ToDevice(b.deviceID)
	return t
}

// binaryOp runs a shader when shapes match, falling back otherwise.
func (b *Backend) binaryOp(name string, a, other *tensor.RawTensor) *tensor.RawTensor {
	if !a.Shape().Equal(other.Shape()) || a.DType() != tensor.Float32 {
		return b.retag(b.fallbackBinary(name, a, other))
	}
	out, err := b.runElementwise(binaryShader(name), []*tensor.RawTensor{a, other}, a.Shape())
	if err != nil {
		return b.retag(b.fallbackBinary(name, a, other))
	}
	return out
}

func (b *Backend) fallbackBinary(name string, a, other *tensor.RawTensor) *tensor.RawTensor {
	switch name {
	case "add":
		return b.fallback.Add(a, other)
	case "sub":
		return b.fallback.Sub(a, other)
	case "mul":
		return b.fallback.Mul(a, other)
	default:
		return b.fallback.Div(a, other)
	}
}

func (b *Backend) unaryOp(name string, x *tensor.RawTensor) *tensor.RawTensor {
	if x.DType() == tensor.Float32 {
		if out, err := b.runElementwise(unaryShader(name), []*tensor.RawTensor{x}, x.Shape()); err == nil {
			return out
		}
	}
	switch name {
	case "exp":
		return b.retag(b.fallback.Exp(x))
	case "log":
		return b.retag(b.fallback.Log(x))
	case "sqrt":
		return b.retag(b.fallback.Sqrt(x))
	case "sigmoid":
		return b.retag(b.fallback.Sigmoid(x))
	default:
		return b.retag(b.fallback.Relu(x))
	}
}

func (b *Backend) scalarOp(name string, x *tensor.RawTensor, s float32) *tensor.RawTensor {
	if x.DType() == tensor.Float32 {
		if out, err := b.runScalar(name, x, s); err == nil {
			return out
		}
	}
	if name == "add_scalar" {
		return b.retag(b.fallback.AddScalar(x, s))
	}
	return b.retag(b.fallback.MulScalar(x, s))
}
