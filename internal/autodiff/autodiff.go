// Package autodiff implements reverse-mode automatic differentiation as a
// backend decorator. AutodiffBackend wraps any tensor.Backend, records each
// forward operation on a GradientTape, and replays the tape in reverse to
// produce gradients.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := criterion.Loss(model.Forward(image, calib), labels, mask)
//	grads := backend.Gradients(loss.Raw())
//	backend.Tape().Clear()
package autodiff

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// AutodiffBackend decorates a Backend with gradient tracking.
type AutodiffBackend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New creates an AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{inner: backend, tape: NewGradientTape()}
}

// Tape returns the gradient tape for recording control.
func (b *AutodiffBackend[B]) Tape() *GradientTape { return b.tape }

// Inner returns the wrapped backend.
func (b *AutodiffBackend[B]) Inner() B { return b.inner }

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string { return "autodiff(" + b.inner.Name() + ")" }

// Device returns the wrapped backend's device.
func (b *AutodiffBackend[B]) Device() tensor.Device { return b.inner.Device() }

// Gradients runs the backward pass from a scalar loss, seeding it with a
// gradient of ones, and returns the gradient for every tensor on the tape.
func (b *AutodiffBackend[B]) Gradients(loss *tensor.RawTensor) map[*tensor.RawTensor]*tensor.RawTensor {
	seed := fillLike(loss.Shape(), 1, loss.Device())
	return b.tape.Backward(loss, seed, b.inner)
}

func (b *AutodiffBackend[B]) record(inputs []*tensor.RawTensor, output *tensor.RawTensor,
	back func(grad *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor) {
	if b.tape.IsRecording() {
		b.tape.Record(&op{inputs: inputs, output: output, back: back})
	}
}

// Add records x + y. Gradients are reduced over broadcast dimensions.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Add(x, y)
	b.record([]*tensor.RawTensor{x, y}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{sumToShape(g, x.Shape(), bk), sumToShape(g, y.Shape(), bk)}
	})
	return out
}

// Sub records x - y.
func (b *AutodiffBackend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Sub(x, y)
	b.record([]*tensor.RawTensor{x, y}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{
			sumToShape(g, x.Shape(), bk),
			sumToShape(bk.MulScalar(g, -1), y.Shape(), bk),
		}
	})
	return out
}

// Mul records x * y.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Mul(x, y)
	b.record([]*tensor.RawTensor{x, y}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{
			sumToShape(bk.Mul(g, y), x.Shape(), bk),
			sumToShape(bk.Mul(g, x), y.Shape(), bk),
		}
	})
	return out
}

// Div records x / y.
func (b *AutodiffBackend[B]) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Div(x, y)
	b.record([]*tensor.RawTensor{x, y}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		gx := bk.Div(g, y)
		gy := bk.MulScalar(bk.Mul(g, bk.Div(out, y)), -1) // -g * x / y^2
		return []*tensor.RawTensor{
			sumToShape(gx, x.Shape(), bk),
			sumToShape(gy, y.Shape(), bk),
		}
	})
	return out
}

// AddScalar records x + s; the gradient passes through unchanged.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	out := b.inner.AddScalar(x, s)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{g}
	})
	return out
}

// MulScalar records x * s.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	out := b.inner.MulScalar(x, s)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.MulScalar(g, s)}
	})
	return out
}

// Exp records e^x; d/dx = output.
func (b *AutodiffBackend[B]) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Exp(x)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.Mul(g, out)}
	})
	return out
}

// Log records ln(x); d/dx = 1/x.
func (b *AutodiffBackend[B]) Log(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Log(x)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.Div(g, x)}
	})
	return out
}

// Sqrt records sqrt(x); d/dx = 0.5/output.
func (b *AutodiffBackend[B]) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Sqrt(x)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.MulScalar(bk.Div(g, out), 0.5)}
	})
	return out
}

// Sigmoid records sigmoid(x); d/dx = out * (1 - out).
func (b *AutodiffBackend[B]) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Sigmoid(x)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		one := bk.MulScalar(bk.AddScalar(out, -1), -1)
		return []*tensor.RawTensor{bk.Mul(g, bk.Mul(out, one))}
	})
	return out
}

// Relu records max(x, 0); the gradient is masked to x > 0.
func (b *AutodiffBackend[B]) Relu(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Relu(x)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.Mul(g, stepMask(x))}
	})
	return out
}

// MatMul records x @ y; dX = g @ yᵀ, dY = xᵀ @ g.
func (b *AutodiffBackend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.MatMul(x, y)
	b.record([]*tensor.RawTensor{x, y}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{
			bk.MatMul(g, bk.Transpose(y)),
			bk.MatMul(bk.Transpose(x), g),
		}
	})
	return out
}

// Conv2D records a convolution; backward delegates to the backend hooks.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	out := b.inner.Conv2D(input, kernel, stride, padding)
	b.record([]*tensor.RawTensor{input, kernel}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{
			bk.Conv2DInputBackward(input, kernel, g, stride, padding),
			bk.Conv2DKernelBackward(input, kernel, g, stride, padding),
		}
	})
	return out
}

// Conv2DInputBackward delegates without recording.
func (b *AutodiffBackend[B]) Conv2DInputBackward(input, kernel, outputGrad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, outputGrad, stride, padding)
}

// Conv2DKernelBackward delegates without recording.
func (b *AutodiffBackend[B]) Conv2DKernelBackward(input, kernel, outputGrad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, outputGrad, stride, padding)
}

// MaxPool2D records a pooling; backward routes gradients to argmax cells.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	out := b.inner.MaxPool2D(input, kernelSize, stride)
	b.record([]*tensor.RawTensor{input}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.MaxPool2DBackward(input, g, kernelSize, stride)}
	})
	return out
}

// MaxPool2DBackward delegates without recording.
func (b *AutodiffBackend[B]) MaxPool2DBackward(input, outputGrad *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, outputGrad, kernelSize, stride)
}

// Upsample records a nearest-neighbour upsample.
func (b *AutodiffBackend[B]) Upsample(x *tensor.RawTensor, scale int) *tensor.RawTensor {
	out := b.inner.Upsample(x, scale)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.UpsampleBackward(g, scale)}
	})
	return out
}

// UpsampleBackward delegates without recording.
func (b *AutodiffBackend[B]) UpsampleBackward(outputGrad *tensor.RawTensor, scale int) *tensor.RawTensor {
	return b.inner.UpsampleBackward(outputGrad, scale)
}

// Sum records a full reduction; the gradient broadcasts back.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	out := b.inner.Sum(x)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{fillLike(x.Shape(), g.AsFloat32()[0], x.Device())}
	})
	return out
}

// SumDim records a dimension reduction.
func (b *AutodiffBackend[B]) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	out := b.inner.SumDim(x, dim, keepDim)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		kept := g
		if !keepDim {
			keptShape := x.Shape().Clone()
			keptShape[dim] = 1
			kept = g.WithShape(keptShape)
		}
		// Broadcast back over the reduced dimension.
		zeros := tensor.MustNewRaw(x.Shape(), tensor.Float32, x.Device())
		return []*tensor.RawTensor{bk.Add(zeros, kept)}
	})
	return out
}

// MeanDim records an averaging reduction.
func (b *AutodiffBackend[B]) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	out := b.inner.MeanDim(x, dim, keepDim)
	size := float32(x.Shape()[dim])
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		kept := g
		if !keepDim {
			keptShape := x.Shape().Clone()
			keptShape[dim] = 1
			kept = g.WithShape(keptShape)
		}
		zeros := tensor.MustNewRaw(x.Shape(), tensor.Float32, x.Device())
		return []*tensor.RawTensor{bk.MulScalar(bk.Add(zeros, kept), 1/size)}
	})
	return out
}

// Reshape records a view change; the gradient is re-viewed back.
func (b *AutodiffBackend[B]) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	out := b.inner.Reshape(x, shape)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{g.WithShape(x.Shape())}
	})
	return out
}

// Transpose records a permutation; the gradient is permuted back.
func (b *AutodiffBackend[B]) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	out := b.inner.Transpose(x, axes...)
	rank := x.Shape().Rank()
	used := axes
	if len(used) == 0 {
		used = make([]int, rank)
		for i := range used {
			used[i] = rank - 1 - i
		}
	}
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.Transpose(g, inversePermutation(used)...)}
	})
	return out
}

// Cat records a concatenation; the gradient is sliced per input.
func (b *AutodiffBackend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	out := b.inner.Cat(tensors, dim)
	inputs := make([]*tensor.RawTensor, len(tensors))
	copy(inputs, tensors)
	b.record(inputs, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		grads := make([]*tensor.RawTensor, len(inputs))
		offset := 0
		for i, in := range inputs {
			size := in.Shape()[dim]
			idx := make([]int, size)
			for j := range idx {
				idx[j] = offset + j
			}
			grads[i] = bk.IndexSelect(g, dim, idx)
			offset += size
		}
		return grads
	})
	return out
}

// Chunk records a split into n parts along dim.
func (b *AutodiffBackend[B]) Chunk(x *tensor.RawTensor, n, dim int) []*tensor.RawTensor {
	outs := b.inner.Chunk(x, n, dim)
	if b.tape.IsRecording() {
		b.tape.Record(&chunkOp{input: x, outputs: outs, dim: dim})
	}
	return outs
}

// IndexSelect records a gather; backward scatter-adds.
func (b *AutodiffBackend[B]) IndexSelect(x *tensor.RawTensor, dim int, index []int) *tensor.RawTensor {
	out := b.inner.IndexSelect(x, dim, index)
	idx := make([]int, len(index))
	copy(idx, index)
	b.record([]*tensor.RawTensor{x}, out, func(g *tensor.RawTensor, bk tensor.Backend) []*tensor.RawTensor {
		return []*tensor.RawTensor{bk.IndexSelectBackward(x, g, dim, idx)}
	})
	return out
}

// IndexSelectBackward delegates without recording.
func (b *AutodiffBackend[B]) IndexSelectBackward(x, outputGrad *tensor.RawTensor, dim int, index []int) *tensor.RawTensor {
	return b.inner.IndexSelectBackward(x, outputGrad, dim, index)
}
