// Package cpu implements the pure-Go compute backend. Kernels are spread
// across goroutines via internal/parallel; all operations allocate fresh
// result tensors, so a single backend value is safe to share.
package cpu

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// CPUBackend implements tensor.Backend in pure Go.
type CPUBackend struct {
	par parallel.Config
}

// New creates a CPU backend with default parallelism.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewSequential creates a CPU backend with parallel kernels disabled.
// Used by tests that want deterministic single-goroutine execution.
func NewSequential() *CPUBackend {
	cfg := parallel.DefaultConfig()
	cfg.Enabled = false
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (b *CPUBackend) Name() string { return "cpu" }

// Device returns the host device.
func (b *CPUBackend) Device() tensor.Device { return tensor.HostDevice }

func wantFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("cpu: %s requires float32, got %s", op, t.DType()))
		}
	}
}

// Reshape returns a view of x under a new shape.
func (b *CPUBackend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return x.WithShape(shape)
}

// Transpose permutes dimensions; with no axes it reverses them.
func (b *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	wantFloat32("transpose", x)
	shape := x.Shape()
	rank := shape.Rank()
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("cpu: transpose axes %v do not match rank %d", axes, rank))
	}

	outShape := make(tensor.Shape, rank)
	for i, a := range axes {
		outShape[i] = shape[a]
	}
	out := tensor.MustNewRaw(outShape, x.DType(), x.Device())

	src := x.AsFloat32()
	dst := out.AsFloat32()
	inStrides := shape.Strides()
	outStrides := outShape.Strides()

	parallel.For(out.NumElements(), func(i int) {
		rem := i
		srcIdx := 0
		for d := 0; d < rank; d++ {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			srcIdx += coord * inStrides[axes[d]]
		}
		dst[i] = src[srcIdx]
	}, b.par)

	return out
}

// Cat concatenates tensors along dim. All shapes must match outside dim.
func (b *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cpu: cat of zero tensors")
	}
	first := tensors[0].Shape()
	catDim := 0
	for _, t := range tensors {
		s := t.Shape()
		if s.Rank() != first.Rank() {
			panic(fmt.Sprintf("cpu: cat rank mismatch %v vs %v", first, s))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cpu: cat shape mismatch %v vs %v at dim %d", first, s, d))
			}
		}
		catDim += s[dim]
	}

	outShape := first.Clone()
	outShape[dim] = catDim
	out := tensor.MustNewRaw(outShape, tensors[0].DType(), tensors[0].Device())

	elem := tensors[0].DType().Size()
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= first[d]
	}
	inner := 1
	for d := dim + 1; d < first.Rank(); d++ {
		inner *= first[d]
	}

	outRow := catDim * inner * elem
	offset := 0
	for _, t := range tensors {
		row := t.Shape()[dim] * inner * elem
		src := t.Data()
		dst := out.Data()
		for o := 0; o < outer; o++ {
			copy(dst[o*outRow+offset:o*outRow+offset+row], src[o*row:(o+1)*row])
		}
		offset += row
	}
	return out
}

// Chunk splits x into n equal parts along dim.
func (b *CPUBackend) Chunk(x *tensor.RawTensor, n, dim int) []*tensor.RawTensor {
	shape := x.Shape()
	if shape[dim]%n != 0 {
		panic(fmt.Sprintf("cpu: chunk dim %d of size %d not divisible by %d", dim, shape[dim], n))
	}
	part := shape[dim] / n
	out := make([]*tensor.RawTensor, n)
	for i := 0; i < n; i++ {
		idx := make([]int, part)
		for j := range idx {
			idx[j] = i*part + j
		}
		out[i] = b.IndexSelect(x, dim, idx)
	}
	return out
}

// IndexSelect gathers slices of x along dim in index order.
func (b *CPUBackend) IndexSelect(x *tensor.RawTensor, dim int, index []int) *tensor.RawTensor {
	shape := x.Shape()
	outShape := shape.Clone()
	outShape[dim] = len(index)
	out := tensor.MustNewRaw(outShape, x.DType(), x.Device())

	elem := x.DType().Size()
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	inner := 1
	for d := dim + 1; d < shape.Rank(); d++ {
		inner *= shape[d]
	}
	row := inner * elem
	srcDim := shape[dim]
	src := x.Data()
	dst := out.Data()

	parallel.For(outer, func(o int) {
		srcBase := o * srcDim * row
		dstBase := o * len(index) * row
		for j, ix := range index {
			if ix < 0 || ix >= srcDim {
				panic(fmt.Sprintf("cpu: index %d out of range for dim of size %d", ix, srcDim))
			}
			copy(dst[dstBase+j*row:dstBase+(j+1)*row], src[srcBase+ix*row:srcBase+(ix+1)*row])
		}
	}, b.par)

	return out
}

// IndexSelectBackward scatter-adds outputGrad rows back onto x's shape.
func (b *CPUBackend) IndexSelectBackward(x, outputGrad *tensor.RawTensor, dim int, index []int) *tensor.RawTensor {
	wantFloat32("indexSelectBackward", x, outputGrad)
	shape := x.Shape()
	grad := tensor.MustNewRaw(shape, tensor.Float32, x.Device())

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	inner := 1
	for d := dim + 1; d < shape.Rank(); d++ {
		inner *= shape[d]
	}
	srcDim := shape[dim]
	g := grad.AsFloat32()
	og := outputGrad.AsFloat32()

	// Indices may repeat, so rows accumulate; keep the outer loop parallel
	// and the scatter inside it sequential to avoid write races.
	parallel.For(outer, func(o int) {
		gBase := o * srcDim * inner
		ogBase := o * len(index) * inner
		for j, ix := range index {
			dst := g[gBase+ix*inner : gBase+(ix+1)*inner]
			src := og[ogBase+j*inner : ogBase+(j+1)*inner]
			for k := range dst {
				dst[k] += src[k]
			}
		}
	}, b.par)

	return grad
}
