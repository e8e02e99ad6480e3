package cpu

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Sum reduces x to a shape-[1] scalar.
func (b *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	wantFloat32("sum", x)
	out := tensor.MustNewRaw(tensor.Shape{1}, tensor.Float32, x.Device())
	var acc float32
	for _, v := range x.AsFloat32() {
		acc += v
	}
	out.AsFloat32()[0] = acc
	return out
}

// SumDim sums along dim, optionally keeping it as size 1.
func (b *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	wantFloat32("sumDim", x)
	shape := x.Shape()
	if dim < 0 || dim >= shape.Rank() {
		panic(fmt.Sprintf("cpu: sumDim dim %d out of range for shape %v", dim, shape))
	}

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	inner := 1
	for d := dim + 1; d < shape.Rank(); d++ {
		inner *= shape[d]
	}
	size := shape[dim]

	var outShape tensor.Shape
	if keepDim {
		outShape = shape.Clone()
		outShape[dim] = 1
	} else {
		for d, s := range shape {
			if d != dim {
				outShape = append(outShape, s)
			}
		}
		if len(outShape) == 0 {
			outShape = tensor.Shape{1}
		}
	}

	out := tensor.MustNewRaw(outShape, tensor.Float32, x.Device())
	xd, od := x.AsFloat32(), out.AsFloat32()

	parallel.For(outer*inner, func(k int) {
		o, in := k/inner, k%inner
		var acc float32
		base := o*size*inner + in
		for s := 0; s < size; s++ {
			acc += xd[base+s*inner]
		}
		od[o*inner+in] = acc
	}, b.par)

	return out
}

// MeanDim averages along dim, optionally keeping it as size 1.
func (b *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	sum := b.SumDim(x, dim, keepDim)
	return b.MulScalar(sum, 1/float32(x.Shape()[dim]))
}
