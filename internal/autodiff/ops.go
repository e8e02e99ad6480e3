package autodiff

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Operation is one differentiable step recorded on the tape. Backward
// receives the output gradient and returns one gradient per input, in
// input order; a nil entry means no gradient flows to that input.
type Operation interface {
	Inputs() []*tensor.RawTensor
	Output() *tensor.RawTensor
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}

// MultiOutputOperation is an operation with several outputs (Chunk). The
// tape collects gradients for all outputs before calling BackwardMulti.
type MultiOutputOperation interface {
	Operation
	Outputs() []*tensor.RawTensor
	BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}

// op is the shared single-output operation record. The backward rule is a
// closure over whatever forward state it needs.
type op struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	back   func(grad *tensor.RawTensor, b tensor.Backend) []*tensor.RawTensor
}

func (o *op) Inputs() []*tensor.RawTensor { return o.inputs }
func (o *op) Output() *tensor.RawTensor  { return o.output }
func (o *op) Backward(grad *tensor.RawTensor, b tensor.Backend) []*tensor.RawTensor {
	return o.back(grad, b)
}

// chunkOp is the one multi-output operation: backward concatenates the
// chunk gradients back together.
type chunkOp struct {
	input   *tensor.RawTensor
	outputs []*tensor.RawTensor
	dim     int
}

func (o *chunkOp) Inputs() []*tensor.RawTensor  { return []*tensor.RawTensor{o.input} }
func (o *chunkOp) Output() *tensor.RawTensor    { return o.outputs[0] }
func (o *chunkOp) Outputs() []*tensor.RawTensor { return o.outputs }

func (o *chunkOp) Backward(grad *tensor.RawTensor, b tensor.Backend) []*tensor.RawTensor {
	panic("autodiff: chunk requires BackwardMulti")
}

func (o *chunkOp) BackwardMulti(outputGrads []*tensor.RawTensor, b tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{b.Cat(outputGrads, o.dim)}
}

// sumToShape reduces grad over broadcast dimensions until it matches the
// target shape. Inverse of the trailing-dimension broadcast in binary ops.
func sumToShape(grad *tensor.RawTensor, target tensor.Shape, b tensor.Backend) *tensor.RawTensor {
	for grad.Shape().Rank() > target.Rank() {
		grad = b.SumDim(grad, 0, false)
	}
	for d := 0; d < target.Rank(); d++ {
		if target[d] == 1 && grad.Shape()[d] > 1 {
			grad = b.SumDim(grad, d, true)
		}
	}
	if !grad.Shape().Equal(target) {
		grad = grad.WithShape(target)
	}
	return grad
}

// fillLike returns a tensor of the given shape filled with the scalar value.
func fillLike(shape tensor.Shape, value float32, device tensor.Device) *tensor.RawTensor {
	out := tensor.MustNewRaw(shape, tensor.Float32, device)
	data := out.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return out
}

// stepMask returns 1 where x > 0 and 0 elsewhere. Used by the ReLU rule.
func stepMask(x *tensor.RawTensor) *tensor.RawTensor {
	mask := tensor.MustNewRaw(x.Shape(), tensor.Float32, x.Device())
	xd, md := x.AsFloat32(), mask.AsFloat32()
	for i, v := range xd {
		if v > 0 {
			md[i] = 1
		}
	}
	return mask
}

// inversePermutation inverts a transpose axis permutation.
func inversePermutation(axes []int) []int {
	inv := make([]int, len(axes))
	for i, a := range axes {
		inv[a] = i
	}
	return inv
}
