package cpu

import (
	"fmt"
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// broadcastShape computes the result shape of a binary op under
// trailing-dimension broadcasting, or panics if the shapes are
// incompatible.
func broadcastShape(a, b tensor.Shape) tensor.Shape {
	rank := max(a.Rank(), b.Rank())
	out := make(tensor.Shape, rank)
	for i := 0; i < rank; i++ {
		da, db := 1, 1
		if i >= rank-a.Rank() {
			da = a[i-(rank-a.Rank())]
		}
		if i >= rank-b.Rank() {
			db = b[i-(rank-b.Rank())]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			panic(fmt.Sprintf("cpu: cannot broadcast %v with %v", a, b))
		}
	}
	return out
}

// broadcastStrides returns element strides for reading a tensor of shape s
// as if it had outShape, with stride 0 on broadcast dimensions.
func broadcastStrides(s, outShape tensor.Shape) []int {
	strides := make([]int, outShape.Rank())
	own := s.Strides()
	offset := outShape.Rank() - s.Rank()
	for i := range strides {
		if i < offset || s[i-offset] == 1 {
			strides[i] = 0
		} else {
			strides[i] = own[i-offset]
		}
	}
	return strides
}

func (b *CPUBackend) binaryOp(op string, x, y *tensor.RawTensor, f func(a, b float32) float32) *tensor.RawTensor {
	wantFloat32(op, x, y)
	xs, ys := x.Shape(), y.Shape()

	// Fast path: identical shapes.
	if xs.Equal(ys) {
		out := tensor.MustNewRaw(xs, tensor.Float32, x.Device())
		xd, yd, od := x.AsFloat32(), y.AsFloat32(), out.AsFloat32()
		parallel.For(len(od), func(i int) {
			od[i] = f(xd[i], yd[i])
		}, b.par)
		return out
	}

	outShape := broadcastShape(xs, ys)
	out := tensor.MustNewRaw(outShape, tensor.Float32, x.Device())
	xd, yd, od := x.AsFloat32(), y.AsFloat32(), out.AsFloat32()
	outStrides := outShape.Strides()
	xStrides := broadcastStrides(xs, outShape)
	yStrides := broadcastStrides(ys, outShape)

	parallel.For(len(od), func(i int) {
		rem := i
		xi, yi := 0, 0
		for d := range outShape {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			xi += coord * xStrides[d]
			yi += coord * yStrides[d]
		}
		od[i] = f(xd[xi], yd[yi])
	}, b.par)

	return out
}

// Add returns x + y with broadcasting.
func (b *CPUBackend) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("add", x, y, func(a, c float32) float32 { return a + c })
}

// Sub returns x - y with broadcasting.
func (b *CPUBackend) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("sub", x, y, func(a, c float32) float32 { return a - c })
}

// Mul returns x * y with broadcasting.
func (b *CPUBackend) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("mul", x, y, func(a, c float32) float32 { return a * c })
}

// Div returns x / y with broadcasting.
func (b *CPUBackend) Div(x, y *tensor.RawTensor) *tensor.RawTensor {
	return b.binaryOp("div", x, y, func(a, c float32) float32 { return a / c })
}

func (b *CPUBackend) unaryOp(op string, x *tensor.RawTensor, f func(v float32) float32) *tensor.RawTensor {
	wantFloat32(op, x)
	out := tensor.MustNewRaw(x.Shape(), tensor.Float32, x.Device())
	xd, od := x.AsFloat32(), out.AsFloat32()
	parallel.For(len(od), func(i int) {
		od[i] = f(xd[i])
	}, b.par)
	return out
}

// AddScalar returns x + s.
func (b *CPUBackend) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return b.unaryOp("addScalar", x, func(v float32) float32 { return v + s })
}

// MulScalar returns x * s.
func (b *CPUBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return b.unaryOp("mulScalar", x, func(v float32) float32 { return v * s })
}

// Exp returns e^x element-wise.
func (b *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryOp("exp", x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Log returns ln(x) element-wise.
func (b *CPUBackend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryOp("log", x, func(v float32) float32 { return float32(math.Log(float64(v))) })
}

// Sqrt returns the element-wise square root.
func (b *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryOp("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Sigmoid returns 1/(1+e^-x) element-wise.
func (b *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryOp("sigmoid", x, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(float64(-v))))
	})
}

// Relu returns max(x, 0) element-wise.
func (b *CPUBackend) Relu(x *tensor.RawTensor) *tensor.RawTensor {
	return b.unaryOp("relu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}
