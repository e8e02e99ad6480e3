package tensor

import "fmt"

// Tensor is a typed view over a RawTensor bound to a backend B. All
// arithmetic delegates to the backend, so the same model code runs on the
// CPU backend, the WebGPU backend, or an autodiff decorator around either.
type Tensor[T DType, B Backend] struct {
	raw     *RawTensor
	backend B
}

// New wraps a RawTensor with a typed, backend-bound handle.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return &Tensor[T, B]{raw: raw, backend: b}
}

// FromSlice creates a tensor by copying a Go slice.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("tensor: shape %v requires %d elements, got %d",
			shape, shape.NumElements(), len(data))
	}
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		return nil, err
	}
	t := New[T, B](raw, b)
	copy(t.Data(), data)
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor[T, B]) Shape() Shape { return t.raw.Shape() }

// DType returns the tensor's data type.
func (t *Tensor[T, B]) DType() DataType { return t.raw.DType() }

// Device returns the device the tensor resides on.
func (t *Tensor[T, B]) Device() Device { return t.raw.Device() }

// NumElements returns the total number of elements.
func (t *Tensor[T, B]) NumElements() int { return t.raw.NumElements() }

// Raw returns the underlying RawTensor.
func (t *Tensor[T, B]) Raw() *RawTensor { return t.raw }

// Backend returns the computation backend.
func (t *Tensor[T, B]) Backend() B { return t.backend }

// Data views the underlying buffer as []T.
func (t *Tensor[T, B]) Data() []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(t.raw.AsFloat32()).([]T)
	case int32:
		return any(t.raw.AsInt32()).([]T)
	case uint8:
		return any(t.raw.AsUint8()).([]T)
	case bool:
		return any(t.raw.AsBool()).([]T)
	default:
		panic("tensor: unsupported element type")
	}
}

func (t *Tensor[T, B]) wrap(raw *RawTensor) *Tensor[T, B] {
	return New[T, B](raw, t.backend)
}

// Add returns t + other (broadcasting over trailing dimensions).
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Add(t.raw, other.raw))
}

// Sub returns t - other.
func (t *Tensor[T, B]) Sub(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Sub(t.raw, other.raw))
}

// Mul returns the element-wise product.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Mul(t.raw, other.raw))
}

// Div returns the element-wise quotient.
func (t *Tensor[T, B]) Div(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.Div(t.raw, other.raw))
}

// AddScalar returns t + s.
func (t *Tensor[T, B]) AddScalar(s float32) *Tensor[T, B] {
	return t.wrap(t.backend.AddScalar(t.raw, s))
}

// MulScalar returns t * s.
func (t *Tensor[T, B]) MulScalar(s float32) *Tensor[T, B] {
	return t.wrap(t.backend.MulScalar(t.raw, s))
}

// Exp returns e^t element-wise.
func (t *Tensor[T, B]) Exp() *Tensor[T, B] { return t.wrap(t.backend.Exp(t.raw)) }

// Log returns the natural logarithm element-wise.
func (t *Tensor[T, B]) Log() *Tensor[T, B] { return t.wrap(t.backend.Log(t.raw)) }

// Sqrt returns the square root element-wise.
func (t *Tensor[T, B]) Sqrt() *Tensor[T, B] { return t.wrap(t.backend.Sqrt(t.raw)) }

// Sigmoid returns 1/(1+e^-t) element-wise.
func (t *Tensor[T, B]) Sigmoid() *Tensor[T, B] { return t.wrap(t.backend.Sigmoid(t.raw)) }

// Relu returns max(t, 0) element-wise.
func (t *Tensor[T, B]) Relu() *Tensor[T, B] { return t.wrap(t.backend.Relu(t.raw)) }

// MatMul multiplies [M, K] by [K, N].
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return t.wrap(t.backend.MatMul(t.raw, other.raw))
}

// Sum reduces to a scalar tensor of shape [1].
func (t *Tensor[T, B]) Sum() *Tensor[T, B] { return t.wrap(t.backend.Sum(t.raw)) }

// SumDim sums along dim.
func (t *Tensor[T, B]) SumDim(dim int, keepDim bool) *Tensor[T, B] {
	return t.wrap(t.backend.SumDim(t.raw, dim, keepDim))
}

// MeanDim averages along dim.
func (t *Tensor[T, B]) MeanDim(dim int, keepDim bool) *Tensor[T, B] {
	return t.wrap(t.backend.MeanDim(t.raw, dim, keepDim))
}

// Reshape returns a view with a new shape; the element count must match.
func (t *Tensor[T, B]) Reshape(dims ...int) *Tensor[T, B] {
	return t.wrap(t.backend.Reshape(t.raw, Shape(dims)))
}

// Transpose permutes dimensions. With no arguments it reverses them.
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return t.wrap(t.backend.Transpose(t.raw, axes...))
}

// IndexSelect gathers slices along dim in index order.
func (t *Tensor[T, B]) IndexSelect(dim int, index []int) *Tensor[T, B] {
	return t.wrap(t.backend.IndexSelect(t.raw, dim, index))
}

// Cat concatenates tensors along dim. All tensors must share a backend and
// agree on every other dimension.
func Cat[T DType, B Backend](tensors []*Tensor[T, B], dim int) *Tensor[T, B] {
	raws := make([]*RawTensor, len(tensors))
	for i, t := range tensors {
		raws[i] = t.raw
	}
	first := tensors[0]
	return first.wrap(first.backend.Cat(raws, dim))
}

// Chunk splits t into n even parts along dim.
func Chunk[T DType, B Backend](t *Tensor[T, B], n, dim int) []*Tensor[T, B] {
	raws := t.backend.Chunk(t.raw, n, dim)
	out := make([]*Tensor[T, B], len(raws))
	for i, r := range raws {
		out[i] = t.wrap(r)
	}
	return out
}

// Item returns the single element of a scalar tensor.
func (t *Tensor[T, B]) Item() T {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("tensor: Item on non-scalar shape %v", t.Shape()))
	}
	return t.Data()[0]
}

// String renders a short description, not the full contents.
func (t *Tensor[T, B]) String() string {
	return fmt.Sprintf("Tensor(%s, %s, %s)", t.Shape(), t.DType(), t.Device())
}
