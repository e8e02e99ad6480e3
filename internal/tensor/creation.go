package tensor

import "math/rand"

// Zeros creates a tensor filled with zeros.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	return New[T, B](MustNewRaw(shape, inferDataType(dummy), b.Device()), b)
}

// Full creates a float32 tensor filled with a constant.
func Full[B Backend](shape Shape, value float32, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a float32 tensor filled with ones.
func Ones[B Backend](shape Shape, b B) *Tensor[float32, B] {
	return Full(shape, 1, b)
}

// Randn creates a float32 tensor with samples from N(0, 1).
func Randn[B Backend](shape Shape, b B) *Tensor[float32, B] {
	t := Zeros[float32](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = float32(rand.NormFloat64())
	}
	return t
}

// Scalar creates a shape-[1] float32 tensor holding value.
func Scalar[B Backend](value float32, b B) *Tensor[float32, B] {
	return Full(Shape{1}, value, b)
}
