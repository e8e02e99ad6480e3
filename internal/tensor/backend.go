package tensor

// Backend is the interface every compute backend implements. Backends are
// pure: operations allocate and return new result tensors and never modify
// their inputs, which keeps them safe to share between goroutines.
//
// Implementations:
//   - internal/backend/cpu: pure Go with goroutine-parallel kernels
//   - internal/backend/webgpu: GPU compute via WGSL shaders
//   - internal/autodiff: decorator that records operations on a tape
type Backend interface {
	// Element-wise binary operations with trailing-dimension broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations.
	AddScalar(x *RawTensor, s float32) *RawTensor
	MulScalar(x *RawTensor, s float32) *RawTensor

	// Element-wise unary operations.
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Relu(x *RawTensor) *RawTensor

	// MatMul multiplies [M, K] by [K, N] into [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Convolutional operations over [N, C, H, W] inputs.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, outputGrad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, outputGrad *RawTensor, stride, padding int) *RawTensor
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor
	MaxPool2DBackward(input, outputGrad *RawTensor, kernelSize, stride int) *RawTensor

	// Upsample repeats each spatial cell of a [N, C, H, W] tensor scale
	// times along H and W (nearest neighbour).
	Upsample(x *RawTensor, scale int) *RawTensor
	UpsampleBackward(outputGrad *RawTensor, scale int) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Shape operations.
	Reshape(x *RawTensor, shape Shape) *RawTensor
	Transpose(x *RawTensor, axes ...int) *RawTensor

	// Manipulation.
	Cat(tensors []*RawTensor, dim int) *RawTensor
	Chunk(x *RawTensor, n, dim int) []*RawTensor

	// IndexSelect gathers slices along dim in index order. Indices may
	// repeat; IndexSelectBackward scatter-adds gradients accordingly.
	IndexSelect(x *RawTensor, dim int, index []int) *RawTensor
	IndexSelectBackward(x, outputGrad *RawTensor, dim int, index []int) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
