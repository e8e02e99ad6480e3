package nn

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Upsample enlarges the spatial dimensions of a [N, C, H, W] tensor by an
// integer factor using nearest-neighbour repetition. A scale of 1 is the
// identity, which lets topdown stages share one code path.
type Upsample[B tensor.Backend] struct {
	scale   int
	backend B
}

// NewUpsample creates an upsampling layer.
func NewUpsample[B tensor.Backend](scale int, backend B) *Upsample[B] {
	if scale < 1 {
		panic(fmt.Sprintf("nn: upsample scale %d < 1", scale))
	}
	return &Upsample[B]{scale: scale, backend: backend}
}

// Forward repeats each cell scale times along H and W.
func (u *Upsample[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if u.scale == 1 {
		return input
	}
	return tensor.New[float32, B](u.backend.Upsample(input.Raw(), u.scale), u.backend)
}

// Parameters returns nil.
func (u *Upsample[B]) Parameters() []*Parameter[B] { return nil }

// MaxPool2D applies square max pooling.
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	backend    B
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("nn: maxpool invalid kernel=%d stride=%d", kernelSize, stride))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride, backend: backend}
}

// Forward pools input [N, C, H, W].
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.New[float32, B](m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride), m.backend)
}

// Parameters returns nil.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] { return nil }
