package nn

import (
	"math"
	"math/rand"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Xavier initialises a weight tensor with Glorot uniform values,
// U(-sqrt(6/(fanIn+fanOut)), +sqrt(6/(fanIn+fanOut))).
func Xavier[B tensor.Backend](fanIn, fanOut int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = float32((rand.Float64()*2 - 1) * bound)
	}
	return t
}

// Zeros creates a zero tensor, the usual bias initialisation.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a tensor of ones, the usual norm-scale initialisation.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones(shape, backend)
}
