package nn

import (
	"fmt"
	"math/rand"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Dropout zeroes elements with probability p during training, scaling the
// survivors by 1/(1-p). The Bayesian classifier keeps dropout active at
// inference to draw Monte Carlo samples, so SetTraining is deliberately
// separate from the sampling switch (see AlwaysOn).
type Dropout[B tensor.Backend] struct {
	p        float32
	training bool

	// AlwaysOn keeps the mask active regardless of training mode.
	AlwaysOn bool

	backend B
}

// NewDropout creates a dropout layer with drop probability p in [0, 1).
func NewDropout[B tensor.Backend](p float32, backend B) *Dropout[B] {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("nn: dropout probability %v outside [0, 1)", p))
	}
	return &Dropout[B]{p: p, training: true, backend: backend}
}

// SetTraining switches the layer between masking and identity.
func (d *Dropout[B]) SetTraining(training bool) { d.training = training }

// Forward applies a fresh random mask, or the identity when inactive.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if d.p == 0 || (!d.training && !d.AlwaysOn) {
		return input
	}
	mask := tensor.Zeros[float32](input.Shape(), d.backend)
	data := mask.Data()
	scale := 1 / (1 - d.p)
	for i := range data {
		if rand.Float32() >= d.p {
			data[i] = scale
		}
	}
	return input.Mul(mask)
}

// Parameters returns nil.
func (d *Dropout[B]) Parameters() []*Parameter[B] { return nil }
