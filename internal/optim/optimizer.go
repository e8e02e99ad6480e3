// Package optim implements the training optimisers and the learning rate
// schedule.
package optim

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Optimizer applies gradient updates to model parameters. Gradients are
// keyed by parameter storage, as produced by the autodiff tape.
type Optimizer interface {
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)
	SetLR(lr float32)
	LR() float32
}
