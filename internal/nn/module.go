// Package nn implements the neural network building blocks used by the
// bevgrid model zoo: parameters, layers, activations and containers.
//
// Modules are generic over the compute backend, so the same layer code
// runs on the CPU backend, the WebGPU backend, or an autodiff decorator
// around either.
package nn

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Module is the base interface for single-input network components.
type Module[B tensor.Backend] interface {
	// Forward computes the module output for the given input.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters, including those of
	// nested modules. Parameter-free modules return nil.
	Parameters() []*Parameter[B]
}

// Stateful is implemented by modules whose forward pass differs between
// training and evaluation (BatchNorm2D, Dropout). Containers propagate the
// mode to their children.
type Stateful interface {
	SetTraining(training bool)
}

// SetTraining switches a module tree between training and evaluation mode.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	if s, ok := m.(Stateful); ok {
		s.SetTraining(training)
	}
}
