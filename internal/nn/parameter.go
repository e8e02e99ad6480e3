package nn

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Parameter is a named trainable tensor.
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a parameter from an initialised tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string { return p.name }

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] { return p.tensor }

// ToDevice retags the parameter's storage onto a device.
func (p *Parameter[B]) ToDevice(d tensor.Device) {
	p.tensor.Raw().ToDevice(d)
}

// MoveParameters retags every parameter of a module onto a device.
func MoveParameters[B tensor.Backend](params []*Parameter[B], d tensor.Device) {
	for _, p := range params {
		p.ToDevice(d)
	}
}
