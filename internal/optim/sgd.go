package optim

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// SGD is stochastic gradient descent with momentum and weight decay.
// Updates happen in place on the parameters' host buffers.
type SGD[B tensor.Backend] struct {
	params []*nn.Parameter[B]

	lr          float32
	momentum    float32
	weightDecay float32

	velocity map[*tensor.RawTensor][]float32
}

func NewSGD[B tensor.Backend](params []*nn.Parameter[B], lr, momentum, weightDecay float32) *SGD[B] {
	return &SGD[B]{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    make(map[*tensor.RawTensor][]float32, len(params)),
	}
}

// SetLR replaces the learning rate; the scheduler calls this per epoch.
func (o *SGD[B]) SetLR(lr float32) { o.lr = lr }

// LR returns the current learning rate.
func (o *SGD[B]) LR() float32 { return o.lr }

// Step applies one update. Parameters without a gradient are untouched.
func (o *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, p := range o.params {
		raw := p.Tensor().Raw()
		grad, ok := grads[raw]
		if !ok {
			continue
		}

		v := o.velocity[raw]
		if v == nil {
			v = make([]float32, raw.NumElements())
			o.velocity[raw] = v
		}

		weights := raw.AsFloat32()
		g := grad.AsFloat32()
		for i := range weights {
			d := g[i] + o.weightDecay*weights[i]
			v[i] = o.momentum*v[i] + d
			weights[i] -= o.lr * v[i]
		}
	}
}
