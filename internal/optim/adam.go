package optim

import (
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Adam implements the Adam update rule with bias correction.
type Adam[B tensor.Backend] struct {
	params []*nn.Parameter[B]

	lr          float32
	beta1       float32
	beta2       float32
	eps         float32
	weightDecay float32
	step        int

	m map[*tensor.RawTensor][]float32
	v map[*tensor.RawTensor][]float32
}

func NewAdam[B tensor.Backend](params []*nn.Parameter[B], lr, weightDecay float32) *Adam[B] {
	return &Adam[B]{
		params:      params,
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		eps:         1e-8,
		weightDecay: weightDecay,
		m:           make(map[*tensor.RawTensor][]float32, len(params)),
		v:           make(map[*tensor.RawTensor][]float32, len(params)),
	}
}

func (o *Adam[B]) SetLR(lr float32) { o.lr = lr }

func (o *Adam[B]) LR() float32 { return o.lr }

func (o *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	o.step++
	correction1 := 1 - float32(math.Pow(float64(o.beta1), float64(o.step)))
	correction2 := 1 - float32(math.Pow(float64(o.beta2), float64(o.step)))

	for _, p := range o.params {
		raw := p.Tensor().Raw()
		grad, ok := grads[raw]
		if !ok {
			continue
		}

		m, v := o.m[raw], o.v[raw]
		if m == nil {
			m = make([]float32, raw.NumElements())
			v = make([]float32, raw.NumElements())
			o.m[raw], o.v[raw] = m, v
		}

		weights := raw.AsFloat32()
		g := grad.AsFloat32()
		for i := range weights {
			d := g[i] + o.weightDecay*weights[i]
			m[i] = o.beta1*m[i] + (1-o.beta1)*d
			v[i] = o.beta2*v[i] + (1-o.beta2)*d*d
			mhat := m[i] / correction1
			vhat := v[i] / correction2
			weights[i] -= o.lr * mhat / (float32(math.Sqrt(float64(vhat))) + o.eps)
		}
	}
}
