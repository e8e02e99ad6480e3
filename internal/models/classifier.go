package models

import (
	"fmt"
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Classifier maps topdown features to per-class occupancy logits.
// Initialise biases the output towards the per-class occupancy priors, so
// an untrained model predicts the base rates instead of coin flips.
type Classifier[B tensor.Backend] interface {
	nn.Module[B]
	Initialise(prior []float32)
}

// LinearClassifier is a single 1x1 convolution.
type LinearClassifier[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
}

func NewLinearClassifier[B tensor.Backend](backend B, inChannels, numClass int) *LinearClassifier[B] {
	return &LinearClassifier[B]{
		conv: nn.NewConv2D[B](inChannels, numClass, 1, 1, 0, true, backend),
	}
}

func (c *LinearClassifier[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return c.conv.Forward(input)
}

func (c *LinearClassifier[B]) Parameters() []*nn.Parameter[B] { return c.conv.Parameters() }

func (c *LinearClassifier[B]) Initialise(prior []float32) {
	setPriorBias(c.conv, prior)
}

// BayesianClassifier draws Monte Carlo samples through a dropout layer that
// stays active at inference, giving epistemic uncertainty estimates.
type BayesianClassifier[B tensor.Backend] struct {
	hidden  *nn.Conv2D[B]
	dropout *nn.Dropout[B]
	out     *nn.Conv2D[B]
}

func NewBayesianClassifier[B tensor.Backend](backend B, inChannels, numClass int) *BayesianClassifier[B] {
	drop := nn.NewDropout[B](0.5, backend)
	drop.AlwaysOn = true
	return &BayesianClassifier[B]{
		hidden:  nn.NewConv2D[B](inChannels, inChannels, 3, 1, 1, true, backend),
		dropout: drop,
		out:     nn.NewConv2D[B](inChannels, numClass, 1, 1, 0, true, backend),
	}
}

func (c *BayesianClassifier[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return c.out.Forward(c.dropout.Forward(c.hidden.Forward(input).Relu()))
}

func (c *BayesianClassifier[B]) Parameters() []*nn.Parameter[B] {
	return append(c.hidden.Parameters(), c.out.Parameters()...)
}

func (c *BayesianClassifier[B]) Initialise(prior []float32) {
	setPriorBias(c.out, prior)
}

// setPriorBias writes logit(p) into the output bias of each class.
func setPriorBias[B tensor.Backend](conv *nn.Conv2D[B], prior []float32) {
	bias := conv.Bias().Tensor().Data()
	if len(prior) != len(bias) {
		panic(fmt.Sprintf("models: %d priors for %d classes", len(prior), len(bias)))
	}
	for i, p := range prior {
		bias[i] = float32(math.Log(float64(p) / float64(1-p)))
	}
}
