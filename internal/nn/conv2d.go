package nn

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Conv2D is a 2D convolutional layer over [N, C, H, W] inputs.
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight  *Parameter[B] // [outChannels, inChannels, k, k]
	bias    *Parameter[B] // [outChannels], nil when bias is disabled
	backend B
}

// NewConv2D creates a square-kernel convolution with Xavier weights.
// Pass useBias=false for convolutions followed by a normalisation layer.
func NewConv2D[B tensor.Backend](inChannels, outChannels, kernelSize, stride, padding int, useBias bool, backend B) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("nn: conv2d channels must be positive, got in=%d out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("nn: conv2d invalid kernel=%d stride=%d padding=%d", kernelSize, stride, padding))
	}

	fan := kernelSize * kernelSize
	weight := Xavier(inChannels*fan, outChannels*fan,
		tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, backend)

	c := &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", weight),
		backend:     backend,
	}
	if useBias {
		c.bias = NewParameter("bias", Zeros[B](tensor.Shape{outChannels}, backend))
	}
	return c
}

// Forward convolves input [N, Cin, H, W] into [N, Cout, H', W'].
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if shape.Rank() != 4 || shape[1] != c.inChannels {
		panic(fmt.Sprintf("nn: conv2d expects [N, %d, H, W], got %v", c.inChannels, shape))
	}
	raw := c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.stride, c.padding)
	out := tensor.New[float32, B](raw, c.backend)
	if c.bias != nil {
		out = out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return out
}

// Parameters returns the weight and, when present, the bias.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int { return c.outChannels }

// Bias returns the bias parameter, or nil when bias is disabled.
func (c *Conv2D[B]) Bias() *Parameter[B] { return c.bias }
