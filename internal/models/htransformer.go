package models

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// HorizontalTransformerPyramid is the horizontally-aware counterpart of the
// vertical pyramid. Each level first mixes information across image columns
// with a learned linear layer over the width axis, then collapses columns
// into BEV depth bands the same way the vertical pyramid does. The hpon
// model stacks its output with the vertical one along the channel axis.
type HorizontalTransformerPyramid[B tensor.Backend] struct {
	mixers      []*nn.Linear[B]
	levels      []*DenseTransformer[B]
	outChannels int
}

// NewHorizontalTransformerPyramid builds the pyramid. method selects the
// combination scheme; only "stack" is implemented.
func NewHorizontalTransformerPyramid[B tensor.Backend](backend B, geom TransformerGeometry, inChannels, outChannels int, method string) *HorizontalTransformerPyramid[B] {
	if method != "stack" {
		panic(fmt.Sprintf("models: unsupported htfm method %q", method))
	}
	heights := FeatureSize(geom.ImageHeight)
	widths := FeatureSize(geom.ImageWidth)
	bounds := geom.depthRowBounds(len(FPNStrides))

	p := &HorizontalTransformerPyramid[B]{outChannels: outChannels}
	for i, stride := range FPNStrides {
		p.mixers = append(p.mixers, nn.NewLinear[B](widths[i], widths[i], backend))
		p.levels = append(p.levels, NewDenseTransformer[B](
			backend, geom, inChannels, outChannels, stride,
			heights[i], widths[i], bounds[i], bounds[i+1]))
	}
	return p
}

// Forward expects one feature map per pyramid level, finest first.
func (p *HorizontalTransformerPyramid[B]) Forward(features []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(features) != len(p.levels) {
		panic(fmt.Sprintf("models: %d feature levels, pyramid has %d", len(features), len(p.levels)))
	}
	bands := make([]*tensor.Tensor[float32, B], len(p.levels))
	for i, level := range p.levels {
		mixed := p.mixRows(features[i], p.mixers[i])
		bands[i] = level.Forward(mixed)
	}
	return tensor.Cat(bands, 2)
}

// mixRows applies the width-axis linear layer to every row of every channel.
func (p *HorizontalTransformerPyramid[B]) mixRows(features *tensor.Tensor[float32, B], mixer *nn.Linear[B]) *tensor.Tensor[float32, B] {
	shape := features.Shape()
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	rows := features.Reshape(n*c*h, w)
	return mixer.Forward(rows).Reshape(n, c, h, w)
}

func (p *HorizontalTransformerPyramid[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, m := range p.mixers {
		params = append(params, m.Parameters()...)
	}
	for _, level := range p.levels {
		params = append(params, level.Parameters()...)
	}
	return params
}

func (p *HorizontalTransformerPyramid[B]) SetTraining(training bool) {
	for _, level := range p.levels {
		level.SetTraining(training)
	}
}

// OutChannels returns the channel width of the stacked BEV grid.
func (p *HorizontalTransformerPyramid[B]) OutChannels() int { return p.outChannels }
