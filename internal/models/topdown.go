package models

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// TopdownNetwork refines the BEV feature grid with residual stages. Each
// stage upsamples by its stride, then applies a run of residual blocks.
type TopdownNetwork[B tensor.Backend] struct {
	stages      *nn.Sequential[B]
	outChannels int
}

// NewTopdownNetwork builds the decoder. channels, layers and strides must
// have one entry per stage; blockType selects the residual block kind.
func NewTopdownNetwork[B tensor.Backend](backend B, inChannels int, channels, layers, strides []int, blockType string) *TopdownNetwork[B] {
	stages := nn.NewSequential[B]()
	in := inChannels
	for i := range channels {
		if strides[i] > 1 {
			stages.Add(nn.NewUpsample[B](strides[i], backend))
		}
		stages.Add(newBlock[B](backend, blockType, in, channels[i], 1))
		for j := 1; j < layers[i]; j++ {
			stages.Add(newBlock[B](backend, blockType, channels[i], channels[i], 1))
		}
		in = channels[i]
	}
	return &TopdownNetwork[B]{stages: stages, outChannels: in}
}

// Forward refines a BEV grid [N, C, depth, width].
func (t *TopdownNetwork[B]) Forward(bev *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return t.stages.Forward(bev)
}

func (t *TopdownNetwork[B]) Parameters() []*nn.Parameter[B] { return t.stages.Parameters() }

func (t *TopdownNetwork[B]) SetTraining(training bool) { t.stages.SetTraining(training) }

// OutChannels returns the channel width after the last stage.
func (t *TopdownNetwork[B]) OutChannels() int { return t.outChannels }
