package models

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// BasicBlock is a two-layer residual block with 3x3 convolutions. When the
// input and output widths differ (or on a strided stage) the shortcut is a
// projection convolution.
type BasicBlock[B tensor.Backend] struct {
	conv1 *nn.Conv2D[B]
	bn1   *nn.BatchNorm2D[B]
	conv2 *nn.Conv2D[B]
	bn2   *nn.BatchNorm2D[B]

	proj   *nn.Conv2D[B]
	projBN *nn.BatchNorm2D[B]
}

func NewBasicBlock[B tensor.Backend](backend B, inChannels, outChannels, stride int) *BasicBlock[B] {
	b := &BasicBlock[B]{
		conv1: nn.NewConv2D[B](inChannels, outChannels, 3, stride, 1, false, backend),
		bn1:   nn.NewBatchNorm2D[B](outChannels, backend),
		conv2: nn.NewConv2D[B](outChannels, outChannels, 3, 1, 1, false, backend),
		bn2:   nn.NewBatchNorm2D[B](outChannels, backend),
	}
	if inChannels != outChannels || stride != 1 {
		b.proj = nn.NewConv2D[B](inChannels, outChannels, 1, stride, 0, false, backend)
		b.projBN = nn.NewBatchNorm2D[B](outChannels, backend)
	}
	return b
}

func (b *BasicBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	identity := x
	if b.proj != nil {
		identity = b.projBN.Forward(b.proj.Forward(x))
	}
	out := b.bn1.Forward(b.conv1.Forward(x)).Relu()
	out = b.bn2.Forward(b.conv2.Forward(out))
	return out.Add(identity).Relu()
}

func (b *BasicBlock[B]) Parameters() []*nn.Parameter[B] {
	params := append(b.conv1.Parameters(), b.bn1.Parameters()...)
	params = append(params, b.conv2.Parameters()...)
	params = append(params, b.bn2.Parameters()...)
	if b.proj != nil {
		params = append(params, b.proj.Parameters()...)
		params = append(params, b.projBN.Parameters()...)
	}
	return params
}

func (b *BasicBlock[B]) SetTraining(training bool) {
	b.bn1.SetTraining(training)
	b.bn2.SetTraining(training)
	if b.projBN != nil {
		b.projBN.SetTraining(training)
	}
}

// Bottleneck is a 1x1 / 3x3 / 1x1 residual block. The internal width is a
// quarter of the output width, matching the classic design.
type Bottleneck[B tensor.Backend] struct {
	conv1 *nn.Conv2D[B]
	bn1   *nn.BatchNorm2D[B]
	conv2 *nn.Conv2D[B]
	bn2   *nn.BatchNorm2D[B]
	conv3 *nn.Conv2D[B]
	bn3   *nn.BatchNorm2D[B]

	proj   *nn.Conv2D[B]
	projBN *nn.BatchNorm2D[B]
}

func NewBottleneck[B tensor.Backend](backend B, inChannels, outChannels, stride int) *Bottleneck[B] {
	width := outChannels / 4
	if width < 1 {
		width = 1
	}
	b := &Bottleneck[B]{
		conv1: nn.NewConv2D[B](inChannels, width, 1, 1, 0, false, backend),
		bn1:   nn.NewBatchNorm2D[B](width, backend),
		conv2: nn.NewConv2D[B](width, width, 3, stride, 1, false, backend),
		bn2:   nn.NewBatchNorm2D[B](width, backend),
		conv3: nn.NewConv2D[B](width, outChannels, 1, 1, 0, false, backend),
		bn3:   nn.NewBatchNorm2D[B](outChannels, backend),
	}
	if inChannels != outChannels || stride != 1 {
		b.proj = nn.NewConv2D[B](inChannels, outChannels, 1, stride, 0, false, backend)
		b.projBN = nn.NewBatchNorm2D[B](outChannels, backend)
	}
	return b
}

func (b *Bottleneck[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	identity := x
	if b.proj != nil {
		identity = b.projBN.Forward(b.proj.Forward(x))
	}
	out := b.bn1.Forward(b.conv1.Forward(x)).Relu()
	out = b.bn2.Forward(b.conv2.Forward(out)).Relu()
	out = b.bn3.Forward(b.conv3.Forward(out))
	return out.Add(identity).Relu()
}

func (b *Bottleneck[B]) Parameters() []*nn.Parameter[B] {
	params := append(b.conv1.Parameters(), b.bn1.Parameters()...)
	params = append(params, b.conv2.Parameters()...)
	params = append(params, b.bn2.Parameters()...)
	params = append(params, b.conv3.Parameters()...)
	params = append(params, b.bn3.Parameters()...)
	if b.proj != nil {
		params = append(params, b.proj.Parameters()...)
		params = append(params, b.projBN.Parameters()...)
	}
	return params
}

func (b *Bottleneck[B]) SetTraining(training bool) {
	b.bn1.SetTraining(training)
	b.bn2.SetTraining(training)
	b.bn3.SetTraining(training)
	if b.projBN != nil {
		b.projBN.SetTraining(training)
	}
}

// newBlock builds a residual block of the configured kind. Unknown kinds
// fall back to the basic block.
func newBlock[B tensor.Backend](backend B, blockType string, inChannels, outChannels, stride int) nn.Module[B] {
	if blockType == "bottleneck" {
		return NewBottleneck[B](backend, inChannels, outChannels, stride)
	}
	return NewBasicBlock[B](backend, inChannels, outChannels, stride)
}
