package models

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// FPNChannels is the width of every pyramid level.
const FPNChannels = 256

// FPNStrides lists the image-to-feature downsampling factor of each level,
// finest first.
var FPNStrides = []int{8, 16, 32, 64, 128}

// FPN is a residual frontend with a feature pyramid head. It maps an image
// [N, 3, H, W] to five feature maps of FPNChannels channels at the strides
// in FPNStrides.
type FPN[B tensor.Backend] struct {
	stem   *nn.Sequential[B]
	layer1 *nn.Sequential[B]
	layer2 *nn.Sequential[B]
	layer3 *nn.Sequential[B]
	layer4 *nn.Sequential[B]

	lateral3 *nn.Conv2D[B]
	lateral4 *nn.Conv2D[B]
	lateral5 *nn.Conv2D[B]
	smooth3  *nn.Conv2D[B]
	smooth4  *nn.Conv2D[B]
	conv6    *nn.Conv2D[B]
	conv7    *nn.Conv2D[B]

	up2     *nn.Upsample[B]
	backend B
}

func NewFPN[B tensor.Backend](backend B) *FPN[B] {
	stage := func(in, out, stride, blocks int) *nn.Sequential[B] {
		s := nn.NewSequential[B](NewBasicBlock[B](backend, in, out, stride))
		for i := 1; i < blocks; i++ {
			s.Add(NewBasicBlock[B](backend, out, out, 1))
		}
		return s
	}
	return &FPN[B]{
		stem: nn.NewSequential[B](
			nn.NewConv2D[B](3, 64, 7, 2, 3, false, backend),
			nn.NewBatchNorm2D[B](64, backend),
			nn.NewReLU[B](),
			nn.NewMaxPool2D[B](2, 2, backend),
		),
		layer1: stage(64, 64, 1, 2),
		layer2: stage(64, 128, 2, 2),
		layer3: stage(128, 256, 2, 2),
		layer4: stage(256, 512, 2, 2),

		lateral3: nn.NewConv2D[B](128, FPNChannels, 1, 1, 0, true, backend),
		lateral4: nn.NewConv2D[B](256, FPNChannels, 1, 1, 0, true, backend),
		lateral5: nn.NewConv2D[B](512, FPNChannels, 1, 1, 0, true, backend),
		smooth3:  nn.NewConv2D[B](FPNChannels, FPNChannels, 3, 1, 1, true, backend),
		smooth4:  nn.NewConv2D[B](FPNChannels, FPNChannels, 3, 1, 1, true, backend),
		conv6:    nn.NewConv2D[B](512, FPNChannels, 3, 2, 1, true, backend),
		conv7:    nn.NewConv2D[B](FPNChannels, FPNChannels, 3, 2, 1, true, backend),

		up2:     nn.NewUpsample[B](2, backend),
		backend: backend,
	}
}

// Forward returns the pyramid levels finest first (strides 8 to 128).
func (f *FPN[B]) Forward(image *tensor.Tensor[float32, B]) []*tensor.Tensor[float32, B] {
	c2 := f.layer1.Forward(f.stem.Forward(image))
	c3 := f.layer2.Forward(c2)
	c4 := f.layer3.Forward(c3)
	c5 := f.layer4.Forward(c4)

	p5 := f.lateral5.Forward(c5)
	p4 := f.smooth4.Forward(f.lateral4.Forward(c4).Add(cropTo(f.up2.Forward(p5), c4)))
	p3 := f.smooth3.Forward(f.lateral3.Forward(c3).Add(cropTo(f.up2.Forward(p4), c3)))
	p6 := f.conv6.Forward(c5)
	p7 := f.conv7.Forward(p6.Relu())

	return []*tensor.Tensor[float32, B]{p3, p4, p5, p6, p7}
}

func (f *FPN[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, m := range []nn.Module[B]{
		f.stem, f.layer1, f.layer2, f.layer3, f.layer4,
		f.lateral3, f.lateral4, f.lateral5, f.smooth3, f.smooth4,
		f.conv6, f.conv7,
	} {
		params = append(params, m.Parameters()...)
	}
	return params
}

func (f *FPN[B]) SetTraining(training bool) {
	for _, m := range []nn.Module[B]{f.stem, f.layer1, f.layer2, f.layer3, f.layer4} {
		nn.SetTraining(m, training)
	}
}

// cropTo trims trailing rows and columns so that x matches the spatial size
// of like. Doubling an odd-sized level overshoots by one.
func cropTo[B tensor.Backend](x, like *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	xs, ls := x.Shape(), like.Shape()
	if xs[2] != ls[2] {
		x = x.IndexSelect(2, iotaIndex(ls[2]))
	}
	if xs[3] != ls[3] {
		x = x.IndexSelect(3, iotaIndex(ls[3]))
	}
	return x
}

func iotaIndex(n int) []int {
	index := make([]int, n)
	for i := range index {
		index[i] = i
	}
	return index
}

// FeatureSize maps an image dimension (height or width) through the
// frontend to the feature size at each pyramid level, finest first. The
// arithmetic mirrors the stem and stage convolutions exactly.
func FeatureSize(imageDim int) []int {
	halve := func(n int) int { return (n-1)/2 + 1 }
	n := halve(imageDim) // stem conv, stride 2
	n = (n-2)/2 + 1      // stem pool, kernel 2 stride 2
	sizes := make([]int, 0, len(FPNStrides))
	for range FPNStrides {
		n = halve(n)
		sizes = append(sizes, n)
	}
	return sizes
}
