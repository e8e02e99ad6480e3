package models

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// ViewParsingNetwork is the vpn baseline. A fully-connected view
// transformer maps the flattened image feature plane of each channel to a
// flattened BEV plane, learning the view change without camera geometry.
type ViewParsingNetwork[B tensor.Backend] struct {
	encoder *nn.Sequential[B]
	view1   *nn.Linear[B]
	view2   *nn.Linear[B]
	decoder *nn.Sequential[B]

	encDepth, encWidth int
	outDepth, outWidth int
	gridDepth          int
	gridWidth          int
}

const (
	vpnEncoderChannels = 256
	vpnEncoderStages   = 4
)

func NewViewParsingNetwork[B tensor.Backend](backend B, imageWidth, imageHeight, fcDim, numClass, outDepth, outWidth, gridDepth, gridWidth int) *ViewParsingNetwork[B] {
	encoder := nn.NewSequential[B]()
	channels := []int{3, 64, 128, 256, vpnEncoderChannels}
	for i := 0; i < vpnEncoderStages; i++ {
		encoder.Add(nn.NewConv2D[B](channels[i], channels[i+1], 4, 2, 1, false, backend))
		encoder.Add(nn.NewBatchNorm2D[B](channels[i+1], backend))
		encoder.Add(nn.NewReLU[B]())
	}
	encDepth := vedStrideOut(imageHeight, vpnEncoderStages)
	encWidth := vedStrideOut(imageWidth, vpnEncoderStages)

	// Doublings needed to cover the output grid from the view plane.
	doublings := 0
	for outDepth<<doublings < gridDepth || outWidth<<doublings < gridWidth {
		doublings++
	}
	decoder := nn.NewSequential[B]()
	in := vpnEncoderChannels
	for i := 0; i < doublings; i++ {
		out := in / 2
		if out < 64 {
			out = 64
		}
		decoder.Add(nn.NewUpsample[B](2, backend))
		decoder.Add(nn.NewConv2D[B](in, out, 3, 1, 1, false, backend))
		decoder.Add(nn.NewBatchNorm2D[B](out, backend))
		decoder.Add(nn.NewReLU[B]())
		in = out
	}
	decoder.Add(nn.NewConv2D[B](in, numClass, 1, 1, 0, true, backend))

	return &ViewParsingNetwork[B]{
		encoder:   encoder,
		view1:     nn.NewLinear[B](encDepth*encWidth, fcDim, backend),
		view2:     nn.NewLinear[B](fcDim, outDepth*outWidth, backend),
		decoder:   decoder,
		encDepth:  encDepth,
		encWidth:  encWidth,
		outDepth:  outDepth,
		outWidth:  outWidth,
		gridDepth: gridDepth,
		gridWidth: gridWidth,
	}
}

func (m *ViewParsingNetwork[B]) Forward(image, calib *tensor.Tensor[float32, B]) *Prediction[B] {
	_ = calib // vpn is not camera aware; the view transformer is learned
	n := image.Shape()[0]

	features := m.encoder.Forward(image)

	// The view transformer is shared across channels: every feature plane
	// is flattened and remapped to a BEV plane.
	planes := features.Reshape(n*vpnEncoderChannels, m.encDepth*m.encWidth)
	bev := m.view2.Forward(m.view1.Forward(planes).Relu()).
		Reshape(n, vpnEncoderChannels, m.outDepth, m.outWidth)

	logits := m.decoder.Forward(bev)
	if logits.Shape()[2] != m.gridDepth {
		logits = logits.IndexSelect(2, iotaIndex(m.gridDepth))
	}
	if logits.Shape()[3] != m.gridWidth {
		logits = logits.IndexSelect(3, iotaIndex(m.gridWidth))
	}
	return &Prediction[B]{Logits: logits}
}

func (m *ViewParsingNetwork[B]) Parameters() []*nn.Parameter[B] {
	params := append(m.encoder.Parameters(), m.view1.Parameters()...)
	params = append(params, m.view2.Parameters()...)
	return append(params, m.decoder.Parameters()...)
}

func (m *ViewParsingNetwork[B]) SetTraining(training bool) {
	m.encoder.SetTraining(training)
	m.decoder.SetTraining(training)
}
