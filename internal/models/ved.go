package models

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// VariationalEncoderDecoder is the ved baseline. A strided convolutional
// encoder compresses the image into a variational bottleneck; the decoder
// upsamples a latent sample straight into the BEV occupancy grid, with no
// explicit camera geometry. Forward fills Mu and LogVar so the criterion
// can add the KL divergence term.
type VariationalEncoderDecoder[B tensor.Backend] struct {
	encoder *nn.Sequential[B]
	mu      *nn.Linear[B]
	logvar  *nn.Linear[B]

	project *nn.Linear[B]
	decoder *nn.Sequential[B]

	encDepth, encWidth int // encoder output spatial size
	decDepth, decWidth int // decoder seed grid size
	gridDepth          int
	gridWidth          int
	training           bool
	backend            B
}

const (
	vedEncoderChannels = 256
	vedDecoderSeed     = 256
	vedEncoderStages   = 6
	vedDecoderStages   = 4
)

// vedStrideOut maps a spatial size through n stride-2 convolutions with
// kernel 4 and padding 1.
func vedStrideOut(size, n int) int {
	for i := 0; i < n; i++ {
		size = (size-2)/2 + 1
	}
	return size
}

func NewVariationalEncoderDecoder[B tensor.Backend](backend B, imageWidth, imageHeight, bottleneckDim, numClass, gridDepth, gridWidth int) *VariationalEncoderDecoder[B] {
	encoder := nn.NewSequential[B]()
	channels := []int{3, 32, 64, 128, 256, 256, vedEncoderChannels}
	for i := 0; i < vedEncoderStages; i++ {
		encoder.Add(nn.NewConv2D[B](channels[i], channels[i+1], 4, 2, 1, false, backend))
		encoder.Add(nn.NewBatchNorm2D[B](channels[i+1], backend))
		encoder.Add(nn.NewReLU[B]())
	}
	encDepth := vedStrideOut(imageHeight, vedEncoderStages)
	encWidth := vedStrideOut(imageWidth, vedEncoderStages)
	flat := vedEncoderChannels * encDepth * encWidth

	// The decoder seeds a coarse grid and doubles it at every stage, so the
	// seed is the ceiling of the target size over 2^stages and the output
	// is cropped back down.
	up := 1 << vedDecoderStages
	decDepth := (gridDepth + up - 1) / up
	decWidth := (gridWidth + up - 1) / up

	decoder := nn.NewSequential[B]()
	decChannels := []int{vedDecoderSeed, 128, 64, 32, 32}
	for i := 0; i < vedDecoderStages; i++ {
		decoder.Add(nn.NewUpsample[B](2, backend))
		decoder.Add(nn.NewConv2D[B](decChannels[i], decChannels[i+1], 3, 1, 1, false, backend))
		decoder.Add(nn.NewBatchNorm2D[B](decChannels[i+1], backend))
		decoder.Add(nn.NewReLU[B]())
	}
	decoder.Add(nn.NewConv2D[B](decChannels[vedDecoderStages], numClass, 3, 1, 1, true, backend))

	return &VariationalEncoderDecoder[B]{
		encoder:   encoder,
		mu:        nn.NewLinear[B](flat, bottleneckDim, backend),
		logvar:    nn.NewLinear[B](flat, bottleneckDim, backend),
		project:   nn.NewLinear[B](bottleneckDim, vedDecoderSeed*decDepth*decWidth, backend),
		decoder:   decoder,
		encDepth:  encDepth,
		encWidth:  encWidth,
		decDepth:  decDepth,
		decWidth:  decWidth,
		gridDepth: gridDepth,
		gridWidth: gridWidth,
		training:  true,
		backend:   backend,
	}
}

func (m *VariationalEncoderDecoder[B]) Forward(image, calib *tensor.Tensor[float32, B]) *Prediction[B] {
	_ = calib // ved is not camera aware; the bottleneck learns the geometry
	n := image.Shape()[0]

	encoded := m.encoder.Forward(image).Reshape(n, vedEncoderChannels*m.encDepth*m.encWidth)
	mu := m.mu.Forward(encoded)
	logvar := m.logvar.Forward(encoded)

	// Reparameterised sample during training, the mean at evaluation.
	z := mu
	if m.training {
		eps := tensor.Randn(mu.Shape(), m.backend)
		z = mu.Add(logvar.MulScalar(0.5).Exp().Mul(eps))
	}

	seed := m.project.Forward(z).Relu().Reshape(n, vedDecoderSeed, m.decDepth, m.decWidth)
	logits := m.decoder.Forward(seed)
	if logits.Shape()[2] != m.gridDepth {
		logits = logits.IndexSelect(2, iotaIndex(m.gridDepth))
	}
	if logits.Shape()[3] != m.gridWidth {
		logits = logits.IndexSelect(3, iotaIndex(m.gridWidth))
	}
	return &Prediction[B]{Logits: logits, Mu: mu, LogVar: logvar}
}

func (m *VariationalEncoderDecoder[B]) Parameters() []*nn.Parameter[B] {
	params := append(m.encoder.Parameters(), m.mu.Parameters()...)
	params = append(params, m.logvar.Parameters()...)
	params = append(params, m.project.Parameters()...)
	return append(params, m.decoder.Parameters()...)
}

func (m *VariationalEncoderDecoder[B]) SetTraining(training bool) {
	m.training = training
	m.encoder.SetTraining(training)
	m.decoder.SetTraining(training)
}
