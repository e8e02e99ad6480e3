package nn

import (
	"fmt"
	"sync"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// BatchNorm2D normalises each channel of a [N, C, H, W] tensor.
//
// In training mode statistics come from the current batch and running
// estimates are updated; in evaluation mode the running estimates are used.
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32
	training    bool

	gamma *Parameter[B] // [C]
	beta  *Parameter[B] // [C]

	// Running statistics are updated concurrently when the model runs
	// data-parallel replicas, so writes are serialised.
	statMu      sync.Mutex
	runningMean []float32
	runningVar  []float32

	backend B
}

// NewBatchNorm2D creates a batch norm layer with unit scale and zero shift.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("nn: batchnorm features must be positive, got %d", numFeatures))
	}
	bn := &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         1e-5,
		momentum:    0.1,
		training:    true,
		gamma:       NewParameter("gamma", Ones[B](tensor.Shape{numFeatures}, backend)),
		beta:        NewParameter("beta", Zeros[B](tensor.Shape{numFeatures}, backend)),
		runningMean: make([]float32, numFeatures),
		runningVar:  make([]float32, numFeatures),
		backend:     backend,
	}
	for i := range bn.runningVar {
		bn.runningVar[i] = 1
	}
	return bn
}

// SetTraining switches between batch and running statistics.
func (bn *BatchNorm2D[B]) SetTraining(training bool) { bn.training = training }

// Forward normalises input [N, C, H, W] per channel.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if shape.Rank() != 4 || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("nn: batchnorm expects [N, %d, H, W], got %v", bn.numFeatures, shape))
	}

	var mean, variance *tensor.Tensor[float32, B]
	if bn.training {
		mean = input.MeanDim(0, true).MeanDim(2, true).MeanDim(3, true) // [1, C, 1, 1]
		centered := input.Sub(mean)
		variance = centered.Mul(centered).MeanDim(0, true).MeanDim(2, true).MeanDim(3, true)
		bn.updateRunning(mean, variance)
	} else {
		mean = bn.statTensor(bn.runningMean)
		variance = bn.statTensor(bn.runningVar)
	}

	xhat := input.Sub(mean).Div(variance.AddScalar(bn.eps).Sqrt())
	out := xhat.Mul(bn.gamma.Tensor().Reshape(1, bn.numFeatures, 1, 1))
	return out.Add(bn.beta.Tensor().Reshape(1, bn.numFeatures, 1, 1))
}

func (bn *BatchNorm2D[B]) statTensor(stat []float32) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32](tensor.Shape{1, bn.numFeatures, 1, 1}, bn.backend)
	copy(t.Data(), stat)
	return t
}

func (bn *BatchNorm2D[B]) updateRunning(mean, variance *tensor.Tensor[float32, B]) {
	bn.statMu.Lock()
	defer bn.statMu.Unlock()
	m, v := mean.Data(), variance.Data()
	for i := 0; i < bn.numFeatures; i++ {
		bn.runningMean[i] = (1-bn.momentum)*bn.runningMean[i] + bn.momentum*m[i]
		bn.runningVar[i] = (1-bn.momentum)*bn.runningVar[i] + bn.momentum*v[i]
	}
}

// Parameters returns [gamma, beta].
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.gamma, bn.beta}
}
