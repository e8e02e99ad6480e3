package models

import (
	"sync"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// DataParallel runs a model's forward pass over batch shards on several
// devices concurrently and concatenates the results. The replicas share
// one set of parameters rather than holding independent copies, so an
// optimiser step through the wrapper updates every replica at once.
type DataParallel[B tensor.Backend] struct {
	inner   Model[B]
	devices []tensor.Device
}

// NewDataParallel wraps inner for the given devices. At least two devices
// are expected; parameters are placed on the first.
func NewDataParallel[B tensor.Backend](inner Model[B], devices []tensor.Device) *DataParallel[B] {
	moveModel(inner, devices[0])
	return &DataParallel[B]{inner: inner, devices: devices}
}

// Inner returns the wrapped model.
func (dp *DataParallel[B]) Inner() Model[B] { return dp.inner }

// Devices returns the devices the batch is sharded across.
func (dp *DataParallel[B]) Devices() []tensor.Device { return dp.devices }

// Forward shards the batch along dim 0, one shard per device. Batches
// smaller than the device count use fewer shards.
func (dp *DataParallel[B]) Forward(image, calib *tensor.Tensor[float32, B]) *Prediction[B] {
	shards := len(dp.devices)
	if n := image.Shape()[0]; n < shards {
		shards = n
	}
	if shards <= 1 {
		return dp.inner.Forward(image, calib)
	}

	images := tensor.Chunk(image, shards, 0)
	calibs := tensor.Chunk(calib, shards, 0)
	preds := make([]*Prediction[B], shards)

	var wg sync.WaitGroup
	for i := 0; i < shards; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			images[i].Raw().ToDevice(dp.devices[i])
			calibs[i].Raw().ToDevice(dp.devices[i])
			preds[i] = dp.inner.Forward(images[i], calibs[i])
		}(i)
	}
	wg.Wait()

	return gatherPredictions(preds)
}

// gatherPredictions concatenates shard outputs along the batch axis.
func gatherPredictions[B tensor.Backend](preds []*Prediction[B]) *Prediction[B] {
	logits := make([]*tensor.Tensor[float32, B], len(preds))
	for i, p := range preds {
		logits[i] = p.Logits
	}
	out := &Prediction[B]{Logits: tensor.Cat(logits, 0)}

	if preds[0].Mu != nil {
		mus := make([]*tensor.Tensor[float32, B], len(preds))
		logvars := make([]*tensor.Tensor[float32, B], len(preds))
		for i, p := range preds {
			mus[i] = p.Mu
			logvars[i] = p.LogVar
		}
		out.Mu = tensor.Cat(mus, 0)
		out.LogVar = tensor.Cat(logvars, 0)
	}
	return out
}

func (dp *DataParallel[B]) Parameters() []*nn.Parameter[B] { return dp.inner.Parameters() }

func (dp *DataParallel[B]) SetTraining(training bool) { dp.inner.SetTraining(training) }
