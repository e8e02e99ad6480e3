// Package train runs the epoch loop: optimisation over the training split,
// IoU evaluation over the validation split, and checkpointing.
package train

import (
	"fmt"
	"log/slog"

	"github.com/bevgrid-ml/bevgrid/internal/autodiff"
	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/data"
	"github.com/bevgrid-ml/bevgrid/internal/experiment"
	"github.com/bevgrid-ml/bevgrid/internal/metrics"
	"github.com/bevgrid-ml/bevgrid/internal/models"
	"github.com/bevgrid-ml/bevgrid/internal/optim"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Trainer owns one training run. The model computes through an autodiff
// decorator around the inner backend, so the backward pass is a tape
// replay.
type Trainer[B tensor.Backend] struct {
	cfg     *config.Config
	backend *autodiff.AutodiffBackend[B]

	placed    *models.PlacedModel[*autodiff.AutodiffBackend[B]]
	criterion models.Criterion[*autodiff.AutodiffBackend[B]]
	optimizer optim.Optimizer
	scheduler *optim.MultiStepLR

	trainLoader *data.Loader
	valLoader   *data.Loader
	confusion   *metrics.BinaryConfusionMatrix

	run   *experiment.Run
	state experiment.State
}

// New assembles a trainer from already-built components.
func New[B tensor.Backend](
	cfg *config.Config,
	backend *autodiff.AutodiffBackend[B],
	placed *models.PlacedModel[*autodiff.AutodiffBackend[B]],
	criterion models.Criterion[*autodiff.AutodiffBackend[B]],
	trainLoader, valLoader *data.Loader,
	classNames []string,
	run *experiment.Run,
) (*Trainer[B], error) {
	optimizer, scheduler, err := optim.Build(cfg, placed.Model.Parameters())
	if err != nil {
		return nil, err
	}
	return &Trainer[B]{
		cfg:         cfg,
		backend:     backend,
		placed:      placed,
		criterion:   criterion,
		optimizer:   optimizer,
		scheduler:   scheduler,
		trainLoader: trainLoader,
		valLoader:   valLoader,
		confusion:   metrics.NewBinaryConfusionMatrix(classNames),
		run:         run,
	}, nil
}

// Resume loads the latest checkpoint of the run and continues from its
// epoch.
func (t *Trainer[B]) Resume() error {
	state, err := experiment.LoadCheckpoint(t.run.CheckpointPath(), t.placed.Model.Parameters())
	if err != nil {
		return err
	}
	t.state = state
	slog.Info("resumed from checkpoint", "epoch", state.Epoch, "best_iou", state.BestScore)
	return nil
}

// Run trains until the configured number of epochs, evaluating and
// checkpointing after every epoch.
func (t *Trainer[B]) Run() error {
	for epoch := t.state.Epoch; epoch < t.cfg.NumEpochs; epoch++ {
		t.scheduler.Epoch(epoch)
		slog.Info("epoch start", "epoch", epoch, "lr", t.optimizer.LR())

		if err := t.trainEpoch(epoch); err != nil {
			return err
		}
		iou, err := t.Evaluate()
		if err != nil {
			return err
		}
		slog.Info("epoch done", "epoch", epoch, "mean_iou", iou)

		t.state.Epoch = epoch + 1
		if iou > t.state.BestScore {
			t.state.BestScore = iou
			if err := experiment.SaveCheckpoint(t.run.BestCheckpointPath(), t.placed.Model.Parameters(), t.state); err != nil {
				return err
			}
		}
		if err := experiment.SaveCheckpoint(t.run.CheckpointPath(), t.placed.Model.Parameters(), t.state); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer[B]) trainEpoch(epoch int) error {
	t.placed.Model.SetTraining(true)

	batches, stop := t.trainLoader.Batches()
	defer stop()

	step := 0
	for batch := range batches {
		if batch.Err != nil {
			return batch.Err
		}
		loss, err := t.trainStep(&batch)
		if err != nil {
			return err
		}
		if t.cfg.LogInterval > 0 && step%t.cfg.LogInterval == 0 {
			slog.Info("train", "epoch", epoch, "step", step, "loss", loss)
		}
		step++
	}
	return nil
}

func (t *Trainer[B]) trainStep(batch *data.Batch) (float32, error) {
	images, calibs, labels, masks := t.bindBatch(batch)

	tape := t.backend.Tape()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	pred := t.placed.Model.Forward(images, calibs)
	loss := t.criterion.Loss(pred, labels, masks)
	value := loss.Item()
	if value != value {
		return 0, fmt.Errorf("train: loss is NaN")
	}

	grads := t.backend.Gradients(loss.Raw())
	t.optimizer.Step(grads)
	return value, nil
}

// Evaluate runs the validation split and returns the mean IoU.
func (t *Trainer[B]) Evaluate() (float64, error) {
	t.placed.Model.SetTraining(false)
	t.confusion.Reset()
	threshold := metrics.Logit(t.cfg.ScoreThresh)

	batches, stop := t.valLoader.Batches()
	defer stop()

	for batch := range batches {
		if batch.Err != nil {
			return 0, batch.Err
		}
		images, calibs, labels, masks := t.bindBatch(&batch)
		pred := t.placed.Model.Forward(images, calibs)
		t.confusion.Update(pred.Logits.Raw(), labels.Raw(), masks.Raw(), threshold)
	}
	return t.confusion.MeanIoU(), nil
}

// bindBatch wraps the loader's host tensors for the compute backend and
// moves them onto the model's device. Replicated models move their own
// shards instead.
func (t *Trainer[B]) bindBatch(batch *data.Batch) (images, calibs, labels, masks *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]]) {
	if t.placed.Placement.Kind == models.PlacementSingle {
		device := t.placed.Placement.Devices[0]
		batch.Images.ToDevice(device)
		batch.Calibs.ToDevice(device)
	}
	if d := t.criterion.Device(); d.Kind != tensor.Host {
		batch.Labels.ToDevice(d)
		batch.Masks.ToDevice(d)
	}

	wrap := func(raw *tensor.RawTensor) *tensor.Tensor[float32, *autodiff.AutodiffBackend[B]] {
		return tensor.New[float32](raw, t.backend)
	}
	return wrap(batch.Images), wrap(batch.Calibs), wrap(batch.Labels), wrap(batch.Masks)
}
