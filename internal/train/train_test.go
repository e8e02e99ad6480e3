package train_test

import (
	"errors"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevgrid-ml/bevgrid/internal/autodiff"
	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/data"
	"github.com/bevgrid-ml/bevgrid/internal/experiment"
	"github.com/bevgrid-ml/bevgrid/internal/models"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
	"github.com/bevgrid-ml/bevgrid/internal/train"
)

// smokeConfig shrinks the geometry so a full epoch on the CPU backend
// finishes quickly.
func smokeConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.ImgSize = [2]int{120, 88}
	cfg.MapExtents = [4]float32{-10, 1, 10, 20}
	cfg.NumClass = 2
	cfg.Prior = []float32{0.4, 0.1}
	cfg.VTfmChannels = 8
	cfg.HTfmChannels = 4
	cfg.Topdown.Channels = []int{16, 16}
	cfg.Topdown.Layers = []int{1, 1}
	cfg.BatchSize = 2
	cfg.EpochSize = 2
	cfg.NumEpochs = 1
	cfg.LearningRate = 0.01
	cfg.LogInterval = 0
	return cfg
}

// synthDataset produces deterministic random samples shaped for the
// configured geometry.
type synthDataset struct {
	cfg *config.Config
	n   int
}

func (d *synthDataset) Len() int { return d.n }

func (d *synthDataset) Sample(i int) (*data.Sample, error) {
	rng := rand.New(rand.NewSource(int64(i)))
	width, height := d.cfg.ImgSize[0], d.cfg.ImgSize[1]
	depth, gridWidth := d.cfg.GridSize(d.cfg.MapResolution)

	image := tensor.MustNewRaw(tensor.Shape{3, height, width}, tensor.Float32, tensor.HostDevice)
	img := image.AsFloat32()
	for j := range img {
		img[j] = rng.Float32()
	}

	calib := tensor.MustNewRaw(tensor.Shape{3, 3}, tensor.Float32, tensor.HostDevice)
	cd := calib.AsFloat32()
	cd[0] = d.cfg.FocalLength
	cd[2] = float32(width) / 2
	cd[4] = d.cfg.FocalLength
	cd[5] = float32(height) / 2
	cd[8] = 1

	labels := tensor.MustNewRaw(tensor.Shape{d.cfg.NumClass, depth, gridWidth}, tensor.Float32, tensor.HostDevice)
	lb := labels.AsFloat32()
	for j := range lb {
		if rng.Float32() < 0.1 {
			lb[j] = 1
		}
	}

	mask := tensor.MustNewRaw(tensor.Shape{1, depth, gridWidth}, tensor.Float32, tensor.HostDevice)
	md := mask.AsFloat32()
	for j := range md {
		md[j] = 1
	}

	return &data.Sample{Image: image, Calib: calib, Labels: labels, Mask: mask}, nil
}

type trainerParts struct {
	cfg     *config.Config
	trainer *train.Trainer[*cpu.CPUBackend]
	placed  *models.PlacedModel[*autodiff.AutodiffBackend[*cpu.CPUBackend]]
	run     *experiment.Run
}

func newTrainer(t *testing.T) *trainerParts {
	cfg := smokeConfig(t)
	backend := autodiff.New(cpu.NewSequential())

	placed, err := models.BuildModel(backend, cfg)
	require.NoError(t, err)
	criterion, err := models.BuildCriterion(backend, cfg)
	require.NoError(t, err)

	ds := &synthDataset{cfg: cfg, n: 2}
	trainLoader := data.NewLoader(ds, data.NewRandomSampler(ds.Len(), cfg.EpochSize), cfg.BatchSize, 1)
	valLoader := data.NewLoader(ds, data.NewSequentialSampler(ds.Len()), cfg.BatchSize, 1)

	run, err := experiment.New(cfg, "smoke")
	require.NoError(t, err)

	tr, err := train.New(cfg, backend, placed, criterion, trainLoader, valLoader,
		[]string{"drivable", "vehicle"}, run)
	require.NoError(t, err)
	return &trainerParts{cfg: cfg, trainer: tr, placed: placed, run: run}
}

func TestRunTrainsAndCheckpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("full epoch on the CPU backend")
	}
	parts := newTrainer(t)

	params := parts.placed.Model.Parameters()
	require.NotEmpty(t, params)
	before := make([]float32, len(params))
	for i, p := range params {
		before[i] = p.Tensor().Raw().AsFloat32()[0]
	}

	require.NoError(t, parts.trainer.Run())

	changed := false
	for i, p := range params {
		if p.Tensor().Raw().AsFloat32()[0] != before[i] {
			changed = true
			break
		}
	}
	assert.True(t, changed, "no parameter moved after an optimisation epoch")

	state, err := experiment.LoadCheckpoint(parts.run.CheckpointPath(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Epoch)
}

func TestEvaluateReturnsBoundedIoU(t *testing.T) {
	if testing.Short() {
		t.Skip("forward passes on the CPU backend")
	}
	parts := newTrainer(t)

	iou, err := parts.trainer.Evaluate()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, iou, 0.0)
	assert.LessOrEqual(t, iou, 1.0)
}

// faultyDataset fails every sample past a threshold, standing in for a
// corrupt record partway through an epoch.
type faultyDataset struct {
	inner     *synthDataset
	failAfter int
}

func (d *faultyDataset) Len() int { return d.inner.n }

func (d *faultyDataset) Sample(i int) (*data.Sample, error) {
	if i >= d.failAfter {
		return nil, errors.New("corrupt sample")
	}
	return d.inner.Sample(i)
}

func TestEvaluateReleasesLoaderOnError(t *testing.T) {
	if testing.Short() {
		t.Skip("forward passes on the CPU backend")
	}
	cfg := smokeConfig(t)
	backend := autodiff.New(cpu.NewSequential())

	placed, err := models.BuildModel(backend, cfg)
	require.NoError(t, err)
	criterion, err := models.BuildCriterion(backend, cfg)
	require.NoError(t, err)

	ds := &faultyDataset{inner: &synthDataset{cfg: cfg, n: 32}, failAfter: 2}
	trainLoader := data.NewLoader(ds, data.NewRandomSampler(ds.Len(), cfg.EpochSize), cfg.BatchSize, 4)
	valLoader := data.NewLoader(ds, data.NewSequentialSampler(ds.Len()), cfg.BatchSize, 4)

	run, err := experiment.New(cfg, "faulty")
	require.NoError(t, err)
	tr, err := train.New(cfg, backend, placed, criterion, trainLoader, valLoader,
		[]string{"drivable", "vehicle"}, run)
	require.NoError(t, err)

	baseline := runtime.NumGoroutine()
	_, err = tr.Evaluate()
	require.Error(t, err)

	// The abandoned epoch must not leave loader workers parked on the
	// batch channel.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+1
	}, 2*time.Second, 10*time.Millisecond, "loader goroutines still alive")
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	parts := newTrainer(t)
	assert.Error(t, parts.trainer.Resume())
}
