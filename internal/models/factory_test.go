package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/models"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// smallConfig shrinks the geometry so building architectures stays cheap.
func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.ImgSize = [2]int{120, 88}
	cfg.MapExtents = [4]float32{-10, 1, 10, 20}
	cfg.NumClass = 2
	cfg.Prior = []float32{0.4, 0.1}
	cfg.VTfmChannels = 8
	cfg.HTfmChannels = 4
	cfg.Topdown.Channels = []int{16, 16}
	cfg.Topdown.Layers = []int{1, 1}
	cfg.VED.BottleneckDim = 32
	cfg.VPN.OutputSize = [2]int{8, 8}
	cfg.VPN.FCDim = 32
	return cfg
}

func TestBuildModelUnknownName(t *testing.T) {
	cfg := smallConfig()
	cfg.Model = "lss"
	_, err := models.BuildModel(cpu.New(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lss")
}

func TestTransformResolution(t *testing.T) {
	cfg := config.Default()
	assert.InDelta(t, 0.5, models.TransformResolution(cfg), 1e-6)

	cfg.Topdown.Strides = []int{1, 1}
	assert.InDelta(t, 0.25, models.TransformResolution(cfg), 1e-6)

	cfg.Topdown.Strides = []int{2, 2, 2}
	assert.InDelta(t, 2.0, models.TransformResolution(cfg), 1e-6)
}

func TestBuildModelPlacementHost(t *testing.T) {
	cfg := smallConfig()
	placed, err := models.BuildModel(cpu.New(), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.PlacementHost, placed.Placement.Kind)
	for _, p := range placed.Model.Parameters() {
		assert.Equal(t, tensor.HostDevice, p.Tensor().Device())
	}
}

func TestBuildModelPlacementSingle(t *testing.T) {
	cfg := smallConfig()
	cfg.GPUs = []int{1}
	placed, err := models.BuildModel(cpu.New(), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.PlacementSingle, placed.Placement.Kind)
	for _, p := range placed.Model.Parameters() {
		assert.Equal(t, tensor.GPUDevice(1), p.Tensor().Device())
	}
}

func TestBuildModelPlacementReplicated(t *testing.T) {
	cfg := smallConfig()
	cfg.GPUs = []int{0, 1}
	placed, err := models.BuildModel(cpu.New(), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.PlacementReplicated, placed.Placement.Kind)
	dp, ok := placed.Model.(*models.DataParallel[*cpu.CPUBackend])
	require.True(t, ok, "expected a DataParallel wrapper, got %T", placed.Model)
	assert.Len(t, dp.Devices(), 2)

	// Replicas share parameters on the first device.
	for _, p := range dp.Parameters() {
		assert.Equal(t, tensor.GPUDevice(0), p.Tensor().Device())
	}
}

func TestBuildCriterionPrecedence(t *testing.T) {
	backend := cpu.New()

	cfg := smallConfig()
	cfg.Model = "ved"
	cfg.LossFn = "focal" // ved wins over the loss function name
	c, err := models.BuildCriterion(backend, cfg)
	require.NoError(t, err)
	assert.IsType(t, &models.VaeOccupancyCriterion[*cpu.CPUBackend]{}, c)

	cfg = smallConfig()
	cfg.LossFn = "focal"
	c, err = models.BuildCriterion(backend, cfg)
	require.NoError(t, err)
	assert.IsType(t, &models.FocalLossCriterion[*cpu.CPUBackend]{}, c)

	cfg = smallConfig()
	cfg.LossFn = "prior"
	c, err = models.BuildCriterion(backend, cfg)
	require.NoError(t, err)
	assert.IsType(t, &models.PriorOffsetCriterion[*cpu.CPUBackend]{}, c)

	cfg = smallConfig()
	cfg.LossFn = "bce"
	c, err = models.BuildCriterion(backend, cfg)
	require.NoError(t, err)
	assert.IsType(t, &models.OccupancyCriterion[*cpu.CPUBackend]{}, c)
}

func TestFocalLossValue(t *testing.T) {
	backend := cpu.New()
	c := models.NewFocalLossCriterion[*cpu.CPUBackend](backend, 0.25, 2)

	// Zero logits give pt = 0.5 for both label values, so the loss is
	// (0.25 + 0.75) * 0.5^2 * ln(2) / 2 regardless of class weighting.
	logits := tensor.Zeros[float32](tensor.Shape{1, 2, 1, 1}, backend)
	labels := tensor.Zeros[float32](tensor.Shape{1, 2, 1, 1}, backend)
	labels.Data()[0] = 1
	mask := tensor.Ones(tensor.Shape{1, 1, 1, 1}, backend)

	loss := c.Loss(&models.Prediction[*cpu.CPUBackend]{Logits: logits}, labels, mask)
	assert.InDelta(t, 0.08664, loss.Data()[0], 1e-3)
}

func TestBuildCriterionDevicePlacement(t *testing.T) {
	cfg := smallConfig()
	cfg.GPUs = []int{2, 3}
	c, err := models.BuildCriterion(cpu.New(), cfg)
	require.NoError(t, err)

	// The criterion sits on the first GPU only, never replicated.
	assert.Equal(t, tensor.GPUDevice(2), c.Device())
}

func TestBuildCriterionUnknownWeightMode(t *testing.T) {
	cfg := smallConfig()
	cfg.WeightMode = "log_inverse"
	_, err := models.BuildCriterion(cpu.New(), cfg)
	assert.Error(t, err)
}

func TestClassWeights(t *testing.T) {
	prior := []float32{0.25, 1}

	w, err := models.ClassWeights(prior, "sqrt_inverse")
	require.NoError(t, err)
	assert.InDelta(t, 2, w[0], 1e-5)
	assert.InDelta(t, 1, w[1], 1e-5)

	w, err = models.ClassWeights(prior, "inverse")
	require.NoError(t, err)
	assert.InDelta(t, 4, w[0], 1e-5)

	w, err = models.ClassWeights(prior, "equal")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, w)

	_, err = models.ClassWeights(prior, "softmax")
	assert.Error(t, err)
}
