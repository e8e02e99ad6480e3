package models_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/models"
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func TestFeatureSize(t *testing.T) {
	assert.Equal(t, []int{75, 38, 19, 10, 5}, models.FeatureSize(600))
	assert.Equal(t, []int{100, 50, 25, 13, 7}, models.FeatureSize(800))
}

func TestFPNShapes(t *testing.T) {
	backend := cpu.New()
	fpn := models.NewFPN[*cpu.CPUBackend](backend)

	image := tensor.Randn(tensor.Shape{1, 3, 88, 120}, backend)
	features := fpn.Forward(image)
	require.Len(t, features, len(models.FPNStrides))

	widths := models.FeatureSize(120)
	heights := models.FeatureSize(88)
	for i, f := range features {
		want := tensor.Shape{1, models.FPNChannels, heights[i], widths[i]}
		assert.True(t, f.Shape().Equal(want),
			"level %d: got %v, want %v", i, f.Shape(), want)
	}
}

func TestTransformerGeometryGrid(t *testing.T) {
	geom := models.TransformerGeometry{
		Focal:       630,
		ImageWidth:  800,
		ImageHeight: 600,
		Extents:     [4]float32{-25, 1, 25, 50},
		Resolution:  0.5,
	}
	assert.Equal(t, 100, geom.GridWidth())
	assert.Equal(t, 98, geom.GridDepth())
}

func TestDenseTransformerVerticalBand(t *testing.T) {
	backend := cpu.New()
	geom := models.TransformerGeometry{
		Focal:       630,
		ImageWidth:  120,
		ImageHeight: 88,
		Extents:     [4]float32{-10, 1, 10, 20},
		YMin:        -0.1,
		YMax:        0.1,
		Resolution:  0.5,
	}

	banded := models.NewDenseTransformer[*cpu.CPUBackend](backend, geom, 8, 4, 64, 2, 6, 8, 18)

	// Degenerate vertical bounds keep every feature row.
	full := geom
	full.YMin, full.YMax = 0, 0
	whole := models.NewDenseTransformer[*cpu.CPUBackend](backend, full, 8, 4, 64, 2, 6, 8, 18)

	count := func(tf *models.DenseTransformer[*cpu.CPUBackend]) int {
		n := 0
		for _, p := range tf.Parameters() {
			n += p.Tensor().Shape().NumElements()
		}
		return n
	}
	require.Less(t, count(banded), count(whole),
		"a narrow vertical band should shrink the column collapse")

	features := tensor.Randn(tensor.Shape{1, 8, 2, 6}, backend)
	out := banded.Forward(features)
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 4, 10, 40}),
		"band output %v", out.Shape())
}

func TestPyramidOccupancyNetworkForward(t *testing.T) {
	cfg := smallConfig()
	backend := cpu.New()
	placed, err := models.BuildModel(backend, cfg)
	require.NoError(t, err)

	image := tensor.Randn(tensor.Shape{1, 3, cfg.ImgSize[1], cfg.ImgSize[0]}, backend)
	calib := tensor.Randn(tensor.Shape{1, 3, 3}, backend)

	pred := placed.Model.Forward(image, calib)
	depth, width := cfg.GridSize(cfg.MapResolution)
	want := tensor.Shape{1, cfg.NumClass, depth, width}
	require.True(t, pred.Logits.Shape().Equal(want),
		"logits %v, want %v", pred.Logits.Shape(), want)
	assert.Nil(t, pred.Mu)
}

func TestPyramidForwardShiftsToPrincipalPoint(t *testing.T) {
	cfg := smallConfig()
	backend := cpu.New()
	placed, err := models.BuildModel(backend, cfg)
	require.NoError(t, err)
	placed.Model.SetTraining(false)

	image := tensor.Randn(tensor.Shape{1, 3, cfg.ImgSize[1], cfg.ImgSize[0]}, backend)
	calibAt := func(cx float32) *tensor.Tensor[float32, *cpu.CPUBackend] {
		c := tensor.Zeros[float32](tensor.Shape{1, 3, 3}, backend)
		c.Data()[2] = cx
		return c
	}

	centred := placed.Model.Forward(image, calibAt(60)).Logits.Data()
	again := placed.Model.Forward(image, calibAt(60)).Logits.Data()
	assert.Equal(t, centred, again, "eval forward should be deterministic")

	shifted := placed.Model.Forward(image, calibAt(70)).Logits.Data()
	assert.NotEqual(t, centred, shifted,
		"an off-centre principal point should move the image columns")
}

func TestVariationalEncoderDecoderForward(t *testing.T) {
	cfg := smallConfig()
	cfg.Model = "ved"
	backend := cpu.New()
	placed, err := models.BuildModel(backend, cfg)
	require.NoError(t, err)
	placed.Model.SetTraining(true)

	image := tensor.Randn(tensor.Shape{1, 3, cfg.ImgSize[1], cfg.ImgSize[0]}, backend)
	calib := tensor.Randn(tensor.Shape{1, 3, 3}, backend)

	pred := placed.Model.Forward(image, calib)
	depth, width := cfg.GridSize(cfg.MapResolution)
	require.True(t, pred.Logits.Shape().Equal(tensor.Shape{1, cfg.NumClass, depth, width}),
		"logits %v", pred.Logits.Shape())

	// The variational bottleneck reports its moments for the KLD term.
	require.NotNil(t, pred.Mu)
	require.NotNil(t, pred.LogVar)
	assert.Equal(t, pred.Mu.Shape(), pred.LogVar.Shape())
}

func TestClassifierPriorInitialise(t *testing.T) {
	backend := cpu.New()
	c := models.NewLinearClassifier[*cpu.CPUBackend](backend, 4, 2)
	c.Initialise([]float32{0.5, 0.1})

	params := c.Parameters()
	bias := params[len(params)-1].Tensor().Data()
	assert.InDelta(t, 0, bias[0], 1e-5)        // logit(0.5)
	assert.InDelta(t, -2.19722, bias[1], 1e-4) // logit(0.1)
}

func TestBayesianClassifierSamplesAtEval(t *testing.T) {
	backend := cpu.New()
	c := models.NewBayesianClassifier[*cpu.CPUBackend](backend, 4, 2)
	nn.SetTraining[*cpu.CPUBackend](c, false)

	input := tensor.Ones(tensor.Shape{1, 4, 8, 8}, backend)
	a := c.Forward(input).Data()
	b := c.Forward(input).Data()

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	assert.False(t, same, "dropout should randomise eval forward passes")
}

// shardModel records the batch sizes it sees so sharding is observable.
// Shards call Forward concurrently, so the record is mutex guarded.
type shardModel struct {
	backend *cpu.CPUBackend

	mu   sync.Mutex
	seen []int
}

func (m *shardModel) Forward(image, calib *tensor.Tensor[float32, *cpu.CPUBackend]) *models.Prediction[*cpu.CPUBackend] {
	n := image.Shape()[0]
	m.mu.Lock()
	m.seen = append(m.seen, n)
	m.mu.Unlock()
	return &models.Prediction[*cpu.CPUBackend]{
		Logits: tensor.Ones(tensor.Shape{n, 1, 2, 2}, m.backend),
	}
}

func (m *shardModel) Parameters() []*nn.Parameter[*cpu.CPUBackend] { return nil }

func (m *shardModel) SetTraining(bool) {}

func TestDataParallelShardsAndGathers(t *testing.T) {
	backend := cpu.New()
	inner := &shardModel{backend: backend}
	dp := models.NewDataParallel[*cpu.CPUBackend](inner,
		[]tensor.Device{tensor.GPUDevice(0), tensor.GPUDevice(1)})

	image := tensor.Randn(tensor.Shape{4, 3, 4, 4}, backend)
	calib := tensor.Randn(tensor.Shape{4, 3, 3}, backend)

	pred := dp.Forward(image, calib)
	require.True(t, pred.Logits.Shape().Equal(tensor.Shape{4, 1, 2, 2}),
		"gathered logits %v", pred.Logits.Shape())
	assert.ElementsMatch(t, []int{2, 2}, inner.seen)
}

func TestDataParallelSmallBatchFewerShards(t *testing.T) {
	backend := cpu.New()
	inner := &shardModel{backend: backend}
	dp := models.NewDataParallel[*cpu.CPUBackend](inner,
		[]tensor.Device{tensor.GPUDevice(0), tensor.GPUDevice(1), tensor.GPUDevice(2)})

	image := tensor.Randn(tensor.Shape{1, 3, 4, 4}, backend)
	calib := tensor.Randn(tensor.Shape{1, 3, 3}, backend)

	pred := dp.Forward(image, calib)
	assert.True(t, pred.Logits.Shape().Equal(tensor.Shape{1, 1, 2, 2}))
	assert.Equal(t, []int{1}, inner.seen)
}
