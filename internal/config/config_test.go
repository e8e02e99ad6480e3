package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "nuscenes", cfg.TrainDataset)
	assert.Equal(t, "pon", cfg.Model)
	assert.Equal(t, 14, cfg.NumClass)
	assert.Equal(t, [4]float32{-25, 1, 25, 50}, cfg.MapExtents)
	assert.Equal(t, float32(0.25), cfg.MapResolution)
	assert.Equal(t, "sgd", cfg.Optimizer)
	assert.Len(t, cfg.Prior, cfg.NumClass)
}

func TestMergeFileOverlays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ved.yml")
	require.NoError(t, os.WriteFile(path, []byte("model: ved\nbatch_size: 4\n"), 0o644))

	cfg, err := config.Load([]string{path}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ved", cfg.Model)
	assert.Equal(t, 4, cfg.BatchSize)
	// Untouched fields keep defaults.
	assert.Equal(t, "nuscenes", cfg.TrainDataset)
	assert.Equal(t, float32(0.25), cfg.MapResolution)
}

func TestMergeFileOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.yml")
	second := filepath.Join(dir, "b.yml")
	require.NoError(t, os.WriteFile(first, []byte("batch_size: 4\nnum_epochs: 5\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("batch_size: 8\n"), 0o644))

	cfg, err := config.Load([]string{first, second}, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 5, cfg.NumEpochs)
}

func TestOverrides(t *testing.T) {
	cfg, err := config.Load(nil, []string{
		"model=hpon",
		"learning_rate=0.01",
		"topdown.strides=[1, 1]",
		"gpus=[0, 1]",
	})
	require.NoError(t, err)

	assert.Equal(t, "hpon", cfg.Model)
	assert.Equal(t, float32(0.01), cfg.LearningRate)
	assert.Equal(t, []int{1, 1}, cfg.Topdown.Strides)
	assert.Equal(t, []int{0, 1}, cfg.GPUs)
}

func TestOverrideRejectsMalformed(t *testing.T) {
	cfg := config.Default()
	assert.Error(t, cfg.Override("no-equals-sign"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load([]string{"does/not/exist.yml"}, nil)
	assert.Error(t, err)
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Model = "vpn"

	out, err := cfg.Dump()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o644))

	loaded, err := config.Load([]string{path}, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Model, loaded.Model)
	assert.Equal(t, cfg.MapExtents, loaded.MapExtents)
	assert.Equal(t, cfg.Topdown, loaded.Topdown)
}

func TestDevices(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, cfg.Devices())

	cfg.GPUs = []int{0, 2}
	devices := cfg.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, tensor.GPUDevice(0), devices[0])
	assert.Equal(t, tensor.GPUDevice(2), devices[1])
}

func TestGridSize(t *testing.T) {
	cfg := config.Default()

	depth, width := cfg.GridSize(cfg.MapResolution)
	assert.Equal(t, 196, depth)
	assert.Equal(t, 200, width)

	depth, width = cfg.GridSize(0.5)
	assert.Equal(t, 98, depth)
	assert.Equal(t, 100, width)
}
