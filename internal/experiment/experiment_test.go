package experiment_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/experiment"
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func TestNewRunDumpsConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.Model = "hpon"

	run, err := experiment.New(cfg, "hpon")
	require.NoError(t, err)

	info, err := os.Stat(run.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Contains(t, run.Name, "hpon_")

	// The effective configuration is reloadable from the run directory.
	loaded, err := config.Load([]string{filepath.Join(run.Dir, "config.yml")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hpon", loaded.Model)
}

func TestRunNamesAreUnique(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()

	a, err := experiment.New(cfg, "pon")
	require.NoError(t, err)
	b, err := experiment.New(cfg, "pon")
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestResume(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	run, err := experiment.New(cfg, "pon")
	require.NoError(t, err)

	resumed, err := experiment.Resume(run.Dir)
	require.NoError(t, err)
	assert.Equal(t, run.Dir, resumed.Dir)
	assert.Equal(t, run.Name, resumed.Name)

	_, err = experiment.Resume(filepath.Join(cfg.LogDir, "missing"))
	assert.Error(t, err)
}

func testParams(t *testing.T, shapes ...tensor.Shape) []*nn.Parameter[*cpu.CPUBackend] {
	t.Helper()
	backend := cpu.NewSequential()
	params := make([]*nn.Parameter[*cpu.CPUBackend], len(shapes))
	for i, s := range shapes {
		params[i] = nn.NewParameter("p", tensor.Randn(s, backend))
	}
	return params
}

func TestCheckpointRoundTrip(t *testing.T) {
	params := testParams(t, tensor.Shape{3, 4}, tensor.Shape{4})
	saved := [][]float32{
		append([]float32(nil), params[0].Tensor().Data()...),
		append([]float32(nil), params[1].Tensor().Data()...),
	}

	path := filepath.Join(t.TempDir(), "latest.ckpt")
	require.NoError(t, experiment.SaveCheckpoint(path, params,
		experiment.State{Epoch: 7, BestScore: 0.42}))

	// Load into a fresh set of parameters with the same shapes.
	restored := testParams(t, tensor.Shape{3, 4}, tensor.Shape{4})
	state, err := experiment.LoadCheckpoint(path, restored)
	require.NoError(t, err)

	assert.Equal(t, 7, state.Epoch)
	assert.Equal(t, 0.42, state.BestScore)
	assert.Equal(t, saved[0], restored[0].Tensor().Data())
	assert.Equal(t, saved[1], restored[1].Tensor().Data())
}

func TestCheckpointShapeMismatch(t *testing.T) {
	params := testParams(t, tensor.Shape{2, 2})
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	require.NoError(t, experiment.SaveCheckpoint(path, params, experiment.State{}))

	wrong := testParams(t, tensor.Shape{4})
	_, err := experiment.LoadCheckpoint(path, wrong)
	assert.Error(t, err)
}

func TestCheckpointParamCountMismatch(t *testing.T) {
	params := testParams(t, tensor.Shape{2})
	path := filepath.Join(t.TempDir(), "latest.ckpt")
	require.NoError(t, experiment.SaveCheckpoint(path, params, experiment.State{}))

	_, err := experiment.LoadCheckpoint(path, testParams(t, tensor.Shape{2}, tensor.Shape{2}))
	assert.Error(t, err)
}

func TestCheckpointRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))

	_, err := experiment.LoadCheckpoint(path, testParams(t, tensor.Shape{1}))
	assert.Error(t, err)
}

func TestCheckpointLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.ckpt")
	require.NoError(t, experiment.SaveCheckpoint(path, testParams(t, tensor.Shape{2}), experiment.State{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "latest.ckpt", entries[0].Name())
}
