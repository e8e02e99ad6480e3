package data_test

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/data"
	"github.com/bevgrid-ml/bevgrid/internal/data/nuscenes"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// fixtureConfig writes a three-scene catalog with split files so the
// factory-level split policies can be checked end to end. Scenes 1 and 2
// train, scene 3 validates, scene 2 is the calibration hold-out.
func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	version := "v1.0-mini"
	require.NoError(t, os.MkdirAll(filepath.Join(root, version), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "samples"), 0o755))

	writeTable := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(root, version, name), []byte(body), 0o644))
	}
	writeTable("scene.json", `[
		{"token": "sc1", "name": "scene-0001"},
		{"token": "sc2", "name": "scene-0002"},
		{"token": "sc3", "name": "scene-0003"}
	]`)
	writeTable("sample.json", `[
		{"token": "sa1", "scene_token": "sc1"},
		{"token": "sa2", "scene_token": "sc2"},
		{"token": "sa3", "scene_token": "sc3"}
	]`)
	writeTable("sample_data.json", `[
		{"token": "sd1", "sample_token": "sa1", "calibrated_sensor_token": "cs1",
		 "filename": "samples/f1.png", "is_key_frame": true},
		{"token": "sd2", "sample_token": "sa2", "calibrated_sensor_token": "cs1",
		 "filename": "samples/f2.png", "is_key_frame": true},
		{"token": "sd3", "sample_token": "sa3", "calibrated_sensor_token": "cs1",
		 "filename": "samples/f3.png", "is_key_frame": true}
	]`)
	writeTable("calibrated_sensor.json", `[
		{"token": "cs1", "sensor_token": "se1",
		 "camera_intrinsic": [[1000, 0, 8], [0, 1000, 4], [0, 0, 1]]}
	]`)
	writeTable("sensor.json", `[{"token": "se1", "channel": "CAM_FRONT"}]`)

	for i := 1; i <= 3; i++ {
		f, err := os.Create(filepath.Join(root, "samples", fmt.Sprintf("f%d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 16, 8))))
		require.NoError(t, f.Close())
	}

	labelRoot := t.TempDir()
	writeSplit := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(labelRoot, name), []byte(body), 0o644))
	}
	writeSplit("train.txt", "scene-0001\nscene-0002\n")
	writeSplit("val.txt", "scene-0003\n")
	writeSplit("calibration.txt", "scene-0002\n")

	labels := tensor.MustNewRaw(tensor.Shape{2, 4, 4}, tensor.Float32, tensor.HostDevice)
	mask := tensor.MustNewRaw(tensor.Shape{1, 4, 4}, tensor.Float32, tensor.HostDevice)
	for i := range mask.AsFloat32() {
		mask.AsFloat32()[i] = 1
	}
	for _, token := range []string{"sa1", "sa2", "sa3"} {
		require.NoError(t, nuscenes.EncodeLabels(filepath.Join(labelRoot, token+".png"), labels, mask))
	}

	cfg := config.Default()
	cfg.DataRoot = root
	cfg.NuScenesVersion = version
	cfg.LabelRoot = labelRoot
	cfg.NumClass = 2
	cfg.ImgSize = [2]int{8, 4}
	cfg.BatchSize = 2
	cfg.EpochSize = 4
	cfg.NumWorkers = 1
	return cfg
}

func TestBuildDatasetsSplits(t *testing.T) {
	cfg := fixtureConfig(t)

	train, val, err := data.BuildDatasets(cfg, data.SourceNuScenes)
	require.NoError(t, err)
	assert.Equal(t, 2, train.Len())
	assert.Equal(t, 1, val.Len())
}

func TestBuildDatasetsHoldsOutCalibration(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.HoldOutCalibration = true

	train, val, err := data.BuildDatasets(cfg, data.SourceNuScenes)
	require.NoError(t, err)
	assert.Equal(t, 1, train.Len(), "calibration scene should leave the training split")
	assert.Equal(t, 1, val.Len(), "validation split ignores the hold-out flag")
}

func TestBuildTrainvalDatasetsWrapsTrainOnly(t *testing.T) {
	cfg := fixtureConfig(t)

	train, val, err := data.BuildTrainvalDatasets(cfg, data.SourceNuScenes)
	require.NoError(t, err)

	_, trainAugmented := train.(*data.Augmented)
	_, valAugmented := val.(*data.Augmented)
	assert.True(t, trainAugmented)
	assert.False(t, valAugmented)
}

func TestBuildDataloaders(t *testing.T) {
	cfg := fixtureConfig(t)

	trainLoader, valLoader, err := data.BuildDataloaders(cfg, data.SourceNuScenes)
	require.NoError(t, err)

	trainBatches := 0
	batches, stop := trainLoader.Batches()
	defer stop()
	for batch := range batches {
		require.NoError(t, batch.Err)
		trainBatches++
	}
	assert.Equal(t, cfg.EpochSize/cfg.BatchSize, trainBatches)

	valSamples := 0
	valBatches, stopVal := valLoader.Batches()
	defer stopVal()
	for batch := range valBatches {
		require.NoError(t, batch.Err)
		valSamples += batch.Size()
	}
	assert.Equal(t, 1, valSamples)
}
