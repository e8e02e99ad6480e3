package data

import (
	"fmt"
	"log/slog"

	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/data/nuscenes"
)

// Source names a dataset family.
type Source string

// SourceNuScenes is the nuScenes front-camera dataset.
const SourceNuScenes Source = "nuscenes"

// BuildDatasets constructs the raw train and validation datasets for a
// source, before any augmentation. With hold_out_calibration set, the
// scenes reserved for calibration experiments are removed from training.
func BuildDatasets(cfg *config.Config, source Source) (train, val Dataset, err error) {
	switch source {
	case SourceNuScenes:
		return buildNuScenes(cfg)
	default:
		return nil, nil, fmt.Errorf("data: unknown dataset source %q", source)
	}
}

func buildNuScenes(cfg *config.Config) (train, val Dataset, err error) {
	slog.Info("loading nuscenes catalog",
		"root", cfg.DataRoot, "version", cfg.NuScenesVersion)

	catalog, err := nuscenes.LoadCatalog(cfg.DataRoot, cfg.NuScenesVersion)
	if err != nil {
		return nil, nil, err
	}
	splits := nuscenes.LoadSplits(cfg.LabelRoot, catalog.SceneNames())

	trainScenes := splits.Train
	if cfg.HoldOutCalibration {
		trainScenes = subtract(trainScenes, splits.Calibration)
		slog.Info("holding out calibration scenes",
			"held_out", len(splits.Calibration), "train_scenes", len(trainScenes))
	}

	opts := nuscenes.Options{
		LabelRoot:   cfg.LabelRoot,
		NumClass:    cfg.NumClass,
		ImageWidth:  cfg.ImgSize[0],
		ImageHeight: cfg.ImgSize[1],
	}
	train = nuscenes.NewDataset(catalog, trainScenes, opts)
	val = nuscenes.NewDataset(catalog, splits.Val, opts)

	slog.Info("datasets ready", "train_samples", train.Len(), "val_samples", val.Len())
	return train, val, nil
}

// subtract returns the members of set not present in remove, preserving
// order.
func subtract(set, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, name := range remove {
		drop[name] = true
	}
	var out []string
	for _, name := range set {
		if !drop[name] {
			out = append(out, name)
		}
	}
	return out
}

// BuildTrainvalDatasets builds the datasets as the training loop consumes
// them: the training split behind the horizontal flip augmentation, the
// validation split untouched.
func BuildTrainvalDatasets(cfg *config.Config, source Source) (train, val Dataset, err error) {
	train, val, err = BuildDatasets(cfg, source)
	if err != nil {
		return nil, nil, err
	}
	return NewAugmented(train, cfg.HFlip), val, nil
}

// BuildDataloaders builds the epoch loaders. Training samples with
// replacement so every epoch sees cfg.EpochSize examples regardless of the
// dataset size; validation visits each sample once.
func BuildDataloaders(cfg *config.Config, source Source) (train, val *Loader, err error) {
	trainData, valData, err := BuildTrainvalDatasets(cfg, source)
	if err != nil {
		return nil, nil, err
	}
	train = NewLoader(trainData,
		NewRandomSampler(trainData.Len(), cfg.EpochSize), cfg.BatchSize, cfg.NumWorkers)
	val = NewLoader(valData,
		NewSequentialSampler(valData.Len()), cfg.BatchSize, cfg.NumWorkers)
	return train, val, nil
}
