// Command bevgrid trains a BEV semantic occupancy model.
//
// Usage:
//
//	bevgrid -tag my-run -config configs/pon.yml -o model=hpon -o gpus=[0,1]
//	bevgrid -resume logs/my-run_2026-08-31_12-00_1a2b3c4d
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/bevgrid-ml/bevgrid/internal/autodiff"
	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/backend/webgpu"
	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/data"
	"github.com/bevgrid-ml/bevgrid/internal/data/nuscenes"
	"github.com/bevgrid-ml/bevgrid/internal/experiment"
	"github.com/bevgrid-ml/bevgrid/internal/models"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
	"github.com/bevgrid-ml/bevgrid/internal/train"
)

// multiFlag collects repeated flag values.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint([]string(*m)) }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configs   multiFlag
		overrides multiFlag
	)
	tag := flag.String("tag", "run", "experiment name prefix")
	dataset := flag.String("dataset", "", "dataset source (defaults to train_dataset from config)")
	model := flag.String("model", "", "model architecture (overrides config)")
	resume := flag.String("resume", "", "resume from an existing run directory")
	flag.Var(&configs, "config", "yaml config fragment, repeatable, merged in order")
	flag.Var(&overrides, "o", "config override key=value, repeatable")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(configs, overrides)
	if err != nil {
		return err
	}
	if *model != "" {
		cfg.Model = *model
	}
	source := cfg.TrainDataset
	if *dataset != "" {
		source = *dataset
	}

	var runDir *experiment.Run
	if *resume != "" {
		runDir, err = experiment.Resume(*resume)
	} else {
		runDir, err = experiment.New(cfg, *tag)
	}
	if err != nil {
		return err
	}

	// One GPU worth of WebGPU is enough to accelerate the kernels; the
	// device indices in cfg.GPUs still drive tensor placement. Without a
	// working adapter everything runs on the CPU backend.
	if len(cfg.GPUs) > 0 {
		gpu, gpuErr := webgpu.New(cfg.GPUs[0])
		if gpuErr == nil {
			return launch(cfg, gpu, source, runDir, *resume != "")
		}
		slog.Warn("webgpu unavailable, using cpu backend", "error", gpuErr)
	}
	return launch(cfg, cpu.New(), source, runDir, *resume != "")
}

// launch wires the factories together over a concrete compute backend and
// runs the trainer.
func launch[B tensor.Backend](cfg *config.Config, inner B, source string, runDir *experiment.Run, resume bool) error {
	backend := autodiff.New(inner)

	placed, err := models.BuildModel(backend, cfg)
	if err != nil {
		return err
	}
	criterion, err := models.BuildCriterion(backend, cfg)
	if err != nil {
		return err
	}
	trainLoader, valLoader, err := data.BuildDataloaders(cfg, data.Source(source))
	if err != nil {
		return err
	}

	trainer, err := train.New(cfg, backend, placed, criterion,
		trainLoader, valLoader, nuscenes.ClassNames, runDir)
	if err != nil {
		return err
	}
	if resume {
		if err := trainer.Resume(); err != nil {
			return err
		}
	}
	return trainer.Run()
}
