package models

import (
	"fmt"
	"log/slog"

	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// PlacementKind says where a built model's computation lives.
type PlacementKind int

const (
	// PlacementHost leaves everything on the host device.
	PlacementHost PlacementKind = iota
	// PlacementSingle puts the model on a single accelerator.
	PlacementSingle
	// PlacementReplicated shards each batch across several accelerators.
	PlacementReplicated
)

func (k PlacementKind) String() string {
	switch k {
	case PlacementHost:
		return "host"
	case PlacementSingle:
		return "single"
	case PlacementReplicated:
		return "replicated"
	}
	return fmt.Sprintf("PlacementKind(%d)", int(k))
}

// Placement records the device decision made for a model, so callers can
// match on the kind instead of inspecting the model type.
type Placement struct {
	Kind    PlacementKind
	Devices []tensor.Device
}

// PlacedModel pairs a built model with its placement.
type PlacedModel[B tensor.Backend] struct {
	Model     Model[B]
	Placement Placement
}

// TransformResolution returns the BEV cell size the transformer pyramids
// produce: the map resolution scaled up by the product of the topdown
// upsampling strides, since the topdown network recovers the full
// resolution.
func TransformResolution(cfg *config.Config) float32 {
	res := cfg.MapResolution
	for _, s := range cfg.Topdown.Strides {
		res *= float32(s)
	}
	return res
}

// BuildModel constructs the architecture named by cfg.Model and places it
// according to cfg.GPUs: on the host with no GPUs, on the single GPU with
// one, and data-parallel across all of them otherwise.
func BuildModel[B tensor.Backend](backend B, cfg *config.Config) (*PlacedModel[B], error) {
	var model Model[B]
	switch cfg.Model {
	case "pon":
		model = buildPyramid(backend, cfg, false)
	case "hpon":
		model = buildPyramid(backend, cfg, true)
	case "ved":
		depth, width := cfg.GridSize(cfg.MapResolution)
		model = NewVariationalEncoderDecoder[B](backend,
			cfg.ImgSize[0], cfg.ImgSize[1], cfg.VED.BottleneckDim,
			cfg.NumClass, depth, width)
	case "vpn":
		depth, width := cfg.GridSize(cfg.MapResolution)
		model = NewViewParsingNetwork[B](backend,
			cfg.ImgSize[0], cfg.ImgSize[1], cfg.VPN.FCDim, cfg.NumClass,
			cfg.VPN.OutputSize[0], cfg.VPN.OutputSize[1], depth, width)
	default:
		return nil, fmt.Errorf("models: unknown model name %q", cfg.Model)
	}

	devices := cfg.Devices()
	placed := &PlacedModel[B]{Model: model}
	switch {
	case len(devices) == 0:
		placed.Placement = Placement{Kind: PlacementHost, Devices: []tensor.Device{tensor.HostDevice}}
	case len(devices) == 1:
		moveModel(model, devices[0])
		placed.Placement = Placement{Kind: PlacementSingle, Devices: devices}
	default:
		placed.Model = NewDataParallel[B](model, devices)
		placed.Placement = Placement{Kind: PlacementReplicated, Devices: devices}
	}

	slog.Info("built model",
		"name", cfg.Model, "placement", placed.Placement.Kind.String(), "gpus", len(devices))
	return placed, nil
}

// buildPyramid assembles the pon architecture, with the horizontal pyramid
// added for hpon.
func buildPyramid[B tensor.Backend](backend B, cfg *config.Config, hybrid bool) Model[B] {
	geom := TransformerGeometry{
		Focal:       cfg.FocalLength,
		ImageWidth:  cfg.ImgSize[0],
		ImageHeight: cfg.ImgSize[1],
		Extents:     cfg.MapExtents,
		YMin:        cfg.YMin,
		YMax:        cfg.YMax,
		Resolution:  TransformResolution(cfg),
	}

	frontend := NewFPN[B](backend)
	vertical := NewVerticalTransformerPyramid[B](backend, geom, FPNChannels, cfg.VTfmChannels)

	bevChannels := cfg.VTfmChannels
	var horizontal *HorizontalTransformerPyramid[B]
	if hybrid {
		horizontal = NewHorizontalTransformerPyramid[B](backend, geom, FPNChannels, cfg.HTfmChannels, "stack")
		bevChannels += cfg.HTfmChannels
	}

	topdown := NewTopdownNetwork[B](backend, bevChannels,
		cfg.Topdown.Channels, cfg.Topdown.Layers, cfg.Topdown.Strides, cfg.Topdown.BlockType)

	var classifier Classifier[B]
	if cfg.Bayesian {
		classifier = NewBayesianClassifier[B](backend, topdown.OutChannels(), cfg.NumClass)
	} else {
		classifier = NewLinearClassifier[B](backend, topdown.OutChannels(), cfg.NumClass)
	}
	classifier.Initialise(cfg.Prior)

	if hybrid {
		return NewHybridPyramidOccupancyNetwork[B](frontend, vertical, horizontal, topdown, classifier)
	}
	return NewPyramidOccupancyNetwork[B](frontend, vertical, topdown, classifier)
}

// BuildCriterion constructs the training loss. The ved model always trains
// with the variational criterion regardless of cfg.LossFn; otherwise the
// loss function name picks focal, prior-offset or the default weighted
// cross entropy.
//
// The criterion is placed on the first configured GPU when any are
// present. It is never replicated: loss reduction happens on one device
// even when the model runs data-parallel.
func BuildCriterion[B tensor.Backend](backend B, cfg *config.Config) (Criterion[B], error) {
	var (
		criterion Criterion[B]
		err       error
	)
	switch {
	case cfg.Model == "ved":
		criterion, err = NewVaeOccupancyCriterion[B](backend, cfg.Prior,
			cfg.XentWeight, cfg.UncertWeight, cfg.KLDWeight, cfg.WeightMode)
	case cfg.LossFn == "focal":
		criterion = NewFocalLossCriterion[B](backend, cfg.Focal.Alpha, cfg.Focal.Gamma)
	case cfg.LossFn == "prior":
		criterion = NewPriorOffsetCriterion[B](backend, cfg.Prior)
	default:
		criterion, err = NewOccupancyCriterion[B](backend, cfg.Prior,
			cfg.XentWeight, cfg.UncertWeight, cfg.WeightMode)
	}
	if err != nil {
		return nil, err
	}

	if devices := cfg.Devices(); len(devices) > 0 {
		criterion.ToDevice(devices[0])
	}
	return criterion, nil
}
