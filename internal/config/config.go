// Package config defines the experiment configuration surface. A Config is
// assembled once from YAML fragments plus command-line overrides, then
// treated as frozen: every builder reads it, none mutates it.
package config

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// TopdownConfig describes the BEV decoder: one stage per entry, where
// Strides[i] is the upsampling factor applied before Layers[i] residual
// blocks of width Channels[i].
type TopdownConfig struct {
	Channels  []int  `yaml:"channels"`
	Layers    []int  `yaml:"layers"`
	Strides   []int  `yaml:"strides"`
	BlockType string `yaml:"blocktype"` // "basic" or "bottleneck"
}

// VEDConfig holds variational encoder-decoder hyperparameters.
type VEDConfig struct {
	BottleneckDim int `yaml:"bottleneck_dim"`
}

// VPNConfig holds view-parsing-network hyperparameters.
type VPNConfig struct {
	OutputSize [2]int `yaml:"output_size"` // intermediate BEV grid [depth, width]
	FCDim      int    `yaml:"fc_dim"`
}

// FocalConfig holds focal-loss hyperparameters.
type FocalConfig struct {
	Alpha float32 `yaml:"alpha"`
	Gamma float32 `yaml:"gamma"`
}

// Config is the full experiment configuration. Field names mirror the YAML
// files under configs/.
type Config struct {
	// Experiment selection.
	TrainDataset string `yaml:"train_dataset"`
	Model        string `yaml:"model"`
	LogDir       string `yaml:"logdir"`

	// Dataset.
	DataRoot           string  `yaml:"dataroot"`
	NuScenesVersion    string  `yaml:"nuscenes_version"`
	LabelRoot          string  `yaml:"label_root"`
	ImgSize            [2]int  `yaml:"img_size"` // [width, height]
	HoldOutCalibration bool    `yaml:"hold_out_calibration"`
	HFlip              float32 `yaml:"hflip"` // horizontal flip probability

	// Loading.
	BatchSize  int `yaml:"batch_size"`
	EpochSize  int `yaml:"epoch_size"` // training samples drawn per epoch
	NumWorkers int `yaml:"num_workers"`

	// Map geometry. Extents are [x1, z1, x2, z2] metres in the camera
	// frame; resolution is metres per BEV cell.
	MapExtents    [4]float32 `yaml:"map_extents"`
	MapResolution float32    `yaml:"map_resolution"`
	YMin          float32    `yaml:"ymin"`
	YMax          float32    `yaml:"ymax"`
	FocalLength   float32    `yaml:"focal_length"`

	// Architecture.
	NumClass     int           `yaml:"num_class"`
	VTfmChannels int           `yaml:"vtfm_channels"`
	HTfmChannels int           `yaml:"htfm_channels"`
	Bayesian     bool          `yaml:"bayesian"`
	Prior        []float32     `yaml:"prior"` // per-class occupancy priors
	Topdown      TopdownConfig `yaml:"topdown"`
	VED          VEDConfig     `yaml:"ved"`
	VPN          VPNConfig     `yaml:"vpn"`

	// Loss.
	LossFn       string      `yaml:"loss_fn"`
	XentWeight   float32     `yaml:"xent_weight"`
	UncertWeight float32     `yaml:"uncert_weight"`
	WeightMode   string      `yaml:"weight_mode"` // "sqrt_inverse", "inverse", "equal"
	KLDWeight    float32     `yaml:"kld_weight"`
	Focal        FocalConfig `yaml:"focal"`

	// Optimisation.
	GPUs         []int   `yaml:"gpus"`
	Optimizer    string  `yaml:"optimizer"` // "sgd" or "adam"
	LearningRate float32 `yaml:"learning_rate"`
	Momentum     float32 `yaml:"momentum"`
	WeightDecay  float32 `yaml:"weight_decay"`
	LRMilestones []int   `yaml:"lr_milestones"`
	LRGamma      float32 `yaml:"lr_gamma"`
	NumEpochs    int     `yaml:"num_epochs"`
	ScoreThresh  float32 `yaml:"score_thresh"`
	LogInterval  int     `yaml:"log_interval"`
}

// Default returns the baseline configuration that YAML fragments and
// command-line overrides are merged onto.
func Default() *Config {
	return &Config{
		TrainDataset:    "nuscenes",
		Model:           "pon",
		LogDir:          "logs",
		NuScenesVersion: "v1.0-trainval",
		ImgSize:         [2]int{800, 600},
		HFlip:           0.5,
		BatchSize:       12,
		EpochSize:       50000,
		NumWorkers:      8,
		MapExtents:      [4]float32{-25, 1, 25, 50},
		MapResolution:   0.25,
		YMin:            -2,
		YMax:            4,
		FocalLength:     630,
		NumClass:        14,
		VTfmChannels:    64,
		HTfmChannels:    32,
		Prior: []float32{
			0.44, 0.02, 0.14, 0.02, 0.02, 0.01, 0.01, 0.01,
			0.01, 0.01, 0.01, 0.01, 0.01, 0.01,
		},
		Topdown: TopdownConfig{
			Channels:  []int{128, 128},
			Layers:    []int{4, 4},
			Strides:   []int{1, 2},
			BlockType: "bottleneck",
		},
		VED:          VEDConfig{BottleneckDim: 256},
		VPN:          VPNConfig{OutputSize: [2]int{25, 25}, FCDim: 256},
		LossFn:       "bce",
		XentWeight:   1.0,
		UncertWeight: 0.001,
		WeightMode:   "sqrt_inverse",
		KLDWeight:    1.0,
		Focal:        FocalConfig{Alpha: 0.25, Gamma: 2},
		Optimizer:    "sgd",
		LearningRate: 0.1,
		Momentum:     0.9,
		WeightDecay:  0.0001,
		LRMilestones: []int{150, 185},
		LRGamma:      0.1,
		NumEpochs:    200,
		ScoreThresh:  0.5,
		LogInterval:  10,
	}
}

// Devices maps the configured GPU indices onto tensor devices. An empty
// list means everything stays on the host.
func (c *Config) Devices() []tensor.Device {
	devices := make([]tensor.Device, len(c.GPUs))
	for i, g := range c.GPUs {
		devices[i] = tensor.GPUDevice(g)
	}
	return devices
}

// GridSize returns the BEV grid [depth, width] in cells at the given
// resolution, derived from the map extents.
func (c *Config) GridSize(resolution float32) (depth, width int) {
	depth = int((c.MapExtents[3] - c.MapExtents[1]) / resolution)
	width = int((c.MapExtents[2] - c.MapExtents[0]) / resolution)
	return depth, width
}
