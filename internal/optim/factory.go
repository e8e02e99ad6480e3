package optim

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/config"
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Build constructs the configured optimiser and its milestone schedule.
func Build[B tensor.Backend](cfg *config.Config, params []*nn.Parameter[B]) (Optimizer, *MultiStepLR, error) {
	var o Optimizer
	switch cfg.Optimizer {
	case "sgd":
		o = NewSGD[B](params, cfg.LearningRate, cfg.Momentum, cfg.WeightDecay)
	case "adam":
		o = NewAdam[B](params, cfg.LearningRate, cfg.WeightDecay)
	default:
		return nil, nil, fmt.Errorf("optim: unknown optimizer %q", cfg.Optimizer)
	}
	return o, NewMultiStepLR(o, cfg.LRMilestones, cfg.LRGamma), nil
}
