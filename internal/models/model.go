// Package models assembles the bevgrid architectures and loss criteria
// from configuration: the pyramid occupancy networks (pon, hpon), the
// variational encoder-decoder baseline (ved) and the view parsing network
// baseline (vpn), plus the four training criteria.
package models

import (
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Prediction is the output of a model forward pass. Logits hold per-class
// occupancy scores over the BEV grid [N, C, depth, width]. Mu and LogVar
// are populated only by the variational encoder-decoder.
type Prediction[B tensor.Backend] struct {
	Logits *tensor.Tensor[float32, B]
	Mu     *tensor.Tensor[float32, B]
	LogVar *tensor.Tensor[float32, B]
}

// Model is a BEV occupancy network ready for forward evaluation. Calib
// carries the camera intrinsics [N, 3, 3]; the self-contained baselines
// ignore it.
type Model[B tensor.Backend] interface {
	Forward(image, calib *tensor.Tensor[float32, B]) *Prediction[B]
	Parameters() []*nn.Parameter[B]
	SetTraining(training bool)
}

// Criterion scores a prediction against ground truth. Labels are per-class
// occupancy grids [N, C, depth, width]; mask [N, 1, depth, width] marks
// the cells that are visible from the camera.
type Criterion[B tensor.Backend] interface {
	Loss(pred *Prediction[B], labels, mask *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// ToDevice moves the criterion's constants onto a device; Device
	// reports the current placement.
	ToDevice(d tensor.Device)
	Device() tensor.Device
}

func moveModel[B tensor.Backend](m Model[B], d tensor.Device) {
	nn.MoveParameters(m.Parameters(), d)
}
