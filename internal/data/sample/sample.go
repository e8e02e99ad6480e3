// Package sample holds the Sample type shared by the data layer and the
// dataset implementations beneath it.
package sample

import (
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Sample is one training example. Tensors are host-resident and untyped
// with respect to the compute backend; the training loop binds them to a
// backend when it assembles batches.
type Sample struct {
	Image  *tensor.RawTensor // [3, H, W] float32, values in [0, 1]
	Calib  *tensor.RawTensor // [3, 3] float32 camera intrinsics
	Labels *tensor.RawTensor // [C, depth, width] float32 occupancy
	Mask   *tensor.RawTensor // [1, depth, width] float32 visibility
}
