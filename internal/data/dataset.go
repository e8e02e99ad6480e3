// Package data provides the dataset, augmentation and loading layer:
// map-style datasets over BEV training samples, the horizontal flip
// augmentation, and batched loaders with worker prefetch.
package data

import (
	"github.com/bevgrid-ml/bevgrid/internal/data/sample"
)

// Sample is one training example. Tensors are host-resident and untyped
// with respect to the compute backend; the training loop binds them to a
// backend when it assembles batches. The struct lives in the sample
// subpackage so dataset implementations can share it without importing
// this package.
type Sample = sample.Sample

// Dataset is a finite, random-access collection of samples. Implementations
// must be safe for concurrent Sample calls; loaders fetch from several
// workers at once.
type Dataset interface {
	Len() int
	Sample(i int) (*Sample, error)
}
