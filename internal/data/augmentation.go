package data

import (
	"math/rand"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Augmented wraps a dataset with random horizontal flipping. Flipping
// mirrors the image, the label grid and the visibility mask about the
// camera axis, and reflects the principal point of the intrinsics.
//
// Validation datasets are never wrapped; only the training split sees
// augmented samples.
type Augmented struct {
	inner    Dataset
	flipProb float32
}

// NewAugmented wraps inner with flip probability p in [0, 1].
func NewAugmented(inner Dataset, p float32) *Augmented {
	return &Augmented{inner: inner, flipProb: p}
}

func (a *Augmented) Len() int { return a.inner.Len() }

func (a *Augmented) Sample(i int) (*Sample, error) {
	s, err := a.inner.Sample(i)
	if err != nil {
		return nil, err
	}
	if rand.Float32() >= a.flipProb {
		return s, nil
	}

	flipped := &Sample{
		Image:  flipWidth(s.Image),
		Calib:  flipCalib(s.Calib, s.Image.Shape()[2]),
		Labels: flipWidth(s.Labels),
		Mask:   flipWidth(s.Mask),
	}
	return flipped, nil
}

// flipWidth reverses the last axis of a [C, H, W] float32 tensor.
func flipWidth(t *tensor.RawTensor) *tensor.RawTensor {
	out := t.Clone()
	shape := t.Shape()
	w := shape[len(shape)-1]
	rows := t.NumElements() / w
	src, dst := t.AsFloat32(), out.AsFloat32()
	for r := 0; r < rows; r++ {
		base := r * w
		for c := 0; c < w; c++ {
			dst[base+c] = src[base+w-1-c]
		}
	}
	return out
}

// flipCalib reflects the principal point about the image centre.
func flipCalib(calib *tensor.RawTensor, imageWidth int) *tensor.RawTensor {
	out := calib.Clone()
	data := out.AsFloat32()
	data[2] = float32(imageWidth) - data[2]
	return out
}
