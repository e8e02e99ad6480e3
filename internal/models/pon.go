package models

import (
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// centreOnPrincipalPoint shifts each sample's image columns so the
// calibrated principal point lands on the image centre the transformer
// resampling grids are built for. The horizontal flip augmentation moves
// the principal point per sample, so the shift is computed per sample;
// columns shifted in from the border repeat the edge pixel.
func centreOnPrincipalPoint[B tensor.Backend](image, calib *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := image.Shape()
	n, w := shape[0], shape[3]
	cd := calib.Data()

	shifts := make([]int, n)
	anyShift := false
	for i := range shifts {
		shifts[i] = int(math.Round(float64(cd[i*9+2] - float32(w)/2)))
		if shifts[i] != 0 {
			anyShift = true
		}
	}
	if !anyShift {
		return image
	}

	samples := tensor.Chunk(image, n, 0)
	for i, s := range samples {
		index := make([]int, w)
		for j := range index {
			u := j + shifts[i]
			if u < 0 {
				u = 0
			}
			if u >= w {
				u = w - 1
			}
			index[j] = u
		}
		samples[i] = s.IndexSelect(3, index)
	}
	return tensor.Cat(samples, 0)
}

// PyramidOccupancyNetwork is the pon architecture: a feature pyramid
// frontend, a vertical transformer pyramid into BEV space, a topdown
// decoder and a per-cell classifier.
type PyramidOccupancyNetwork[B tensor.Backend] struct {
	frontend    *FPN[B]
	transformer *VerticalTransformerPyramid[B]
	topdown     *TopdownNetwork[B]
	classifier  Classifier[B]
}

func NewPyramidOccupancyNetwork[B tensor.Backend](frontend *FPN[B], transformer *VerticalTransformerPyramid[B], topdown *TopdownNetwork[B], classifier Classifier[B]) *PyramidOccupancyNetwork[B] {
	return &PyramidOccupancyNetwork[B]{
		frontend:    frontend,
		transformer: transformer,
		topdown:     topdown,
		classifier:  classifier,
	}
}

func (m *PyramidOccupancyNetwork[B]) Forward(image, calib *tensor.Tensor[float32, B]) *Prediction[B] {
	features := m.frontend.Forward(centreOnPrincipalPoint(image, calib))
	bev := m.transformer.Forward(features)
	logits := m.classifier.Forward(m.topdown.Forward(bev))
	return &Prediction[B]{Logits: logits}
}

func (m *PyramidOccupancyNetwork[B]) Parameters() []*nn.Parameter[B] {
	params := append(m.frontend.Parameters(), m.transformer.Parameters()...)
	params = append(params, m.topdown.Parameters()...)
	return append(params, m.classifier.Parameters()...)
}

func (m *PyramidOccupancyNetwork[B]) SetTraining(training bool) {
	m.frontend.SetTraining(training)
	m.transformer.SetTraining(training)
	m.topdown.SetTraining(training)
	nn.SetTraining[B](m.classifier, training)
}

// HybridPyramidOccupancyNetwork is the hpon architecture. It runs the
// vertical and horizontal transformer pyramids over the same features and
// stacks their BEV grids along the channel axis before the topdown decoder.
type HybridPyramidOccupancyNetwork[B tensor.Backend] struct {
	frontend   *FPN[B]
	vertical   *VerticalTransformerPyramid[B]
	horizontal *HorizontalTransformerPyramid[B]
	topdown    *TopdownNetwork[B]
	classifier Classifier[B]
}

func NewHybridPyramidOccupancyNetwork[B tensor.Backend](frontend *FPN[B], vertical *VerticalTransformerPyramid[B], horizontal *HorizontalTransformerPyramid[B], topdown *TopdownNetwork[B], classifier Classifier[B]) *HybridPyramidOccupancyNetwork[B] {
	return &HybridPyramidOccupancyNetwork[B]{
		frontend:   frontend,
		vertical:   vertical,
		horizontal: horizontal,
		topdown:    topdown,
		classifier: classifier,
	}
}

func (m *HybridPyramidOccupancyNetwork[B]) Forward(image, calib *tensor.Tensor[float32, B]) *Prediction[B] {
	features := m.frontend.Forward(centreOnPrincipalPoint(image, calib))
	bev := tensor.Cat([]*tensor.Tensor[float32, B]{
		m.vertical.Forward(features),
		m.horizontal.Forward(features),
	}, 1)
	logits := m.classifier.Forward(m.topdown.Forward(bev))
	return &Prediction[B]{Logits: logits}
}

func (m *HybridPyramidOccupancyNetwork[B]) Parameters() []*nn.Parameter[B] {
	params := append(m.frontend.Parameters(), m.vertical.Parameters()...)
	params = append(params, m.horizontal.Parameters()...)
	params = append(params, m.topdown.Parameters()...)
	return append(params, m.classifier.Parameters()...)
}

func (m *HybridPyramidOccupancyNetwork[B]) SetTraining(training bool) {
	m.frontend.SetTraining(training)
	m.vertical.SetTraining(training)
	m.horizontal.SetTraining(training)
	m.topdown.SetTraining(training)
	nn.SetTraining[B](m.classifier, training)
}
