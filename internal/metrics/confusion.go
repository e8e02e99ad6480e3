// Package metrics accumulates evaluation statistics over BEV predictions.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Logit converts a probability threshold to logit space.
func Logit(p float32) float32 {
	return float32(math.Log(float64(p) / float64(1-p)))
}

// BinaryConfusionMatrix counts per-class true/false positives and
// negatives over batches of thresholded occupancy predictions. Cells
// outside the visibility mask are ignored.
type BinaryConfusionMatrix struct {
	classes []string

	tp []int64
	fp []int64
	fn []int64
	tn []int64
}

// NewBinaryConfusionMatrix creates an empty matrix for the named classes.
func NewBinaryConfusionMatrix(classes []string) *BinaryConfusionMatrix {
	n := len(classes)
	return &BinaryConfusionMatrix{
		classes: classes,
		tp:      make([]int64, n),
		fp:      make([]int64, n),
		fn:      make([]int64, n),
		tn:      make([]int64, n),
	}
}

// Update thresholds the logits and accumulates counts. The threshold is in
// logit space; pass Logit(p) to cut at probability p. Logits and labels
// are [N, C, depth, width]; mask is [N, 1, depth, width].
func (m *BinaryConfusionMatrix) Update(logits, labels, mask *tensor.RawTensor, threshold float32) {
	shape := logits.Shape()
	n, c := shape[0], shape[1]
	if c != len(m.classes) {
		panic(fmt.Sprintf("metrics: %d channels for %d classes", c, len(m.classes)))
	}
	plane := shape[2] * shape[3]

	scores := logits.AsFloat32()
	truth := labels.AsFloat32()
	visible := mask.AsFloat32()

	for b := 0; b < n; b++ {
		for class := 0; class < c; class++ {
			base := (b*c + class) * plane
			maskBase := b * plane
			for i := 0; i < plane; i++ {
				if visible[maskBase+i] == 0 {
					continue
				}
				pred := scores[base+i] > threshold
				pos := truth[base+i] != 0
				switch {
				case pred && pos:
					m.tp[class]++
				case pred && !pos:
					m.fp[class]++
				case !pred && pos:
					m.fn[class]++
				default:
					m.tn[class]++
				}
			}
		}
	}
}

// IoU returns the intersection over union of one class. Classes never
// observed score zero.
func (m *BinaryConfusionMatrix) IoU(class int) float64 {
	union := m.tp[class] + m.fp[class] + m.fn[class]
	if union == 0 {
		return 0
	}
	return float64(m.tp[class]) / float64(union)
}

// MeanIoU averages the IoU over all classes.
func (m *BinaryConfusionMatrix) MeanIoU() float64 {
	if len(m.classes) == 0 {
		return 0
	}
	var total float64
	for class := range m.classes {
		total += m.IoU(class)
	}
	return total / float64(len(m.classes))
}

// Reset clears the accumulated counts.
func (m *BinaryConfusionMatrix) Reset() {
	for i := range m.classes {
		m.tp[i], m.fp[i], m.fn[i], m.tn[i] = 0, 0, 0, 0
	}
}

// String renders a per-class IoU table.
func (m *BinaryConfusionMatrix) String() string {
	var b strings.Builder
	for i, name := range m.classes {
		fmt.Fprintf(&b, "%-20s %.4f\n", name, m.IoU(i))
	}
	fmt.Fprintf(&b, "%-20s %.4f", "mean", m.MeanIoU())
	return b.String()
}
