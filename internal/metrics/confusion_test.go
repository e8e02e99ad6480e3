package metrics_test

import (
	"math"
	"strings"
	"testing"

	"github.com/bevgrid-ml/bevgrid/internal/metrics"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func grid(values []float32, c int) *tensor.RawTensor {
	plane := len(values) / c
	raw := tensor.MustNewRaw(tensor.Shape{1, c, 1, plane}, tensor.Float32, tensor.HostDevice)
	copy(raw.AsFloat32(), values)
	return raw
}

func TestLogit(t *testing.T) {
	if got := metrics.Logit(0.5); math.Abs(float64(got)) > 1e-6 {
		t.Fatalf("Logit(0.5) = %v, want 0", got)
	}
	if got := metrics.Logit(0.9); got <= 0 {
		t.Fatalf("Logit(0.9) = %v, want positive", got)
	}
}

func TestUpdateAndIoU(t *testing.T) {
	m := metrics.NewBinaryConfusionMatrix([]string{"drivable"})

	// 4 visible cells: tp, fp, fn, tn.
	logits := grid([]float32{2, 2, -2, -2}, 1)
	labels := grid([]float32{1, 0, 1, 0}, 1)
	mask := grid([]float32{1, 1, 1, 1}, 1)

	m.Update(logits, labels, mask, 0)

	// IoU = tp / (tp+fp+fn) = 1/3
	if got := m.IoU(0); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Fatalf("IoU = %v, want 1/3", got)
	}
}

func TestUpdateHonoursMask(t *testing.T) {
	m := metrics.NewBinaryConfusionMatrix([]string{"drivable"})

	logits := grid([]float32{2, 2}, 1)
	labels := grid([]float32{0, 1}, 1)
	mask := grid([]float32{0, 1}, 1) // first cell invisible

	m.Update(logits, labels, mask, 0)

	// Only the visible true positive counts: IoU = 1.
	if got := m.IoU(0); got != 1 {
		t.Fatalf("IoU = %v, want 1", got)
	}
}

func TestThresholdInLogitSpace(t *testing.T) {
	m := metrics.NewBinaryConfusionMatrix([]string{"drivable"})

	// Probability 0.6 corresponds to logit ~0.405. Cutting at p=0.7
	// rejects it.
	logits := grid([]float32{metrics.Logit(0.6)}, 1)
	labels := grid([]float32{1}, 1)
	mask := grid([]float32{1}, 1)

	m.Update(logits, labels, mask, metrics.Logit(0.7))
	if got := m.IoU(0); got != 0 {
		t.Fatalf("IoU = %v, want 0 below threshold", got)
	}
}

func TestMeanIoUAndReset(t *testing.T) {
	m := metrics.NewBinaryConfusionMatrix([]string{"a", "b"})

	logits := grid([]float32{2, -2}, 2)
	labels := grid([]float32{1, 1}, 2)
	mask := grid([]float32{1}, 1)

	m.Update(logits, labels, mask, 0)

	// Class a: tp=1 -> IoU 1. Class b: fn=1 -> IoU 0.
	if got := m.MeanIoU(); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("MeanIoU = %v, want 0.5", got)
	}

	m.Reset()
	if got := m.MeanIoU(); got != 0 {
		t.Fatalf("MeanIoU = %v after reset, want 0", got)
	}
}

func TestStringListsClasses(t *testing.T) {
	m := metrics.NewBinaryConfusionMatrix([]string{"drivable", "vehicle"})
	out := m.String()
	for _, want := range []string{"drivable", "vehicle", "mean"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
}
