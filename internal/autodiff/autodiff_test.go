package autodiff_test

import (
	"testing"

	"github.com/bevgrid-ml/bevgrid/internal/autodiff"
	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

type cpuAutodiff = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() cpuAutodiff {
	return autodiff.New(cpu.NewSequential())
}

func raw(t *testing.T, backend cpuAutodiff, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, backend)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	return x.Raw()
}

func checkGrad(t *testing.T, grads map[*tensor.RawTensor]*tensor.RawTensor, x *tensor.RawTensor, want []float32) {
	t.Helper()
	g, ok := grads[x]
	if !ok {
		t.Fatal("no gradient recorded")
	}
	got := g.AsFloat32()
	if len(got) != len(want) {
		t.Fatalf("gradient has %d elements, want %d", len(got), len(want))
	}
	for i := range want {
		diff := got[i] - want[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > 1e-4 {
			t.Fatalf("gradient[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGradientSquare(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{3}, tensor.Shape{1})
	y := backend.Mul(x, x)
	loss := backend.Sum(y)

	// d(x^2)/dx = 2x = 6
	checkGrad(t, backend.Gradients(loss), x, []float32{6})
}

func TestGradientChain(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{1, 2, 3}, tensor.Shape{3})
	y := backend.MulScalar(x, 2)
	z := backend.Add(y, x)
	loss := backend.Sum(z)

	// d(3x)/dx = 3 per element
	checkGrad(t, backend.Gradients(loss), x, []float32{3, 3, 3})
}

func TestGradientBroadcastReduces(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	bias := raw(t, backend, []float32{1, 1, 1}, tensor.Shape{3})
	loss := backend.Sum(backend.Add(x, bias))

	grads := backend.Gradients(loss)
	// The bias gradient sums over the broadcast batch dimension.
	checkGrad(t, grads, bias, []float32{2, 2, 2})
	checkGrad(t, grads, x, []float32{1, 1, 1, 1, 1, 1})
}

func TestGradientSigmoid(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{0}, tensor.Shape{1})
	loss := backend.Sum(backend.Sigmoid(x))

	// sigmoid'(0) = 0.25
	checkGrad(t, backend.Gradients(loss), x, []float32{0.25})
}

func TestGradientMatMul(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{1, 2}, tensor.Shape{1, 2})
	w := raw(t, backend, []float32{3, 4}, tensor.Shape{2, 1})
	loss := backend.Sum(backend.MatMul(x, w))

	grads := backend.Gradients(loss)
	// d/dx = w^T, d/dw = x^T
	checkGrad(t, grads, x, []float32{3, 4})
	checkGrad(t, grads, w, []float32{1, 2})
}

func TestGradientReusedTensorAccumulates(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{2}, tensor.Shape{1})
	a := backend.MulScalar(x, 3)
	b := backend.MulScalar(x, 4)
	loss := backend.Sum(backend.Add(a, b))

	checkGrad(t, backend.Gradients(loss), x, []float32{7})
}

func TestNoRecordingNoOps(t *testing.T) {
	backend := newBackend()

	x := raw(t, backend, []float32{1, 2}, tensor.Shape{2})
	backend.Mul(x, x)

	if n := backend.Tape().NumOps(); n != 0 {
		t.Fatalf("tape recorded %d ops while stopped", n)
	}
}

func TestChunkCatRoundTripGradient(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{1, 2, 3, 4}, tensor.Shape{4, 1})
	parts := backend.Chunk(x, 2, 0)
	whole := backend.Cat(parts, 0)
	loss := backend.Sum(whole)

	checkGrad(t, backend.Gradients(loss), x, []float32{1, 1, 1, 1})
}

func TestBackwardRestoresRecording(t *testing.T) {
	backend := newBackend()
	backend.Tape().StartRecording()
	defer backend.Tape().Clear()

	x := raw(t, backend, []float32{1}, tensor.Shape{1})
	loss := backend.Sum(x)
	backend.Gradients(loss)

	if !backend.Tape().IsRecording() {
		t.Fatal("recording not restored after backward")
	}
}
