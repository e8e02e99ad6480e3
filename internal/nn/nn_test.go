package nn_test

import (
	"math"
	"testing"

	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func almost(a, b float32) bool {
	diff := float64(a - b)
	return math.Abs(diff) < 1e-4
}

func TestLinearForward(t *testing.T) {
	backend := cpu.NewSequential()
	layer := nn.NewLinear(2, 3, backend)

	// Overwrite the random initialisation with known values.
	copy(layer.Weight().Tensor().Data(), []float32{1, 0, 0, 1, 1, 1})
	copy(layer.Bias().Tensor().Data(), []float32{0, 0, 10})

	input, err := tensor.FromSlice([]float32{2, 5}, tensor.Shape{1, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := layer.Forward(input)

	if !out.Shape().Equal(tensor.Shape{1, 3}) {
		t.Fatalf("shape %v", out.Shape())
	}
	got := out.Data()
	want := []float32{2, 5, 17}
	for i := range want {
		if !almost(got[i], want[i]) {
			t.Fatalf("output[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLinearShapeCheck(t *testing.T) {
	backend := cpu.NewSequential()
	layer := nn.NewLinear(4, 2, backend)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on feature mismatch")
		}
	}()
	input, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{1, 3}, backend)
	layer.Forward(input)
}

func TestConv2DOutputShape(t *testing.T) {
	backend := cpu.NewSequential()
	conv := nn.NewConv2D(3, 8, 3, 2, 1, true, backend)

	input := tensor.Randn(tensor.Shape{2, 3, 16, 16}, backend)
	out := conv.Forward(input)

	if !out.Shape().Equal(tensor.Shape{2, 8, 8, 8}) {
		t.Fatalf("shape %v", out.Shape())
	}
	if len(conv.Parameters()) != 2 {
		t.Fatalf("expected weight and bias, got %d parameters", len(conv.Parameters()))
	}
}

func TestConv2DNoBias(t *testing.T) {
	backend := cpu.NewSequential()
	conv := nn.NewConv2D(3, 8, 1, 1, 0, false, backend)

	if conv.Bias() != nil {
		t.Fatal("bias should be nil")
	}
	if len(conv.Parameters()) != 1 {
		t.Fatalf("expected weight only, got %d parameters", len(conv.Parameters()))
	}
}

func TestBatchNormTrainingNormalises(t *testing.T) {
	backend := cpu.NewSequential()
	bn := nn.NewBatchNorm2D(1, backend)

	input, err := tensor.FromSlice([]float32{10, 12, 14, 16}, tensor.Shape{1, 1, 2, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := bn.Forward(input)

	var mean float32
	for _, v := range out.Data() {
		mean += v
	}
	mean /= 4
	if !almost(mean, 0) {
		t.Fatalf("normalised mean %v, want 0", mean)
	}
}

func TestBatchNormEvalUsesRunningStats(t *testing.T) {
	backend := cpu.NewSequential()
	bn := nn.NewBatchNorm2D(1, backend)
	bn.SetTraining(false)

	// Fresh running stats are mean 0, var 1, so eval mode is near identity.
	input, err := tensor.FromSlice([]float32{1, -1, 2, -2}, tensor.Shape{1, 1, 2, 2}, backend)
	if err != nil {
		t.Fatal(err)
	}
	out := bn.Forward(input)

	in, got := input.Data(), out.Data()
	for i := range in {
		if !almost(got[i], in[i]) {
			t.Fatalf("eval output[%d] = %v, want %v", i, got[i], in[i])
		}
	}
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	backend := cpu.NewSequential()
	drop := nn.NewDropout(0.5, backend)
	drop.SetTraining(false)

	input := tensor.Ones(tensor.Shape{1, 100}, backend)
	out := drop.Forward(input)
	for i, v := range out.Data() {
		if v != 1 {
			t.Fatalf("eval dropout changed element %d to %v", i, v)
		}
	}
}

func TestDropoutAlwaysOnMasksInEval(t *testing.T) {
	backend := cpu.NewSequential()
	drop := nn.NewDropout(0.5, backend)
	drop.AlwaysOn = true
	drop.SetTraining(false)

	input := tensor.Ones(tensor.Shape{1, 1000}, backend)
	out := drop.Forward(input)

	zeros := 0
	for _, v := range out.Data() {
		if v == 0 {
			zeros++
		}
	}
	if zeros == 0 {
		t.Fatal("always-on dropout dropped nothing in eval mode")
	}
}

func TestSequentialForwardAndParameters(t *testing.T) {
	backend := cpu.NewSequential()
	seq := nn.NewSequential[*cpu.CPUBackend](
		nn.NewLinear(4, 8, backend),
		nn.NewReLU[*cpu.CPUBackend](),
		nn.NewLinear(8, 2, backend),
	)

	input := tensor.Randn(tensor.Shape{3, 4}, backend)
	out := seq.Forward(input)
	if !out.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("shape %v", out.Shape())
	}
	if len(seq.Parameters()) != 4 {
		t.Fatalf("expected 4 parameters, got %d", len(seq.Parameters()))
	}
}

func TestSequentialPropagatesTrainingMode(t *testing.T) {
	backend := cpu.NewSequential()
	drop := nn.NewDropout(0.9, backend)
	seq := nn.NewSequential[*cpu.CPUBackend](drop)
	seq.SetTraining(false)

	input := tensor.Ones(tensor.Shape{1, 50}, backend)
	out := seq.Forward(input)
	for _, v := range out.Data() {
		if v != 1 {
			t.Fatal("dropout still active after SetTraining(false)")
		}
	}
}

func TestUpsampleAndPoolShapes(t *testing.T) {
	backend := cpu.NewSequential()
	input := tensor.Randn(tensor.Shape{1, 2, 5, 5}, backend)

	up := nn.NewUpsample[*cpu.CPUBackend](2, backend).Forward(input)
	if !up.Shape().Equal(tensor.Shape{1, 2, 10, 10}) {
		t.Fatalf("upsample shape %v", up.Shape())
	}

	pool := nn.NewMaxPool2D[*cpu.CPUBackend](2, 2, backend).Forward(input)
	if !pool.Shape().Equal(tensor.Shape{1, 2, 2, 2}) {
		t.Fatalf("pool shape %v", pool.Shape())
	}
}

func TestMoveParameters(t *testing.T) {
	backend := cpu.NewSequential()
	layer := nn.NewLinear(2, 2, backend)

	gpu := tensor.GPUDevice(1)
	nn.MoveParameters(layer.Parameters(), gpu)
	for _, p := range layer.Parameters() {
		if p.Tensor().Device() != gpu {
			t.Fatalf("parameter %s on %v", p.Name(), p.Tensor().Device())
		}
	}
}
