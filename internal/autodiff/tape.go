package autodiff

import (
	"sync"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// GradientTape records operations during the forward pass and replays them
// in reverse to compute gradients. Record is mutex-guarded because the
// DataParallel wrapper runs replica forwards on concurrent goroutines over
// a shared backend.
type GradientTape struct {
	mu         sync.Mutex
	operations []Operation
	recording  bool
}

// NewGradientTape creates an empty, non-recording tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{operations: make([]Operation, 0, 64)}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = false
}

// IsRecording reports whether the tape is currently recording.
func (t *GradientTape) IsRecording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recording
}

// Record appends an operation if the tape is recording.
func (t *GradientTape) Record(op Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear drops all recorded operations; recording state is preserved.
func (t *GradientTape) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

// Backward walks the tape in reverse from output, seeding it with
// outputGrad, and returns the accumulated gradient for every tensor the
// tape touched. Gradients of tensors used more than once are summed.
func (t *GradientTape) Backward(output, outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	t.mu.Lock()
	ops := make([]Operation, len(t.operations))
	copy(ops, t.operations)
	wasRecording := t.recording
	t.recording = false
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.recording = wasRecording
		t.mu.Unlock()
	}()

	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	grads[output] = outputGrad

	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		inputGrads := inputGradsFor(op, grads, backend)
		if inputGrads == nil {
			continue
		}
		for j, input := range op.Inputs() {
			if j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			if existing, ok := grads[input]; ok {
				grads[input] = backend.Add(existing, inputGrads[j])
			} else {
				grads[input] = inputGrads[j]
			}
		}
	}

	return grads
}

func inputGradsFor(op Operation, grads map[*tensor.RawTensor]*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	if multi, ok := op.(MultiOutputOperation); ok {
		outputs := multi.Outputs()
		outputGrads := make([]*tensor.RawTensor, len(outputs))
		any := false
		for j, out := range outputs {
			if g, ok := grads[out]; ok {
				outputGrads[j] = g
				any = true
			}
		}
		if !any {
			return nil
		}
		for j, out := range outputs {
			if outputGrads[j] == nil {
				outputGrads[j] = tensor.MustNewRaw(out.Shape(), out.DType(), out.Device())
			}
		}
		return multi.BackwardMulti(outputGrads, backend)
	}

	outputGrad, ok := grads[op.Output()]
	if !ok {
		return nil
	}
	return op.Backward(outputGrad, backend)
}
