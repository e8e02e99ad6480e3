package optim

// MultiStepLR decays the optimiser's learning rate by gamma at each
// milestone epoch. Milestones must be sorted ascending.
type MultiStepLR struct {
	optimizer  Optimizer
	baseLR     float32
	gamma      float32
	milestones []int
}

// NewMultiStepLR wraps an optimiser with a milestone schedule. The base
// learning rate is the optimiser's rate at construction time.
func NewMultiStepLR(o Optimizer, milestones []int, gamma float32) *MultiStepLR {
	return &MultiStepLR{
		optimizer:  o,
		baseLR:     o.LR(),
		gamma:      gamma,
		milestones: milestones,
	}
}

// Epoch sets the learning rate for the given zero-based epoch. Calling it
// with an arbitrary epoch is valid, which makes resuming from a checkpoint
// a single call.
func (s *MultiStepLR) Epoch(epoch int) {
	lr := s.baseLR
	for _, m := range s.milestones {
		if epoch >= m {
			lr *= s.gamma
		}
	}
	s.optimizer.SetLR(lr)
}
