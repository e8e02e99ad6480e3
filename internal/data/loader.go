package data

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Sampler yields the sample indices of one epoch. A fresh call starts a
// fresh epoch.
type Sampler interface {
	Indices() []int
}

// RandomSampler draws epochSize indices with replacement, decoupling the
// epoch length from the dataset size.
type RandomSampler struct {
	n         int
	epochSize int
}

func NewRandomSampler(n, epochSize int) *RandomSampler {
	return &RandomSampler{n: n, epochSize: epochSize}
}

func (s *RandomSampler) Indices() []int {
	// An empty universe yields an empty epoch. Hold-out configs can leave
	// no training scenes behind, which is degenerate but not invalid.
	if s.n < 1 {
		return nil
	}
	indices := make([]int, s.epochSize)
	for i := range indices {
		indices[i] = rand.Intn(s.n)
	}
	return indices
}

// SequentialSampler visits every sample once, in order.
type SequentialSampler struct {
	n int
}

func NewSequentialSampler(n int) *SequentialSampler { return &SequentialSampler{n: n} }

func (s *SequentialSampler) Indices() []int {
	indices := make([]int, s.n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// Batch is a stacked run of samples. Err is set when any sample of the
// batch failed to load; the other fields are nil in that case.
type Batch struct {
	Images *tensor.RawTensor // [N, 3, H, W]
	Calibs *tensor.RawTensor // [N, 3, 3]
	Labels *tensor.RawTensor // [N, C, depth, width]
	Masks  *tensor.RawTensor // [N, 1, depth, width]
	Err    error
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	if b.Images == nil {
		return 0
	}
	return b.Images.Shape()[0]
}

// Loader assembles batches from a dataset with a pool of prefetch workers.
// Batches arrive in completion order, not sampler order.
type Loader struct {
	dataset   Dataset
	sampler   Sampler
	batchSize int
	workers   int
}

func NewLoader(dataset Dataset, sampler Sampler, batchSize, workers int) *Loader {
	if batchSize < 1 {
		panic(fmt.Sprintf("data: batch size %d", batchSize))
	}
	return &Loader{dataset: dataset, sampler: sampler, batchSize: batchSize, workers: workers}
}

// Batches starts one epoch and returns its batch channel plus a stop
// function. The channel is closed after the last batch. Consumers that
// abandon the channel early must call stop so the prefetch workers are
// released; calling it after a complete epoch is a no-op, so callers
// defer it unconditionally.
func (l *Loader) Batches() (<-chan Batch, func()) {
	indices := l.sampler.Indices()
	numBatches := (len(indices) + l.batchSize - 1) / l.batchSize

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	out := make(chan Batch, 2)
	parallel.Map(numBatches, l.workers, func(b int) Batch {
		lo := b * l.batchSize
		hi := lo + l.batchSize
		if hi > len(indices) {
			hi = len(indices)
		}
		return l.loadBatch(indices[lo:hi])
	}, out, done)
	return out, stop
}

func (l *Loader) loadBatch(indices []int) Batch {
	samples := make([]*Sample, len(indices))
	for i, idx := range indices {
		s, err := l.dataset.Sample(idx)
		if err != nil {
			return Batch{Err: fmt.Errorf("data: sample %d: %w", idx, err)}
		}
		samples[i] = s
	}

	return Batch{
		Images: stack(samples, func(s *Sample) *tensor.RawTensor { return s.Image }),
		Calibs: stack(samples, func(s *Sample) *tensor.RawTensor { return s.Calib }),
		Labels: stack(samples, func(s *Sample) *tensor.RawTensor { return s.Labels }),
		Masks:  stack(samples, func(s *Sample) *tensor.RawTensor { return s.Mask }),
	}
}

// stack concatenates per-sample tensors along a new leading batch axis.
func stack(samples []*Sample, field func(*Sample) *tensor.RawTensor) *tensor.RawTensor {
	first := field(samples[0])
	shape := append(tensor.Shape{len(samples)}, first.Shape()...)
	out := tensor.MustNewRaw(shape, first.DType(), first.Device())

	stride := len(first.Data())
	buf := out.Data()
	for i, s := range samples {
		copy(buf[i*stride:(i+1)*stride], field(s).Data())
	}
	return out
}
