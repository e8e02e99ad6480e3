// Package parallel provides goroutine-pool helpers shared by the CPU
// backend kernels and the data-loading pipeline.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behaviour.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is
// too small to amortise goroutine startup.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates a batch*channels grid, the common shape of Conv2D and
// pyramid-resampling kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	n := batch * channels
	For(n, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}

// Map runs job(i) for i in [0, n) on exactly workers goroutines and
// delivers results through out in completion order. It is the prefetch
// primitive behind the data loader: workers pull indices from a shared
// feed channel, so a slow sample never stalls more than one worker.
// Backpressure comes from the consumer of out. Closing done releases the
// workers of a consumer that stops receiving; out is closed either way
// once the workers have returned. A nil done never cancels.
func Map[R any](n, workers int, job func(i int) R, out chan<- R, done <-chan struct{}) {
	if workers < 1 {
		workers = 1
	}
	feed := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range feed {
				select {
				case out <- job(i):
				case <-done:
					return
				}
			}
		}()
	}
	go func() {
	feeding:
		for i := 0; i < n; i++ {
			select {
			case feed <- i:
			case <-done:
				break feeding
			}
		}
		close(feed)
		wg.Wait()
		close(out)
	}()
}
