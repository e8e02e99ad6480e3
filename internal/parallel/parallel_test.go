package parallel_test

import (
	"sort"
	"sync/atomic"
	"testing"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
)

func TestForVisitsEveryIndex(t *testing.T) {
	cfg := parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	const n = 1000

	var visits [n]int32
	parallel.For(n, func(i int) {
		atomic.AddInt32(&visits[i], 1)
	}, cfg)

	for i, v := range visits {
		if v != 1 {
			t.Fatalf("index %d visited %d times", i, v)
		}
	}
}

func TestForSequentialFallback(t *testing.T) {
	cfg := parallel.Config{Enabled: false}

	order := make([]int, 0, 5)
	parallel.For(5, func(i int) {
		order = append(order, i)
	}, cfg)

	for i, got := range order {
		if got != i {
			t.Fatalf("sequential order = %v", order)
		}
	}
}

func TestForBatchCoversGrid(t *testing.T) {
	cfg := parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1}

	var count int32
	var badPair int32
	parallel.ForBatch(3, 4, func(b, c int) {
		if b < 0 || b >= 3 || c < 0 || c >= 4 {
			atomic.AddInt32(&badPair, 1)
		}
		atomic.AddInt32(&count, 1)
	}, cfg)

	if count != 12 {
		t.Fatalf("visited %d cells, want 12", count)
	}
	if badPair != 0 {
		t.Fatalf("%d out-of-range (b, c) pairs", badPair)
	}
}

func TestMapDeliversAllResults(t *testing.T) {
	out := make(chan int, 2)
	parallel.Map(10, 3, func(i int) int { return i * i }, out, nil)

	var got []int
	for v := range out {
		got = append(got, v)
	}
	sort.Ints(got)

	if len(got) != 10 {
		t.Fatalf("received %d results, want 10", len(got))
	}
	for i, v := range got {
		if v != i*i {
			t.Fatalf("sorted results = %v", got)
		}
	}
}

func TestMapClosesOutputWithNoJobs(t *testing.T) {
	out := make(chan int)
	parallel.Map(0, 2, func(i int) int { return i }, out, nil)
	if _, ok := <-out; ok {
		t.Fatal("expected closed channel for zero jobs")
	}
}

func TestMapStopsOnDone(t *testing.T) {
	out := make(chan int, 1)
	done := make(chan struct{})
	parallel.Map(1000, 4, func(i int) int { return i }, out, done)

	if _, ok := <-out; !ok {
		t.Fatal("expected a first result")
	}
	close(done)

	// Remaining jobs are abandoned; the channel still closes.
	n := 1
	for range out {
		n++
	}
	if n >= 1000 {
		t.Fatalf("received %d results after done closed", n)
	}
}

func TestMapClampsWorkerCount(t *testing.T) {
	out := make(chan int, 1)
	parallel.Map(3, 0, func(i int) int { return i }, out, nil)

	n := 0
	for range out {
		n++
	}
	if n != 3 {
		t.Fatalf("received %d results, want 3", n)
	}
}
