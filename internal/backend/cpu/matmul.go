package cpu

import (
	"fmt"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// MatMul multiplies [M, K] by [K, N] into [M, N], parallel over rows.
func (b *CPUBackend) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	wantFloat32("matmul", x, y)
	xs, ys := x.Shape(), y.Shape()
	if xs.Rank() != 2 || ys.Rank() != 2 {
		panic(fmt.Sprintf("cpu: matmul requires 2D tensors, got %v and %v", xs, ys))
	}
	if xs[1] != ys[0] {
		panic(fmt.Sprintf("cpu: matmul inner dimension mismatch: %v @ %v", xs, ys))
	}
	m, k, n := xs[0], xs[1], ys[1]

	out := tensor.MustNewRaw(tensor.Shape{m, n}, tensor.Float32, x.Device())
	xd, yd, od := x.AsFloat32(), y.AsFloat32(), out.AsFloat32()

	par := b.par
	par.MinChunkSize = 1 // rows are already coarse units of work
	parallel.For(m, func(i int) {
		row := od[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			a := xd[i*k+p]
			if a == 0 {
				continue
			}
			yRow := yd[p*n : (p+1)*n]
			for j := range row {
				row[j] += a * yRow[j]
			}
		}
	}, par)

	return out
}
