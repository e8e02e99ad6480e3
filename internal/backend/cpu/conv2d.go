package cpu

import (
	"fmt"
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/parallel"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func conv2dOutSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// Conv2D performs a direct 2D convolution of input [N, Cin, H, W] with
// kernel [Cout, Cin, Kh, Kw], parallel over (batch, out-channel) pairs.
func (b *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	wantFloat32("conv2d", input, kernel)
	is, ks := input.Shape(), kernel.Shape()
	if is.Rank() != 4 || ks.Rank() != 4 {
		panic(fmt.Sprintf("cpu: conv2d requires 4D tensors, got %v and %v", is, ks))
	}
	if is[1] != ks[1] {
		panic(fmt.Sprintf("cpu: conv2d channel mismatch: input %v, kernel %v", is, ks))
	}
	n, cin, h, w := is[0], is[1], is[2], is[3]
	cout, kh, kw := ks[0], ks[2], ks[3]
	oh := conv2dOutSize(h, kh, stride, padding)
	ow := conv2dOutSize(w, kw, stride, padding)
	if oh <= 0 || ow <= 0 {
		panic(fmt.Sprintf("cpu: conv2d output would be empty for input %v kernel %v", is, ks))
	}

	out := tensor.MustNewRaw(tensor.Shape{n, cout, oh, ow}, tensor.Float32, input.Device())
	id, kd, od := input.AsFloat32(), kernel.AsFloat32(), out.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(n, cout, func(bi, oc int) {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				var acc float32
				for ic := 0; ic < cin; ic++ {
					for ky := 0; ky < kh; ky++ {
						iy := oy*stride + ky - padding
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox*stride + kx - padding
							if ix < 0 || ix >= w {
								continue
							}
							acc += id[((bi*cin+ic)*h+iy)*w+ix] * kd[((oc*cin+ic)*kh+ky)*kw+kx]
						}
					}
				}
				od[((bi*cout+oc)*oh+oy)*ow+ox] = acc
			}
		}
	}, par)

	return out
}

// Conv2DInputBackward computes the input gradient of Conv2D.
func (b *CPUBackend) Conv2DInputBackward(input, kernel, outputGrad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	wantFloat32("conv2dInputBackward", input, kernel, outputGrad)
	is, ks, os := input.Shape(), kernel.Shape(), outputGrad.Shape()
	n, cin, h, w := is[0], is[1], is[2], is[3]
	cout, kh, kw := ks[0], ks[2], ks[3]
	oh, ow := os[2], os[3]

	grad := tensor.MustNewRaw(is, tensor.Float32, input.Device())
	gd, kd, od := grad.AsFloat32(), kernel.AsFloat32(), outputGrad.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(n, cin, func(bi, ic int) {
		for oc := 0; oc < cout; oc++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					g := od[((bi*cout+oc)*oh+oy)*ow+ox]
					if g == 0 {
						continue
					}
					for ky := 0; ky < kh; ky++ {
						iy := oy*stride + ky - padding
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := ox*stride + kx - padding
							if ix < 0 || ix >= w {
								continue
							}
							gd[((bi*cin+ic)*h+iy)*w+ix] += g * kd[((oc*cin+ic)*kh+ky)*kw+kx]
						}
					}
				}
			}
		}
	}, par)

	return grad
}

// Conv2DKernelBackward computes the kernel gradient of Conv2D.
func (b *CPUBackend) Conv2DKernelBackward(input, kernel, outputGrad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	wantFloat32("conv2dKernelBackward", input, kernel, outputGrad)
	is, ks, os := input.Shape(), kernel.Shape(), outputGrad.Shape()
	n, cin, h, w := is[0], is[1], is[2], is[3]
	cout, kh, kw := ks[0], ks[2], ks[3]
	oh, ow := os[2], os[3]

	grad := tensor.MustNewRaw(ks, tensor.Float32, kernel.Device())
	gd, id, od := grad.AsFloat32(), input.AsFloat32(), outputGrad.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(cout, cin, func(oc, ic int) {
		for ky := 0; ky < kh; ky++ {
			for kx := 0; kx < kw; kx++ {
				var acc float32
				for bi := 0; bi < n; bi++ {
					for oy := 0; oy < oh; oy++ {
						iy := oy*stride + ky - padding
						if iy < 0 || iy >= h {
							continue
						}
						for ox := 0; ox < ow; ox++ {
							ix := ox*stride + kx - padding
							if ix < 0 || ix >= w {
								continue
							}
							acc += id[((bi*cin+ic)*h+iy)*w+ix] * od[((bi*cout+oc)*oh+oy)*ow+ox]
						}
					}
				}
				gd[((oc*cin+ic)*kh+ky)*kw+kx] = acc
			}
		}
	}, par)

	return grad
}

// MaxPool2D applies max pooling over [N, C, H, W].
func (b *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	wantFloat32("maxpool2d", input)
	is := input.Shape()
	n, c, h, w := is[0], is[1], is[2], is[3]
	oh := (h-kernelSize)/stride + 1
	ow := (w-kernelSize)/stride + 1

	out := tensor.MustNewRaw(tensor.Shape{n, c, oh, ow}, tensor.Float32, input.Device())
	id, od := input.AsFloat32(), out.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(n, c, func(bi, ci int) {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				best := float32(math.Inf(-1))
				for ky := 0; ky < kernelSize; ky++ {
					for kx := 0; kx < kernelSize; kx++ {
						v := id[((bi*c+ci)*h+oy*stride+ky)*w+ox*stride+kx]
						if v > best {
							best = v
						}
					}
				}
				od[((bi*c+ci)*oh+oy)*ow+ox] = best
			}
		}
	}, par)

	return out
}

// MaxPool2DBackward routes each output gradient to the argmax input cell.
func (b *CPUBackend) MaxPool2DBackward(input, outputGrad *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	wantFloat32("maxpool2dBackward", input, outputGrad)
	is, os := input.Shape(), outputGrad.Shape()
	n, c, h, w := is[0], is[1], is[2], is[3]
	oh, ow := os[2], os[3]

	grad := tensor.MustNewRaw(is, tensor.Float32, input.Device())
	id, gd, od := input.AsFloat32(), grad.AsFloat32(), outputGrad.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(n, c, func(bi, ci int) {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				best := float32(math.Inf(-1))
				bestIdx := 0
				for ky := 0; ky < kernelSize; ky++ {
					for kx := 0; kx < kernelSize; kx++ {
						idx := ((bi*c+ci)*h+oy*stride+ky)*w + ox*stride + kx
						if id[idx] > best {
							best = id[idx]
							bestIdx = idx
						}
					}
				}
				gd[bestIdx] += od[((bi*c+ci)*oh+oy)*ow+ox]
			}
		}
	}, par)

	return grad
}

// Upsample repeats each spatial cell scale times along H and W.
func (b *CPUBackend) Upsample(x *tensor.RawTensor, scale int) *tensor.RawTensor {
	wantFloat32("upsample", x)
	if scale < 1 {
		panic(fmt.Sprintf("cpu: upsample scale %d < 1", scale))
	}
	is := x.Shape()
	n, c, h, w := is[0], is[1], is[2], is[3]
	oh, ow := h*scale, w*scale

	out := tensor.MustNewRaw(tensor.Shape{n, c, oh, ow}, tensor.Float32, x.Device())
	id, od := x.AsFloat32(), out.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(n, c, func(bi, ci int) {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				od[((bi*c+ci)*oh+oy)*ow+ox] = id[((bi*c+ci)*h+oy/scale)*w+ox/scale]
			}
		}
	}, par)

	return out
}

// UpsampleBackward sums each scale x scale block of the output gradient.
func (b *CPUBackend) UpsampleBackward(outputGrad *tensor.RawTensor, scale int) *tensor.RawTensor {
	wantFloat32("upsampleBackward", outputGrad)
	os := outputGrad.Shape()
	n, c, oh, ow := os[0], os[1], os[2], os[3]
	h, w := oh/scale, ow/scale

	grad := tensor.MustNewRaw(tensor.Shape{n, c, h, w}, tensor.Float32, outputGrad.Device())
	gd, od := grad.AsFloat32(), outputGrad.AsFloat32()

	par := b.par
	par.MinChunkSize = 1
	parallel.ForBatch(n, c, func(bi, ci int) {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				gd[((bi*c+ci)*h+oy/scale)*w+ox/scale] += od[((bi*c+ci)*oh+oy)*ow+ox]
			}
		}
	}, par)

	return grad
}
