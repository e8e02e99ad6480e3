package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

const workgroupSize = 256

// compileShader compiles WGSL source into a cached shader module.
func (b *Backend) compileShader(name, code string) *wgpu.ShaderModule {
	b.mu.RLock()
	if shader, ok := b.shaders[name]; ok {
		b.mu.RUnlock()
		return shader
	}
	b.mu.RUnlock()

	shader := b.device.CreateShaderModuleWGSL(code)

	b.mu.Lock()
	b.shaders[name] = shader
	b.mu.Unlock()
	return shader
}

// pipeline returns a cached compute pipeline for the shader.
func (b *Backend) pipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	b.mu.RLock()
	if p, ok := b.pipelines[name]; ok {
		b.mu.RUnlock()
		return p
	}
	b.mu.RUnlock()

	p := b.device.CreateComputePipelineSimple(nil, shader, "main")

	b.mu.Lock()
	b.pipelines[name] = p
	b.mu.Unlock()
	return p
}

// createBuffer creates a GPU buffer initialised with data.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buffer.GetMappedRange(0, size)), size)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// createUniformBuffer creates a 16-byte aligned uniform buffer.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := (uint64(len(data)) + 15) &^ 15
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mapped := unsafe.Slice((*byte)(buffer.GetMappedRange(0, size)), size)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// readBuffer copies a storage buffer back to host memory through a staging
// buffer, since storage buffers cannot be mapped directly.
func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	mapped := unsafe.Slice((*byte)(staging.GetMappedRange(0, size)), size)
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

// dispatch binds the buffers in order and runs the pipeline over groups
// workgroups.
func (b *Backend) dispatch(name, code string, buffers []*wgpu.Buffer, groups uint32) error {
	shader := b.compileShader(name, code)
	pipe := b.pipeline(name, shader)

	entries := make([]wgpu.BindGroupEntry, len(buffers))
	for i, buf := range buffers {
		entries[i] = wgpu.BufferBindingEntry(uint32(i), buf, 0, buf.GetSize())
	}
	bindGroup := b.device.CreateBindGroupSimple(pipe.GetBindGroupLayout(0), entries)
	if bindGroup == nil {
		return fmt.Errorf("webgpu: create bind group failed")
	}
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))
	return nil
}

// runElementwise executes an element-wise shader over float32 inputs.
func (b *Backend) runElementwise(shader shaderSource, inputs []*tensor.RawTensor, outShape tensor.Shape) (*tensor.RawTensor, error) {
	out := tensor.MustNewRaw(outShape, tensor.Float32, b.deviceID)
	n := out.NumElements()

	buffers := make([]*wgpu.Buffer, 0, len(inputs)+2)
	for _, in := range inputs {
		buf := b.createBuffer(in.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
		defer buf.Release()
		buffers = append(buffers, buf)
	}
	outBuf := b.createBuffer(out.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer outBuf.Release()
	buffers = append(buffers, outBuf)

	params := make([]byte, 4)
	binary.LittleEndian.PutUint32(params, uint32(n))
	paramBuf := b.createUniformBuffer(params)
	defer paramBuf.Release()
	buffers = append(buffers, paramBuf)

	groups := uint32((n + workgroupSize - 1) / workgroupSize)
	if err := b.dispatch(shader.name, shader.code, buffers, groups); err != nil {
		return nil, err
	}

	result, err := b.readBuffer(outBuf, uint64(len(out.Data())))
	if err != nil {
		return nil, err
	}
	copy(out.Data(), result)
	return out, nil
}

// runScalar executes a scalar-operand shader.
func (b *Backend) runScalar(name string, x *tensor.RawTensor, s float32) (*tensor.RawTensor, error) {
	out := tensor.MustNewRaw(x.Shape(), tensor.Float32, b.deviceID)
	n := out.NumElements()

	inBuf := b.createBuffer(x.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer inBuf.Release()
	outBuf := b.createBuffer(out.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer outBuf.Release()

	params := make([]byte, 8)
	binary.LittleEndian.PutUint32(params, uint32(n))
	binary.LittleEndian.PutUint32(params[4:], math.Float32bits(s))
	paramBuf := b.createUniformBuffer(params)
	defer paramBuf.Release()

	shader := scalarShader(name)
	groups := uint32((n + workgroupSize - 1) / workgroupSize)
	if err := b.dispatch(shader.name, shader.code, []*wgpu.Buffer{inBuf, outBuf, paramBuf}, groups); err != nil {
		return nil, err
	}

	result, err := b.readBuffer(outBuf, uint64(len(out.Data())))
	if err != nil {
		return nil, err
	}
	copy(out.Data(), result)
	return out, nil
}

// runMatMul executes the tiled matmul shader on [M, K] x [K, N].
func (b *Backend) runMatMul(a, other *tensor.RawTensor) (*tensor.RawTensor, error) {
	as, bs := a.Shape(), other.Shape()
	if len(as) != 2 || len(bs) != 2 || as[1] != bs[0] {
		return nil, fmt.Errorf("webgpu: matmul shapes %v x %v", as, bs)
	}
	if a.DType() != tensor.Float32 || other.DType() != tensor.Float32 {
		return nil, fmt.Errorf("webgpu: matmul needs float32")
	}
	m, k, n := as[0], as[1], bs[1]

	out := tensor.MustNewRaw(tensor.Shape{m, n}, tensor.Float32, b.deviceID)

	aBuf := b.createBuffer(a.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer aBuf.Release()
	bBuf := b.createBuffer(other.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bBuf.Release()
	outBuf := b.createBuffer(out.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer outBuf.Release()

	params := make([]byte, 12)
	binary.LittleEndian.PutUint32(params, uint32(m))
	binary.LittleEndian.PutUint32(params[4:], uint32(k))
	binary.LittleEndian.PutUint32(params[8:], uint32(n))
	paramBuf := b.createUniformBuffer(params)
	defer paramBuf.Release()

	groupsX := uint32((n + 15) / 16)
	groupsY := uint32((m + 15) / 16)
	shader := b.compileShader("matmul", matmulWGSL)
	pipe := b.pipeline("matmul", shader)

	bindGroup := b.device.CreateBindGroupSimple(pipe.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, aBuf, 0, aBuf.GetSize()),
		wgpu.BufferBindingEntry(1, bBuf, 0, bBuf.GetSize()),
		wgpu.BufferBindingEntry(2, outBuf, 0, outBuf.GetSize()),
		wgpu.BufferBindingEntry(3, paramBuf, 0, paramBuf.GetSize()),
	})
	if bindGroup == nil {
		return nil, fmt.Errorf("webgpu: create bind group failed")
	}
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipe)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groupsX, groupsY, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	result, err := b.readBuffer(outBuf, uint64(len(out.Data())))
	if err != nil {
		return nil, err
	}
	copy(out.Data(), result)
	return out, nil
}
