package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the untyped tensor representation that backends operate on.
// Data is stored contiguously in row-major order in host memory; the device
// tag records where the tensor logically resides. Backends that keep device
// copies (WebGPU) treat host data as the source of truth and upload on use.
type RawTensor struct {
	data   []byte
	shape  Shape
	dtype  DataType
	device Device
}

// NewRaw allocates a zero-filled raw tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("tensor: invalid dimension %d in shape %v", d, shape)
		}
	}
	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		dtype:  dtype,
		device: device,
	}, nil
}

// MustNewRaw is NewRaw that panics on an invalid shape. Used by backends,
// which validate shapes before allocating results.
func MustNewRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	t, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the tensor's shape.
func (t *RawTensor) Shape() Shape { return t.shape }

// DType returns the tensor's data type.
func (t *RawTensor) DType() DataType { return t.dtype }

// Device returns the device the tensor resides on.
func (t *RawTensor) Device() Device { return t.device }

// NumElements returns the total number of elements.
func (t *RawTensor) NumElements() int { return t.shape.NumElements() }

// ByteSize returns the size of the underlying buffer in bytes.
func (t *RawTensor) ByteSize() int { return len(t.data) }

// Data returns the underlying byte buffer.
func (t *RawTensor) Data() []byte { return t.data }

// ToDevice retags the tensor onto a device. Host data stays authoritative;
// device-side copies are managed lazily by the owning backend.
func (t *RawTensor) ToDevice(d Device) {
	t.device = d
}

// WithShape returns a tensor sharing this tensor's buffer under a new shape.
// The element count must match.
func (t *RawTensor) WithShape(shape Shape) *RawTensor {
	if shape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("tensor: cannot view %v as %v", t.shape, shape))
	}
	return &RawTensor{data: t.data, shape: shape.Clone(), dtype: t.dtype, device: t.device}
}

// AsFloat32 views the buffer as []float32. Panics on dtype mismatch.
func (t *RawTensor) AsFloat32() []float32 {
	if t.dtype != Float32 {
		panic(fmt.Sprintf("tensor: AsFloat32 on %s tensor", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsInt32 views the buffer as []int32. Panics on dtype mismatch.
func (t *RawTensor) AsInt32() []int32 {
	if t.dtype != Int32 {
		panic(fmt.Sprintf("tensor: AsInt32 on %s tensor", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// AsUint8 views the buffer as []uint8. Panics on dtype mismatch.
func (t *RawTensor) AsUint8() []uint8 {
	if t.dtype != Uint8 {
		panic(fmt.Sprintf("tensor: AsUint8 on %s tensor", t.dtype))
	}
	return t.data
}

// AsBool views the buffer as []bool. Panics on dtype mismatch.
func (t *RawTensor) AsBool() []bool {
	if t.dtype != Bool {
		panic(fmt.Sprintf("tensor: AsBool on %s tensor", t.dtype))
	}
	if len(t.data) == 0 {
		return nil
	}
	return unsafe.Slice((*bool)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Clone returns a deep copy of the tensor.
func (t *RawTensor) Clone() *RawTensor {
	out := MustNewRaw(t.shape, t.dtype, t.device)
	copy(out.data, t.data)
	return out
}
