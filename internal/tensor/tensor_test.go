package tensor_test

import (
	"testing"

	"github.com/bevgrid-ml/bevgrid/internal/backend/cpu"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

func TestShapeBasics(t *testing.T) {
	s := tensor.Shape{2, 3, 4}
	if s.NumElements() != 24 {
		t.Fatalf("NumElements = %d, want 24", s.NumElements())
	}
	if s.Rank() != 3 {
		t.Fatalf("Rank = %d, want 3", s.Rank())
	}
	if !s.Equal(tensor.Shape{2, 3, 4}) {
		t.Fatal("Equal returned false for identical shapes")
	}
	if s.Equal(tensor.Shape{2, 3}) || s.Equal(tensor.Shape{2, 3, 5}) {
		t.Fatal("Equal returned true for different shapes")
	}
	if got := s.String(); got != "[2, 3, 4]" {
		t.Fatalf("String = %q", got)
	}
}

func TestShapeStrides(t *testing.T) {
	s := tensor.Shape{2, 3, 4}
	strides := s.Strides()
	want := []int{12, 4, 1}
	for i := range want {
		if strides[i] != want[i] {
			t.Fatalf("Strides = %v, want %v", strides, want)
		}
	}
}

func TestShapeCloneIsIndependent(t *testing.T) {
	s := tensor.Shape{2, 3}
	c := s.Clone()
	c[0] = 99
	if s[0] != 2 {
		t.Fatal("Clone shares backing array with original")
	}
}

func TestNewRawRejectsInvalidShape(t *testing.T) {
	if _, err := tensor.NewRaw(tensor.Shape{2, 0}, tensor.Float32, tensor.HostDevice); err == nil {
		t.Fatal("expected error for zero dimension")
	}
	if _, err := tensor.NewRaw(tensor.Shape{-1, 4}, tensor.Float32, tensor.HostDevice); err == nil {
		t.Fatal("expected error for negative dimension")
	}
}

func TestRawTensorAllocation(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.HostDevice)
	if err != nil {
		t.Fatal(err)
	}
	if raw.ByteSize() != 24 {
		t.Fatalf("ByteSize = %d, want 24", raw.ByteSize())
	}
	data := raw.AsFloat32()
	if len(data) != 6 {
		t.Fatalf("AsFloat32 length = %d, want 6", len(data))
	}
	for i, v := range data {
		if v != 0 {
			t.Fatalf("element %d = %v, want zero fill", i, v)
		}
	}
}

func TestRawTensorDTypeViewPanics(t *testing.T) {
	raw := tensor.MustNewRaw(tensor.Shape{4}, tensor.Int32, tensor.HostDevice)
	defer func() {
		if recover() == nil {
			t.Fatal("AsFloat32 on int32 tensor did not panic")
		}
	}()
	raw.AsFloat32()
}

func TestWithShapeSharesBuffer(t *testing.T) {
	raw := tensor.MustNewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.HostDevice)
	view := raw.WithShape(tensor.Shape{3, 2})
	raw.AsFloat32()[0] = 7
	if view.AsFloat32()[0] != 7 {
		t.Fatal("WithShape view does not share the buffer")
	}
	if !view.Shape().Equal(tensor.Shape{3, 2}) {
		t.Fatalf("view shape = %v", view.Shape())
	}
}

func TestWithShapePanicsOnElementMismatch(t *testing.T) {
	raw := tensor.MustNewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.HostDevice)
	defer func() {
		if recover() == nil {
			t.Fatal("WithShape with mismatched element count did not panic")
		}
	}()
	raw.WithShape(tensor.Shape{2, 2})
}

func TestCloneIsDeep(t *testing.T) {
	raw := tensor.MustNewRaw(tensor.Shape{3}, tensor.Float32, tensor.HostDevice)
	raw.AsFloat32()[1] = 5
	clone := raw.Clone()
	clone.AsFloat32()[1] = 9
	if raw.AsFloat32()[1] != 5 {
		t.Fatal("Clone shares data with original")
	}
}

func TestToDeviceRetags(t *testing.T) {
	raw := tensor.MustNewRaw(tensor.Shape{2}, tensor.Float32, tensor.HostDevice)
	raw.ToDevice(tensor.GPUDevice(1))
	if raw.Device() != tensor.GPUDevice(1) {
		t.Fatalf("Device = %v, want gpu:1", raw.Device())
	}
}

func TestDeviceString(t *testing.T) {
	if got := tensor.HostDevice.String(); got != "host" {
		t.Fatalf("host device string = %q", got)
	}
	if got := tensor.GPUDevice(2).String(); got != "gpu:2" {
		t.Fatalf("gpu device string = %q", got)
	}
}

func TestDataTypeSizes(t *testing.T) {
	cases := []struct {
		dt   tensor.DataType
		size int
		name string
	}{
		{tensor.Float32, 4, "float32"},
		{tensor.Int32, 4, "int32"},
		{tensor.Uint8, 1, "uint8"},
		{tensor.Bool, 1, "bool"},
	}
	for _, c := range cases {
		if c.dt.Size() != c.size {
			t.Errorf("%s size = %d, want %d", c.name, c.dt.Size(), c.size)
		}
		if c.dt.String() != c.name {
			t.Errorf("String = %q, want %q", c.dt.String(), c.name)
		}
	}
}

func TestFromSlice(t *testing.T) {
	b := cpu.NewSequential()
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, b)
	if err != nil {
		t.Fatal(err)
	}
	if !x.Shape().Equal(tensor.Shape{2, 2}) {
		t.Fatalf("shape = %v", x.Shape())
	}
	if x.Data()[3] != 4 {
		t.Fatalf("data = %v", x.Data())
	}
	if x.DType() != tensor.Float32 {
		t.Fatalf("dtype = %v", x.DType())
	}
}

func TestFromSliceShapeMismatch(t *testing.T) {
	b := cpu.NewSequential()
	if _, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{2, 2}, b); err == nil {
		t.Fatal("expected error for shape/length mismatch")
	}
}

func TestCreationHelpers(t *testing.T) {
	b := cpu.NewSequential()
	ones := tensor.Ones(tensor.Shape{2, 2}, b)
	for _, v := range ones.Data() {
		if v != 1 {
			t.Fatalf("Ones data = %v", ones.Data())
		}
	}
	full := tensor.Full(tensor.Shape{3}, 2.5, b)
	for _, v := range full.Data() {
		if v != 2.5 {
			t.Fatalf("Full data = %v", full.Data())
		}
	}
	s := tensor.Scalar(7, b)
	if !s.Shape().Equal(tensor.Shape{1}) || s.Data()[0] != 7 {
		t.Fatalf("Scalar = %v %v", s.Shape(), s.Data())
	}
	z := tensor.Zeros[int32](tensor.Shape{4}, b)
	if z.DType() != tensor.Int32 {
		t.Fatalf("Zeros dtype = %v", z.DType())
	}
}
