package tensor

import "fmt"

// DeviceKind identifies a class of compute device.
type DeviceKind int

// Supported device kinds.
const (
	Host DeviceKind = iota // main memory, CPU backend
	GPU                    // WebGPU adapter
)

// String returns a human-readable kind name.
func (k DeviceKind) String() string {
	switch k {
	case Host:
		return "host"
	case GPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// Device names a concrete compute device. Index distinguishes between
// multiple adapters of the same kind; it is ignored for Host.
type Device struct {
	Kind  DeviceKind
	Index int
}

// HostDevice is the default placement for newly created tensors.
var HostDevice = Device{Kind: Host}

// GPUDevice returns the device for the i-th GPU adapter.
func GPUDevice(i int) Device {
	return Device{Kind: GPU, Index: i}
}

// String renders the device as "host" or "gpu:1".
func (d Device) String() string {
	if d.Kind == Host {
		return "host"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}
