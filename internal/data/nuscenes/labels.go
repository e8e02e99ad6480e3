package nuscenes

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Ground-truth grids are stored as 16-bit grayscale PNGs, one pixel per
// BEV cell. Bit c of a pixel marks class c as occupied; the bit after the
// last class marks cells that are invisible to the camera. Image rows run
// near to far.

// DecodeLabels reads a label PNG into a [C, depth, width] occupancy grid
// and a [1, depth, width] visibility mask.
func DecodeLabels(path string, numClass int) (labels, mask *tensor.RawTensor, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("nuscenes: open labels: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("nuscenes: decode labels %s: %w", path, err)
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		return nil, nil, fmt.Errorf("nuscenes: labels %s: want 16-bit grayscale, got %T", path, img)
	}

	bounds := gray.Bounds()
	depth, width := bounds.Dy(), bounds.Dx()
	labels = tensor.MustNewRaw(tensor.Shape{numClass, depth, width}, tensor.Float32, tensor.HostDevice)
	mask = tensor.MustNewRaw(tensor.Shape{1, depth, width}, tensor.Float32, tensor.HostDevice)

	labelData := labels.AsFloat32()
	maskData := mask.AsFloat32()
	plane := depth * width
	for r := 0; r < depth; r++ {
		for x := 0; x < width; x++ {
			v := gray.Gray16At(bounds.Min.X+x, bounds.Min.Y+r).Y
			cell := r*width + x
			for c := 0; c < numClass; c++ {
				if v&(1<<uint(c)) != 0 {
					labelData[c*plane+cell] = 1
				}
			}
			if v&(1<<uint(numClass)) == 0 {
				maskData[cell] = 1
			}
		}
	}
	return labels, mask, nil
}

// EncodeLabels writes an occupancy grid and visibility mask as a label PNG.
func EncodeLabels(path string, labels, mask *tensor.RawTensor) error {
	shape := labels.Shape()
	numClass, depth, width := shape[0], shape[1], shape[2]
	if numClass+1 > 16 {
		return fmt.Errorf("nuscenes: %d classes exceed the 16-bit label encoding", numClass)
	}

	labelData := labels.AsFloat32()
	maskData := mask.AsFloat32()
	plane := depth * width

	img := image.NewGray16(image.Rect(0, 0, width, depth))
	for r := 0; r < depth; r++ {
		for x := 0; x < width; x++ {
			cell := r*width + x
			var v uint16
			for c := 0; c < numClass; c++ {
				if labelData[c*plane+cell] != 0 {
					v |= 1 << uint(c)
				}
			}
			if maskData[cell] == 0 {
				v |= 1 << uint(numClass)
			}
			img.SetGray16(x, r, color.Gray16{Y: v})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nuscenes: create labels: %w", err)
	}
	defer f.Close()
	return png.Encode(f, img)
}
