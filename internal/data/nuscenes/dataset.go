package nuscenes

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	_ "image/jpeg"
	_ "image/png"

	"github.com/bevgrid-ml/bevgrid/internal/data/sample"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// Options fixes the sample geometry of a dataset.
type Options struct {
	LabelRoot   string
	NumClass    int
	ImageWidth  int
	ImageHeight int
}

// Dataset serves the front-camera keyframes of a set of scenes. Images are
// resized to the configured size with the intrinsics rescaled to match;
// labels come from the pre-rendered grids under LabelRoot.
type Dataset struct {
	catalog *Catalog
	records []Record
	opts    Options
}

// NewDataset builds a dataset over the named scenes.
func NewDataset(catalog *Catalog, sceneNames []string, opts Options) *Dataset {
	return &Dataset{
		catalog: catalog,
		records: catalog.Records(sceneNames),
		opts:    opts,
	}
}

func (d *Dataset) Len() int { return len(d.records) }

func (d *Dataset) Sample(i int) (*sample.Sample, error) {
	rec := d.records[i]

	img, sx, sy, err := d.loadImage(d.catalog.ImagePath(rec))
	if err != nil {
		return nil, err
	}

	calib := tensor.MustNewRaw(tensor.Shape{3, 3}, tensor.Float32, tensor.HostDevice)
	k := calib.AsFloat32()
	copy(k, rec.Intrinsics[:])
	k[0] *= sx // fx
	k[2] *= sx // cx
	k[4] *= sy // fy
	k[5] *= sy // cy

	labelPath := filepath.Join(d.opts.LabelRoot, rec.SampleToken+".png")
	labels, mask, err := DecodeLabels(labelPath, d.opts.NumClass)
	if err != nil {
		return nil, err
	}

	return &sample.Sample{Image: img, Calib: calib, Labels: labels, Mask: mask}, nil
}

// loadImage decodes and resizes an image to the configured size, returning
// the horizontal and vertical scale factors applied.
func (d *Dataset) loadImage(path string) (*tensor.RawTensor, float32, float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("nuscenes: open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("nuscenes: decode image %s: %w", path, err)
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	dstW, dstH := d.opts.ImageWidth, d.opts.ImageHeight

	out := tensor.MustNewRaw(tensor.Shape{3, dstH, dstW}, tensor.Float32, tensor.HostDevice)
	pixels := out.AsFloat32()
	plane := dstH * dstW

	for y := 0; y < dstH; y++ {
		srcY := bounds.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			srcX := bounds.Min.X + x*srcW/dstW
			r, g, b, _ := src.At(srcX, srcY).RGBA()
			idx := y*dstW + x
			pixels[idx] = float32(r) / 0xffff
			pixels[plane+idx] = float32(g) / 0xffff
			pixels[2*plane+idx] = float32(b) / 0xffff
		}
	}
	return out, float32(dstW) / float32(srcW), float32(dstH) / float32(srcH), nil
}
