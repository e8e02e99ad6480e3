package models

import (
	"fmt"
	"math"

	"github.com/bevgrid-ml/bevgrid/internal/nn"
	"github.com/bevgrid-ml/bevgrid/internal/tensor"
)

// TransformerGeometry fixes the camera and grid geometry a transformer
// pyramid is built for. The focal length and principal point are nominal
// values in pixels at full image resolution.
type TransformerGeometry struct {
	Focal       float32
	ImageWidth  int
	ImageHeight int

	// Extents is the BEV region [x1, z1, x2, z2] in metres.
	Extents [4]float32

	// YMin and YMax bound the vertical field of view in metres (camera
	// frame, y down). Feature rows whose projection falls outside the band
	// at every depth of a level carry sky or hood pixels the BEV grid
	// never sees, and are dropped before the column collapse.
	YMin float32
	YMax float32

	// Resolution is the BEV cell size in metres of the transformer output,
	// coarser than the final map resolution by the product of the topdown
	// upsampling strides.
	Resolution float32
}

// GridWidth returns the number of BEV columns at the transformer resolution.
func (g TransformerGeometry) GridWidth() int {
	return int(math.Round(float64((g.Extents[2] - g.Extents[0]) / g.Resolution)))
}

// GridDepth returns the number of BEV depth rows at the transformer
// resolution.
func (g TransformerGeometry) GridDepth() int {
	return int(math.Round(float64((g.Extents[3] - g.Extents[1]) / g.Resolution)))
}

// depthRowBounds partitions the grid depth rows into one band per pyramid
// level, finest level first. Each coarser level covers roughly double the
// depth range of the previous one, so the finest features map to the
// nearest cells. Every band gets at least one row.
func (g TransformerGeometry) depthRowBounds(levels int) []int {
	depth := g.GridDepth()
	bounds := make([]int, levels+1)
	for k := 1; k < levels; k++ {
		z := g.Extents[3] / float32(int(1)<<(levels-k))
		r := int(math.Round(float64((z - g.Extents[1]) / g.Resolution)))
		if r <= bounds[k-1] {
			r = bounds[k-1] + 1
		}
		if r > depth-(levels-k) {
			r = depth - (levels - k)
		}
		bounds[k] = r
	}
	bounds[levels] = depth
	return bounds
}

// verticalBand returns the half-open feature row range [lo, hi) that can
// project into world heights [YMin, YMax] anywhere in the depth band
// starting at cartesian row rowLo. The nearest depth of the band subtends
// the widest image band, so it bounds the union. Degenerate vertical
// bounds keep every row.
func (g TransformerGeometry) verticalBand(stride, featHeight, rowLo int) (lo, hi int) {
	if g.YMax <= g.YMin {
		return 0, featHeight
	}
	z := g.Extents[1] + float32(rowLo)*g.Resolution
	if z <= 0 {
		return 0, featHeight
	}
	cv := float32(g.ImageHeight) / 2
	lo = int(math.Floor(float64((g.Focal*g.YMin/z + cv) / float32(stride))))
	hi = int(math.Ceil(float64((g.Focal*g.YMax/z + cv) / float32(stride))))
	if lo < 0 {
		lo = 0
	}
	if hi > featHeight {
		hi = featHeight
	}
	if lo >= hi {
		if lo >= featHeight {
			lo = featHeight - 1
		}
		hi = lo + 1
	}
	return lo, hi
}

// DenseTransformer maps one pyramid level [N, C, H, W] to a band of BEV
// depth rows [N, C2, D, X]. The feature rows inside the vertical
// field-of-view band are selected, a shared linear layer collapses each
// remaining image column into a column of polar depth cells, and a
// precomputed nearest neighbour gather resamples the polar grid onto
// cartesian cells.
type DenseTransformer[B tensor.Backend] struct {
	linear *nn.Linear[B]
	bn     *nn.BatchNorm2D[B]

	inChannels  int
	outChannels int
	featHeight  int
	featWidth   int
	polarDepth  int

	// bandRows selects the feature rows inside the vertical band; nil
	// when the band covers the whole feature height.
	bandRows   []int
	bandHeight int

	// resample holds, for every cartesian cell of the output band, the
	// flattened polar index d*featWidth + u it gathers from.
	resample  []int
	cartDepth int
	cartWidth int

	backend B
}

// NewDenseTransformer builds the transformer for one level. stride is the
// image-to-feature downsampling factor, rows the half-open cartesian depth
// row range [rowLo, rowHi) this level produces.
func NewDenseTransformer[B tensor.Backend](backend B, geom TransformerGeometry, inChannels, outChannels, stride, featHeight, featWidth, rowLo, rowHi int) *DenseTransformer[B] {
	polarDepth := rowHi - rowLo
	if polarDepth < 1 {
		panic(fmt.Sprintf("models: empty depth band [%d, %d)", rowLo, rowHi))
	}
	bandLo, bandHi := geom.verticalBand(stride, featHeight, rowLo)
	bandHeight := bandHi - bandLo
	t := &DenseTransformer[B]{
		linear:      nn.NewLinear[B](inChannels*bandHeight, outChannels*polarDepth, backend),
		bn:          nn.NewBatchNorm2D[B](outChannels, backend),
		inChannels:  inChannels,
		outChannels: outChannels,
		featHeight:  featHeight,
		featWidth:   featWidth,
		polarDepth:  polarDepth,
		bandHeight:  bandHeight,
		cartDepth:   polarDepth,
		cartWidth:   geom.GridWidth(),
		backend:     backend,
	}
	if bandHeight < featHeight {
		t.bandRows = make([]int, bandHeight)
		for i := range t.bandRows {
			t.bandRows[i] = bandLo + i
		}
	}

	// Nearest-neighbour polar to cartesian mapping. Cartesian cell (r, c)
	// sits at metric (x, z); its image column is the pinhole projection
	// u = f*x/z + cu, scaled down to this level's feature grid.
	zLo := geom.Extents[1] + float32(rowLo)*geom.Resolution
	cu := float32(geom.ImageWidth) / 2
	t.resample = make([]int, t.cartDepth*t.cartWidth)
	for r := 0; r < t.cartDepth; r++ {
		z := zLo + (float32(r)+0.5)*geom.Resolution
		for c := 0; c < t.cartWidth; c++ {
			x := geom.Extents[0] + (float32(c)+0.5)*geom.Resolution
			u := int(math.Round(float64((geom.Focal*x/z + cu) / float32(stride))))
			if u < 0 {
				u = 0
			}
			if u >= featWidth {
				u = featWidth - 1
			}
			t.resample[r*t.cartWidth+c] = r*featWidth + u
		}
	}
	return t
}

// Forward maps features [N, C, H, W] to the level's BEV band [N, C2, D, X].
func (t *DenseTransformer[B]) Forward(features *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := features.Shape()
	n, h, w := shape[0], shape[2], shape[3]
	if h != t.featHeight || w != t.featWidth {
		panic(fmt.Sprintf("models: feature size %dx%d, transformer built for %dx%d",
			h, w, t.featHeight, t.featWidth))
	}

	// Collapse each image column through the shared linear layer, keeping
	// only the rows inside the vertical field of view.
	if t.bandRows != nil {
		features = features.IndexSelect(2, t.bandRows)
	}
	columns := features.Transpose(0, 3, 1, 2).Reshape(n*w, t.inChannels*t.bandHeight)
	polar := t.linear.Forward(columns).
		Reshape(n, w, t.outChannels, t.polarDepth).
		Transpose(0, 2, 3, 1)
	polar = t.bn.Forward(polar).Relu()

	// Gather cartesian cells from the flattened polar grid.
	flat := polar.Reshape(n, t.outChannels, t.polarDepth*t.featWidth)
	return flat.IndexSelect(2, t.resample).Reshape(n, t.outChannels, t.cartDepth, t.cartWidth)
}

func (t *DenseTransformer[B]) Parameters() []*nn.Parameter[B] {
	return append(t.linear.Parameters(), t.bn.Parameters()...)
}

func (t *DenseTransformer[B]) SetTraining(training bool) { t.bn.SetTraining(training) }

// OutDepth returns the number of cartesian depth rows the level produces.
func (t *DenseTransformer[B]) OutDepth() int { return t.cartDepth }

// VerticalTransformerPyramid applies a dense transformer to every feature
// pyramid level and stacks the resulting depth bands into the full BEV grid
// [N, C2, depth, width], nearest rows first.
type VerticalTransformerPyramid[B tensor.Backend] struct {
	levels      []*DenseTransformer[B]
	outChannels int
}

func NewVerticalTransformerPyramid[B tensor.Backend](backend B, geom TransformerGeometry, inChannels, outChannels int) *VerticalTransformerPyramid[B] {
	heights := FeatureSize(geom.ImageHeight)
	widths := FeatureSize(geom.ImageWidth)
	bounds := geom.depthRowBounds(len(FPNStrides))

	p := &VerticalTransformerPyramid[B]{outChannels: outChannels}
	for i, stride := range FPNStrides {
		p.levels = append(p.levels, NewDenseTransformer[B](
			backend, geom, inChannels, outChannels, stride,
			heights[i], widths[i], bounds[i], bounds[i+1]))
	}
	return p
}

// Forward expects one feature map per pyramid level, finest first.
func (p *VerticalTransformerPyramid[B]) Forward(features []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(features) != len(p.levels) {
		panic(fmt.Sprintf("models: %d feature levels, pyramid has %d", len(features), len(p.levels)))
	}
	bands := make([]*tensor.Tensor[float32, B], len(p.levels))
	for i, level := range p.levels {
		bands[i] = level.Forward(features[i])
	}
	return tensor.Cat(bands, 2)
}

func (p *VerticalTransformerPyramid[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, level := range p.levels {
		params = append(params, level.Parameters()...)
	}
	return params
}

func (p *VerticalTransformerPyramid[B]) SetTraining(training bool) {
	for _, level := range p.levels {
		level.SetTraining(training)
	}
}

// OutChannels returns the channel width of the stacked BEV grid.
func (p *VerticalTransformerPyramid[B]) OutChannels() int { return p.outChannels }
