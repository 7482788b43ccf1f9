// Package rangeimage projects point clouds onto a (row, column) depth grid
// and back.
//
// Rows index elevation from Z_ANGLE_MIN upwards and columns index azimuth
// counter-clockwise from the +X axis. A depth of 0 means "no return".
package rangeimage

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/codecerr"
)

// angleEpsilon keeps clamped elevations strictly inside the sensor field of view.
const angleEpsilon = 1e-6

// Params describes the sensor projection. Angles are in radians.
type Params struct {
	XYAngleRange  float64
	ZAngleMax     float64
	ZAngleMin     float64
	NearestRange  float64
	FurthestRange float64
	Height        int
	Width         int
}

// Validate fails fast on a projection that cannot be rasterised.
func (p Params) Validate() error {
	switch {
	case p.Height <= 0:
		return codecerr.Configf("RANGE_IMAGE_HEIGHT", "must be positive, got %d", p.Height)
	case p.Width <= 0:
		return codecerr.Configf("RANGE_IMAGE_WIDTH", "must be positive, got %d", p.Width)
	case !(p.XYAngleRange > 0):
		return codecerr.Configf("XY_ANGLE_RANGE", "must be positive, got %v", p.XYAngleRange)
	case !(p.ZAngleMax > p.ZAngleMin):
		return codecerr.Configf("Z_ANGLE_MAX", "must exceed Z_ANGLE_MIN (%v <= %v)", p.ZAngleMax, p.ZAngleMin)
	case p.NearestRange < 0:
		return codecerr.Configf("NEAREST_RANGE", "must be non-negative, got %v", p.NearestRange)
	case !(p.FurthestRange > p.NearestRange):
		return codecerr.Configf("FURTHEST_RANGE", "must exceed NEAREST_RANGE (%v <= %v)", p.FurthestRange, p.NearestRange)
	}
	return nil
}

// Image is a row-major depth grid.
type Image struct {
	Height int
	Width  int
	Depth  []float64
}

// New returns an empty (all "no return") image.
func New(height, width int) *Image {
	return &Image{Height: height, Width: width, Depth: make([]float64, height*width)}
}

// At returns the depth at (row, col).
func (im *Image) At(row, col int) float64 { return im.Depth[row*im.Width+col] }

// Set stores the depth at (row, col).
func (im *Image) Set(row, col int, d float64) { im.Depth[row*im.Width+col] = d }

// Len is the number of cells.
func (im *Image) Len() int { return len(im.Depth) }

// Valid reports whether flat cell i holds a return.
func (im *Image) Valid(i int) bool { return im.Depth[i] != 0 }

// Points counts the cells holding a return.
func (im *Image) Points() int {
	n := 0
	for _, d := range im.Depth {
		if d != 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := &Image{Height: im.Height, Width: im.Width, Depth: make([]float64, len(im.Depth))}
	copy(out.Depth, im.Depth)
	return out
}

// SameShape reports whether other has the same dimensions.
func (im *Image) SameShape(other *Image) bool {
	return other != nil && im.Height == other.Height && im.Width == other.Width
}

// FromPointCloud rasterises points into a range image.
//
// Several points may fall into one cell; the last one in input order wins.
// Points with a NaN or infinite coordinate are skipped.
func FromPointCloud(points []r3.Vec, p Params) (*Image, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	img := New(p.Height, p.Width)
	for _, pt := range points {
		if !finite(pt) {
			continue
		}
		row, col := p.Cell(pt)
		img.Set(row, col, p.clampDepth(r3.Norm(pt)))
	}
	return img, nil
}

func finite(pt r3.Vec) bool {
	for _, v := range [...]float64{pt.X, pt.Y, pt.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Cell returns the (row, col) a point projects to. pt must be finite.
func (p Params) Cell(pt r3.Vec) (row, col int) {
	xy := math.Mod(math.Atan2(pt.Y, pt.X), 2*math.Pi)
	if xy < 0 {
		xy += 2 * math.Pi
	}
	col = int(xy / p.XYAngleRange * float64(p.Width))
	// Atan2 can land exactly on 2π after the wrap; keep it in the last column.
	if col >= p.Width {
		col = p.Width - 1
	}
	if col < 0 {
		col = 0
	}

	z := math.Atan2(pt.Z, math.Hypot(pt.X, pt.Y))
	if z <= p.ZAngleMin {
		z = p.ZAngleMin + angleEpsilon
	}
	if z >= p.ZAngleMax {
		z = p.ZAngleMax - angleEpsilon
	}
	row = int(math.RoundToEven((z - p.ZAngleMin) / (p.ZAngleMax - p.ZAngleMin) * float64(p.Height-1)))
	return row, col
}

func (p Params) clampDepth(d float64) float64 {
	if d < p.NearestRange {
		return p.NearestRange
	}
	if d > p.FurthestRange {
		return p.FurthestRange
	}
	return d
}
