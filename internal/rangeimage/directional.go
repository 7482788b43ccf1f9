package rangeimage

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DirectionalMap holds one unit ray per cell. It is built once per sensor
// configuration and never mutated afterwards, so concurrent readers need no
// locking.
type DirectionalMap struct {
	height int
	width  int
	rays   []r3.Vec
}

// NewDirectionalMap computes the per-cell unit vectors for p.
func NewDirectionalMap(p Params) (*DirectionalMap, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	dAltitude := (p.ZAngleMax - p.ZAngleMin) / float64(p.Height)
	dAzimuth := p.XYAngleRange / float64(p.Width)

	m := &DirectionalMap{height: p.Height, width: p.Width, rays: make([]r3.Vec, p.Height*p.Width)}
	for r := 0; r < p.Height; r++ {
		altitude := float64(r)*dAltitude + p.ZAngleMin
		cosAlt, sinAlt := math.Cos(altitude), math.Sin(altitude)
		for c := 0; c < p.Width; c++ {
			azimuth := float64(c) * dAzimuth
			m.rays[r*p.Width+c] = r3.Vec{
				X: cosAlt * math.Cos(azimuth),
				Y: cosAlt * math.Sin(azimuth),
				Z: sinAlt,
			}
		}
	}
	return m, nil
}

// Height is the number of rows.
func (m *DirectionalMap) Height() int { return m.height }

// Width is the number of columns.
func (m *DirectionalMap) Width() int { return m.width }

// Ray returns the unit vector of flat cell i.
func (m *DirectionalMap) Ray(i int) r3.Vec { return m.rays[i] }

// ToPointCloud scales every ray by its cell depth. Empty cells map to the
// origin; callers must use Image.Valid to skip them rather than treating the
// origin as a coordinate.
func ToPointCloud(img *Image, m *DirectionalMap) ([]r3.Vec, error) {
	if img.Height != m.height || img.Width != m.width {
		return nil, fmt.Errorf("range image %dx%d does not match directional map %dx%d",
			img.Height, img.Width, m.height, m.width)
	}
	out := make([]r3.Vec, len(img.Depth))
	for i, d := range img.Depth {
		if d == 0 {
			continue
		}
		out[i] = r3.Scale(d, m.rays[i])
	}
	return out, nil
}
