// Package testutil provides shared test fixtures: a small sensor and
// synthetic street scenes with a known ground plane.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// GroundZ is the height of the synthetic road surface.
const GroundZ = -1.7

// SmallSensor is a 16×64 sensor with the KITTI HDL-64 vertical field of
// view and a 100 m range.
func SmallSensor() rangeimage.Params {
	return rangeimage.Params{
		XYAngleRange:  2 * math.Pi,
		ZAngleMax:     2.5 * math.Pi / 180,
		ZAngleMin:     -24.9 * math.Pi / 180,
		NearestRange:  0,
		FurthestRange: 100,
		Height:        16,
		Width:         64,
	}
}

// SceneOptions shape a synthetic scene.
type SceneOptions struct {
	// Dropout is the probability that a ray returns nothing.
	Dropout float64
	// Noise is the uniform half-width of the height jitter on the road.
	Noise float64
	// WallDistance places a wall in every fourth block of columns.
	WallDistance float64
}

// DefaultScene has a road, some walls at 12 m and 10% dropout.
func DefaultScene() SceneOptions {
	return SceneOptions{Dropout: 0.1, Noise: 0.02, WallDistance: 12}
}

// Scene casts one ray per directional-map cell of p. Downward rays hit the
// road at GroundZ, rays in every fourth block of 4 columns hit a wall at
// opts.WallDistance when it is nearer, and everything else returns nothing.
func Scene(rng *rand.Rand, p rangeimage.Params, opts SceneOptions) []r3.Vec {
	dmap, err := rangeimage.NewDirectionalMap(p)
	if err != nil {
		panic(err)
	}
	var pts []r3.Vec
	for r := 0; r < p.Height; r++ {
		for c := 0; c < p.Width; c++ {
			if rng.Float64() < opts.Dropout {
				continue
			}
			u := dmap.Ray(r*p.Width + c)
			dist := math.Inf(1)
			onRoad := false
			if u.Z < 0 {
				dist = GroundZ / u.Z
				onRoad = true
			}
			if opts.WallDistance > 0 && (c/4)%4 == 0 && opts.WallDistance < dist {
				dist = opts.WallDistance
				onRoad = false
			}
			if dist > 0.9*p.FurthestRange {
				continue
			}
			pt := r3.Scale(dist, u)
			if onRoad {
				pt.Z = GroundZ + (rng.Float64()*2-1)*opts.Noise
			}
			pts = append(pts, pt)
		}
	}
	return pts
}

// RandomImage fills each cell of an h×w image with a depth in [1, maxDepth)
// or leaves it empty with probability empty.
func RandomImage(rng *rand.Rand, h, w int, empty, maxDepth float64) *rangeimage.Image {
	img := rangeimage.New(h, w)
	for i := range img.Depth {
		if rng.Float64() < empty {
			continue
		}
		img.Depth[i] = 1 + rng.Float64()*(maxDepth-1)
	}
	return img
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
