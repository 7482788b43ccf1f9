package ground

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Metric names accepted by ParseMetric and the distance_metric config key.
const (
	MetricPointToPlane = "point_to_plane"
	MetricVertical     = "vertical"
	MetricRayDepth     = "ray_depth"
)

// DistanceMetric measures how far a reconstructed point is from a plane.
//
// The label assignment at encode time uses PointToPlane. The training data
// loader used the same formula with a looser threshold, and an alternative
// along-the-ray residual (RayDepth) exists but is not wired by default.
// Which one the residual model was trained against is unresolved, so the
// caller always picks one explicitly.
type DistanceMetric interface {
	Name() string
	Distance(p r3.Vec, pl Plane) float64
}

// PointToPlane is the perpendicular Euclidean distance
// |a·x+b·y+c·z+d| / ‖(a,b,c)‖.
type PointToPlane struct{}

func (PointToPlane) Name() string { return MetricPointToPlane }

func (PointToPlane) Distance(p r3.Vec, pl Plane) float64 {
	n := r3.Norm(pl.Normal())
	if n == 0 {
		return math.Inf(1)
	}
	return math.Abs(pl.Eval(p)) / n
}

// Vertical is the height of the point above or below the plane measured
// along Z: |a·x+b·y+c·z+d| / |c|. A vertical plane has no height, so every
// point is infinitely far from it.
type Vertical struct{}

func (Vertical) Name() string { return MetricVertical }

func (Vertical) Distance(p r3.Vec, pl Plane) float64 {
	if pl.C == 0 {
		return math.Inf(1)
	}
	return math.Abs(pl.Eval(p)) / math.Abs(pl.C)
}

// RayDepth is the difference between the point's range and the range at
// which its own ray hits the plane: |r - r'| with r' = -d / (n·u).
type RayDepth struct{}

func (RayDepth) Name() string { return MetricRayDepth }

func (RayDepth) Distance(p r3.Vec, pl Plane) float64 {
	r := r3.Norm(p)
	if r == 0 {
		return math.Inf(1)
	}
	denom := r3.Dot(pl.Normal(), r3.Scale(1/r, p))
	if denom == 0 {
		return math.Inf(1)
	}
	return math.Abs(r + pl.D/denom)
}

// ParseMetric maps a config name to its DistanceMetric.
func ParseMetric(name string) (DistanceMetric, error) {
	switch name {
	case MetricPointToPlane:
		return PointToPlane{}, nil
	case MetricVertical:
		return Vertical{}, nil
	case MetricRayDepth:
		return RayDepth{}, nil
	}
	return nil, fmt.Errorf("unknown distance metric %q (want %s, %s or %s)",
		name, MetricPointToPlane, MetricVertical, MetricRayDepth)
}
