// Package evaluate measures how far a decoded frame is from its original.
package evaluate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// DefaultFScoreThreshold is the match radius, in metres, for FScore.
const DefaultFScoreThreshold = 0.02

// ErrEmptyCloud is returned when either cloud has no returns.
var ErrEmptyCloud = errors.New("point cloud has no returns")

// Residual summarises |original - decoded| over the original's valid pixels.
type Residual struct {
	Max    float64
	Mean   float64
	Pixels int
}

// Residuals compares two range images of the same shape. Pixels empty in
// the original are ignored.
func Residuals(original, decoded *rangeimage.Image) (Residual, error) {
	if !original.SameShape(decoded) {
		return Residual{}, fmt.Errorf("image shapes differ: %dx%d vs %dx%d",
			original.Height, original.Width, decoded.Height, decoded.Width)
	}
	var r Residual
	var sum float64
	for i, d := range original.Depth {
		if !original.Valid(i) {
			continue
		}
		e := math.Abs(d - decoded.Depth[i])
		r.Max = math.Max(r.Max, e)
		sum += e
		r.Pixels++
	}
	if r.Pixels > 0 {
		r.Mean = sum / float64(r.Pixels)
	}
	return r, nil
}

// CloudMetrics compares two point clouds by nearest neighbours.
type CloudMetrics struct {
	// ChamferForward is the mean distance from each original point to the
	// nearest decoded point, ChamferBackward the reverse.
	ChamferForward  float64
	ChamferBackward float64
	// Chamfer is the mean of both directions.
	Chamfer float64

	Threshold float64
	// Precision is the share of decoded points within Threshold of the
	// original, Recall the share of original points within Threshold of the
	// decoded cloud.
	Precision float64
	Recall    float64
	FScore    float64
}

// CompareClouds computes chamfer distance and F-score. Points at the origin
// are empty cells and are dropped from both clouds first.
func CompareClouds(original, decoded []r3.Vec, threshold float64) (CloudMetrics, error) {
	a, b := nonEmpty(original), nonEmpty(decoded)
	if len(a) == 0 || len(b) == 0 {
		return CloudMetrics{}, ErrEmptyCloud
	}
	fwd, recall := nearestStats(a, newIndex(b), threshold)
	bwd, precision := nearestStats(b, newIndex(a), threshold)

	m := CloudMetrics{
		ChamferForward:  fwd,
		ChamferBackward: bwd,
		Chamfer:         (fwd + bwd) / 2,
		Threshold:       threshold,
		Precision:       precision,
		Recall:          recall,
	}
	if precision+recall > 0 {
		m.FScore = 2 * precision * recall / (precision + recall)
	}
	return m, nil
}

func nonEmpty(pts []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, 0, len(pts))
	for _, p := range pts {
		if p.X != 0 || p.Y != 0 || p.Z != 0 {
			out = append(out, p)
		}
	}
	return out
}

func newIndex(pts []r3.Vec) *kdtree.Tree {
	kp := make(kdtree.Points, len(pts))
	for i, p := range pts {
		kp[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	return kdtree.New(kp, false)
}

// nearestStats returns the mean nearest-neighbour distance of queries into
// tree and the share of queries whose neighbour lies within threshold.
func nearestStats(queries []r3.Vec, tree *kdtree.Tree, threshold float64) (mean, within float64) {
	var sum float64
	var hits int
	for _, q := range queries {
		// kdtree.Point distances are squared.
		_, d2 := tree.Nearest(kdtree.Point{q.X, q.Y, q.Z})
		d := math.Sqrt(d2)
		sum += d
		if d < threshold {
			hits++
		}
	}
	n := float64(len(queries))
	return sum / n, float64(hits) / n
}
