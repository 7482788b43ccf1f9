// Package ground fits the road plane of a frame and splits its pixels into
// empty, ground and non-ground classes.
package ground

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// ErrTooFewCandidates is returned when the candidate set cannot support a
// single plane hypothesis.
var ErrTooFewCandidates = errors.New("too few ground candidates for plane fit")

// Plane is a·x + b·y + c·z + d = 0.
type Plane struct {
	A, B, C, D float64
}

// Normal returns (a, b, c).
func (pl Plane) Normal() r3.Vec { return r3.Vec{X: pl.A, Y: pl.B, Z: pl.C} }

// Eval returns the signed algebraic residual a·x+b·y+c·z+d.
func (pl Plane) Eval(p r3.Vec) float64 { return r3.Dot(pl.Normal(), p) + pl.D }

// Normalized scales the plane so ‖(a,b,c)‖ = 1 with c >= 0.
func (pl Plane) Normalized() Plane {
	n := r3.Norm(pl.Normal())
	if n == 0 {
		return pl
	}
	if pl.C < 0 {
		n = -n
	}
	return Plane{A: pl.A / n, B: pl.B / n, C: pl.C / n, D: pl.D / n}
}

// FitConfig controls candidate selection and the RANSAC plane search.
type FitConfig struct {
	// CandidateHeight is the strict z bound for candidates (z < bound).
	CandidateHeight float64
	// FallbackHeight replaces CandidateHeight when the strict set has fewer
	// than MinCandidates points.
	FallbackHeight float64
	MinCandidates  int
	// SampleSize caps the strict set by sampling without replacement.
	SampleSize int

	DistanceThreshold float64
	RansacN           int
	Iterations        int
	Seed              int64
}

// Tier records which candidate rule produced a candidate set.
type Tier int

const (
	TierStrict Tier = iota
	TierFallback
)

func (t Tier) String() string {
	if t == TierFallback {
		return "fallback"
	}
	return "strict"
}

// Candidates is the low-lying point set fed to the plane fit.
type Candidates struct {
	Points []r3.Vec
	Tier   Tier
}

// SelectCandidates picks the plane-fit inputs from a reconstructed cloud.
// Points with z < CandidateHeight form the strict set. When it holds fewer
// than MinCandidates points the looser z < FallbackHeight set is used as is;
// otherwise the strict set is subsampled to SampleSize points. Empty cells
// are never candidates.
func SelectCandidates(img *rangeimage.Image, cloud []r3.Vec, cfg FitConfig, rng *rand.Rand) Candidates {
	var strict []r3.Vec
	for i, p := range cloud {
		if img.Valid(i) && p.Z < cfg.CandidateHeight {
			strict = append(strict, p)
		}
	}
	if len(strict) < cfg.MinCandidates {
		var loose []r3.Vec
		for i, p := range cloud {
			if img.Valid(i) && p.Z < cfg.FallbackHeight {
				loose = append(loose, p)
			}
		}
		diagf("strict candidate set has %d points (< %d), using fallback set of %d", len(strict), cfg.MinCandidates, len(loose))
		return Candidates{Points: loose, Tier: TierFallback}
	}
	if cfg.SampleSize > 0 && len(strict) > cfg.SampleSize {
		strict = sampleWithoutReplacement(strict, cfg.SampleSize, rng)
	}
	return Candidates{Points: strict, Tier: TierStrict}
}

func sampleWithoutReplacement(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec {
	idx := rng.Perm(len(pts))[:k]
	out := make([]r3.Vec, k)
	for i, j := range idx {
		out[i] = pts[j]
	}
	return out
}

// FitResult is the outcome of FitPlane.
type FitResult struct {
	Plane Plane
	// Inliers index into the candidate slice passed to FitPlane.
	Inliers []int
	// Iterations is the number of hypotheses that produced a usable plane.
	Iterations int
}

// FitPlane runs RANSAC over pts. Every hypothesis is the least-squares
// plane through RansacN random points; the hypothesis with the most inliers
// (ties broken by lower mean inlier distance) wins and is refit on its
// inliers. The returned plane is normalized.
func FitPlane(pts []r3.Vec, cfg FitConfig, rng *rand.Rand) (*FitResult, error) {
	if cfg.RansacN < 3 {
		return nil, fmt.Errorf("ransac_n must be at least 3, got %d", cfg.RansacN)
	}
	if len(pts) < cfg.RansacN {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewCandidates, len(pts), cfg.RansacN)
	}

	scratch := make([]int, len(pts))
	for i := range scratch {
		scratch[i] = i
	}
	sample := make([]r3.Vec, cfg.RansacN)

	var (
		best      Plane
		bestCount = -1
		bestMean  = math.Inf(1)
		usable    int
	)
	for it := 0; it < cfg.Iterations; it++ {
		// Partial Fisher-Yates over the shared index slice.
		for i := 0; i < cfg.RansacN; i++ {
			j := i + rng.Intn(len(scratch)-i)
			scratch[i], scratch[j] = scratch[j], scratch[i]
			sample[i] = pts[scratch[i]]
		}
		pl, ok := leastSquaresPlane(sample)
		if !ok {
			continue
		}
		usable++
		count, mean := scoreInliers(pts, pl, cfg.DistanceThreshold)
		tracef("iteration %d: %d inliers, mean distance %.4f", it, count, mean)
		if count > bestCount || (count == bestCount && mean < bestMean) {
			best, bestCount, bestMean = pl, count, mean
		}
	}
	if bestCount < 0 {
		return nil, fmt.Errorf("%w: every sample was degenerate", ErrTooFewCandidates)
	}

	inliers := collectInliers(pts, best, cfg.DistanceThreshold)
	if len(inliers) >= 3 {
		refit := make([]r3.Vec, len(inliers))
		for i, j := range inliers {
			refit[i] = pts[j]
		}
		if pl, ok := leastSquaresPlane(refit); ok {
			best = pl
			inliers = collectInliers(pts, best, cfg.DistanceThreshold)
		}
	}
	diagf("plane fit: %.4fx %+.4fy %+.4fz %+.4f, %d/%d inliers", best.A, best.B, best.C, best.D, len(inliers), len(pts))
	return &FitResult{Plane: best, Inliers: inliers, Iterations: usable}, nil
}

// leastSquaresPlane returns the plane through the centroid whose normal is
// the eigenvector of the smallest covariance eigenvalue.
func leastSquaresPlane(pts []r3.Vec) (Plane, bool) {
	data := make([]float64, 0, 3*len(pts))
	var centroid r3.Vec
	for _, p := range pts {
		data = append(data, p.X, p.Y, p.Z)
		centroid = r3.Add(centroid, p)
	}
	centroid = r3.Scale(1/float64(len(pts)), centroid)

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(len(pts), 3, data), nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return Plane{}, false
	}
	values := eig.Values(nil)
	// A rank-1 (collinear) sample leaves the normal undetermined.
	if values[1] <= 1e-12*math.Max(values[2], 1) {
		return Plane{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal := r3.Vec{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	if n := r3.Norm(normal); n == 0 || math.IsNaN(n) {
		return Plane{}, false
	}
	pl := Plane{A: normal.X, B: normal.Y, C: normal.Z, D: -r3.Dot(normal, centroid)}
	return pl.Normalized(), true
}

func scoreInliers(pts []r3.Vec, pl Plane, threshold float64) (int, float64) {
	var count int
	var sum float64
	for _, p := range pts {
		if d := math.Abs(pl.Eval(p)); d <= threshold {
			count++
			sum += d
		}
	}
	if count == 0 {
		return 0, math.Inf(1)
	}
	return count, sum / float64(count)
}

func collectInliers(pts []r3.Vec, pl Plane, threshold float64) []int {
	var out []int
	for i, p := range pts {
		if math.Abs(pl.Eval(p)) <= threshold {
			out = append(out, i)
		}
	}
	return out
}
