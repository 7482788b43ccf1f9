package ground

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

func flatCloud(rng *rand.Rand, n int, z, noise float64) []r3.Vec {
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{
			X: rng.Float64()*40 - 20,
			Y: rng.Float64()*40 - 20,
			Z: z + (rng.Float64()*2-1)*noise,
		}
	}
	return pts
}

// imageFor wraps a cloud in an image whose cells are all valid.
func imageFor(cloud []r3.Vec) *rangeimage.Image {
	img := rangeimage.New(1, len(cloud))
	for i, p := range cloud {
		img.Depth[i] = r3.Norm(p)
	}
	return img
}

func TestMetrics_HorizontalPlane(t *testing.T) {
	pl := Plane{A: 0, B: 0, C: 1, D: 1.7}
	p := r3.Vec{X: 3, Y: 4, Z: 0}

	assert.InDelta(t, 1.7, PointToPlane{}.Distance(p, pl), 1e-12)
	assert.InDelta(t, 1.7, Vertical{}.Distance(p, pl), 1e-12)

	onPlane := r3.Vec{X: 10, Y: 0, Z: -1.7}
	assert.InDelta(t, 0, RayDepth{}.Distance(onPlane, pl), 1e-12)
	// Twice as far along the same ray.
	assert.InDelta(t, r3.Norm(onPlane), RayDepth{}.Distance(r3.Scale(2, onPlane), pl), 1e-9)
}

func TestMetrics_TiltedPlaneDiffer(t *testing.T) {
	// 45 degree slope: z = x, unnormalized on purpose.
	pl := Plane{A: -2, B: 0, C: 2, D: 0}
	p := r3.Vec{X: 0, Y: 0, Z: 1}

	assert.InDelta(t, 1/math.Sqrt2, PointToPlane{}.Distance(p, pl), 1e-12)
	assert.InDelta(t, 1.0, Vertical{}.Distance(p, pl), 1e-12)
}

func TestMetrics_Degenerate(t *testing.T) {
	wall := Plane{A: 1, B: 0, C: 0, D: -5}
	assert.True(t, math.IsInf(Vertical{}.Distance(r3.Vec{X: 1}, wall), 1))
	assert.True(t, math.IsInf(RayDepth{}.Distance(r3.Vec{}, wall), 1))
	assert.True(t, math.IsInf(PointToPlane{}.Distance(r3.Vec{X: 1}, Plane{}), 1))
}

func TestParseMetric(t *testing.T) {
	for _, name := range []string{MetricPointToPlane, MetricVertical, MetricRayDepth} {
		m, err := ParseMetric(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name())
	}
	_, err := ParseMetric("cheap")
	assert.Error(t, err)
}

func TestSelectCandidates_Tiers(t *testing.T) {
	cfg := FitConfig{CandidateHeight: -1, FallbackHeight: 0, MinCandidates: 4, SampleSize: 3}
	rng := rand.New(rand.NewSource(1))

	// Only two points below -1: fall back to z < 0, keeping all of them.
	cloud := []r3.Vec{
		{X: 5, Z: -1.5}, {X: 6, Z: -1.2}, {X: 7, Z: -0.5}, {X: 8, Z: -0.1}, {X: 9, Z: 2},
	}
	c := SelectCandidates(imageFor(cloud), cloud, cfg, rng)
	assert.Equal(t, TierFallback, c.Tier)
	assert.Len(t, c.Points, 4)

	// Five strict points: strict tier, subsampled to SampleSize.
	cloud = []r3.Vec{
		{X: 5, Z: -1.5}, {X: 6, Z: -1.2}, {X: 7, Z: -1.9}, {X: 8, Z: -1.1}, {X: 9, Z: -3}, {X: 1, Z: 4},
	}
	c = SelectCandidates(imageFor(cloud), cloud, cfg, rng)
	assert.Equal(t, TierStrict, c.Tier)
	assert.Len(t, c.Points, 3)
	for _, p := range c.Points {
		assert.Less(t, p.Z, -1.0)
	}

	// Exactly MinCandidates strict points stay strict and unsampled.
	cfg.SampleSize = 10
	c = SelectCandidates(imageFor(cloud[:4]), cloud[:4], cfg, rng)
	assert.Equal(t, TierStrict, c.Tier)
	assert.Len(t, c.Points, 4)
}

func TestSelectCandidates_SkipsEmptyCells(t *testing.T) {
	cloud := []r3.Vec{{Z: 0}, {X: 4, Z: -2}}
	img := rangeimage.New(1, 2)
	img.Depth[1] = r3.Norm(cloud[1])
	cfg := FitConfig{CandidateHeight: -1, FallbackHeight: 0.5, MinCandidates: 5}

	c := SelectCandidates(img, cloud, cfg, rand.New(rand.NewSource(1)))
	assert.Equal(t, TierFallback, c.Tier)
	assert.Equal(t, []r3.Vec{{X: 4, Z: -2}}, c.Points, "origin of an empty cell must not be a candidate")
}

func TestFitPlane_RecoversGround(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pts := flatCloud(rng, 2000, -1.7, 0.03)
	// 20% clutter well above the road.
	for i := 0; i < 500; i++ {
		pts = append(pts, r3.Vec{X: rng.Float64() * 10, Y: rng.Float64() * 10, Z: rng.Float64()*3 - 0.5})
	}
	cfg := FitConfig{DistanceThreshold: 0.1, RansacN: 10, Iterations: 100}

	res, err := FitPlane(pts, cfg, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	pl := res.Plane
	assert.InDelta(t, 1.0, r3.Norm(pl.Normal()), 1e-9)
	assert.GreaterOrEqual(t, pl.C, 0.0)
	assert.InDelta(t, 1.0, pl.C, 0.01)
	assert.InDelta(t, 1.7, pl.D, 0.02)
	assert.GreaterOrEqual(t, len(res.Inliers), 1900)
}

func TestFitPlane_Deterministic(t *testing.T) {
	pts := flatCloud(rand.New(rand.NewSource(3)), 300, -1.5, 0.05)
	cfg := FitConfig{DistanceThreshold: 0.1, RansacN: 10, Iterations: 30}

	a, err := FitPlane(pts, cfg, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	b, err := FitPlane(pts, cfg, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	assert.Equal(t, a.Plane, b.Plane)
	assert.Equal(t, a.Inliers, b.Inliers)
}

func TestFitPlane_TooFew(t *testing.T) {
	cfg := FitConfig{DistanceThreshold: 0.1, RansacN: 10, Iterations: 10}
	_, err := FitPlane(make([]r3.Vec, 5), cfg, rand.New(rand.NewSource(1)))
	assert.True(t, errors.Is(err, ErrTooFewCandidates), "got %v", err)

	// Collinear points never produce a plane.
	line := make([]r3.Vec, 20)
	for i := range line {
		line[i] = r3.Vec{X: float64(i)}
	}
	_, err = FitPlane(line, cfg, rand.New(rand.NewSource(1)))
	assert.True(t, errors.Is(err, ErrTooFewCandidates), "got %v", err)
}

func TestSegment_Labels(t *testing.T) {
	pl := Plane{C: 1, D: 1.7}
	cloud := []r3.Vec{
		{X: 5, Z: -1.65}, // ground
		{},               // empty
		{X: 5, Z: 0.5},   // non-ground
		{X: 5, Z: -1.75}, // just below the plane
	}
	img := rangeimage.New(2, 2)
	for i, p := range cloud {
		img.Depth[i] = r3.Norm(p)
	}

	m, err := Segment(img, cloud, pl, 0.1, PointToPlane{})
	require.NoError(t, err)
	assert.Equal(t, []Label{LabelGround, LabelEmpty, LabelNonGround, LabelGround}, m.Labels)
	assert.Equal(t, 2, m.Count(LabelGround))

	_, err = Segment(img, cloud[:3], pl, 0.1, PointToPlane{})
	assert.Error(t, err)
	_, err = Segment(img, cloud, pl, 0.1, nil)
	assert.Error(t, err)
}

func TestSegment_EmptyMatchesZeroDepth(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	pl := Plane{A: 0.01, B: -0.02, C: 1, D: 1.7}.Normalized()
	for _, metric := range []DistanceMetric{PointToPlane{}, Vertical{}, RayDepth{}} {
		for frame := 0; frame < 20; frame++ {
			img := rangeimage.New(8, 16)
			cloud := make([]r3.Vec, img.Len())
			for i := range cloud {
				if rng.Float64() < 0.3 {
					continue
				}
				cloud[i] = r3.Vec{X: rng.Float64()*20 + 1, Y: rng.Float64()*20 - 10, Z: rng.Float64()*4 - 2}
				img.Depth[i] = r3.Norm(cloud[i])
			}
			m, err := Segment(img, cloud, pl, 0.2, metric)
			require.NoError(t, err)
			for i, l := range m.Labels {
				if (l == LabelEmpty) != (img.Depth[i] == 0) {
					t.Fatalf("%s frame %d cell %d: label %v with depth %v", metric.Name(), frame, i, l, img.Depth[i])
				}
			}
		}
	}
}

func TestAllNonGround(t *testing.T) {
	img := rangeimage.New(1, 3)
	img.Depth[0], img.Depth[2] = 4, 9
	m := AllNonGround(img)
	assert.Equal(t, []Label{LabelNonGround, LabelEmpty, LabelNonGround}, m.Labels)
}

func TestSelection_RowMajor(t *testing.T) {
	m := &LabelMap{Height: 2, Width: 3, Labels: []Label{2, 0, 2, 1, 2, 0}}
	sel := m.Selection(LabelNonGround)
	assert.Equal(t, []int{0, 2, 4}, sel.Indices())
	assert.Equal(t, []int{3}, m.Selection(LabelGround).Indices())
}

func TestLabelMap_Binary(t *testing.T) {
	m := &LabelMap{Height: 2, Width: 2, Labels: []Label{0, 1, 2, 2}}
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 2}, data)

	back, err := UnmarshalLabels(data, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	_, err = UnmarshalLabels([]byte{0, 1, 3, 0}, 2, 2)
	assert.Error(t, err)
	_, err = UnmarshalLabels([]byte{0, 1}, 2, 2)
	assert.Error(t, err)
}

func TestLogStreams(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	img := rangeimage.New(1, 1)
	img.Depth[0] = 1
	AllNonGround(img)
	assert.True(t, strings.Contains(ops.String(), "[ground]"), "ops stream: %q", ops.String())

	cloud := []r3.Vec{{X: 1, Z: 0.5}}
	SelectCandidates(img, cloud, FitConfig{CandidateHeight: -1, MinCandidates: 10}, rand.New(rand.NewSource(1)))
	assert.Contains(t, diag.String(), "fallback")
}
