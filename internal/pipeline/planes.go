package pipeline

import (
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/ground"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// PlaneSource supplies the ground plane of one frame.
type PlaneSource interface {
	Plane(img *rangeimage.Image, cloud []r3.Vec) (ground.Plane, error)
}

// RansacPlanes fits a plane to every frame. The generator is reseeded from
// Config.Seed per frame, so a frame encodes identically however many frames
// ran before it.
type RansacPlanes struct {
	Config ground.FitConfig
}

func (r RansacPlanes) Plane(img *rangeimage.Image, cloud []r3.Vec) (ground.Plane, error) {
	rng := rand.New(rand.NewSource(r.Config.Seed))
	cand := ground.SelectCandidates(img, cloud, r.Config, rng)
	res, err := ground.FitPlane(cand.Points, r.Config, rng)
	if err != nil {
		return ground.Plane{}, err
	}
	return res.Plane, nil
}

// FixedPlane returns the same plane for every frame.
type FixedPlane ground.Plane

func (f FixedPlane) Plane(*rangeimage.Image, []r3.Vec) (ground.Plane, error) {
	return ground.Plane(f), nil
}
