package pipeline

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/container"
	"github.com/banshee-data/rangecodec/internal/entropy"
	"github.com/banshee-data/rangecodec/internal/ground"
	"github.com/banshee-data/rangecodec/internal/quant"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// Encoder turns point clouds into containers.
type Encoder struct {
	*core
}

// NewEncoder validates s and precomputes the directional map.
func NewEncoder(s Settings) (*Encoder, error) {
	c, err := newCore(s)
	if err != nil {
		return nil, err
	}
	if s.Metric == nil {
		return nil, codecerr.Configf("distance_metric", "no distance metric selected")
	}
	if s.Planes == nil {
		return nil, codecerr.Configf("ground", "no plane source")
	}
	if s.GroundThreshold < 0 {
		return nil, codecerr.Configf("ground_threshold", "must be non-negative, got %v", s.GroundThreshold)
	}
	diagf("encoder ready: %s bins=%d metric=%s", describe(s), c.bins, s.Metric.Name())
	return &Encoder{core: c}, nil
}

// EncodeResult is one encoded frame.
type EncodeResult struct {
	Container *container.Container
	// Data is the serialized container.
	Data   []byte
	Image  *rangeimage.Image
	Labels *ground.LabelMap
	// Plane is nil when no plane could be fit and every return was coded
	// as non-ground.
	Plane *ground.Plane
	Stats Stats
	// EstimatedBits is the model's ideal cost of the residual stream.
	EstimatedBits float64
}

// EncodeFrame rasterises points and encodes the resulting range image.
func (e *Encoder) EncodeFrame(ctx context.Context, points []r3.Vec) (*EncodeResult, error) {
	img, err := rangeimage.FromPointCloud(points, e.s.Params)
	if err != nil {
		return nil, err
	}
	return e.EncodeImage(ctx, img)
}

// EncodeImage encodes a range image that already matches the sensor shape.
func (e *Encoder) EncodeImage(ctx context.Context, img *rangeimage.Image) (*EncodeResult, error) {
	if err := checkShape("RANGE_IMAGE_HEIGHT", img.Height, img.Width, e.s.Params.Height, e.s.Params.Width); err != nil {
		return nil, err
	}
	cloud, err := rangeimage.ToPointCloud(img, e.dmap)
	if err != nil {
		return nil, err
	}

	res := &EncodeResult{Image: img}
	labels, plane, err := e.segment(img, cloud)
	if err != nil {
		return nil, err
	}
	res.Labels, res.Plane = labels, plane

	nonGround := labels.Selection(ground.LabelNonGround)
	baseMap, err := quant.EncodeUint16Map(img, nonGround, e.s.Step0, quant.StageBase)
	if err != nil {
		return nil, err
	}
	groundMap, err := quant.EncodeUint16Map(img, labels.Selection(ground.LabelGround), e.s.Step1, quant.StageGround)
	if err != nil {
		return nil, err
	}
	segMap, err := labels.MarshalBinary()
	if err != nil {
		return nil, err
	}

	cs, err := e.rebuildCoarse(labels, baseMap, groundMap)
	if err != nil {
		return nil, err
	}
	symbols, err := quant.ResidualSymbols(img, cs.image, cs.nonGround, e.s.Step1, e.bins)
	if err != nil {
		return nil, err
	}

	in, err := e.stageInput(cs)
	if err != nil {
		return nil, err
	}
	pred, err := e.s.Predictor.Predict(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("predict residuals: %w", err)
	}
	if err := pred.Validate(in); err != nil {
		return nil, err
	}
	cdf, err := entropy.PMFToCDF(pred.PMF)
	if err != nil {
		return nil, err
	}
	bitstream, err := entropy.Encode(cdf, symbols)
	if err != nil {
		return nil, err
	}
	if e.s.Verify {
		if err := entropy.VerifyRoundTrip(cdf, symbols, bitstream); err != nil {
			return nil, err
		}
	}
	if res.EstimatedBits, err = entropy.EstimateBits(pred.PMF, symbols); err != nil {
		return nil, err
	}

	c := &container.Container{
		BitstreamAC: bitstream,
		Compressor:  e.s.Compressor.Name(),
		Height:      img.Height,
		Width:       img.Width,
	}
	for _, side := range []struct {
		name string
		raw  []byte
		dst  *[]byte
	}{
		{container.FieldSegIdxMap, segMap, &c.SegIdxMap},
		{container.FieldNonGroundStage0, baseMap, &c.NonGroundStage0},
		{container.FieldGroundStage1, groundMap, &c.GroundStage1},
	} {
		packed, err := e.s.Compressor.Compress(side.raw)
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", side.name, err)
		}
		*side.dst = packed
		tracef("%s: %d -> %d bytes", side.name, len(side.raw), len(packed))
	}

	data, err := container.Serialize(c)
	if err != nil {
		return nil, err
	}
	res.Container, res.Data = c, data
	res.Stats = Stats{
		Points:         img.Points(),
		NonGroundBytes: len(c.NonGroundStage0),
		GroundBytes:    len(c.GroundStage1),
		SegBytes:       len(c.SegIdxMap),
		BitstreamBytes: len(c.BitstreamAC),
		TotalBytes:     len(data),
	}
	diagf("encoded frame: %s, residual entropy %.3f nats, estimate %.0f bits",
		res.Stats, entropy.ShannonEntropy(symbols), res.EstimatedBits)
	return res, nil
}

// segment labels img, falling back to all-non-ground when the plane source
// cannot produce a plane.
func (e *Encoder) segment(img *rangeimage.Image, cloud []r3.Vec) (*ground.LabelMap, *ground.Plane, error) {
	pl, err := e.s.Planes.Plane(img, cloud)
	if errors.Is(err, ground.ErrTooFewCandidates) {
		opsf("plane fit failed: %v", err)
		return ground.AllNonGround(img), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("fit ground plane: %w", err)
	}
	labels, err := ground.Segment(img, cloud, pl, e.s.GroundThreshold, e.s.Metric)
	if err != nil {
		return nil, nil, err
	}
	return labels, &pl, nil
}
