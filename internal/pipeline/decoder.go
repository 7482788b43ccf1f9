package pipeline

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/container"
	"github.com/banshee-data/rangecodec/internal/entropy"
	"github.com/banshee-data/rangecodec/internal/ground"
	"github.com/banshee-data/rangecodec/internal/quant"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// Decoder turns containers back into range images and point clouds.
type Decoder struct {
	*core
}

// NewDecoder validates s and precomputes the directional map. Encoder-only
// settings are ignored.
func NewDecoder(s Settings) (*Decoder, error) {
	c, err := newCore(s)
	if err != nil {
		return nil, err
	}
	diagf("decoder ready: %s bins=%d", describe(s), c.bins)
	return &Decoder{core: c}, nil
}

// DecodeResult is one decoded frame.
type DecodeResult struct {
	Image  *rangeimage.Image
	Cloud  []r3.Vec
	Labels *ground.LabelMap
	Stats  Stats
}

// DecodeFrame deserializes and decodes a container.
func (d *Decoder) DecodeFrame(ctx context.Context, data []byte) (*DecodeResult, error) {
	c, err := container.Deserialize(data)
	if err != nil {
		return nil, err
	}
	res, err := d.DecodeContainer(ctx, c)
	if err != nil {
		return nil, err
	}
	res.Stats.TotalBytes = len(data)
	return res, nil
}

// DecodeContainer decodes the blobs of c in container.DecodeOrder.
func (d *Decoder) DecodeContainer(ctx context.Context, c *container.Container) (*DecodeResult, error) {
	if c.Compressor != d.s.Compressor.Name() {
		return nil, codecerr.Configf("compressor", "container was written with %q, decoder configured for %q",
			c.Compressor, d.s.Compressor.Name())
	}
	if err := checkShape("RANGE_IMAGE_HEIGHT", c.Height, c.Width, d.s.Params.Height, d.s.Params.Width); err != nil {
		return nil, err
	}

	raw := make(map[string][]byte, len(container.DecodeOrder))
	var (
		labels *ground.LabelMap
		cs     *coarse
		out    *rangeimage.Image
	)
	for _, name := range container.DecodeOrder {
		blob, err := c.Blob(name)
		if err != nil {
			return nil, err
		}
		switch name {
		case container.FieldSegIdxMap:
			seg, err := d.decompress(name, blob)
			if err != nil {
				return nil, err
			}
			if labels, err = ground.UnmarshalLabels(seg, c.Height, c.Width); err != nil {
				return nil, &codecerr.CorruptContainerError{Field: name, Reason: err.Error()}
			}

		case container.FieldNonGroundStage0, container.FieldGroundStage1:
			if raw[name], err = d.decompress(name, blob); err != nil {
				return nil, err
			}
			if name == container.FieldGroundStage1 {
				if cs, err = d.rebuildCoarse(labels, raw[container.FieldNonGroundStage0], raw[name]); err != nil {
					return nil, err
				}
			}

		case container.FieldBitstreamAC:
			in, err := d.stageInput(cs)
			if err != nil {
				return nil, err
			}
			pred, err := d.s.Predictor.Predict(ctx, in)
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
			symbols, err := entropy.Decode(cdf, blob)
			if err != nil {
				return nil, &codecerr.CorruptContainerError{Field: name, Reason: err.Error()}
			}
			out = cs.image.Clone()
			if err := quant.ApplyResiduals(out, cs.image, cs.nonGround, symbols, d.s.Step1, d.bins); err != nil {
				return nil, err
			}
		}
	}

	if d.s.Refiner != nil {
		cloud, err := rangeimage.ToPointCloud(out, d.dmap)
		if err != nil {
			return nil, err
		}
		refined, err := d.s.Refiner.Refine(ctx, out, cloud, d.s.Step1)
		if err != nil {
			return nil, fmt.Errorf("refine: %w", err)
		}
		if !refined.SameShape(out) {
			return nil, fmt.Errorf("refiner returned %dx%d image for %dx%d frame",
				refined.Height, refined.Width, out.Height, out.Width)
		}
		out = refined
	}
	// Refinement may not invent returns where the frame had none.
	for i, l := range labels.Labels {
		if l == ground.LabelEmpty {
			out.Depth[i] = 0
		}
	}

	cloud, err := rangeimage.ToPointCloud(out, d.dmap)
	if err != nil {
		return nil, err
	}
	res := &DecodeResult{
		Image:  out,
		Cloud:  cloud,
		Labels: labels,
		Stats: Stats{
			Points:         labels.Count(ground.LabelGround) + labels.Count(ground.LabelNonGround),
			NonGroundBytes: len(c.NonGroundStage0),
			GroundBytes:    len(c.GroundStage1),
			SegBytes:       len(c.SegIdxMap),
			BitstreamBytes: len(c.BitstreamAC),
			TotalBytes:     c.Size(),
		},
	}
	diagf("decoded frame: %s", res.Stats)
	return res, nil
}

func (d *Decoder) decompress(name string, blob []byte) ([]byte, error) {
	out, err := d.s.Compressor.Decompress(blob)
	if err != nil {
		return nil, &codecerr.CorruptContainerError{Field: name, Reason: err.Error()}
	}
	return out, nil
}
