// Package pipeline orchestrates the per-frame encode and decode paths:
// projection, segmentation, two-tier quantization, model prediction,
// arithmetic coding and container packing.
//
// Every frame owns its own working state. The only values shared between
// frames are the immutable directional map and the settings, so one
// Encoder or Decoder may serve many goroutines.
package pipeline

import (
	"fmt"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/compressor"
	"github.com/banshee-data/rangecodec/internal/config"
	"github.com/banshee-data/rangecodec/internal/container"
	"github.com/banshee-data/rangecodec/internal/ground"
	"github.com/banshee-data/rangecodec/internal/model"
	"github.com/banshee-data/rangecodec/internal/quant"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// Settings configure both sides of the codec. Encoder and Decoder must be
// built from equal Params, steps, Compressor and Predictor.
type Settings struct {
	Params rangeimage.Params

	// Step0 quantizes non-ground base depths, Step1 ground depths and
	// residuals.
	Step0 float64
	Step1 float64

	Compressor compressor.Compressor
	Predictor  model.Predictor
	// Refiner, if set, post-processes the decoded image.
	Refiner model.Refiner

	// Encoder only.
	GroundThreshold float64
	Metric          ground.DistanceMetric
	Planes          PlaneSource
	// Verify decodes every arithmetic stream right after encoding it.
	Verify bool
}

// SettingsFromConfig assembles Settings from loaded configuration. The
// plane source is RANSAC with the configured fit parameters.
func SettingsFromConfig(params rangeimage.Params, cc *config.CodecConfig, pred model.Predictor) (Settings, error) {
	if err := cc.Validate(); err != nil {
		return Settings{}, err
	}
	comp, err := compressor.New(cc.GetCompressor())
	if err != nil {
		return Settings{}, err
	}
	metric, err := ground.ParseMetric(cc.GetDistanceMetric())
	if err != nil {
		return Settings{}, codecerr.Configf("distance_metric", "%v", err)
	}
	step0, step1 := quant.StageSteps(cc.GetStage0Accuracy(), cc.GetStage1Accuracy())
	return Settings{
		Params:          params,
		Step0:           step0,
		Step1:           step1,
		Compressor:      comp,
		Predictor:       pred,
		GroundThreshold: cc.GetGroundThreshold(),
		Metric:          metric,
		Planes:          RansacPlanes{Config: cc.FitConfig()},
	}, nil
}

// core is the state shared by Encoder and Decoder.
type core struct {
	s    Settings
	dmap *rangeimage.DirectionalMap
	bins int
}

func newCore(s Settings) (*core, error) {
	dmap, err := rangeimage.NewDirectionalMap(s.Params)
	if err != nil {
		return nil, err
	}
	switch {
	case !(s.Step0 > 0):
		return nil, codecerr.Configf("stage_0_accuracy", "step must be positive, got %v", s.Step0)
	case !(s.Step1 > 0):
		return nil, codecerr.Configf("stage_1_accuracy", "step must be positive, got %v", s.Step1)
	case s.Step1 > s.Step0:
		return nil, codecerr.Configf("stage_1_accuracy", "step %v exceeds stage 0 step %v", s.Step1, s.Step0)
	case s.Compressor == nil:
		return nil, codecerr.Configf("compressor", "no compressor selected")
	case s.Predictor == nil:
		return nil, codecerr.Configf("ckpt", "no predictor loaded")
	}
	return &core{s: s, dmap: dmap, bins: quant.ResidualBins(s.Step0, s.Step1)}, nil
}

// Bins is the residual symbol count Q.
func (c *core) Bins() int { return c.bins }

// coarse is the part of a frame that both sides can rebuild from the side
// maps alone.
type coarse struct {
	labels    *ground.LabelMap
	nonGround quant.Selection
	ground    quant.Selection
	// image holds base depths on non-ground pixels and ground depths on
	// ground pixels.
	image *rangeimage.Image
}

// rebuildCoarse dequantizes the two side maps under labels. The encoder
// runs it on the maps it just produced so that both sides predict from
// bit-identical inputs.
func (c *core) rebuildCoarse(labels *ground.LabelMap, baseMap, groundMap []byte) (*coarse, error) {
	h, w := labels.Height, labels.Width
	cs := &coarse{
		labels:    labels,
		nonGround: labels.Selection(ground.LabelNonGround),
		ground:    labels.Selection(ground.LabelGround),
		image:     rangeimage.New(h, w),
	}
	base, err := quant.DecodeUint16Map(baseMap, h, w)
	if err != nil {
		return nil, &codecerr.CorruptContainerError{Field: container.FieldNonGroundStage0, Reason: err.Error()}
	}
	if err := quant.DequantizeMap(cs.image, base, cs.nonGround, c.s.Step0); err != nil {
		return nil, err
	}
	gnd, err := quant.DecodeUint16Map(groundMap, h, w)
	if err != nil {
		return nil, &codecerr.CorruptContainerError{Field: container.FieldGroundStage1, Reason: err.Error()}
	}
	if err := quant.DequantizeMap(cs.image, gnd, cs.ground, c.s.Step1); err != nil {
		return nil, err
	}
	return cs, nil
}

// stageInput is the model request for the residual stage.
func (c *core) stageInput(cs *coarse) (model.StageInput, error) {
	cloud, err := rangeimage.ToPointCloud(cs.image, c.dmap)
	if err != nil {
		return model.StageInput{}, err
	}
	return model.StageInput{
		Image:     cs.image,
		Cloud:     cloud,
		Step:      c.s.Step1,
		Bins:      c.bins,
		Selection: cs.nonGround,
	}, nil
}

func checkShape(field string, gotH, gotW, wantH, wantW int) error {
	if gotH != wantH || gotW != wantW {
		return codecerr.Configf(field, "frame is %dx%d, sensor config is %dx%d", gotH, gotW, wantH, wantW)
	}
	return nil
}

func describe(s Settings) string {
	return fmt.Sprintf("step0=%.3f step1=%.3f compressor=%s model=%s",
		s.Step0, s.Step1, s.Compressor.Name(), s.Predictor.Name())
}
