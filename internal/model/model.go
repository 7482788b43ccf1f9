// Package model defines the contract between the codec and the residual
// predictor, and ships a deterministic baseline that satisfies it.
//
// The codec only ever asks the predictor one question: for every selected
// pixel of a coarse range image, what is the distribution over the Bins
// residual symbols? The encoder and the decoder ask it with identical
// inputs, so any predictor that is a pure function of its input keeps the
// two sides in lockstep.
package model

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/entropy"
	"github.com/banshee-data/rangecodec/internal/quant"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// StageInput is everything a predictor may look at. All of it is
// reconstructible by the decoder before the residual stream is read.
type StageInput struct {
	// Image is the coarse reconstruction: base depths on non-ground pixels.
	Image *rangeimage.Image
	// Cloud is Image projected through the directional map.
	Cloud []r3.Vec
	// Step is the residual quantization step.
	Step float64
	// Bins is the residual symbol count Q.
	Bins int
	// Selection lists the pixels to predict, in PMF row order.
	Selection quant.Selection
}

// Prediction is a predictor's answer.
type Prediction struct {
	// PMF has one row per selected pixel and Bins columns.
	PMF *entropy.PMF
	// Predicted is the predictor's own estimate of the depth image.
	Predicted *rangeimage.Image
}

// Validate checks that p answers in.
func (p *Prediction) Validate(in StageInput) error {
	if p == nil || p.PMF == nil {
		return fmt.Errorf("%w: predictor returned no pmf", entropy.ErrShape)
	}
	if p.PMF.Rows != in.Selection.Len() || p.PMF.Bins != in.Bins {
		return fmt.Errorf("%w: pmf is %dx%d, want %dx%d", entropy.ErrShape,
			p.PMF.Rows, p.PMF.Bins, in.Selection.Len(), in.Bins)
	}
	if p.Predicted != nil && !p.Predicted.SameShape(in.Image) {
		return fmt.Errorf("%w: predicted image %dx%d, want %dx%d", entropy.ErrShape,
			p.Predicted.Height, p.Predicted.Width, in.Image.Height, in.Image.Width)
	}
	return nil
}

// Predictor produces residual distributions. Implementations must be
// deterministic and safe for concurrent use.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, in StageInput) (*Prediction, error)
}

// Refiner is an optional second stage applied to the decoded image.
// It runs identically on both sides and does not affect the bitstream.
type Refiner interface {
	Refine(ctx context.Context, img *rangeimage.Image, cloud []r3.Vec, step float64) (*rangeimage.Image, error)
}
