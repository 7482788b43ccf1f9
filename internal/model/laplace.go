package model

import (
	"context"
	"math"

	"github.com/banshee-data/rangecodec/internal/entropy"
)

// NameLaplace identifies the baseline in checkpoints.
const NameLaplace = "laplace"

// Laplace models every residual as a zero-mean Laplace variable discretized
// onto the symbol grid. Its scale, in residual steps, grows linearly with
// the coarse depth of the pixel.
type Laplace struct {
	Scale         float64
	ScalePerMeter float64
}

func (Laplace) Name() string { return NameLaplace }

// Predict fills one row per selected pixel. The predicted image is the
// coarse input, since the distribution is centred on zero residual.
func (l Laplace) Predict(ctx context.Context, in StageInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pmf := entropy.NewPMF(in.Selection.Len(), in.Bins)
	half := in.Bins / 2
	for i := 0; i < pmf.Rows; i++ {
		b := l.Scale + l.ScalePerMeter*in.Image.Depth[in.Selection.At(i)]
		fillLaplaceRow(pmf.Row(i), half, b)
	}
	return &Prediction{PMF: pmf, Predicted: in.Image.Clone()}, nil
}

// fillLaplaceRow writes the mass of [k-0.5, k+0.5] for k = -half..half and
// renormalizes, folding the tails back into the row.
func fillLaplaceRow(row []float64, half int, b float64) {
	if !(b > 0) {
		// Degenerate scale: all mass on zero residual.
		for i := range row {
			row[i] = 0
		}
		row[half] = 1
		return
	}
	sum := 0.0
	for i := range row {
		k := float64(i - half)
		row[i] = laplaceCDF(k+0.5, b) - laplaceCDF(k-0.5, b)
		sum += row[i]
	}
	for i := range row {
		row[i] /= sum
	}
}

func laplaceCDF(x, b float64) float64 {
	if x < 0 {
		return 0.5 * math.Exp(x/b)
	}
	return 1 - 0.5*math.Exp(-x/b)
}
