// Package quant implements the two-tier depth quantization: a coarse base
// map for non-ground pixels, a fine map for ground pixels, and the residual
// symbols that refine the coarse map.
package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// Stage names used in SymbolRangeError.
const (
	StageBase     = "nonground_stage_0"
	StageGround   = "ground_stage_1"
	StageResidual = "residual"
)

// Quantize returns round(v/step) with ties to even. Encoder and decoder
// must agree on this rounding; any other convention shifts symbols by one on
// exact halves.
func Quantize(v, step float64) int {
	return int(math.RoundToEven(v / step))
}

// Dequantize returns q·step.
func Dequantize(q int, step float64) float64 {
	return float64(q) * step
}

// StageSteps converts the configured accuracies to step sizes. A value
// quantized with step s is within s/2 of the original.
func StageSteps(acc0, acc1 float64) (step0, step1 float64) {
	return 2 * acc0, 2 * acc1
}

// ResidualBins is the odd bin count Q needed to cover a residual interval
// of ±step0/2 at resolution step1.
func ResidualBins(step0, step1 float64) int {
	return int(math.Ceil(step0/2/step1))*2 + 1
}

// Selection is an ordered, row-major list of flat pixel indices. The same
// value orders the model's PMF rows and the symbol vector of a stage, so it
// is built once per stage and passed to both.
type Selection struct {
	idx []int
}

// SelectWhere collects, in increasing order, every i in [0, n) for which
// keep returns true.
func SelectWhere(n int, keep func(i int) bool) Selection {
	var idx []int
	for i := 0; i < n; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return Selection{idx: idx}
}

// NewSelection wraps an explicit index list. The indices must be strictly
// increasing.
func NewSelection(idx []int) (Selection, error) {
	for i := 1; i < len(idx); i++ {
		if idx[i] <= idx[i-1] {
			return Selection{}, fmt.Errorf("selection index %d (%d) not above %d", i, idx[i], idx[i-1])
		}
	}
	out := make([]int, len(idx))
	copy(out, idx)
	return Selection{idx: out}, nil
}

// Len is the number of selected pixels.
func (s Selection) Len() int { return len(s.idx) }

// At returns the flat index of the i-th selected pixel.
func (s Selection) At(i int) int { return s.idx[i] }

// Indices returns a copy of the flat indices.
func (s Selection) Indices() []int {
	out := make([]int, len(s.idx))
	copy(out, s.idx)
	return out
}

// RowCol returns the image position of the i-th selected pixel in an image
// of the given width.
func (s Selection) RowCol(i, width int) (row, col int) {
	f := s.idx[i]
	return f / width, f % width
}

// residualSlack absorbs float error in residuals that sit exactly on the
// ±(bins/2)·step edge.
const residualSlack = 1e-9

// ResidualSymbols maps the refinement residual of every selected pixel to a
// symbol in [0, bins-1]:
//
//	symbol = Quantize(img - base, step) + bins/2
//
// A residual larger than (bins/2)·step in magnitude, or a symbol outside the
// range, is reported with its pixel position; it is never clamped, since a
// clamped symbol decodes to a different depth.
func ResidualSymbols(img, base *rangeimage.Image, sel Selection, step float64, bins int) ([]int32, error) {
	if !img.SameShape(base) {
		return nil, fmt.Errorf("base image %dx%d does not match image %dx%d", base.Height, base.Width, img.Height, img.Width)
	}
	half := bins / 2
	limit := float64(half) * step * (1 + residualSlack)
	out := make([]int32, sel.Len())
	for i, f := range sel.idx {
		r := img.Depth[f] - base.Depth[f]
		s := Quantize(r, step) + half
		if s < 0 || s >= bins || math.Abs(r) > limit {
			row, col := sel.RowCol(i, img.Width)
			return nil, &codecerr.SymbolRangeError{
				Stage: StageResidual, Index: i, Row: row, Col: col, Value: int64(s), Bins: bins,
			}
		}
		out[i] = int32(s)
	}
	return out, nil
}

// ApplyResiduals is the inverse of ResidualSymbols: it writes
// base + (symbol - bins/2)·step into dst for every selected pixel.
func ApplyResiduals(dst, base *rangeimage.Image, sel Selection, symbols []int32, step float64, bins int) error {
	if len(symbols) != sel.Len() {
		return fmt.Errorf("have %d residual symbols for %d selected pixels", len(symbols), sel.Len())
	}
	if !dst.SameShape(base) {
		return fmt.Errorf("base image %dx%d does not match output %dx%d", base.Height, base.Width, dst.Height, dst.Width)
	}
	half := bins / 2
	for i, f := range sel.idx {
		s := int(symbols[i])
		if s < 0 || s >= bins {
			row, col := sel.RowCol(i, dst.Width)
			return &codecerr.SymbolRangeError{
				Stage: StageResidual, Index: i, Row: row, Col: col, Value: int64(s), Bins: bins,
			}
		}
		dst.Depth[f] = base.Depth[f] + Dequantize(s-half, step)
	}
	return nil
}

// EncodeUint16Map quantizes the selected pixels of img with step and packs
// the full H×W grid as little-endian uint16, zero outside sel. stage names
// the map in errors.
func EncodeUint16Map(img *rangeimage.Image, sel Selection, step float64, stage string) ([]byte, error) {
	out := make([]byte, 2*img.Len())
	for i, f := range sel.idx {
		q := Quantize(img.Depth[f], step)
		if q < 0 || q > math.MaxUint16 {
			row, col := sel.RowCol(i, img.Width)
			return nil, &codecerr.SymbolRangeError{
				Stage: stage, Index: i, Row: row, Col: col, Value: int64(q), Bins: math.MaxUint16 + 1,
			}
		}
		binary.LittleEndian.PutUint16(out[2*f:], uint16(q))
	}
	return out, nil
}

// DecodeUint16Map unpacks an H×W little-endian uint16 grid.
func DecodeUint16Map(data []byte, height, width int) ([]uint16, error) {
	if len(data) != 2*height*width {
		return nil, fmt.Errorf("uint16 map has %d bytes, want %d (%dx%d)", len(data), 2*height*width, height, width)
	}
	out := make([]uint16, height*width)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return out, nil
}

// DequantizeMap rebuilds the depths of the selected pixels from a decoded
// map, leaving every other cell of dst untouched.
func DequantizeMap(dst *rangeimage.Image, q []uint16, sel Selection, step float64) error {
	if len(q) != dst.Len() {
		return fmt.Errorf("map has %d cells, image has %d", len(q), dst.Len())
	}
	for _, f := range sel.idx {
		dst.Depth[f] = Dequantize(int(q[f]), step)
	}
	return nil
}
