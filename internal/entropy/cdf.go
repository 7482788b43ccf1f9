// Package entropy turns per-row probability tables into integer CDFs and
// drives a binary arithmetic coder over them.
//
// Row i of a table is the distribution of symbol i. Encoder and decoder
// must build the table from identical PMFs in identical row order; the
// coder has no way to detect a reordered table other than garbage symbols.
package entropy

import (
	"errors"
	"fmt"
	"math"
)

// Precision is the bit width of the integer CDF. Every row of an integer
// table ends at 1<<Precision.
const Precision = 16

const cdfTotal = 1 << Precision

// ErrShape is returned when a table and a symbol vector disagree in length,
// or when a table cannot be built for the requested shape.
var ErrShape = errors.New("entropy: shape mismatch")

// PMF is a row-major (Rows, Bins) probability table.
type PMF struct {
	Rows int
	Bins int
	P    []float64
}

// NewPMF returns a zeroed table.
func NewPMF(rows, bins int) *PMF {
	return &PMF{Rows: rows, Bins: bins, P: make([]float64, rows*bins)}
}

// Row returns row i, sharing storage with the table.
func (p *PMF) Row(i int) []float64 { return p.P[i*p.Bins : (i+1)*p.Bins] }

// Validate checks the shape and that every entry is finite and
// non-negative. Rows need not sum to exactly 1.
func (p *PMF) Validate() error {
	if p.Rows < 0 || p.Bins < 1 {
		return fmt.Errorf("%w: pmf is %dx%d", ErrShape, p.Rows, p.Bins)
	}
	if len(p.P) != p.Rows*p.Bins {
		return fmt.Errorf("%w: pmf %dx%d backed by %d values", ErrShape, p.Rows, p.Bins, len(p.P))
	}
	for i, v := range p.P {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("pmf row %d bin %d: invalid probability %v", i/p.Bins, i%p.Bins, v)
		}
	}
	return nil
}

// CDF holds both the float cumulative table and its integer form, each of
// shape (Rows, Bins+1).
type CDF struct {
	Rows int
	Bins int
	// F is the float CDF: F[r][0] = 0, F[r][Bins] = 1, non-decreasing.
	F []float64
	// Int is the integer CDF the coder consumes. Every bin spans at least
	// one count, so symbols the model considers impossible stay encodable.
	Int []uint32
}

// Row returns the integer CDF of row i.
func (c *CDF) Row(i int) []uint32 {
	w := c.Bins + 1
	return c.Int[i*w : (i+1)*w]
}

// FloatRow returns the float CDF of row i.
func (c *CDF) FloatRow(i int) []float64 {
	w := c.Bins + 1
	return c.F[i*w : (i+1)*w]
}

// PMFToCDF builds the cumulative tables for pmf. The float CDF is the
// prefix sum with a leading zero, clamped to at most 1 and with its last
// column forced to exactly 1. The integer CDF is
//
//	Int[i] = round(F[i]·(2^16 - Bins)) + i
//
// with ties to even, so Int[0] = 0, Int[Bins] = 2^16 and consecutive entries
// differ by at least one.
func PMFToCDF(pmf *PMF) (*CDF, error) {
	if err := pmf.Validate(); err != nil {
		return nil, err
	}
	if pmf.Bins >= cdfTotal {
		return nil, fmt.Errorf("%w: %d bins exceed %d-bit precision", ErrShape, pmf.Bins, Precision)
	}
	w := pmf.Bins + 1
	c := &CDF{
		Rows: pmf.Rows,
		Bins: pmf.Bins,
		F:    make([]float64, pmf.Rows*w),
		Int:  make([]uint32, pmf.Rows*w),
	}
	scale := float64(cdfTotal - pmf.Bins)
	for r := 0; r < pmf.Rows; r++ {
		p := pmf.Row(r)
		f := c.FloatRow(r)
		sum := 0.0
		for b := 0; b < pmf.Bins; b++ {
			sum += p[b]
			f[b+1] = math.Min(sum, 1)
		}
		f[pmf.Bins] = 1

		it := c.Row(r)
		for b := 0; b <= pmf.Bins; b++ {
			it[b] = uint32(math.RoundToEven(f[b]*scale)) + uint32(b)
		}
	}
	return c, nil
}
