package entropy

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/rangecodec/internal/codecerr"
)

// Coder state is 32 bits wide and kept in uint64 so range·count products
// never overflow.
const (
	stateBits = 32
	whole     = uint64(1) << stateBits
	half      = whole / 2
	quarter   = whole / 4
	threeQtr  = half + quarter
)

// StageArith names the arithmetic coder in SymbolRangeError.
const StageArith = "bitstream_ac"

type bitWriter struct {
	buf  []byte
	cur  byte
	nbit uint
}

func (w *bitWriter) write(bit uint64) {
	w.cur = w.cur<<1 | byte(bit&1)
	w.nbit++
	if w.nbit == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur, w.nbit = 0, 0
	}
}

// bytes pads the final partial byte with zeros.
func (w *bitWriter) bytes() []byte {
	if w.nbit > 0 {
		w.buf = append(w.buf, w.cur<<(8-w.nbit))
		w.cur, w.nbit = 0, 0
	}
	return w.buf
}

type bitReader struct {
	data []byte
	pos  int // bit position
}

// read returns the next bit, or 0 past the end of the stream.
func (r *bitReader) read() uint64 {
	if r.pos >= 8*len(r.data) {
		r.pos++
		return 0
	}
	b := r.data[r.pos/8] >> (7 - uint(r.pos%8)) & 1
	r.pos++
	return uint64(b)
}

// Encoder is a binary arithmetic encoder with pending-bit carry handling.
// Each call to Encode narrows the interval by one symbol of one CDF row.
type Encoder struct {
	low     uint64
	high    uint64
	pending int
	out     bitWriter
	done    bool
}

// NewEncoder returns an encoder at the full interval.
func NewEncoder() *Encoder {
	return &Encoder{low: 0, high: whole - 1}
}

// Encode codes symbol s against the integer CDF row (len Bins+1, final
// entry 1<<Precision).
func (e *Encoder) Encode(row []uint32, s int) error {
	if e.done {
		return fmt.Errorf("entropy: encode after Finish")
	}
	if s < 0 || s >= len(row)-1 {
		return &codecerr.SymbolRangeError{Stage: StageArith, Row: -1, Col: -1, Value: int64(s), Bins: len(row) - 1}
	}
	total := uint64(row[len(row)-1])
	rng := e.high - e.low + 1
	e.high = e.low + rng*uint64(row[s+1])/total - 1
	e.low = e.low + rng*uint64(row[s])/total

	for {
		switch {
		case e.high < half:
			e.emit(0)
		case e.low >= half:
			e.emit(1)
			e.low -= half
			e.high -= half
		case e.low >= quarter && e.high < threeQtr:
			e.pending++
			e.low -= quarter
			e.high -= quarter
		default:
			return nil
		}
		e.low <<= 1
		e.high = e.high<<1 | 1
	}
}

func (e *Encoder) emit(bit uint64) {
	e.out.write(bit)
	for ; e.pending > 0; e.pending-- {
		e.out.write(bit ^ 1)
	}
}

// Finish emits enough bits to disambiguate the final interval and returns
// the stream. The encoder cannot be used afterwards.
func (e *Encoder) Finish() []byte {
	if !e.done {
		e.pending++
		if e.low < quarter {
			e.emit(0)
		} else {
			e.emit(1)
		}
		e.done = true
	}
	return e.out.bytes()
}

// Decoder mirrors Encoder over a finished stream.
type Decoder struct {
	low   uint64
	high  uint64
	value uint64
	in    bitReader
}

// NewDecoder primes a decoder with the first 32 bits of data.
func NewDecoder(data []byte) *Decoder {
	d := &Decoder{low: 0, high: whole - 1, in: bitReader{data: data}}
	for i := 0; i < stateBits; i++ {
		d.value = d.value<<1 | d.in.read()
	}
	return d
}

// Decode returns the next symbol coded against row.
func (d *Decoder) Decode(row []uint32) int {
	bins := len(row) - 1
	total := uint64(row[bins])
	rng := d.high - d.low + 1
	count := ((d.value-d.low+1)*total - 1) / rng

	// Largest s with row[s] <= count.
	s := sort.Search(bins, func(i int) bool { return uint64(row[i+1]) > count })
	if s == bins {
		// Only reachable on a corrupt stream.
		s = bins - 1
	}

	d.high = d.low + rng*uint64(row[s+1])/total - 1
	d.low = d.low + rng*uint64(row[s])/total
	for {
		switch {
		case d.high < half:
		case d.low >= half:
			d.low -= half
			d.high -= half
			d.value -= half
		case d.low >= quarter && d.high < threeQtr:
			d.low -= quarter
			d.high -= quarter
			d.value -= quarter
		default:
			return s
		}
		d.low <<= 1
		d.high = d.high<<1 | 1
		d.value = d.value<<1 | d.in.read()
	}
}

// Encode codes symbols[i] against row i of cdf.
func Encode(cdf *CDF, symbols []int32) ([]byte, error) {
	if len(symbols) != cdf.Rows {
		return nil, fmt.Errorf("%w: %d symbols for %d cdf rows", ErrShape, len(symbols), cdf.Rows)
	}
	enc := NewEncoder()
	for i, s := range symbols {
		if s < 0 || int(s) >= cdf.Bins {
			return nil, &codecerr.SymbolRangeError{Stage: StageArith, Index: i, Row: -1, Col: -1, Value: int64(s), Bins: cdf.Bins}
		}
		if err := enc.Encode(cdf.Row(i), int(s)); err != nil {
			return nil, err
		}
	}
	return enc.Finish(), nil
}

// Decode decodes cdf.Rows symbols from data.
func Decode(cdf *CDF, data []byte) ([]int32, error) {
	dec := NewDecoder(data)
	out := make([]int32, cdf.Rows)
	for i := range out {
		out[i] = int32(dec.Decode(cdf.Row(i)))
	}
	return out, nil
}

// VerifyRoundTrip decodes data and compares it with the symbols that were
// encoded. Any difference is a *codecerr.CodecDesyncError.
func VerifyRoundTrip(cdf *CDF, symbols []int32, data []byte) error {
	got, err := Decode(cdf, data)
	if err != nil {
		return err
	}
	if len(got) != len(symbols) {
		return &codecerr.CodecDesyncError{Index: -1, Want: int32(len(symbols)), Got: int32(len(got))}
	}
	for i := range symbols {
		if got[i] != symbols[i] {
			return &codecerr.CodecDesyncError{Index: i, Want: symbols[i], Got: got[i]}
		}
	}
	return nil
}

// minProb floors probabilities in EstimateBits so a single impossible
// symbol does not make the estimate infinite.
const minProb = 1e-3

// EstimateBits returns Σ -log2(max(p[i][symbols[i]], 1e-3)), the ideal
// code length of symbols under pmf.
func EstimateBits(pmf *PMF, symbols []int32) (float64, error) {
	if len(symbols) != pmf.Rows {
		return 0, fmt.Errorf("%w: %d symbols for %d pmf rows", ErrShape, len(symbols), pmf.Rows)
	}
	bits := 0.0
	for i, s := range symbols {
		if s < 0 || int(s) >= pmf.Bins {
			return 0, &codecerr.SymbolRangeError{Stage: StageArith, Index: i, Row: -1, Col: -1, Value: int64(s), Bins: pmf.Bins}
		}
		bits -= math.Log2(math.Max(pmf.Row(i)[s], minProb))
	}
	return bits, nil
}

// ShannonEntropy returns the empirical entropy of symbols in nats.
func ShannonEntropy(symbols []int32) float64 {
	if len(symbols) == 0 {
		return 0
	}
	counts := make(map[int32]int)
	for _, s := range symbols {
		counts[s]++
	}
	n := float64(len(symbols))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log(p)
	}
	return h
}
