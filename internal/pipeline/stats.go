package pipeline

import "fmt"

// bitsPerRawPoint is the uncompressed cost of one point: three float32
// coordinates.
const bitsPerRawPoint = 3 * 32

// Stats describes the coded size of one frame.
type Stats struct {
	Points int

	NonGroundBytes int
	GroundBytes    int
	SegBytes       int
	BitstreamBytes int
	// TotalBytes is the serialized container, framing included.
	TotalBytes int
}

// BitsPerPoint is 8·TotalBytes / Points.
func (s Stats) BitsPerPoint() float64 {
	if s.Points == 0 {
		return 0
	}
	return 8 * float64(s.TotalBytes) / float64(s.Points)
}

// CompressionRatio is the raw point cloud size (3 float32 per point) over
// TotalBytes.
func (s Stats) CompressionRatio() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.Points*bitsPerRawPoint) / (8 * float64(s.TotalBytes))
}

func (s Stats) String() string {
	return fmt.Sprintf("points=%d bytes=%d (seg=%d base=%d ground=%d ac=%d) bpp=%.3f ratio=%.2f",
		s.Points, s.TotalBytes, s.SegBytes, s.NonGroundBytes, s.GroundBytes, s.BitstreamBytes,
		s.BitsPerPoint(), s.CompressionRatio())
}
