// Package pointcloud reads and writes single lidar frames.
//
// Two formats are supported, chosen by extension:
//
//	.bin  KITTI velodyne layout: little-endian float32 x, y, z, intensity
//	.txt  whitespace-separated columns, the first three are x, y, z
package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rangecodec/internal/fsutil"
)

// ErrUnsupportedFormat is returned for an extension other than .bin or .txt.
var ErrUnsupportedFormat = errors.New("unsupported point cloud format")

// binPointSize is four float32 fields.
const binPointSize = 16

// maxPoints bounds the allocation for untrusted input. A 64-beam sensor
// produces about 130k points per frame.
const maxPoints = 10_000_000

// Load reads a frame from the local filesystem.
func Load(path string) ([]r3.Vec, error) {
	return Read(fsutil.OSFileSystem{}, path)
}

// Save writes a frame to the local filesystem.
func Save(path string, points []r3.Vec) error {
	return Write(fsutil.OSFileSystem{}, path, points)
}

// Read loads the frame at path from fsys.
func Read(fsys fsutil.FileSystem, path string) ([]r3.Vec, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read point cloud: %w", err)
	}
	pts, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

// Write stores points at path atomically. Points at the origin stand for
// empty range image cells and are skipped.
func Write(fsys fsutil.FileSystem, path string, points []r3.Vec) error {
	var encode func([]r3.Vec) []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		encode = EncodeBin
	case ".txt":
		encode = EncodeText
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return fsutil.WriteFileAtomic(fsys, path, encode(points), 0644)
}

func decoderFor(path string) (func([]byte) ([]r3.Vec, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return DecodeBin, nil
	case ".txt":
		return DecodeText, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// DecodeBin parses the KITTI binary layout. Intensity is discarded.
func DecodeBin(data []byte) ([]r3.Vec, error) {
	if len(data)%binPointSize != 0 {
		return nil, fmt.Errorf("binary point cloud length %d is not a multiple of %d", len(data), binPointSize)
	}
	n := len(data) / binPointSize
	if n > maxPoints {
		return nil, fmt.Errorf("binary point cloud has %d points (max %d)", n, maxPoints)
	}
	pts := make([]r3.Vec, n)
	for i := range pts {
		off := i * binPointSize
		pts[i] = r3.Vec{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:]))),
		}
	}
	return pts, nil
}

// EncodeBin writes the KITTI binary layout with zero intensity.
func EncodeBin(points []r3.Vec) []byte {
	out := make([]byte, 0, len(points)*binPointSize)
	var rec [binPointSize]byte
	for _, p := range points {
		if isOrigin(p) {
			continue
		}
		binary.LittleEndian.PutUint32(rec[0:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(rec[4:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(rec[8:], math.Float32bits(float32(p.Z)))
		out = append(out, rec[:]...)
	}
	return out
}

// DecodeText parses whitespace-separated columns. Blank lines and lines
// starting with '#' are ignored.
func DecodeText(data []byte) ([]r3.Vec, error) {
	var pts []r3.Vec
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: want at least 3 columns, got %d", line, len(fields))
		}
		var xyz [3]float64
		for i := range xyz {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			xyz[i] = v
		}
		if len(pts) == maxPoints {
			return nil, fmt.Errorf("text point cloud exceeds %d points", maxPoints)
		}
		pts = append(pts, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pts, nil
}

// EncodeText writes one "x y z intensity" line per point.
func EncodeText(points []r3.Vec) []byte {
	var buf bytes.Buffer
	buf.WriteString("# Format: X Y Z Intensity\n")
	for _, p := range points {
		if isOrigin(p) {
			continue
		}
		fmt.Fprintf(&buf, "%.6f %.6f %.6f 0\n", p.X, p.Y, p.Z)
	}
	return buf.Bytes()
}

func isOrigin(p r3.Vec) bool { return p.X == 0 && p.Y == 0 && p.Z == 0 }
