// Package container packs the named blobs of one encoded frame into a
// single self-describing byte string.
//
// Layout: the 4-byte magic "RICC", one version byte, then protobuf wire
// format fields. Every field is identified by its number, bound below to a
// role name; fields with unknown numbers are skipped so newer writers can
// add fields without breaking older readers.
package container

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/fsutil"
)

// Magic prefixes every container.
var Magic = []byte("RICC")

// Version is the layout version written by Serialize.
const Version byte = 1

// Field role names.
const (
	FieldNonGroundStage0 = "nonground_stage_0"
	FieldGroundStage1    = "ground_stage_1"
	FieldSegIdxMap       = "seg_idx_map"
	FieldBitstreamAC     = "bitstream_ac"
	FieldCompressor      = "compressor"
	FieldHeight          = "height"
	FieldWidth           = "width"
)

const (
	numNonGroundStage0 protowire.Number = 1
	numGroundStage1    protowire.Number = 2
	numSegIdxMap       protowire.Number = 3
	numBitstreamAC     protowire.Number = 4
	numCompressor      protowire.Number = 5
	numHeight          protowire.Number = 6
	numWidth           protowire.Number = 7
)

var fieldNames = map[protowire.Number]string{
	numNonGroundStage0: FieldNonGroundStage0,
	numGroundStage1:    FieldGroundStage1,
	numSegIdxMap:       FieldSegIdxMap,
	numBitstreamAC:     FieldBitstreamAC,
	numCompressor:      FieldCompressor,
	numHeight:          FieldHeight,
	numWidth:           FieldWidth,
}

// DecodeOrder is the order in which a decoder consumes the blobs: the
// segmentation first, since it defines the pixel selections every other
// stream is read against.
var DecodeOrder = []string{FieldSegIdxMap, FieldNonGroundStage0, FieldGroundStage1, FieldBitstreamAC}

// Container holds one encoded frame. The three side maps are compressed
// with the named Compressor; BitstreamAC is the raw arithmetic coder output.
type Container struct {
	NonGroundStage0 []byte
	GroundStage1    []byte
	SegIdxMap       []byte
	BitstreamAC     []byte

	Compressor string
	Height     int
	Width      int
}

// Blob returns the blob stored under a DecodeOrder role name.
func (c *Container) Blob(name string) ([]byte, error) {
	switch name {
	case FieldNonGroundStage0:
		return c.NonGroundStage0, nil
	case FieldGroundStage1:
		return c.GroundStage1, nil
	case FieldSegIdxMap:
		return c.SegIdxMap, nil
	case FieldBitstreamAC:
		return c.BitstreamAC, nil
	}
	return nil, fmt.Errorf("unknown container blob %q", name)
}

// Size is the total blob payload in bytes, excluding framing.
func (c *Container) Size() int {
	return len(c.NonGroundStage0) + len(c.GroundStage1) + len(c.SegIdxMap) + len(c.BitstreamAC)
}

// Serialize encodes c.
func Serialize(c *Container) ([]byte, error) {
	if c.Height <= 0 || c.Width <= 0 {
		return nil, fmt.Errorf("container shape %dx%d is not positive", c.Height, c.Width)
	}
	if c.Compressor == "" {
		return nil, fmt.Errorf("container has no compressor name")
	}
	b := make([]byte, 0, len(Magic)+1+c.Size()+64)
	b = append(b, Magic...)
	b = append(b, Version)

	b = protowire.AppendTag(b, numNonGroundStage0, protowire.BytesType)
	b = protowire.AppendBytes(b, c.NonGroundStage0)
	b = protowire.AppendTag(b, numGroundStage1, protowire.BytesType)
	b = protowire.AppendBytes(b, c.GroundStage1)
	b = protowire.AppendTag(b, numSegIdxMap, protowire.BytesType)
	b = protowire.AppendBytes(b, c.SegIdxMap)
	b = protowire.AppendTag(b, numBitstreamAC, protowire.BytesType)
	b = protowire.AppendBytes(b, c.BitstreamAC)
	b = protowire.AppendTag(b, numCompressor, protowire.BytesType)
	b = protowire.AppendString(b, c.Compressor)
	b = protowire.AppendTag(b, numHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Height))
	b = protowire.AppendTag(b, numWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Width))
	return b, nil
}

func corrupt(field, format string, args ...interface{}) error {
	return &codecerr.CorruptContainerError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Deserialize decodes a container, rejecting missing, duplicated or
// malformed fields with a *codecerr.CorruptContainerError.
func Deserialize(data []byte) (*Container, error) {
	if len(data) < len(Magic)+1 || !bytes.Equal(data[:len(Magic)], Magic) {
		return nil, corrupt("magic", "missing %q prefix", Magic)
	}
	if v := data[len(Magic)]; v != Version {
		return nil, corrupt("version", "unsupported version %d", v)
	}
	b := data[len(Magic)+1:]

	c := &Container{}
	seen := make(map[protowire.Number]bool, len(fieldNames))
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt("tag", "%v", protowire.ParseError(n))
		}
		b = b[n:]

		name, known := fieldNames[num]
		if !known {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt(fmt.Sprintf("field_%d", num), "%v", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if seen[num] {
			return nil, corrupt(name, "duplicated")
		}
		seen[num] = true

		switch num {
		case numHeight, numWidth:
			if typ != protowire.VarintType {
				return nil, corrupt(name, "wire type %d, want varint", typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt(name, "%v", protowire.ParseError(n))
			}
			b = b[n:]
			if v == 0 || v > 1<<20 {
				return nil, corrupt(name, "implausible value %d", v)
			}
			if num == numHeight {
				c.Height = int(v)
			} else {
				c.Width = int(v)
			}
		default:
			if typ != protowire.BytesType {
				return nil, corrupt(name, "wire type %d, want bytes", typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(name, "%v", protowire.ParseError(n))
			}
			b = b[n:]
			blob := append([]byte{}, v...)
			switch num {
			case numNonGroundStage0:
				c.NonGroundStage0 = blob
			case numGroundStage1:
				c.GroundStage1 = blob
			case numSegIdxMap:
				c.SegIdxMap = blob
			case numBitstreamAC:
				c.BitstreamAC = blob
			case numCompressor:
				c.Compressor = string(blob)
			}
		}
	}

	for _, num := range []protowire.Number{
		numNonGroundStage0, numGroundStage1, numSegIdxMap, numBitstreamAC, numCompressor, numHeight, numWidth,
	} {
		if !seen[num] {
			return nil, corrupt(fieldNames[num], "missing")
		}
	}
	return c, nil
}

// WriteFile serializes c and writes it atomically.
func WriteFile(fsys fsutil.FileSystem, path string, c *Container) error {
	data, err := Serialize(c)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(fsys, path, data, 0644)
}

// ReadFile reads and deserializes a container file.
func ReadFile(fsys fsutil.FileSystem, path string) (*Container, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}
	c, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
