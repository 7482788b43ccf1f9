// Package compressor wraps the general-purpose byte compressors used for
// the side-channel maps of a container.
//
// The algorithm is always chosen by the caller and passed along with the
// data; there is no package-level default instance.
package compressor

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/banshee-data/rangecodec/internal/codecerr"
)

// Algorithm names, as written in configs and containers.
const (
	LZ4     = "lz4"
	Bzip2   = "bzip2"
	Gzip    = "gzip"
	Deflate = "deflate"
	Zstd    = "zstd"
)

// Compressor is a lossless byte transform. Implementations are stateless
// and safe for concurrent use.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

var registry = map[string]Compressor{
	LZ4:     lz4Codec{},
	Bzip2:   bzip2Codec{},
	Gzip:    gzipCodec{},
	Deflate: deflateCodec{},
	Zstd:    zstdCodec{},
}

// New returns the compressor registered under name.
func New(name string) (Compressor, error) {
	c, ok := registry[name]
	if !ok {
		return nil, codecerr.Configf("compressor", "unsupported algorithm %q (want one of %v)", name, Names())
	}
	return c, nil
}

// Supported reports whether name is a known algorithm.
func Supported(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names lists the known algorithms in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Empty input compresses to empty output for every algorithm, so an empty
// map costs no bytes in the container.

type lz4Codec struct{}

func (lz4Codec) Name() string { return LZ4 }

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}

type bzip2Codec struct{}

func (bzip2Codec) Name() string { return Bzip2 }

func (bzip2Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (bzip2Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("bzip2 decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bzip2 decompress: %w", err)
	}
	return out, nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return Gzip }

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

type deflateCodec struct{}

func (deflateCodec) Name() string { return Deflate }

func (deflateCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (deflateCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deflate decompress: %w", err)
	}
	return out, nil
}

// zstd encoders and decoders are expensive to build, so they are pooled.
var (
	zstdEncPool = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		)
		if err != nil {
			panic(err)
		}
		return enc
	}}
	zstdDecPool = sync.Pool{New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		return dec
	}}
)

type zstdCodec struct{}

func (zstdCodec) Name() string { return Zstd }

func (zstdCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	enc := zstdEncPool.Get().(*zstd.Encoder)
	out := enc.EncodeAll(data, nil)
	zstdEncPool.Put(enc)
	return out, nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	dec := zstdDecPool.Get().(*zstd.Decoder)
	out, err := dec.DecodeAll(data, nil)
	zstdDecPool.Put(dec)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
