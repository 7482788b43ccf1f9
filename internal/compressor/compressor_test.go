package compressor

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangecodec/internal/codecerr"
)

func TestRoundTrip(t *testing.T) {
	random := make([]byte, 10000)
	rand.New(rand.NewSource(1)).Read(random)

	inputs := map[string][]byte{
		"empty":  {},
		"zeros":  make([]byte, 10000),
		"random": random,
		"single": {0x7f},
		"labels": bytes.Repeat([]byte{0, 1, 2, 2, 2, 1}, 2000),
	}
	for _, name := range Names() {
		c, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
		for label, in := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				packed, err := c.Compress(in)
				require.NoError(t, err)
				out, err := c.Decompress(packed)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(in, out), "round trip changed %d bytes into %d", len(in), len(out))
			})
		}
	}
}

func TestCompress_ShrinksRedundantInput(t *testing.T) {
	zeros := make([]byte, 10000)
	for _, name := range Names() {
		c, err := New(name)
		require.NoError(t, err)
		packed, err := c.Compress(zeros)
		require.NoError(t, err)
		assert.Less(t, len(packed), len(zeros)/10, name)
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("lzma")
	var ce *codecerr.ConfigurationError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "compressor", ce.Field)
	assert.False(t, Supported("lzma"))
	assert.True(t, Supported(Bzip2))
	assert.Equal(t, []string{Bzip2, Deflate, Gzip, LZ4, Zstd}, Names())
}

func TestDecompress_Garbage(t *testing.T) {
	garbage := []byte("definitely not a compressed stream")
	for _, name := range Names() {
		if name == Deflate {
			// Raw deflate has no header to reject.
			continue
		}
		c, _ := New(name)
		_, err := c.Decompress(garbage)
		assert.Error(t, err, name)
	}
}

func TestConcurrentUse(t *testing.T) {
	c, err := New(Zstd)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			in := make([]byte, 4096)
			rand.New(rand.NewSource(seed)).Read(in)
			packed, err := c.Compress(in)
			if !assert.NoError(t, err) {
				return
			}
			out, err := c.Decompress(packed)
			if assert.NoError(t, err) {
				assert.Equal(t, in, out)
			}
		}(int64(i))
	}
	wg.Wait()
}
