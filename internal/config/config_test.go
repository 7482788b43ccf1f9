package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/ground"
)

func TestDefaultCodecConfig(t *testing.T) {
	cfg := DefaultCodecConfig()
	require.NoError(t, cfg.Validate())

	empty := EmptyCodecConfig()
	assert.Equal(t, empty.GetStage0Accuracy(), cfg.GetStage0Accuracy())
	assert.Equal(t, empty.GetStage1Accuracy(), cfg.GetStage1Accuracy())
	assert.Equal(t, empty.GetGroundThreshold(), cfg.GetGroundThreshold())
	assert.Equal(t, empty.GetCompressor(), cfg.GetCompressor())
	assert.Equal(t, empty.GetDistanceMetric(), cfg.GetDistanceMetric())
	assert.Equal(t, empty.GetRansacN(), cfg.GetRansacN())
	assert.Equal(t, empty.GetRansacIterations(), cfg.GetRansacIterations())
	assert.Equal(t, empty.GetGroundMinCandidates(), cfg.GetGroundMinCandidates())
	assert.Equal(t, empty.GetGroundSampleSize(), cfg.GetGroundSampleSize())
	assert.Equal(t, empty.GetSeed(), cfg.GetSeed())
}

func TestDefaultsFileMatchesDefaults(t *testing.T) {
	path := filepath.Join("..", "..", DefaultCodecConfigPath)
	cfg, err := LoadCodecConfig(path)
	require.NoError(t, err)

	def := DefaultCodecConfig()
	assert.Equal(t, def.GetStage0Accuracy(), cfg.GetStage0Accuracy())
	assert.Equal(t, def.GetStage1Accuracy(), cfg.GetStage1Accuracy())
	assert.Equal(t, def.GetCompressor(), cfg.GetCompressor())
	assert.Equal(t, def.FitConfig(), cfg.FitConfig())
}

func TestLoadCodecConfig_Partial(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "codec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"compressor": "zstd", "ground_threshold": 0.25}`), 0o644))

	cfg, err := LoadCodecConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "zstd", cfg.GetCompressor())
	assert.Equal(t, 0.25, cfg.GetGroundThreshold())
	// untouched keys keep defaults
	assert.Equal(t, 0.3, cfg.GetStage0Accuracy())
}

func TestLoadCodecConfig_WrongExtension(t *testing.T) {
	_, err := LoadCodecConfig("codec.yaml")
	var ce *codecerr.ConfigurationError
	require.True(t, errors.As(err, &ce), "want ConfigurationError, got %v", err)
}

func TestCodecConfig_ValidateRejects(t *testing.T) {
	neg := -0.1
	big := 1.0
	bad := "lzma"
	metric := "manhattan"
	two := 2

	tests := []struct {
		name  string
		cfg   CodecConfig
		field string
	}{
		{"negative accuracy", CodecConfig{Stage0Accuracy: &neg}, "stage_0_accuracy"},
		{"stage1 coarser than stage0", CodecConfig{Stage1Accuracy: &big}, "stage_1_accuracy"},
		{"unknown compressor", CodecConfig{Compressor: &bad}, "compressor"},
		{"unknown metric", CodecConfig{DistanceMetric: &metric}, "distance_metric"},
		{"ransac_n too small", CodecConfig{RansacN: &two}, "ransac_n"},
		{"negative threshold", CodecConfig{GroundThreshold: &neg}, "ground_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var ce *codecerr.ConfigurationError
			require.True(t, errors.As(err, &ce), "want ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestFitConfig(t *testing.T) {
	fc := DefaultCodecConfig().FitConfig()
	want := ground.FitConfig{
		CandidateHeight:   -1.0,
		FallbackHeight:    0,
		MinCandidates:     5000,
		SampleSize:        5000,
		DistanceThreshold: 0.1,
		RansacN:           10,
		Iterations:        100,
		Seed:              123,
	}
	assert.Equal(t, want, fc)
}

func TestLoadSensorConfig(t *testing.T) {
	cfg, err := LoadSensorConfig(filepath.Join("..", "..", "config", "vlp64_kitti.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.RangeImageHeight)
	assert.Equal(t, 2000, cfg.RangeImageWidth)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.InDelta(t, 2*3.141592653589793, p.XYAngleRange, 1e-12)
	assert.Less(t, p.ZAngleMin, p.ZAngleMax)
}

func TestParseSensorConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"inverted angles": "XY_ANGLE_RANGE: 360\nZ_ANGLE_MAX: -30\nZ_ANGLE_MIN: 2\nFURTHEST_RANGE: 100\nRANGE_IMAGE_HEIGHT: 64\nRANGE_IMAGE_WIDTH: 2000\n",
		"zero height":     "XY_ANGLE_RANGE: 360\nZ_ANGLE_MAX: 2\nZ_ANGLE_MIN: -24\nFURTHEST_RANGE: 100\nRANGE_IMAGE_HEIGHT: 0\nRANGE_IMAGE_WIDTH: 2000\n",
		"negative width":  "XY_ANGLE_RANGE: 360\nZ_ANGLE_MAX: 2\nZ_ANGLE_MIN: -24\nFURTHEST_RANGE: 100\nRANGE_IMAGE_HEIGHT: 64\nRANGE_IMAGE_WIDTH: -1\n",
		"not yaml":        "XY_ANGLE_RANGE: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSensorConfig([]byte(doc))
			var ce *codecerr.ConfigurationError
			assert.True(t, errors.As(err, &ce), "want ConfigurationError, got %v", err)
		})
	}
}
