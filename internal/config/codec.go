package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/compressor"
	"github.com/banshee-data/rangecodec/internal/ground"
)

// DefaultCodecConfigPath is the path to the canonical codec defaults file.
const DefaultCodecConfigPath = "config/codec.defaults.json"

// CodecConfig holds the encoder/decoder tuning. Both sides of a bitstream
// must be run with the same values; nothing here is persisted in the
// container except the compressor name.
type CodecConfig struct {
	// Quantization. Step sizes are twice the accuracy.
	Stage0Accuracy *float64 `json:"stage_0_accuracy,omitempty"`
	Stage1Accuracy *float64 `json:"stage_1_accuracy,omitempty"`

	// Segmentation
	GroundThreshold *float64 `json:"ground_threshold,omitempty"`
	DistanceMetric  *string  `json:"distance_metric,omitempty"` // point_to_plane, vertical, ray_depth

	// Side-channel compressor: lz4, bzip2, gzip, deflate, zstd
	Compressor *string `json:"compressor,omitempty"`

	// Plane fit
	RansacDistanceThreshold *float64 `json:"ransac_distance_threshold,omitempty"`
	RansacN                 *int     `json:"ransac_n,omitempty"`
	RansacIterations        *int     `json:"ransac_iterations,omitempty"`
	GroundCandidateHeight   *float64 `json:"ground_candidate_height,omitempty"`
	GroundFallbackHeight    *float64 `json:"ground_fallback_height,omitempty"`
	GroundMinCandidates     *int     `json:"ground_min_candidates,omitempty"`
	GroundSampleSize        *int     `json:"ground_sample_size,omitempty"`
	Seed                    *int64   `json:"seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyCodecConfig returns a CodecConfig with every field unset, so every
// getter returns its default.
func EmptyCodecConfig() *CodecConfig {
	return &CodecConfig{}
}

// DefaultCodecConfig returns a CodecConfig with every field explicitly set
// to its default value.
func DefaultCodecConfig() *CodecConfig {
	return &CodecConfig{
		Stage0Accuracy:          ptrFloat64(0.3),
		Stage1Accuracy:          ptrFloat64(0.1),
		GroundThreshold:         ptrFloat64(0.1),
		DistanceMetric:          ptrString(ground.MetricPointToPlane),
		Compressor:              ptrString(compressor.Bzip2),
		RansacDistanceThreshold: ptrFloat64(0.1),
		RansacN:                 ptrInt(10),
		RansacIterations:        ptrInt(100),
		GroundCandidateHeight:   ptrFloat64(-1.0),
		GroundFallbackHeight:    ptrFloat64(0.0),
		GroundMinCandidates:     ptrInt(5000),
		GroundSampleSize:        ptrInt(5000),
		Seed:                    ptrInt64(123),
	}
}

// LoadCodecConfig loads a CodecConfig from a JSON file. Omitted fields keep
// their defaults, so partial configs are safe.
func LoadCodecConfig(path string) (*CodecConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, codecerr.Configf("codec_config", "file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat codec config: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, codecerr.Configf("codec_config", "file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read codec config: %w", err)
	}

	cfg := EmptyCodecConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, codecerr.Configf("codec_config", "failed to parse JSON: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every set field. The returned error is a
// *codecerr.ConfigurationError naming the offending key.
func (c *CodecConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"stage_0_accuracy", c.Stage0Accuracy},
		{"stage_1_accuracy", c.Stage1Accuracy},
		{"ransac_distance_threshold", c.RansacDistanceThreshold},
	}
	for _, p := range positive {
		if p.v == nil {
			continue
		}
		if math.IsNaN(*p.v) || math.IsInf(*p.v, 0) || *p.v <= 0 {
			return codecerr.Configf(p.name, "must be a positive finite number, got %v", *p.v)
		}
	}

	if c.GetStage1Accuracy() > c.GetStage0Accuracy() {
		return codecerr.Configf("stage_1_accuracy", "must not exceed stage_0_accuracy (%v > %v)",
			c.GetStage1Accuracy(), c.GetStage0Accuracy())
	}

	if c.GroundThreshold != nil && (*c.GroundThreshold < 0 || math.IsNaN(*c.GroundThreshold)) {
		return codecerr.Configf("ground_threshold", "must be non-negative, got %v", *c.GroundThreshold)
	}

	if c.DistanceMetric != nil {
		if _, err := ground.ParseMetric(*c.DistanceMetric); err != nil {
			return codecerr.Configf("distance_metric", "%v", err)
		}
	}
	if c.Compressor != nil && !compressor.Supported(*c.Compressor) {
		return codecerr.Configf("compressor", "unsupported algorithm %q (want one of %v)", *c.Compressor, compressor.Names())
	}

	if c.RansacN != nil && *c.RansacN < 3 {
		return codecerr.Configf("ransac_n", "must be at least 3, got %d", *c.RansacN)
	}
	if c.RansacIterations != nil && *c.RansacIterations < 1 {
		return codecerr.Configf("ransac_iterations", "must be at least 1, got %d", *c.RansacIterations)
	}
	if c.GroundMinCandidates != nil && *c.GroundMinCandidates < 0 {
		return codecerr.Configf("ground_min_candidates", "must be non-negative, got %d", *c.GroundMinCandidates)
	}
	if c.GroundSampleSize != nil && *c.GroundSampleSize < c.GetRansacN() {
		return codecerr.Configf("ground_sample_size", "must be at least ransac_n (%d), got %d", c.GetRansacN(), *c.GroundSampleSize)
	}
	if c.GetGroundFallbackHeight() < c.GetGroundCandidateHeight() {
		return codecerr.Configf("ground_fallback_height", "must not be below ground_candidate_height (%v < %v)",
			c.GetGroundFallbackHeight(), c.GetGroundCandidateHeight())
	}
	return nil
}

// GetStage0Accuracy returns the stage_0_accuracy value or the default.
func (c *CodecConfig) GetStage0Accuracy() float64 {
	if c.Stage0Accuracy == nil {
		return 0.3
	}
	return *c.Stage0Accuracy
}

// GetStage1Accuracy returns the stage_1_accuracy value or the default.
func (c *CodecConfig) GetStage1Accuracy() float64 {
	if c.Stage1Accuracy == nil {
		return 0.1
	}
	return *c.Stage1Accuracy
}

// GetGroundThreshold returns the ground_threshold value or the default.
func (c *CodecConfig) GetGroundThreshold() float64 {
	if c.GroundThreshold == nil {
		return 0.1
	}
	return *c.GroundThreshold
}

// GetDistanceMetric returns the distance_metric value or the default.
func (c *CodecConfig) GetDistanceMetric() string {
	if c.DistanceMetric == nil {
		return ground.MetricPointToPlane
	}
	return *c.DistanceMetric
}

// GetCompressor returns the compressor value or the default.
func (c *CodecConfig) GetCompressor() string {
	if c.Compressor == nil {
		return compressor.Bzip2
	}
	return *c.Compressor
}

// GetRansacDistanceThreshold returns the ransac_distance_threshold value or the default.
func (c *CodecConfig) GetRansacDistanceThreshold() float64 {
	if c.RansacDistanceThreshold == nil {
		return 0.1
	}
	return *c.RansacDistanceThreshold
}

// GetRansacN returns the ransac_n value or the default.
func (c *CodecConfig) GetRansacN() int {
	if c.RansacN == nil {
		return 10
	}
	return *c.RansacN
}

// GetRansacIterations returns the ransac_iterations value or the default.
func (c *CodecConfig) GetRansacIterations() int {
	if c.RansacIterations == nil {
		return 100
	}
	return *c.RansacIterations
}

// GetGroundCandidateHeight returns the ground_candidate_height value or the default.
func (c *CodecConfig) GetGroundCandidateHeight() float64 {
	if c.GroundCandidateHeight == nil {
		return -1.0
	}
	return *c.GroundCandidateHeight
}

// GetGroundFallbackHeight returns the ground_fallback_height value or the default.
func (c *CodecConfig) GetGroundFallbackHeight() float64 {
	if c.GroundFallbackHeight == nil {
		return 0.0
	}
	return *c.GroundFallbackHeight
}

// GetGroundMinCandidates returns the ground_min_candidates value or the default.
func (c *CodecConfig) GetGroundMinCandidates() int {
	if c.GroundMinCandidates == nil {
		return 5000
	}
	return *c.GroundMinCandidates
}

// GetGroundSampleSize returns the ground_sample_size value or the default.
func (c *CodecConfig) GetGroundSampleSize() int {
	if c.GroundSampleSize == nil {
		return 5000
	}
	return *c.GroundSampleSize
}

// GetSeed returns the seed value or the default.
func (c *CodecConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 123
	}
	return *c.Seed
}

// FitConfig builds the plane-fit configuration.
func (c *CodecConfig) FitConfig() ground.FitConfig {
	return ground.FitConfig{
		CandidateHeight:   c.GetGroundCandidateHeight(),
		FallbackHeight:    c.GetGroundFallbackHeight(),
		MinCandidates:     c.GetGroundMinCandidates(),
		SampleSize:        c.GetGroundSampleSize(),
		DistanceThreshold: c.GetRansacDistanceThreshold(),
		RansacN:           c.GetRansacN(),
		Iterations:        c.GetRansacIterations(),
		Seed:              c.GetSeed(),
	}
}
