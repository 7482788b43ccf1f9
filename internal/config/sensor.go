// Package config loads the sensor description (YAML) and the codec tuning
// (JSON) used by both the encoder and the decoder.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/rangecodec/internal/codecerr"
	"github.com/banshee-data/rangecodec/internal/rangeimage"
)

// SensorConfig is the on-disk lidar description. Angles are in degrees.
type SensorConfig struct {
	XYAngleRange     float64 `yaml:"XY_ANGLE_RANGE"`
	ZAngleMax        float64 `yaml:"Z_ANGLE_MAX"`
	ZAngleMin        float64 `yaml:"Z_ANGLE_MIN"`
	NearestRange     float64 `yaml:"NEAREST_RANGE"`
	FurthestRange    float64 `yaml:"FURTHEST_RANGE"`
	RangeImageHeight int     `yaml:"RANGE_IMAGE_HEIGHT"`
	RangeImageWidth  int     `yaml:"RANGE_IMAGE_WIDTH"`
	Channels         int     `yaml:"CHANNEL"`
}

// LoadSensorConfig reads and parses a sensor YAML file and validates it.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sensor config: %w", err)
	}
	return ParseSensorConfig(data)
}

// ParseSensorConfig parses sensor YAML from memory and validates it.
func ParseSensorConfig(data []byte) (*SensorConfig, error) {
	var cfg SensorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, codecerr.Configf("sensor", "parse sensor config: %v", err)
	}
	if _, err := cfg.Params(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Params converts the degree-based file values into validated projection
// parameters.
func (c *SensorConfig) Params() (rangeimage.Params, error) {
	p := rangeimage.Params{
		XYAngleRange:  c.XYAngleRange * math.Pi / 180,
		ZAngleMax:     c.ZAngleMax * math.Pi / 180,
		ZAngleMin:     c.ZAngleMin * math.Pi / 180,
		NearestRange:  c.NearestRange,
		FurthestRange: c.FurthestRange,
		Height:        c.RangeImageHeight,
		Width:         c.RangeImageWidth,
	}
	if err := p.Validate(); err != nil {
		return rangeimage.Params{}, err
	}
	return p, nil
}
