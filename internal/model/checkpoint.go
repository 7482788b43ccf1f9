package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/rangecodec/internal/codecerr"
)

// Checkpoint selects and parameterises a predictor.
type Checkpoint struct {
	Model         string  `json:"model"`
	Scale         float64 `json:"scale"`
	ScalePerMeter float64 `json:"scale_per_meter"`
}

// LoadCheckpoint reads a JSON checkpoint and builds its predictor.
func LoadCheckpoint(path string) (Predictor, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, codecerr.Configf("ckpt", "checkpoint must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, codecerr.Configf("ckpt", "failed to parse JSON: %v", err)
	}
	return ck.Predictor()
}

// Predictor validates the checkpoint and returns the predictor it names.
func (c Checkpoint) Predictor() (Predictor, error) {
	switch c.Model {
	case NameLaplace:
		if math.IsNaN(c.Scale) || c.Scale <= 0 {
			return nil, codecerr.Configf("scale", "must be positive, got %v", c.Scale)
		}
		if math.IsNaN(c.ScalePerMeter) || c.ScalePerMeter < 0 {
			return nil, codecerr.Configf("scale_per_meter", "must be non-negative, got %v", c.ScalePerMeter)
		}
		return Laplace{Scale: c.Scale, ScalePerMeter: c.ScalePerMeter}, nil
	case "":
		return nil, codecerr.Configf("model", "checkpoint names no model")
	}
	return nil, codecerr.Configf("model", "unknown model %q", c.Model)
}
