package ml

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"buzzhive/internal/features"
)

// Scaler holds the per-feature standardisation parameters:
// normalized[i] = (raw[i] - Mean[i]) / Scale[i].
type Scaler struct {
	Mean  [features.VectorLen]float64
	Scale [features.VectorLen]float64
}

// IdentityScaler leaves features unchanged.
func IdentityScaler() Scaler {
	var s Scaler
	for i := range s.Scale {
		s.Scale[i] = 1
	}
	return s
}

// Validate rejects zero or non-finite scale entries.
func (s *Scaler) Validate() error {
	for i := range s.Scale {
		if s.Scale[i] == 0 || math.IsNaN(s.Scale[i]) || math.IsInf(s.Scale[i], 0) {
			return fmt.Errorf("ml: scale[%d] = %v", i, s.Scale[i])
		}
		if math.IsNaN(s.Mean[i]) || math.IsInf(s.Mean[i], 0) {
			return fmt.Errorf("ml: mean[%d] = %v", i, s.Mean[i])
		}
	}
	return nil
}

type scalerFile struct {
	Mean  []float64 `yaml:"mean"`
	Scale []float64 `yaml:"scale"`
}

// LoadScaler reads scaler parameters from a YAML file with "mean" and "scale"
// sequences of 78 values each.
func LoadScaler(path string) (Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scaler{}, fmt.Errorf("failed to read scaler file: %w", err)
	}

	var f scalerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Scaler{}, fmt.Errorf("failed to unmarshal scaler: %w", err)
	}
	if len(f.Mean) != features.VectorLen || len(f.Scale) != features.VectorLen {
		return Scaler{}, fmt.Errorf("ml: scaler needs %d means and scales, got %d and %d",
			features.VectorLen, len(f.Mean), len(f.Scale))
	}

	var s Scaler
	copy(s.Mean[:], f.Mean)
	copy(s.Scale[:], f.Scale)
	if err := s.Validate(); err != nil {
		return Scaler{}, err
	}
	return s, nil
}
