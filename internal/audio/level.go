package audio

import "math"

// LevelConfig holds configuration for level analysis
type LevelConfig struct {
	ReferenceLevel    float64 // full scale for dB calculation (32768 for 16-bit)
	MinimumRMS        float64 // silence threshold, also keeps log10 finite
	ClippingThreshold int     // absolute sample value treated as clipping
}

// DefaultLevelConfig returns default level analysis configuration
func DefaultLevelConfig() LevelConfig {
	return LevelConfig{
		ReferenceLevel:    32768.0,
		MinimumRMS:        1.0,
		ClippingThreshold: 32000,
	}
}

// Metrics describes the level of one recording.
type Metrics struct {
	Samples  int
	RMS      float64
	LevelDB  float64 // dBFS, clamped to [-80, 0]
	Peak     int     // absolute peak sample value
	Clipping bool
	Silent   bool
}

// Analyze computes level metrics with the default configuration.
func Analyze(samples []int16) Metrics {
	return AnalyzeWithConfig(samples, DefaultLevelConfig())
}

// AnalyzeWithConfig computes RMS, dBFS level, peak, clipping and silence flags.
func AnalyzeWithConfig(samples []int16, cfg LevelConfig) Metrics {
	m := Metrics{Samples: len(samples)}
	if len(samples) == 0 {
		m.Silent = true
		m.RMS = cfg.MinimumRMS
		m.LevelDB = minLevelDB
		return m
	}

	var sumSquares float64
	for _, s := range samples {
		abs := absSample(s)
		if abs > m.Peak {
			m.Peak = abs
		}
		if abs > cfg.ClippingThreshold {
			m.Clipping = true
		}
		x := float64(s)
		sumSquares += x * x
	}

	m.RMS = math.Sqrt(sumSquares / float64(len(samples)))
	if m.RMS < cfg.MinimumRMS {
		m.Silent = true
		m.RMS = cfg.MinimumRMS
	}
	m.LevelDB = Decibels(m.RMS, cfg.ReferenceLevel)
	return m
}

const (
	minLevelDB = -80.0
	maxLevelDB = 0.0
)

// Decibels converts an RMS value to dB relative to reference, clamped to
// [-80, 0]: dB = 20 * log10(rms / reference).
func Decibels(rms, reference float64) float64 {
	if rms <= 0 || reference <= 0 {
		return minLevelDB
	}

	db := 20.0 * math.Log10(rms/reference)
	if db < minLevelDB {
		db = minLevelDB
	}
	if db > maxLevelDB {
		db = maxLevelDB
	}
	return db
}

func absSample(s int16) int {
	v := int(s)
	if v < 0 {
		return -v
	}
	return v
}
