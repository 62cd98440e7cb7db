// Package audio provides PCM sample handling for the hive sensor: decoding,
// conditioning before feature extraction, level metrics and capture sources.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// PreEmphasis is the first-order high-pass coefficient applied before
	// feature extraction.
	PreEmphasis = 0.97

	fullScale = math.MaxInt16
)

// DecodePCM16LE parses 16-bit little-endian PCM. A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
	}
	return out
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// ApplyPreEmphasis computes y[i] = x[i] - coeff*x[i-1] in place. It runs back
// to front so every output uses the unmodified previous input; results
// saturate to the int16 range.
func ApplyPreEmphasis(samples []int16, coeff float64) {
	for i := len(samples) - 1; i > 0; i-- {
		samples[i] = saturate(float64(samples[i]) - coeff*float64(samples[i-1]))
	}
}

// NormalizePeak scales samples in place so the absolute peak reaches full
// scale. All-zero input is left unchanged.
func NormalizePeak(samples []int16) {
	peak := 0
	for _, s := range samples {
		if a := absSample(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return
	}

	gain := float64(fullScale) / float64(peak)
	for i, s := range samples {
		samples[i] = saturate(math.Round(float64(s) * gain))
	}
}

// Condition applies pre-emphasis followed by peak normalisation.
func Condition(samples []int16) {
	ApplyPreEmphasis(samples, PreEmphasis)
	NormalizePeak(samples)
}

func saturate(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
