package features

import "math"

const (
	// NumCoefficients is the number of cepstral coefficients kept per frame.
	NumCoefficients = 13

	// VectorLen is the fixed length of every FeatureVector:
	// (MFCC + delta + delta-delta) x (mean + std) x 13 coefficients.
	VectorLen = 6 * NumCoefficients
)

// Group identifies one 13-value block of the feature vector. The order of the
// groups is part of the wire format and of the classifier's rule indices.
type Group int

const (
	MFCCMean Group = iota
	DeltaMean
	DeltaDeltaMean
	MFCCStd
	DeltaStd
	DeltaDeltaStd
)

var groupNames = [...]string{
	MFCCMean:       "mfcc_mean",
	DeltaMean:      "delta_mean",
	DeltaDeltaMean: "delta_delta_mean",
	MFCCStd:        "mfcc_std",
	DeltaStd:       "delta_std",
	DeltaDeltaStd:  "delta_delta_std",
}

func (g Group) String() string {
	if g < 0 || int(g) >= len(groupNames) {
		return "unknown"
	}
	return groupNames[g]
}

// Index returns the position of coefficient coeff of group g in a Vector.
func Index(g Group, coeff int) int {
	return int(g)*NumCoefficients + coeff
}

// Vector is the aggregated 78-value descriptor of one recording.
// It is an array so that it is copied, never shared, between the
// extraction, classification and encoding steps.
type Vector [VectorLen]float32

// Get returns coefficient coeff of group g.
func (v *Vector) Get(g Group, coeff int) float32 {
	return v[Index(g, coeff)]
}

// Finite reports whether the vector contains no NaN or infinite values.
func (v *Vector) Finite() bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
