package features

// Spectral feature extraction
//
// A recording is cut into overlapping frames (2048 samples, hop 512). Each frame
// is Hamming-windowed and transformed with a real FFT; the power spectrum of the
// lower half is bucketed into 40 mel-spaced bands between 0 and 8 kHz, the log
// band energies are decorrelated with a DCT-II and the first 13 coefficients
// form the frame's MFCC vector. Centered first differences give the deltas and
// delta-deltas. The recording is summarised by the per-coefficient mean and
// population standard deviation of the three groups, 78 values in total.
//
// At most MaxFrames frames are analysed. Longer recordings are truncated unless
// the extractor was built WithStrictFrameLimit, in which case ErrFeatureOverflow
// is returned.

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFrameLength  = 2048
	DefaultHopLength    = 512
	DefaultNumMelBands  = 40
	DefaultMinFrequency = 0.0
	DefaultMaxFrequency = 8000.0

	// MaxFrames bounds the per-recording frame buffers.
	MaxFrames = 100

	// logFloor keeps log(energy) finite for silent bands.
	logFloor = 1e-10

	pcmScale = 32768.0
)

// ErrFeatureOverflow is returned by a strict extractor when a recording holds
// more frames than MaxFrames.
var ErrFeatureOverflow = errors.New("features: recording exceeds frame limit")

// Config holds the extraction parameters.
type Config struct {
	SampleRate   int
	FrameLength  int
	HopLength    int
	NumMelBands  int
	MinFrequency float64
	MaxFrequency float64
}

// DefaultConfig returns the hive sensor extraction parameters for sampleRate.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:   sampleRate,
		FrameLength:  DefaultFrameLength,
		HopLength:    DefaultHopLength,
		NumMelBands:  DefaultNumMelBands,
		MinFrequency: DefaultMinFrequency,
		MaxFrequency: DefaultMaxFrequency,
	}
}

// Validate checks the parameters for internal consistency.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("features: invalid sample rate %d", c.SampleRate)
	case c.FrameLength < 2 || c.FrameLength%2 != 0:
		return fmt.Errorf("features: frame length must be even and >= 2, got %d", c.FrameLength)
	case c.HopLength <= 0:
		return fmt.Errorf("features: invalid hop length %d", c.HopLength)
	case c.NumMelBands < NumCoefficients:
		return fmt.Errorf("features: need at least %d mel bands, got %d", NumCoefficients, c.NumMelBands)
	case c.MinFrequency < 0 || c.MaxFrequency <= c.MinFrequency:
		return fmt.Errorf("features: invalid frequency range %.1f-%.1f Hz", c.MinFrequency, c.MaxFrequency)
	}
	return nil
}

// Stats describes how much of a recording was analysed.
type Stats struct {
	FramesAvailable int
	FramesUsed      int
}

// Truncated reports whether frames were dropped by the MaxFrames bound.
func (s Stats) Truncated() bool {
	return s.FramesUsed < s.FramesAvailable
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStrictFrameLimit makes Extract fail with ErrFeatureOverflow instead of
// truncating recordings longer than MaxFrames frames.
func WithStrictFrameLimit() Option {
	return func(e *Extractor) {
		e.strict = true
	}
}

type melBand struct {
	lo, hi int // spectrum bins [lo, hi)
}

// Extractor computes feature vectors. It keeps reusable work buffers and is
// not safe for concurrent use.
type Extractor struct {
	cfg    Config
	strict bool

	window []float64
	bands  []melBand
	dct    [][]float64
	fft    *fourier.FFT

	frame    []float64
	coeffs   []complex128
	spectrum []float64
	melLog   []float64
}

// NewExtractor precomputes the window, filterbank and DCT tables for cfg.
func NewExtractor(cfg Config, opts ...Option) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{
		cfg:      cfg,
		window:   hammingWindow(cfg.FrameLength),
		bands:    melBands(cfg),
		dct:      dctTable(cfg.NumMelBands, NumCoefficients),
		fft:      fourier.NewFFT(cfg.FrameLength),
		frame:    make([]float64, cfg.FrameLength),
		coeffs:   make([]complex128, cfg.FrameLength/2+1),
		spectrum: make([]float64, cfg.FrameLength/2),
		melLog:   make([]float64, cfg.NumMelBands),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the extraction parameters.
func (e *Extractor) Config() Config {
	return e.cfg
}

// FrameCount returns the number of frames a buffer of n samples yields before
// the MaxFrames bound. Buffers shorter than one frame yield a single
// zero-padded frame; an empty buffer yields none.
func (e *Extractor) FrameCount(n int) int {
	if n <= 0 {
		return 0
	}
	if n < e.cfg.FrameLength {
		return 1
	}
	return (n-e.cfg.FrameLength)/e.cfg.HopLength + 1
}

// Extract computes the feature vector of samples. The result is deterministic
// for identical input. An empty buffer yields the zero vector.
func (e *Extractor) Extract(samples []int16) (Vector, Stats, error) {
	var out Vector

	available := e.FrameCount(len(samples))
	if available == 0 {
		return out, Stats{}, nil
	}
	if available > MaxFrames && e.strict {
		return out, Stats{FramesAvailable: available}, fmt.Errorf("%w: %d frames, limit %d", ErrFeatureOverflow, available, MaxFrames)
	}
	used := min(available, MaxFrames)

	mfcc := make([][NumCoefficients]float64, used)
	for f := range mfcc {
		e.frameMFCC(samples, f*e.cfg.HopLength, &mfcc[f])
	}

	delta := centeredDifference(mfcc)
	delta2 := centeredDifference(delta)

	for i, frames := range [][][NumCoefficients]float64{mfcc, delta, delta2} {
		for c := 0; c < NumCoefficients; c++ {
			mean, std := meanStd(frames, c)
			out[Index(Group(i), c)] = float32(mean)
			out[Index(Group(i)+MFCCStd, c)] = float32(std)
		}
	}

	return out, Stats{FramesAvailable: available, FramesUsed: used}, nil
}

// frameMFCC computes the cepstral coefficients of the frame starting at offset.
func (e *Extractor) frameMFCC(samples []int16, offset int, dst *[NumCoefficients]float64) {
	for i := range e.frame {
		var s float64
		if j := offset + i; j < len(samples) {
			s = float64(samples[j]) / pcmScale
		}
		e.frame[i] = s * e.window[i]
	}

	e.coeffs = e.fft.Coefficients(e.coeffs, e.frame)
	for k := range e.spectrum {
		re, im := real(e.coeffs[k]), imag(e.coeffs[k])
		e.spectrum[k] = re*re + im*im
	}

	for m, band := range e.bands {
		var sum float64
		for b := band.lo; b < band.hi; b++ {
			sum += e.spectrum[b]
		}
		e.melLog[m] = math.Log(sum + logFloor)
	}

	for k, basis := range e.dct {
		var sum float64
		for i, x := range e.melLog {
			sum += x * basis[i]
		}
		dst[k] = sum
	}
}

// centeredDifference returns (x[f+1]-x[f-1])/2 per coefficient; the first and
// last frames get zero.
func centeredDifference(frames [][NumCoefficients]float64) [][NumCoefficients]float64 {
	out := make([][NumCoefficients]float64, len(frames))
	for f := 1; f < len(frames)-1; f++ {
		for c := 0; c < NumCoefficients; c++ {
			out[f][c] = (frames[f+1][c] - frames[f-1][c]) / 2
		}
	}
	return out
}

// meanStd returns the mean and population standard deviation of coefficient c.
// Values are accumulated relative to the first frame so that a constant
// series yields a standard deviation of exactly zero.
func meanStd(frames [][NumCoefficients]float64, c int) (float64, float64) {
	n := float64(len(frames))
	ref := frames[0][c]

	var sum, sumSq float64
	for _, frame := range frames {
		d := frame[c] - ref
		sum += d
		sumSq += d * d
	}

	variance := (sumSq - sum*sum/n) / n
	if variance < 0 {
		variance = 0
	}
	return ref + sum/n, math.Sqrt(variance)
}

// MelScale converts a frequency in Hz to mels.
func MelScale(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// InverseMelScale converts mels to a frequency in Hz.
func InverseMelScale(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melBands splits [MinFrequency, MaxFrequency] into bands of equal mel width
// and maps each to a half-open range of spectrum bins.
func melBands(cfg Config) []melBand {
	half := cfg.FrameLength / 2
	melLow := MelScale(cfg.MinFrequency)
	melStep := (MelScale(cfg.MaxFrequency) - melLow) / float64(cfg.NumMelBands)
	binWidth := float64(cfg.SampleRate) / float64(cfg.FrameLength)

	bands := make([]melBand, cfg.NumMelBands)
	for m := range bands {
		lo := int(InverseMelScale(melLow+float64(m)*melStep) / binWidth)
		hi := int(InverseMelScale(melLow+float64(m+1)*melStep) / binWidth)
		bands[m] = melBand{lo: min(lo, half), hi: min(hi, half)}
	}
	return bands
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// dctTable returns the unnormalised DCT-II basis: out[k][i] = cos(pi*k*(2i+1)/(2n)).
func dctTable(n, keep int) [][]float64 {
	table := make([][]float64, keep)
	for k := range table {
		table[k] = make([]float64, n)
		for i := range table[k] {
			table[k][i] = math.Cos(math.Pi * float64(k) * float64(2*i+1) / (2 * float64(n)))
		}
	}
	return table
}
