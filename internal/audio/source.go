package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"
)

// Source fills a buffer with captured samples. Capture blocks until dst is
// full or ctx is done.
type Source interface {
	Capture(ctx context.Context, dst []int16) error
}

// Silence captures all-zero samples.
type Silence struct{}

func (Silence) Capture(ctx context.Context, dst []int16) error {
	clear(dst)
	return ctx.Err()
}

// Tone synthesises a colony hum: a fundamental with decaying harmonics.
// Phase continues across captures.
type Tone struct {
	SampleRate int
	Frequency  float64
	Amplitude  float64 // peak of the fundamental, in sample units
	Harmonics  int

	pos int
}

// NewTone returns a 250 Hz hum with three harmonics.
func NewTone(sampleRate int) *Tone {
	return &Tone{
		SampleRate: sampleRate,
		Frequency:  250,
		Amplitude:  6000,
		Harmonics:  3,
	}
}

func (t *Tone) Capture(ctx context.Context, dst []int16) error {
	if t.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", t.SampleRate)
	}
	for i := range dst {
		ts := float64(t.pos+i) / float64(t.SampleRate)
		var v float64
		for h := 1; h <= t.Harmonics+1; h++ {
			v += t.Amplitude / float64(h) * math.Sin(2*math.Pi*t.Frequency*float64(h)*ts)
		}
		dst[i] = saturate(v)
	}
	t.pos += len(dst)
	return ctx.Err()
}

// File replays raw 16-bit little-endian PCM from disk. Recordings longer than
// the file are zero-padded.
type File struct {
	Path string
}

func (f File) Capture(ctx context.Context, dst []int16) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	n := copy(dst, DecodePCM16LE(data))
	clear(dst[n:])
	return ctx.Err()
}

// Realtime wraps a source so Capture takes as long as the audio it returns,
// as an I2S microphone would.
type Realtime struct {
	Source     Source
	SampleRate int
}

func (r Realtime) Capture(ctx context.Context, dst []int16) error {
	d := time.Duration(len(dst)) * time.Second / time.Duration(r.SampleRate)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return r.Source.Capture(ctx, dst)
}
