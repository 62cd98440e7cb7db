package dutycycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"buzzhive/internal/audio"
	"buzzhive/internal/radio"
)

// Reading is one environment sample. Unreadable values are NaN.
type Reading struct {
	TemperatureC float64
	HumidityPct  float64
	BatteryMv    uint16
}

// Environment reads temperature, humidity and battery voltage.
type Environment interface {
	Read(ctx context.Context) Reading
}

// Microphone captures PCM audio between Init and Shutdown.
type Microphone interface {
	Init(ctx context.Context) error
	Capture(ctx context.Context, dst []int16) error
	Shutdown() error
}

// Radio transmits payloads between Init and Shutdown.
type Radio interface {
	Init(ctx context.Context) error
	Transmit(ctx context.Context, payload []byte) error
	Shutdown() error
}

// Sleeper suspends the node for a duration.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer and wakes early when ctx is done.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StaticEnvironment reports fixed values, standing in for a DHT sensor and
// battery divider.
type StaticEnvironment struct {
	Reading Reading
}

func (e StaticEnvironment) Read(context.Context) Reading {
	return e.Reading
}

// SourceMicrophone captures from an audio.Source.
type SourceMicrophone struct {
	Source audio.Source

	ready bool
}

func (m *SourceMicrophone) Init(context.Context) error {
	if m.Source == nil {
		return errors.New("no audio source")
	}
	m.ready = true
	return nil
}

func (m *SourceMicrophone) Capture(ctx context.Context, dst []int16) error {
	if !m.ready {
		return errors.New("microphone not initialised")
	}
	return m.Source.Capture(ctx, dst)
}

func (m *SourceMicrophone) Shutdown() error {
	m.ready = false
	return nil
}

// LinkRadio opens a fresh radio link on every Init and closes it on Shutdown.
type LinkRadio struct {
	Open func(ctx context.Context) (radio.Transceiver, error)

	link radio.Transceiver
}

func (r *LinkRadio) Init(ctx context.Context) error {
	link, err := r.Open(ctx)
	if err != nil {
		return err
	}
	r.link = link
	return nil
}

func (r *LinkRadio) Transmit(ctx context.Context, payload []byte) error {
	if r.link == nil {
		return errors.New("radio not initialised")
	}
	return r.link.Transmit(ctx, payload)
}

func (r *LinkRadio) Shutdown() error {
	if r.link == nil {
		return nil
	}
	err := r.link.Close()
	r.link = nil
	if err != nil {
		return fmt.Errorf("close radio link: %w", err)
	}
	return nil
}
