// Package dispatcher implements the base station's receive loop: every radio
// frame is decoded, classified when it carries raw features, and forwarded to
// the uplink with a single attempt.
//
// Frames are handled one at a time in arrival order. A slow uplink stalls
// intake; frames arriving meanwhile queue in the radio's bounded receive
// buffer and are dropped there when it fills.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"buzzhive/internal/features"
	"buzzhive/internal/ml"
	"buzzhive/internal/models"
	"buzzhive/internal/packet"
	"buzzhive/internal/radio"
	"buzzhive/internal/uplink"
)

// Receiver is the receive half of a radio link.
type Receiver interface {
	Receive(ctx context.Context) (radio.Frame, error)
}

// Classifier turns a raw feature vector into a prediction.
type Classifier interface {
	Classify(raw features.Vector) ml.Prediction
}

// Config controls loop timing.
type Config struct {
	// PollInterval bounds each Receive so connectivity checks run while idle.
	PollInterval time.Duration
	// ConnectivityCheckInterval is the minimum spacing of uplink pings.
	ConnectivityCheckInterval time.Duration
	// UplinkTimeout bounds each Send and Ping.
	UplinkTimeout time.Duration
}

// DefaultConfig returns a 1s poll, 30s connectivity check and 15s uplink timeout.
func DefaultConfig() Config {
	return Config{
		PollInterval:              time.Second,
		ConnectivityCheckInterval: 30 * time.Second,
		UplinkTimeout:             15 * time.Second,
	}
}

// Stats counts packet outcomes.
type Stats struct {
	Received       int
	Relayed        int // Classified packets forwarded as-is
	Classified     int // Raw packets classified here
	Unknown        int
	Offline        int
	UploadFailures int
	Uploaded       int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConnectivityObserver registers fn to be called whenever the uplink
// connectivity state changes, and once with the initial state.
func WithConnectivityObserver(fn func(online bool)) Option {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher routes received packets to the uplink. It is not safe for
// concurrent use; Run owns it.
type Dispatcher struct {
	rx         Receiver
	classifier Classifier
	sink       uplink.Sink
	cfg        Config
	logger     *slog.Logger
	observer   func(bool)
	now        func() time.Time

	online    bool
	lastCheck time.Time
	stats     Stats
}

// New creates a dispatcher. Connectivity is assumed until the first check.
func New(rx Receiver, classifier Classifier, sink uplink.Sink, cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ConnectivityCheckInterval <= 0 {
		cfg.ConnectivityCheckInterval = def.ConnectivityCheckInterval
	}
	if cfg.UplinkTimeout <= 0 {
		cfg.UplinkTimeout = def.UplinkTimeout
	}

	d := &Dispatcher{
		rx:         rx,
		classifier: classifier,
		sink:       sink,
		cfg:        cfg,
		logger:     logger.With("component", "dispatcher"),
		now:        time.Now,
		online:     true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats returns the packet counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats
}

// Online reports the last observed uplink connectivity.
func (d *Dispatcher) Online() bool {
	return d.online
}

// Run receives and handles frames until ctx is cancelled or the radio fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"poll", d.cfg.PollInterval, "connectivity_check", d.cfg.ConnectivityCheckInterval)
	d.CheckConnectivity(ctx, true)

	for {
		frame, err := d.poll(ctx)
		switch {
		case ctx.Err() != nil:
			d.logger.Info("dispatcher stopped", "received", d.stats.Received, "uploaded", d.stats.Uploaded)
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			// idle poll
		case err != nil:
			return fmt.Errorf("radio receive: %w", err)
		default:
			// Per-packet failures are logged and end at the packet boundary.
			d.HandlePacket(ctx, frame)
		}

		d.CheckConnectivity(ctx, false)
	}
}

func (d *Dispatcher) poll(ctx context.Context) (radio.Frame, error) {
	pollCtx, cancel := context.WithTimeout(ctx, d.cfg.PollInterval)
	defer cancel()
	return d.rx.Receive(pollCtx)
}

// HandlePacket decodes one frame, classifies it if it carries raw features,
// and makes one upload attempt. The returned telemetry is valid whenever the
// frame decoded, even if the upload failed.
func (d *Dispatcher) HandlePacket(ctx context.Context, frame radio.Frame) (models.Telemetry, error) {
	d.stats.Received++

	p, err := packet.Decode(frame.Payload)
	if err != nil {
		d.stats.Unknown++
		d.logger.Warn("dropping undecodable packet", "bytes", len(frame.Payload), "error", err)
		return models.Telemetry{}, err
	}

	var t models.Telemetry
	switch p := p.(type) {
	case packet.Classified:
		d.stats.Relayed++
		t = relay(p)
	case packet.Raw:
		d.stats.Classified++
		t = d.classify(p, frame.ReceivedAt)
	default:
		return models.Telemetry{}, fmt.Errorf("unhandled packet type %T", p)
	}

	d.logger.Info("packet decoded",
		"hive_id", t.HiveID,
		"variant", variantName(p),
		"queen_status", t.QueenStatusName,
		"temperature", t.Temperature,
		"humidity", t.Humidity,
		"battery_mv", t.BatteryMv)

	return t, d.forward(ctx, t)
}

func relay(p packet.Classified) models.Telemetry {
	return models.Telemetry{
		HiveID:          int(p.HiveID),
		QueenStatus:     int(p.QueenStatus),
		QueenStatusName: ml.QueenStatus(p.QueenStatus).String(),
		AnomalyScore:    int(p.AnomalyScore),
		Temperature:     packet.DecodeTemperature(p.Temperature),
		Humidity:        int(p.Humidity),
		BatteryMv:       int(p.BatteryMv),
		Timestamp:       int64(p.Timestamp),
	}
}

func (d *Dispatcher) classify(p packet.Raw, receivedAt time.Time) models.Telemetry {
	pred := d.classifier.Classify(p.Features)
	if receivedAt.IsZero() {
		receivedAt = d.now()
	}

	d.logger.Debug("classified raw features", "hive_id", p.HiveID, "class", pred.Class.String(), "score", pred.Score)

	return models.Telemetry{
		HiveID:          int(p.HiveID),
		QueenStatus:     int(pred.Class),
		QueenStatusName: pred.Class.String(),
		AnomalyScore:    0,
		Temperature:     packet.DecodeTemperature(p.Temperature),
		Humidity:        int(p.Humidity),
		BatteryMv:       int(p.BatteryMv),
		Timestamp:       receivedAt.Unix(),
	}
}

func (d *Dispatcher) forward(ctx context.Context, t models.Telemetry) error {
	if !d.online {
		d.stats.Offline++
		d.logger.Warn("uplink offline, dropping result", "hive_id", t.HiveID)
		return uplink.ErrConnectivityUnavailable
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.UplinkTimeout)
	defer cancel()

	if err := d.sink.Send(sendCtx, t); err != nil {
		d.stats.UploadFailures++
		d.logger.Error("upload failed, dropping result", "hive_id", t.HiveID, "error", err)
		return err
	}
	d.stats.Uploaded++
	d.logger.Debug("uploaded", "hive_id", t.HiveID)
	return nil
}

// CheckConnectivity pings the uplink if the check interval has elapsed since
// the last ping, or unconditionally with force.
func (d *Dispatcher) CheckConnectivity(ctx context.Context, force bool) {
	now := d.now()
	if !force && now.Sub(d.lastCheck) < d.cfg.ConnectivityCheckInterval {
		return
	}
	d.lastCheck = now

	pingCtx, cancel := context.WithTimeout(ctx, d.cfg.UplinkTimeout)
	defer cancel()
	err := d.sink.Ping(pingCtx)
	online := err == nil

	if online != d.online || force {
		if online {
			d.logger.Info("uplink reachable")
		} else {
			d.logger.Warn("uplink unreachable", "error", err)
		}
		if d.observer != nil {
			d.observer(online)
		}
	}
	d.online = online
}

func variantName(p packet.Packet) string {
	switch p.(type) {
	case packet.Classified:
		return "classified"
	case packet.Raw:
		return "raw"
	}
	return "unknown"
}
