// Package dutycycle drives the hive sensor node: wake, read the environment,
// record, extract features, transmit, then sleep for an interval chosen from
// the hive temperature.
//
// Peripherals are initialised from scratch on every wake and shut down before
// sleeping, so no driver state carries over between cycles.
package dutycycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"buzzhive/internal/audio"
	"buzzhive/internal/features"
	"buzzhive/internal/ml"
	"buzzhive/internal/packet"
)

var (
	// ErrPeripheralInit is fatal: the node halts rather than run with a
	// half-initialised radio or microphone.
	ErrPeripheralInit = errors.New("peripheral init failed")
	// ErrRecordingTimeout aborts the cycle; the node retries after a cooldown.
	ErrRecordingTimeout = errors.New("recording timed out")
)

// Mode selects what the node transmits.
type Mode string

const (
	// ModeForward sends the raw feature vector for classification at the base station.
	ModeForward Mode = "forward"
	// ModeClassify classifies on the node and sends only the result.
	ModeClassify Mode = "classify"
)

// Classifier turns a raw feature vector into a prediction.
type Classifier interface {
	Classify(raw features.Vector) ml.Prediction
}

// Config controls one node.
type Config struct {
	HiveID            uint8
	Mode              Mode
	RecordingDuration time.Duration
	// RecordingGrace is added to RecordingDuration to bound a capture.
	RecordingGrace time.Duration
	// Cooldown replaces the sleep interval after an aborted recording.
	Cooldown time.Duration
	Policy   Policy
}

// Peripherals are the node's drivers.
type Peripherals struct {
	Environment Environment
	Microphone  Microphone
	Radio       Radio
}

// Result describes one completed or aborted cycle.
type Result struct {
	Reading  Reading
	Interval time.Duration // the sleep that ended the cycle
	Level    audio.Metrics
	Stats    features.Stats
	Payload  []byte
	// Prediction is zero in forward mode.
	Prediction ml.Prediction
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClassifier sets the classifier used in ModeClassify.
func WithClassifier(c Classifier) Option {
	return func(s *Scheduler) {
		s.classifier = c
	}
}

// WithSleeper replaces TimerSleeper.
func WithSleeper(sl Sleeper) Option {
	return func(s *Scheduler) {
		s.sleeper = sl
	}
}

// WithClock replaces time.Now for packet timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// Scheduler runs the node's cycle. It is not safe for concurrent use.
type Scheduler struct {
	cfg        Config
	periph     Peripherals
	extractor  *features.Extractor
	classifier Classifier
	sleeper    Sleeper
	now        func() time.Time
	observer   func(State)
	logger     *slog.Logger

	state  State
	buf    []int16
	cycles int
}

// New creates a scheduler. The recording buffer is allocated once, sized from
// the extractor's sample rate and cfg.RecordingDuration.
func New(cfg Config, p Peripherals, extractor *features.Extractor, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		cfg:       cfg,
		periph:    p,
		extractor: extractor,
		sleeper:   TimerSleeper{},
		now:       time.Now,
		logger:    logger.With("component", "dutycycle"),
		state:     Active,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case p.Environment == nil || p.Microphone == nil || p.Radio == nil:
		return nil, errors.New("dutycycle: environment, microphone and radio are required")
	case extractor == nil:
		return nil, errors.New("dutycycle: extractor is required")
	case cfg.RecordingDuration <= 0:
		return nil, fmt.Errorf("dutycycle: invalid recording duration %s", cfg.RecordingDuration)
	case cfg.Cooldown <= 0:
		return nil, fmt.Errorf("dutycycle: invalid cooldown %s", cfg.Cooldown)
	}
	switch cfg.Mode {
	case ModeForward:
	case ModeClassify:
		if s.classifier == nil {
			return nil, errors.New("dutycycle: classify mode needs a classifier")
		}
	default:
		return nil, fmt.Errorf("dutycycle: unknown mode %q", cfg.Mode)
	}

	n := int(int64(cfg.RecordingDuration) * int64(extractor.Config().SampleRate) / int64(time.Second))
	s.buf = make([]int16, n)
	return s, nil
}

// State returns the current phase.
func (s *Scheduler) State() State {
	return s.state
}

// Run repeats cycles until ctx is cancelled or a peripheral fails to start.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sensor node started",
		"hive_id", s.cfg.HiveID,
		"mode", s.cfg.Mode,
		"recording", s.cfg.RecordingDuration,
		"buffer", humanize.Bytes(uint64(len(s.buf)*2)))

	for {
		_, err := s.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			s.logger.Info("sensor node stopped", "cycles", s.cycles)
			return nil
		case errors.Is(err, ErrPeripheralInit):
			return err
		case err != nil:
			s.logger.Warn("cycle failed", "cycle", s.cycles, "error", err)
		}
	}
}

// RunCycle performs one wake-to-sleep cycle. Only ErrPeripheralInit returns
// without sleeping.
func (s *Scheduler) RunCycle(ctx context.Context) (Result, error) {
	s.cycles++
	s.setState(Active)

	if err := s.initPeripherals(ctx); err != nil {
		s.logger.Error("peripheral init failed", "error", err)
		return Result{}, err
	}

	reading := s.periph.Environment.Read(ctx)
	res := Result{
		Reading:  reading,
		Interval: s.cfg.Policy.SleepInterval(reading.TemperatureC),
	}
	if math.IsNaN(reading.TemperatureC) {
		s.logger.Warn("temperature unavailable, using active interval")
	}

	if err := s.record(ctx, &res); err != nil {
		s.shutdownPeripherals()
		res.Interval = s.cfg.Cooldown
		s.logger.Warn("recording aborted", "error", err, "cooldown", s.cfg.Cooldown)
		if serr := s.sleep(ctx, res.Interval); serr != nil {
			return res, errors.Join(err, serr)
		}
		return res, err
	}

	s.setState(Transmitting)
	txErr := s.periph.Radio.Transmit(ctx, res.Payload)
	if txErr != nil {
		txErr = fmt.Errorf("transmit: %w", txErr)
		s.logger.Error("transmit failed", "error", txErr)
	} else {
		s.logger.Info("packet transmitted",
			"hive_id", s.cfg.HiveID,
			"bytes", len(res.Payload),
			"temperature", reading.TemperatureC,
			"next_wake", res.Interval)
	}

	s.shutdownPeripherals()
	if err := s.sleep(ctx, res.Interval); err != nil {
		return res, errors.Join(txErr, err)
	}
	return res, txErr
}

func (s *Scheduler) setState(st State) {
	if s.state != st {
		s.logger.Debug("state change", "from", s.state.String(), "to", st.String())
	}
	s.state = st
	if s.observer != nil {
		s.observer(st)
	}
}

func (s *Scheduler) initPeripherals(ctx context.Context) error {
	if err := s.periph.Microphone.Init(ctx); err != nil {
		return fmt.Errorf("%w: microphone: %w", ErrPeripheralInit, err)
	}
	if err := s.periph.Radio.Init(ctx); err != nil {
		s.periph.Microphone.Shutdown()
		return fmt.Errorf("%w: radio: %w", ErrPeripheralInit, err)
	}
	return nil
}

// shutdownPeripherals stops the radio before the microphone.
func (s *Scheduler) shutdownPeripherals() {
	if err := s.periph.Radio.Shutdown(); err != nil {
		s.logger.Warn("radio shutdown", "error", err)
	}
	if err := s.periph.Microphone.Shutdown(); err != nil {
		s.logger.Warn("microphone shutdown", "error", err)
	}
}

func (s *Scheduler) record(ctx context.Context, res *Result) error {
	s.setState(Recording)

	limit := s.cfg.RecordingDuration + s.cfg.RecordingGrace
	recCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	clear(s.buf)
	if err := s.periph.Microphone.Capture(recCtx, s.buf); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrRecordingTimeout, limit)
		}
		return fmt.Errorf("capture audio: %w", err)
	}

	res.Level = audio.Analyze(s.buf)
	s.logger.Info("recording complete",
		"samples", humanize.Comma(int64(res.Level.Samples)),
		"level_db", humanize.Ftoa(math.Round(res.Level.LevelDB*10)/10),
		"peak", res.Level.Peak,
		"clipping", res.Level.Clipping,
		"silent", res.Level.Silent)

	audio.Condition(s.buf)
	vec, stats, err := s.extractor.Extract(s.buf)
	if err != nil {
		return fmt.Errorf("extract features: %w", err)
	}
	res.Stats = stats
	if stats.Truncated() {
		s.logger.Debug("feature frames truncated", "available", stats.FramesAvailable, "used", stats.FramesUsed)
	}

	payload, err := s.encode(vec, res)
	if err != nil {
		return err
	}
	res.Payload = payload
	return nil
}

func (s *Scheduler) encode(vec features.Vector, res *Result) ([]byte, error) {
	temp := packet.EncodeTemperature(res.Reading.TemperatureC)
	hum := packet.EncodeHumidity(res.Reading.HumidityPct)

	if s.cfg.Mode == ModeForward {
		return packet.Raw{
			HiveID:      s.cfg.HiveID,
			Temperature: temp,
			Humidity:    hum,
			BatteryMv:   res.Reading.BatteryMv,
			Features:    vec,
		}.MarshalBinary()
	}

	pred := s.classifier.Classify(vec)
	res.Prediction = pred
	s.logger.Info("classified on node", "class", pred.Class.String(), "score", pred.Score)

	return packet.Classified{
		HiveID:       s.cfg.HiveID,
		QueenStatus:  uint8(pred.Class),
		AnomalyScore: 0,
		Temperature:  temp,
		Humidity:     hum,
		BatteryMv:    res.Reading.BatteryMv,
		Timestamp:    uint32(s.now().Unix()),
		FeatureHash:  packet.FeatureHash(&vec),
	}.MarshalBinary()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	s.setState(Sleeping)
	s.logger.Debug("sleeping", "duration", d)
	return s.sleeper.Sleep(ctx, d)
}
