package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"buzzhive/internal/features"
	"buzzhive/internal/ml"
	"buzzhive/internal/models"
	"buzzhive/internal/packet"
	"buzzhive/internal/radio"
	"buzzhive/internal/uplink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingClassifier struct {
	mu    sync.Mutex
	calls int
	class ml.QueenStatus
}

func (c *countingClassifier) Classify(features.Vector) ml.Prediction {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return ml.Prediction{Class: c.class, Score: 1}
}

func (c *countingClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeSink struct {
	mu       sync.Mutex
	sent     []models.Telemetry
	attempts int
	failures map[int]error // attempt number (1-based) -> error
	pingErr  error
	pings    int
	notify   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{failures: map[int]error{}, notify: make(chan struct{}, 16)}
}

func (s *fakeSink) Send(_ context.Context, t models.Telemetry) error {
	s.mu.Lock()
	s.attempts++
	err := s.failures[s.attempts]
	if err == nil {
		s.sent = append(s.sent, t)
	}
	s.mu.Unlock()
	s.notify <- struct{}{}
	return err
}

func (s *fakeSink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) Sent() []models.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Telemetry(nil), s.sent...)
}

func (s *fakeSink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func classifiedFrame(t *testing.T, hive uint8, ts uint32) radio.Frame {
	t.Helper()
	b, err := packet.Classified{
		HiveID:      hive,
		QueenStatus: uint8(ml.QueenHatched),
		Temperature: 2150,
		Humidity:    58,
		BatteryMv:   3710,
		Timestamp:   ts,
	}.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return radio.Frame{Payload: b, ReceivedAt: time.Unix(1_900_000_000, 0)}
}

func rawFrame(t *testing.T, hive uint8, v features.Vector, at time.Time) radio.Frame {
	t.Helper()
	b, err := packet.Raw{HiveID: hive, Temperature: -250, Humidity: 90, BatteryMv: 3300, Features: v}.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return radio.Frame{Payload: b, ReceivedAt: at}
}

func TestClassifiedPacketIsRelayedWithoutClassification(t *testing.T) {
	cls := &countingClassifier{}
	sink := newFakeSink()
	d := New(nil, cls, sink, DefaultConfig(), discardLogger())

	tel, err := d.HandlePacket(context.Background(), classifiedFrame(t, 5, 1718000000))
	if err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if cls.Calls() != 0 {
		t.Errorf("classifier called %d times, want 0", cls.Calls())
	}

	want := models.Telemetry{
		HiveID:          5,
		QueenStatus:     2,
		QueenStatusName: "Queen_Hatched",
		AnomalyScore:    0,
		Temperature:     21.5,
		Humidity:        58,
		BatteryMv:       3710,
		Timestamp:       1718000000,
	}
	if tel != want {
		t.Errorf("telemetry = %+v, want %+v", tel, want)
	}
	if sent := sink.Sent(); len(sent) != 1 || sent[0] != want {
		t.Errorf("sent = %+v", sent)
	}
}

func TestRawPacketIsClassifiedExactlyOnce(t *testing.T) {
	cls := &countingClassifier{class: ml.Queenless}
	sink := newFakeSink()
	d := New(nil, cls, sink, DefaultConfig(), discardLogger())

	at := time.Unix(1718000123, 0)
	tel, err := d.HandlePacket(context.Background(), rawFrame(t, 9, features.Vector{}, at))
	if err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if cls.Calls() != 1 {
		t.Errorf("classifier called %d times, want 1", cls.Calls())
	}
	if tel.QueenStatus != 1 || tel.QueenStatusName != "Queenless" {
		t.Errorf("class = %d/%s", tel.QueenStatus, tel.QueenStatusName)
	}
	if tel.AnomalyScore != 0 {
		t.Errorf("anomaly score = %d, want 0", tel.AnomalyScore)
	}
	if tel.Timestamp != at.Unix() {
		t.Errorf("timestamp = %d, want receive time %d", tel.Timestamp, at.Unix())
	}
	if tel.Temperature != -2.5 || tel.Humidity != 90 || tel.BatteryMv != 3300 || tel.HiveID != 9 {
		t.Errorf("telemetry = %+v", tel)
	}
	if len(sink.Sent()) != 1 {
		t.Errorf("sent %d records, want 1", len(sink.Sent()))
	}
}

func TestUnknownLengthIsDropped(t *testing.T) {
	cls := &countingClassifier{}
	sink := newFakeSink()
	d := New(nil, cls, sink, DefaultConfig(), discardLogger())

	for _, n := range []int{0, 15, 17, 100, 317, 319} {
		_, err := d.HandlePacket(context.Background(), radio.Frame{Payload: make([]byte, n)})
		if !errors.Is(err, packet.ErrUnknownVariant) {
			t.Errorf("%d bytes: err = %v, want ErrUnknownVariant", n, err)
		}
	}
	if cls.Calls() != 0 || sink.Attempts() != 0 {
		t.Errorf("classify=%d send=%d, want no calls", cls.Calls(), sink.Attempts())
	}
	if got := d.Stats().Unknown; got != 6 {
		t.Errorf("Unknown = %d, want 6", got)
	}
}

func TestOfflineDropsWithoutSending(t *testing.T) {
	sink := newFakeSink()
	sink.pingErr = errors.New("no route")

	var states []bool
	d := New(nil, &countingClassifier{}, sink, DefaultConfig(), discardLogger(),
		WithConnectivityObserver(func(online bool) { states = append(states, online) }))

	d.CheckConnectivity(context.Background(), true)
	if d.Online() {
		t.Fatal("dispatcher should be offline")
	}

	_, err := d.HandlePacket(context.Background(), classifiedFrame(t, 1, 1))
	if !errors.Is(err, uplink.ErrConnectivityUnavailable) {
		t.Errorf("err = %v, want ErrConnectivityUnavailable", err)
	}
	if sink.Attempts() != 0 {
		t.Errorf("send attempted %d times while offline", sink.Attempts())
	}

	sink.mu.Lock()
	sink.pingErr = nil
	sink.mu.Unlock()
	d.CheckConnectivity(context.Background(), true)
	if _, err := d.HandlePacket(context.Background(), classifiedFrame(t, 1, 2)); err != nil {
		t.Errorf("HandlePacket after recovery: %v", err)
	}

	if len(states) != 2 || states[0] || !states[1] {
		t.Errorf("observer states = %v, want [false true]", states)
	}
}

func TestConnectivityCheckIsTimeGated(t *testing.T) {
	sink := newFakeSink()
	now := time.Unix(1000, 0)
	d := New(nil, &countingClassifier{}, sink, Config{ConnectivityCheckInterval: 30 * time.Second}, discardLogger(),
		WithClock(func() time.Time { return now }))

	d.CheckConnectivity(context.Background(), true)
	now = now.Add(10 * time.Second)
	d.CheckConnectivity(context.Background(), false)
	now = now.Add(19 * time.Second)
	d.CheckConnectivity(context.Background(), false)
	if sink.pings != 1 {
		t.Fatalf("pings = %d before the interval elapsed, want 1", sink.pings)
	}

	now = now.Add(time.Second)
	d.CheckConnectivity(context.Background(), false)
	if sink.pings != 2 {
		t.Errorf("pings = %d after the interval, want 2", sink.pings)
	}
}

func TestUploadFailureDoesNotBlockNextPacket(t *testing.T) {
	link := radio.NewLoopback(4)
	defer link.Close()

	cls := &countingClassifier{class: ml.Queenright}
	sink := newFakeSink()
	sink.failures[1] = uplink.ErrUploadFailed

	d := New(link, cls, sink, Config{PollInterval: 10 * time.Millisecond}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	a := classifiedFrame(t, 1, 100)
	b := rawFrame(t, 2, features.Vector{}, time.Now())
	if err := link.Transmit(ctx, a.Payload); err != nil {
		t.Fatal(err)
	}
	if err := link.Transmit(ctx, b.Payload); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-sink.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d upload attempts observed", i)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	sent := sink.Sent()
	if len(sent) != 1 || sent[0].HiveID != 2 {
		t.Errorf("sent = %+v, want only hive 2", sent)
	}
	st := d.Stats()
	if st.UploadFailures != 1 || st.Uploaded != 1 || st.Received != 2 {
		t.Errorf("stats = %+v", st)
	}
	if cls.Calls() != 1 {
		t.Errorf("classifier calls = %d, want 1", cls.Calls())
	}
}

func TestRunStopsOnClosedRadio(t *testing.T) {
	link := radio.NewLoopback(1)
	link.Close()

	d := New(link, &countingClassifier{}, newFakeSink(), Config{PollInterval: 10 * time.Millisecond}, discardLogger())
	if err := d.Run(context.Background()); !errors.Is(err, radio.ErrClosed) {
		t.Errorf("Run err = %v, want ErrClosed", err)
	}
}

func TestSilenceEndToEnd(t *testing.T) {
	x, err := features.NewExtractor(features.DefaultConfig(22050))
	if err != nil {
		t.Fatal(err)
	}
	v, _, err := x.Extract(make([]int16, 22050*10))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := ml.NewEngine()
	if err != nil {
		t.Fatal(err)
	}

	sink := newFakeSink()
	d := New(nil, engine, sink, DefaultConfig(), discardLogger())

	tel, err := d.HandlePacket(context.Background(), rawFrame(t, 4, v, time.Unix(1718000000, 0)))
	if err != nil {
		t.Fatalf("HandlePacket: %v", err)
	}
	if tel.QueenStatus != int(ml.Queenless) || tel.QueenStatusName != "Queenless" {
		t.Errorf("silence classified as %d/%s, want 1/Queenless", tel.QueenStatus, tel.QueenStatusName)
	}
}
