package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"buzzhive/internal/models"
	"buzzhive/internal/mqtt"
	"buzzhive/internal/mqtt/mqtttest"
)

var sample = models.Telemetry{
	HiveID:          3,
	QueenStatus:     1,
	QueenStatusName: "Queenless",
	AnomalyScore:    0,
	Temperature:     18.25,
	Humidity:        61,
	BatteryMv:       3650,
	Timestamp:       1718000000,
}

func TestHTTPSinkSend(t *testing.T) {
	var (
		mu      sync.Mutex
		gotKey  string
		gotType string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotKey = r.Header.Get("X-API-Key")
		gotType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPConfig{Endpoint: srv.URL + "/api/hive-data", APIKey: "secret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTPSink: %v", err)
	}
	defer sink.Close()

	if err := sink.Send(context.Background(), sample); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q", gotKey)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	want := map[string]any{
		"hive_id":           3.0,
		"queen_status":      1.0,
		"queen_status_name": "Queenless",
		"anomaly_score":     0.0,
		"temperature":       18.25,
		"humidity":          61.0,
		"battery_mv":        3650.0,
		"timestamp":         1718000000.0,
	}
	for k, v := range want {
		if gotBody[k] != v {
			t.Errorf("body[%s] = %v, want %v", k, gotBody[k], v)
		}
	}
	if len(gotBody) != len(want) {
		t.Errorf("body has %d fields, want %d", len(gotBody), len(want))
	}
}

func TestHTTPSinkStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		ok     bool
	}{
		{http.StatusOK, true},
		{http.StatusCreated, true},
		{http.StatusNoContent, true},
		{http.StatusMovedPermanently, false},
		{http.StatusUnauthorized, false},
		{http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		sink, err := NewHTTPSink(HTTPConfig{Endpoint: srv.URL, Timeout: time.Second})
		if err != nil {
			t.Fatal(err)
		}

		err = sink.Send(context.Background(), sample)
		if tt.ok && err != nil {
			t.Errorf("status %d: unexpected error %v", tt.status, err)
		}
		if !tt.ok && !errors.Is(err, ErrUploadFailed) {
			t.Errorf("status %d: err = %v, want ErrUploadFailed", tt.status, err)
		}
		srv.Close()
	}
}

func TestHTTPSinkPing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	sink, err := NewHTTPSink(HTTPConfig{Endpoint: srv.URL + "/x", Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Ping(context.Background()); err != nil {
		t.Errorf("Ping to live server: %v", err)
	}

	srv.Close()
	if err := sink.Ping(context.Background()); !errors.Is(err, ErrConnectivityUnavailable) {
		t.Errorf("Ping to closed server err = %v", err)
	}
	if err := sink.Send(context.Background(), sample); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("Send to closed server err = %v", err)
	}
}

func TestNewHTTPSinkRejectsBadEndpoint(t *testing.T) {
	for _, ep := range []string{"", "localhost:8080", "ftp://example.com/x", "http://"} {
		if _, err := NewHTTPSink(HTTPConfig{Endpoint: ep}); err == nil {
			t.Errorf("endpoint %q accepted", ep)
		}
	}
}

func TestMQTTSink(t *testing.T) {
	broker := mqtttest.NewBroker()
	client := broker.NewClient()
	sink := NewMQTTSink(mqtt.NewPublisher(client), "hives/{hive_id}/telemetry")

	if err := sink.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := sink.Send(context.Background(), sample); err != nil {
		t.Fatalf("Send: %v", err)
	}

	published := broker.Published()
	if len(published) != 1 || published[0].Topic != "hives/3/telemetry" {
		t.Fatalf("published = %+v", published)
	}
	var got models.Telemetry
	if err := json.Unmarshal(published[0].Payload, &got); err != nil || got != sample {
		t.Errorf("payload = %s (%v)", published[0].Payload, err)
	}

	client.FailPublish(errors.New("quota"))
	if err := sink.Send(context.Background(), sample); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("err = %v, want ErrUploadFailed", err)
	}

	client.SetConnected(false)
	if err := sink.Ping(context.Background()); !errors.Is(err, ErrConnectivityUnavailable) {
		t.Errorf("Ping err = %v", err)
	}
	if err := sink.Send(context.Background(), sample); !errors.Is(err, ErrConnectivityUnavailable) {
		t.Errorf("Send err = %v", err)
	}
}

type fakeStore struct {
	saved   []models.Telemetry
	saveErr error
	pingErr error
	closed  bool
}

func (f *fakeStore) SaveTelemetry(_ context.Context, t *models.Telemetry) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *t)
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }
func (f *fakeStore) Close() error               { f.closed = true; return nil }

func TestStoreSink(t *testing.T) {
	store := &fakeStore{}
	sink := NewStoreSink(store)

	if err := sink.Send(context.Background(), sample); err != nil {
		t.Fatal(err)
	}
	if len(store.saved) != 1 || store.saved[0] != sample {
		t.Errorf("saved = %+v", store.saved)
	}

	store.saveErr = errors.New("disk full")
	if err := sink.Send(context.Background(), sample); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("err = %v", err)
	}
	store.pingErr = errors.New("gone")
	if err := sink.Ping(context.Background()); !errors.Is(err, ErrConnectivityUnavailable) {
		t.Errorf("Ping err = %v", err)
	}
	sink.Close()
	if !store.closed {
		t.Error("Close not forwarded")
	}
}

func TestInfluxSink(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			lines = append(lines, strings.TrimSpace(string(body)))
			query = r.URL.RawQuery
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "t", Org: "apiary", Bucket: "hives"})
	defer sink.Close()

	if err := sink.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := sink.Send(context.Background(), sample); err != nil {
		t.Fatalf("Send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 {
		t.Fatalf("got %d writes", len(lines))
	}
	line := lines[0]
	for _, part := range []string{"hive_telemetry,", "hive_id=3", "queen_status=Queenless", "temperature=18.25", "battery_mv=3650i", " 1718000000"} {
		if !strings.Contains(line, part) {
			t.Errorf("line protocol %q missing %q", line, part)
		}
	}
	if !strings.Contains(query, "bucket=hives") || !strings.Contains(query, "org=apiary") {
		t.Errorf("query = %q", query)
	}
}
