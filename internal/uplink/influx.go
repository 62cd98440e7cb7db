package uplink

import (
	"context"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"buzzhive/internal/models"
)

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one "hive_telemetry" point per record with the blocking
// write API.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *InfluxSink) Send(ctx context.Context, t models.Telemetry) error {
	p := influxdb2.NewPoint(
		"hive_telemetry",
		map[string]string{
			"hive_id":      strconv.Itoa(t.HiveID),
			"queen_status": t.QueenStatusName,
		},
		map[string]interface{}{
			"queen_status":  t.QueenStatus,
			"anomaly_score": t.AnomalyScore,
			"temperature":   t.Temperature,
			"humidity":      t.Humidity,
			"battery_mv":    t.BatteryMv,
		},
		t.Time(),
	)
	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return nil
}

func (s *InfluxSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivityUnavailable, err)
	}
	if !ok {
		return ErrConnectivityUnavailable
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
