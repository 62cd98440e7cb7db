package uplink

import (
	"context"
	"fmt"

	"buzzhive/internal/models"
	"buzzhive/internal/mqtt"
)

// MQTTSink publishes each record as JSON to a per-hive topic.
type MQTTSink struct {
	pub   *mqtt.Publisher
	topic string // may contain {hive_id}
}

// NewMQTTSink publishes through pub to topicPattern.
func NewMQTTSink(pub *mqtt.Publisher, topicPattern string) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topicPattern}
}

func (s *MQTTSink) Send(ctx context.Context, t models.Telemetry) error {
	if !s.pub.IsConnected() {
		return ErrConnectivityUnavailable
	}
	if err := s.pub.PublishJSON(ctx, mqtt.FormatTopic(s.topic, t.HiveID), t); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	return nil
}

func (s *MQTTSink) Ping(context.Context) error {
	if !s.pub.IsConnected() {
		return ErrConnectivityUnavailable
	}
	return nil
}

// Close is a no-op; the MQTT client is owned by the caller.
func (s *MQTTSink) Close() error {
	return nil
}
