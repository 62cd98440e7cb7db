package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes payloads with QoS 1.
type Publisher struct {
	client mqtt.Client
}

// NewPublisher wraps a connected paho client.
func NewPublisher(client mqtt.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends payload to topic and waits for the broker acknowledgement or
// ctx cancellation.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it to topic.
func (p *Publisher) PublishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return p.Publish(ctx, topic, payload)
}

// IsConnected reports the underlying connection state.
func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

// FormatTopic replaces the {hive_id} placeholder with the hive identifier
func FormatTopic(topicPattern string, hiveID int) string {
	return strings.ReplaceAll(topicPattern, "{hive_id}", strconv.Itoa(hiveID))
}
