package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is a received MQTT payload stamped with its arrival time.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Subscriber handles MQTT subscriptions and writes messages to channels
type Subscriber struct {
	client      mqtt.Client
	sendTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewSubscriber creates a subscriber. Messages that cannot be handed to the
// output channel within sendTimeout are dropped with a warning.
func NewSubscriber(client mqtt.Client, sendTimeout time.Duration, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:      client,
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "mqtt-subscriber"),
		now:         time.Now,
	}
}

// Subscribe routes every message on topic to out.
func (s *Subscriber) Subscribe(topic string, out chan<- Message) error {
	token := s.client.Subscribe(topic, 1, s.handler(out))
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	s.logger.Info("subscribed", "topic", topic)
	return nil
}

func (s *Subscriber) handler(out chan<- Message) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		// paho may reuse the payload buffer after the handler returns
		payload := append([]byte(nil), msg.Payload()...)
		m := Message{Topic: msg.Topic(), Payload: payload, ReceivedAt: s.now()}

		timer := time.NewTimer(s.sendTimeout)
		defer timer.Stop()

		// Write to channel (blocking with timeout)
		select {
		case out <- m:
		case <-timer.C:
			s.logger.Warn("receive buffer full, dropping message", "topic", m.Topic, "bytes", len(payload))
		}
	}
}
