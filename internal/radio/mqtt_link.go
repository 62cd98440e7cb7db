package radio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"buzzhive/internal/mqtt"
)

// MQTTLinkConfig configures an MQTTLink.
type MQTTLinkConfig struct {
	Plan        ChannelPlan
	TopicPrefix string
	RxBuffer    int           // frames held before new arrivals are dropped
	SendTimeout time.Duration // wait for buffer space before dropping
	Listen      bool          // subscribe to the plan's topic
}

// MQTTLink bridges LoRa frames over an MQTT broker, as a LoRa-to-MQTT gateway
// does. Each channel plan maps to its own topic.
type MQTTLink struct {
	topic  string
	pub    *mqtt.Publisher
	frames chan mqtt.Message
	logger *slog.Logger

	done chan struct{}
	once sync.Once
}

// NewMQTTLink creates a link on client. With Listen set it subscribes before
// returning so no frame published afterwards is missed.
func NewMQTTLink(client paho.Client, cfg MQTTLinkConfig, logger *slog.Logger) (*MQTTLink, error) {
	if err := cfg.Plan.Validate(); err != nil {
		return nil, err
	}
	if cfg.RxBuffer <= 0 {
		cfg.RxBuffer = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}

	l := &MQTTLink{
		topic:  cfg.Plan.Topic(cfg.TopicPrefix),
		pub:    mqtt.NewPublisher(client),
		frames: make(chan mqtt.Message, cfg.RxBuffer),
		logger: logger.With("component", "radio", "transport", "mqtt"),
		done:   make(chan struct{}),
	}

	if cfg.Listen {
		sub := mqtt.NewSubscriber(client, cfg.SendTimeout, logger)
		if err := sub.Subscribe(l.topic, l.frames); err != nil {
			return nil, fmt.Errorf("radio: %w", err)
		}
	}

	l.logger.Info("link ready", "topic", l.topic, "plan", cfg.Plan.String(), "rx_buffer", cfg.RxBuffer)
	return l, nil
}

// Topic returns the bridge topic of the link's channel plan.
func (l *MQTTLink) Topic() string {
	return l.topic
}

func (l *MQTTLink) Transmit(ctx context.Context, payload []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.pub.Publish(ctx, l.topic, payload)
}

func (l *MQTTLink) Receive(ctx context.Context) (Frame, error) {
	select {
	case m := <-l.frames:
		return Frame{Payload: m.Payload, ReceivedAt: m.ReceivedAt}, nil
	case <-l.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close stops the link; the MQTT client is owned by the caller.
func (l *MQTTLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
