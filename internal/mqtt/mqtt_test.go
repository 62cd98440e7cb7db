package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"buzzhive/internal/mqtt/mqtttest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatTopic(t *testing.T) {
	got := FormatTopic("buzzhive/hives/{hive_id}/telemetry", 7)
	if got != "buzzhive/hives/7/telemetry" {
		t.Errorf("FormatTopic = %q", got)
	}
	if got := FormatTopic("static/topic", 7); got != "static/topic" {
		t.Errorf("FormatTopic without placeholder = %q", got)
	}
}

func TestPublishSubscribe(t *testing.T) {
	broker := mqtttest.NewBroker()
	pub := NewPublisher(broker.NewClient())
	sub := NewSubscriber(broker.NewClient(), time.Second, discardLogger())

	out := make(chan Message, 2)
	if err := sub.Subscribe("hives/+/telemetry", out); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := pub.PublishJSON(context.Background(), "hives/3/telemetry", map[string]int{"hive_id": 3}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
	if err := pub.Publish(context.Background(), "other/topic", []byte("ignored")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-out:
		if m.Topic != "hives/3/telemetry" {
			t.Errorf("topic = %q", m.Topic)
		}
		var v map[string]int
		if err := json.Unmarshal(m.Payload, &v); err != nil || v["hive_id"] != 3 {
			t.Errorf("payload = %s (%v)", m.Payload, err)
		}
		if m.ReceivedAt.IsZero() {
			t.Error("message not stamped")
		}
	default:
		t.Fatal("no message delivered")
	}
	if len(out) != 0 {
		t.Errorf("%d unexpected messages", len(out))
	}
}

func TestSubscriberDropsWhenFull(t *testing.T) {
	broker := mqtttest.NewBroker()
	pub := NewPublisher(broker.NewClient())
	sub := NewSubscriber(broker.NewClient(), 5*time.Millisecond, discardLogger())

	out := make(chan Message, 1)
	if err := sub.Subscribe("radio", out); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := pub.Publish(context.Background(), "radio", []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	m := <-out
	if m.Payload[0] != 0 {
		t.Errorf("kept payload %v, want the first message", m.Payload)
	}
	if len(out) != 0 {
		t.Error("overflow messages should have been dropped")
	}
}

func TestPublishErrors(t *testing.T) {
	broker := mqtttest.NewBroker()
	client := broker.NewClient()
	pub := NewPublisher(client)

	client.FailPublish(errors.New("broker said no"))
	if err := pub.Publish(context.Background(), "t", []byte("x")); err == nil {
		t.Error("expected publish error")
	}

	client.FailPublish(nil)
	client.SetConnected(false)
	if pub.IsConnected() {
		t.Error("IsConnected should follow the client")
	}
	if err := pub.Publish(context.Background(), "t", []byte("x")); !errors.Is(err, mqtttest.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}

	if err := pub.PublishJSON(context.Background(), "t", make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}
