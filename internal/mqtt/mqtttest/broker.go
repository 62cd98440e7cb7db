// Package mqtttest provides an in-memory paho client for tests.
package mqtttest

import (
	"errors"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by operations on a disconnected Client.
var ErrNotConnected = errors.New("mqtttest: not connected")

// Broker routes messages between Clients synchronously, in publish order.
type Broker struct {
	mu   sync.Mutex
	subs []subscription
	log  []Published
}

// Published records one message accepted by the broker.
type Published struct {
	Topic   string
	Payload []byte
}

type subscription struct {
	owner   *Client
	filter  string
	handler mqtt.MessageHandler
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// NewClient returns a connected client attached to b.
func (b *Broker) NewClient() *Client {
	return &Client{broker: b, connected: true}
}

// Published returns every message accepted so far.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.log...)
}

func (b *Broker) publish(topic string, payload []byte) {
	b.mu.Lock()
	b.log = append(b.log, Published{Topic: topic, Payload: payload})
	var targets []subscription
	for _, s := range b.subs {
		if Match(s.filter, topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.handler(s.owner, &message{topic: topic, payload: payload})
	}
}

func (b *Broker) subscribe(s subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) || (f != "+" && f != tp[i]) {
			return false
		}
	}
	return len(fp) == len(tp)
}

// Client implements mqtt.Client against a Broker.
type Client struct {
	broker *Broker

	mu         sync.Mutex
	connected  bool
	publishErr error
}

// SetConnected toggles the connection state.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

// FailPublish makes subsequent publishes fail with err; nil restores them.
func (c *Client) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.SetConnected(true)
	return done(nil)
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	connected, failure := c.connected, c.publishErr
	c.mu.Unlock()
	if !connected {
		return done(ErrNotConnected)
	}
	if failure != nil {
		return done(failure)
	}

	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	default:
		return done(errors.New("mqtttest: unsupported payload type"))
	}
	c.broker.publish(topic, b)
	return done(nil)
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	if !c.IsConnected() {
		return done(ErrNotConnected)
	}
	c.broker.subscribe(subscription{owner: c, filter: topic, handler: callback})
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for f := range filters {
		if t := c.Subscribe(f, 0, callback); t.Error() != nil {
			return t
		}
	}
	return done(nil)
}

func (c *Client) Unsubscribe(...string) mqtt.Token { return done(nil) }

func (c *Client) AddRoute(string, mqtt.MessageHandler) {}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

type token struct {
	err error
	ch  chan struct{}
}

func done(err error) *token {
	t := &token{err: err, ch: make(chan struct{})}
	close(t.ch)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.ch }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
