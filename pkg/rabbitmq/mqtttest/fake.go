// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is a message recorded by Client.Publish
type Published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// Client records publishes and routes Deliver calls to matching subscriptions.
// Methods not overridden panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu         sync.Mutex
	published  []Published
	handlers   map[string]mqtt.MessageHandler
	PublishErr error
	Connected  bool
}

// New returns a connected fake client
func New() *Client {
	return &Client{handlers: make(map[string]mqtt.MessageHandler), Connected: true}
}

func (c *Client) IsConnected() bool      { return c.Connected }
func (c *Client) IsConnectionOpen() bool { return c.Connected }
func (c *Client) Disconnect(uint)        { c.Connected = false }

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr == nil {
		c.published = append(c.published, Published{Topic: topic, QoS: qos, Payload: b})
	}
	return &Token{err: c.PublishErr}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	return &Token{}
}

// Subscribed reports whether a subscription exists for filter
func (c *Client) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[filter]
	return ok
}

// WaitSubscribed polls until filter is subscribed or the timeout expires.
func (c *Client) WaitSubscribed(filter string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Subscribed(filter) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// Deliver invokes every subscription whose filter matches topic, synchronously.
func (c *Client) Deliver(topic string, payload []byte) {
	c.mu.Lock()
	var hs []mqtt.MessageHandler
	for filter, h := range c.handlers {
		if Match(filter, topic) {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(c, &Message{topic: topic, payload: payload})
	}
}

// Published returns a copy of the recorded messages, optionally filtered by topic.
func (c *Client) Published(topic string) []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Published
	for _, p := range c.published {
		if topic == "" || p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// Token is an already completed token
type Token struct {
	err error
}

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.err }
func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a received message
type Message struct {
	topic   string
	payload []byte
}

// NewMessage builds a message on topic
func NewMessage(topic string, payload []byte) *Message {
	return &Message{topic: topic, payload: payload}
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return 1 }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.topic }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Ack()              {}
