package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PublishTimeout bounds the wait for a publish acknowledgement
const PublishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("publish timed out")

// IPublisher publishes messages on one topic
type IPublisher interface {
	PublishMessage(message interface{}) error
}

// Publisher holds the client, topic and QoS for publishing messages
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewPublisher creates a Publisher on topic using the shared client
func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    qos,
	}
}

// Topic returns the topic the publisher writes to
func (p *Publisher) Topic() string {
	return p.topic
}

// PublishMessage publishes message on the topic. Strings and byte slices are sent as
// they are, anything else is JSON encoded.
func (p *Publisher) PublishMessage(message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", p.topic, err)
		}
		payload = b
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(PublishTimeout) {
		return fmt.Errorf("%s: %w", p.topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message on %s: %w", p.topic, err)
	}
	return nil
}
