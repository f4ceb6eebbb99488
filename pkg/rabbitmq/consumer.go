package rabbitmq

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// Handler processes one message received on topic
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches messages until its context is done
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Consumer holds the client, topic filter and QoS of one subscription
type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	qos     byte
	logger  logging.Logger
}

// NewConsumer creates a Consumer on topic (wildcards allowed) using the shared client
func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler, logger logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.NullLogger{}
	}
	return &Consumer{
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
		logger:  logger,
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// ConsumeMessage subscribes and blocks until ctx is done, then unsubscribes.
// Handler errors are logged and do not stop consumption.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ mqtt.Client, message mqtt.Message) {
		if c.handler == nil {
			c.logger.Warnf("no handler set for topic %s", c.topic)
			return
		}
		if err := c.handler(message.Topic(), message); err != nil {
			c.logger.Warnf("error handling message on %s: %v", message.Topic(), err)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, token.Error())
	}
	c.logger.Infof("subscribed to %s (qos %d)", c.topic, c.qos)

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
