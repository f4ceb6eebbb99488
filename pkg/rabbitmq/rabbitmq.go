// Package rabbitmq connects to the RabbitMQ MQTT plugin (or any MQTT 3.1.1 broker)
// and wraps topic publishing and consuming.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	// MaxRetries bounds the initial connection attempts (default 5)
	MaxRetries int
	// MaxElapsed bounds the total time spent connecting (default 10s)
	MaxElapsed time.Duration
}

// Enabled reports whether a broker is configured at all
func (c *RabbitMQConfig) Enabled() bool {
	return c != nil && c.Host != ""
}

func (c *RabbitMQConfig) addr() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// NewRabbitMQConn connects with exponential backoff. The connection is closed when ctx is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQConfig, logger logging.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = logging.NullLogger{}
	}
	connAddr := cfg.addr()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Infof("MQTT reconnecting to %s", connAddr)
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	if cfg.MaxElapsed > 0 {
		bo.MaxElapsedTime = cfg.MaxElapsed
	}
	maxRetries := 5
	if cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warnf("failed to connect to MQTT broker: %v", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	logger.Infof("connected to MQTT broker at %s", connAddr)

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(client, logger)
	}()

	return client, nil
}

// CloseRabbitMQConn disconnects client, waiting at most 250ms for in-flight work.
func CloseRabbitMQConn(client mqtt.Client, logger logging.Logger) {
	if client == nil || !client.IsConnected() {
		return
	}
	client.Disconnect(250)
	if logger != nil {
		logger.Infof("MQTT connection closed")
	}
}
