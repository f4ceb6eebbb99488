package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/synlab/pkg/rabbitmq"
)

type Config struct {
	Rabbit rabbitmq.RabbitMQConfig

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	Topic         string
	BatchSize     int
	FlushInterval time.Duration
	DedupTTL      time.Duration

	HTTPPort        string
	ReadyErrorAge   time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogJSON         bool
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if n, err := strconv.Atoi(getenv(key, "")); err == nil {
		return n
	}
	return def
}

func getenvMs(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Millisecond
}

func loadConfig() Config {
	return Config{
		Rabbit: rabbitmq.RabbitMQConfig{
			Host:     getenv("RABBITMQ_HOST", "localhost"),
			Port:     getenvInt("RABBITMQ_PORT", 1883),
			User:     getenv("RABBITMQ_USER", "guest"),
			Password: getenv("RABBITMQ_PASSWORD", "guest"),
			ClientID: getenv("HOSTNAME", "synlab-event"),
		},

		InfluxURL:    getenv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  getenv("INFLUX_TOKEN", ""),
		InfluxOrg:    getenv("INFLUX_ORG", "synlab"),
		InfluxBucket: getenv("INFLUX_BUCKET", "events"),

		Topic:         getenv("EVENT_SUB_TOPIC", "synlab/+/event/#"),
		BatchSize:     getenvInt("WRITE_BATCH_SIZE", 10),
		FlushInterval: getenvMs("WRITE_FLUSH_INTERVAL_MS", 200),
		DedupTTL:      2 * time.Minute,

		HTTPPort:        getenv("HTTP_PORT", "8081"),
		ReadyErrorAge:   getenvMs("READY_ERROR_AGE_MS", 2000),
		ShutdownTimeout: getenvMs("SHUTDOWN_TIMEOUT_MS", 5000),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogJSON:         getenv("LOG_FORMAT", "console") == "json",
	}
}
