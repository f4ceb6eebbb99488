package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/synlab/pkg/rabbitmq"
)

type Config struct {
	DeviceID     string
	DeviceURL    string
	PollInterval time.Duration
	Timeout      time.Duration

	HTTPPort string
	GRPCPort string

	// Event service for /api/events (optional)
	EventURL string

	// Command circuit breaker towards the board; CBCommandFails 0 disables it
	CBCommandFails  int
	CBCommandOpen   time.Duration
	CBEventFails    int
	CBEventOpen     time.Duration
	HistorySize     int
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	Rabbit rabbitmq.RabbitMQConfig

	LogLevel string
	LogJSON  bool
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvMs(k string, d int) time.Duration {
	return time.Duration(getenvInt(k, d)) * time.Millisecond
}

func getenvList(k string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(k), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func loadConfig() Config {
	return Config{
		DeviceID:     getenv("DEVICE_ID", "esp32"),
		DeviceURL:    getenv("DEVICE_URL", "http://192.168.4.1"),
		PollInterval: getenvMs("POLL_INTERVAL_MS", 2000),
		Timeout:      getenvMs("DEVICE_TIMEOUT_MS", 3000),

		HTTPPort: getenv("HTTP_PORT", "8080"),
		GRPCPort: getenv("GRPC_PORT", "50051"),

		EventURL: getenv("EVENT_URL", ""),

		CBCommandFails:  getenvInt("CB_COMMAND_FAILS", 0),
		CBCommandOpen:   getenvMs("CB_COMMAND_OPEN_MS", 10000),
		CBEventFails:    getenvInt("CB_EVENT_FAILS", 3),
		CBEventOpen:     getenvMs("CB_EVENT_OPEN_MS", 15000),
		HistorySize:     getenvInt("HISTORY_SIZE", 50),
		CORSOrigins:     getenvList("CORS_ORIGINS"),
		ShutdownTimeout: getenvMs("SHUTDOWN_TIMEOUT_MS", 5000),

		Rabbit: rabbitmq.RabbitMQConfig{
			Host:     getenv("RABBITMQ_HOST", ""),
			Port:     getenvInt("RABBITMQ_PORT", 1883),
			User:     getenv("RABBITMQ_USER", "guest"),
			Password: getenv("RABBITMQ_PASSWORD", "guest"),
			ClientID: getenv("HOSTNAME", "synlab-gateway"),
		},

		LogLevel: getenv("LOG_LEVEL", "info"),
		LogJSON:  getenv("LOG_FORMAT", "console") == "json",
	}
}
