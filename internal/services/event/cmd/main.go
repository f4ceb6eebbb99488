package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/synlab/internal/services/event"
	"github.com/LeonardoBeccarini/synlab/pkg/dedup"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
	"github.com/LeonardoBeccarini/synlab/pkg/rabbitmq"
)

func main() {
	cfg := loadConfig()

	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		logger = logging.NewDefault(false)
		logger.Warnf("falling back to default logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// InfluxDB: batched non-blocking writes, errors surface through the writer
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())))
	defer influx.Close()
	writer := event.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket), logger.Named("influx"))

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	influxOK, err := influx.Ping(pingCtx)
	pingCancel()
	if err != nil || !influxOK {
		logger.Warnf("influx at %s not reachable yet: %v", cfg.InfluxURL, err)
	}

	mqttClient, err := rabbitmq.NewRabbitMQConn(ctx, &cfg.Rabbit, logger.Named("mqtt"))
	if err != nil {
		logger.Fatalf("mqtt: %v", err)
	}
	defer rabbitmq.CloseRabbitMQConn(mqttClient, logger)

	r := mux.NewRouter()
	r.Handle("/healthz", event.NewHealthHandler(mqttClient, influxOK, writer)).Methods(http.MethodGet)
	r.Handle("/readyz", event.NewReadyHandler(mqttClient, influxOK, writer, cfg.ReadyErrorAge)).Methods(http.MethodGet)
	r.Handle("/events/latest", event.NewLatestHandler(influx.QueryAPI(cfg.InfluxOrg), cfg.InfluxBucket)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	accessLog := zap.NewStdLog(logger.Desugar().Named("access")).Writer()
	hs := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handlers.LoggingHandler(accessLog, r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("event service listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	// events are published with QoS 1, redeliveries are dropped by payload hash
	decode := event.NewMQTTHandler(writer.Write)
	seen := dedup.New(cfg.DedupTTL, 20000)
	consumer := rabbitmq.NewConsumer(mqttClient, cfg.Topic, 1, func(topic string, m mqtt.Message) error {
		if !seen.ShouldProcess(dedup.PayloadKey(m.Payload())) {
			return nil
		}
		return decode.Handle(topic, m)
	}, logger.Named("consumer"))

	err = consumer.ConsumeMessage(ctx)
	logger.Infof("event service shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shCancel()
	err = multierr.Append(err, hs.Shutdown(shCtx))
	writer.Flush()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("shutdown: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
