package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/synlab/internal/model/messages"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
	"github.com/LeonardoBeccarini/synlab/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/synlab/internal/services/monitor"
	"github.com/LeonardoBeccarini/synlab/pkg/device"
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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Board client
	devOpts := []func(*device.Client){
		device.WithTimeout(cfg.Timeout),
		device.WithLogger(logger.Named("device")),
	}
	if cfg.CBCommandFails > 0 {
		devOpts = append(devOpts, device.WithCommandBreaker(
			device.NewCommandBreaker("device-commands", cfg.CBCommandFails, cfg.CBCommandOpen)))
	}
	board := device.New(cfg.DeviceURL, devOpts...)
	logger.Infof("board at %s (timeout %s)", board.BaseURL(), cfg.Timeout)

	// MQTT is optional: without a broker the gateway still serves HTTP and gRPC
	var (
		mqttClient mqtt.Client
		telemetry  *app.Telemetry
	)
	if cfg.Rabbit.Enabled() {
		mqttClient, err = rabbitmq.NewRabbitMQConn(ctx, &cfg.Rabbit, logger.Named("mqtt"))
		if err != nil {
			logger.Warnf("continuing without MQTT: %v", err)
		}
	}

	metrics := app.NewMetrics(reg)
	session := experiment.New(board,
		experiment.WithLogger(logger.Named("experiment")),
		experiment.WithCommandFunc(metrics.Command),
		experiment.WithDeviceID(cfg.DeviceID),
		experiment.WithHistorySize(cfg.HistorySize),
		experiment.WithEventFunc(func(ev messages.ExperimentEvent) {
			if telemetry != nil {
				telemetry.Experiment(ev)
			}
		}),
	)

	grpcHealth := app.NewHealthBridge(logger.Named("grpc"))
	monOpts := []monitor.Option{
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithLogger(logger.Named("monitor")),
		monitor.WithMetrics(monitor.NewMetrics(reg)),
		monitor.WithChangeFunc(grpcHealth.Update),
	}
	if mqttClient != nil {
		telemetry = app.NewTelemetry(mqttClient, cfg.DeviceID, session, logger.Named("telemetry"))
		monOpts = append(monOpts, monitor.WithChangeFunc(telemetry.Connectivity))
	}
	mon := monitor.New(board, monOpts...)

	gw := app.NewGateway(app.Config{
		DeviceID:        cfg.DeviceID,
		EventsBaseURL:   cfg.EventURL,
		HTTPTimeout:     cfg.Timeout,
		BreakerFailures: cfg.CBEventFails,
		BreakerOpenFor:  cfg.CBEventOpen,
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          logger.Named("http"),
		Metrics:         metrics,
	}, mon, session)

	accessLog := zap.NewStdLog(logger.Desugar().Named("access")).Writer()
	hs := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handlers.LoggingHandler(accessLog, gw.NewRouter(reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	if telemetry != nil {
		snapshots, unsubscribe := mon.Subscribe()
		defer unsubscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			telemetry.Run(ctx, snapshots)
		}()
		go func() {
			defer wg.Done()
			forward(logger, errs, "command consumer", telemetry.Consumer().ConsumeMessage(ctx))
		}()
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatalf("grpc listen: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		forward(logger, errs, "grpc server", grpcHealth.Serve(ctx, lis))
	}()

	go func() {
		logger.Infof("gateway listening on %s", hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("gateway shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shCancel()
	err = hs.Shutdown(shCtx)
	wg.Wait()
	close(errs)
	for e := range errs {
		err = multierr.Append(err, e)
	}
	rabbitmq.CloseRabbitMQConn(mqttClient, logger)

	if err != nil {
		logger.Errorf("shutdown: %v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

// forward logs a background failure when it happens and keeps it for the shutdown report.
func forward(logger logging.Logger, errs chan<- error, what string, err error) {
	if err == nil {
		return
	}
	logger.Errorf("%s: %v", what, err)
	errs <- fmt.Errorf("%s: %w", what, err)
}
