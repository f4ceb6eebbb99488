// Fake SynLab board: serves the ESP32 HTTP API backed by a simulated sample.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	sensorSimulator "github.com/LeonardoBeccarini/synlab/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	ambient := flag.Float64("ambient", 22, "ambient temperature in °C")
	seed := flag.Int64("seed", time.Now().UnixNano(), "noise seed")
	fault := flag.String("fault", "", "failure mode of /data: down|malformed|slow")
	failRate := flag.Float64("fail-rate", 0, "share of /data requests answered with 503")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	logger := logging.NewDefault(*debug).Named("simulator")
	defer func() { _ = logger.Sync() }()

	clk := clock.New()
	sim := sensorSimulator.NewSimulator(sensorSimulator.NewDataGenerator(*ambient, *seed, clk), clk, logger)
	switch f := sensorSimulator.Fault(*fault); f {
	case sensorSimulator.FaultNone, sensorSimulator.FaultDown, sensorSimulator.FaultMalformed, sensorSimulator.FaultSlow:
		sim.SetFault(f)
	default:
		logger.Fatalf("unknown fault %q", *fault)
	}
	sim.SetFailRate(*failRate)

	accessLog := zap.NewStdLog(logger.Desugar().Named("access")).Writer()
	srv := &http.Server{
		Addr:              *addr,
		Handler:           handlers.LoggingHandler(accessLog, sim.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("board simulator listening on %s (ambient %g°C)", *addr, *ambient)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
