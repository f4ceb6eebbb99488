// Package app is the HTTP face of the board: sensor snapshots, tiles, experiment
// session and pump control, plus the gRPC health and MQTT bridges.
package app

import (
	"context"
	"time"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

type Config struct {
	DeviceID string

	// EventsBaseURL points at the event service; empty disables /api/events
	EventsBaseURL string
	HTTPTimeout   time.Duration

	BreakerFailures int
	BreakerOpenFor  time.Duration

	// CORSOrigins lists the allowed browser origins; empty allows any
	CORSOrigins []string

	Logger  logging.Logger
	Metrics *Metrics
}

// SnapshotSource is the poller as seen by the gateway
type SnapshotSource interface {
	Snapshot() entities.Snapshot
	Ready() <-chan struct{}
}

// Session is the experiment controller as seen by the gateway
type Session interface {
	Start(ctx context.Context, cfg entities.ExperimentConfig) (entities.Experiment, error)
	Stop(ctx context.Context) (entities.Experiment, error)
	SetPump(ctx context.Context, state entities.PumpState)
	Status() experiment.Status
	History() []entities.Experiment
}

type Gateway struct {
	cfg     Config
	monitor SnapshotSource
	session Session
	events  *Upstream
	logger  logging.Logger
	metrics *Metrics
}

func NewGateway(cfg Config, monitor SnapshotSource, session Session) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = logging.NullLogger{}
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 3 * time.Second
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "esp32"
	}

	g := &Gateway{
		cfg:     cfg,
		monitor: monitor,
		session: session,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if cfg.EventsBaseURL != "" {
		eb := NewBreaker("event-service", cfg.BreakerFailures, cfg.BreakerOpenFor, cfg.Metrics.BreakerChanged)
		g.events = NewUpstream("event-service", cfg.EventsBaseURL, cfg.HTTPTimeout, eb)
	}
	return g
}
