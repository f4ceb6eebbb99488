package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/model/messages"
	"github.com/LeonardoBeccarini/synlab/internal/services/event"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
	"github.com/LeonardoBeccarini/synlab/pkg/dedup"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
	"github.com/LeonardoBeccarini/synlab/pkg/rabbitmq"
)

const (
	commandDedupTTL = 2 * time.Minute
	commandTimeout  = 5 * time.Second
	pendingEvents   = 64
)

func SnapshotTopic(deviceID string) string { return fmt.Sprintf("synlab/%s/snapshot", deviceID) }
func CommandTopic(deviceID string) string  { return fmt.Sprintf("synlab/%s/command", deviceID) }

type outgoing struct {
	pub rabbitmq.IPublisher
	msg any
}

// Telemetry mirrors snapshots and events to MQTT and executes remote commands.
// Event hooks only enqueue, so they never block the poller or the session.
type Telemetry struct {
	deviceID     string
	client       mqtt.Client
	session      Session
	logger       logging.Logger
	dedup        *dedup.Deduper
	snapshots    rabbitmq.IPublisher
	connectivity rabbitmq.IPublisher
	experiments  rabbitmq.IPublisher
	pending      chan outgoing
}

func NewTelemetry(client mqtt.Client, deviceID string, session Session, logger logging.Logger) *Telemetry {
	if logger == nil {
		logger = logging.NullLogger{}
	}
	return &Telemetry{
		deviceID:     deviceID,
		client:       client,
		session:      session,
		logger:       logger,
		dedup:        dedup.New(commandDedupTTL, 1000),
		snapshots:    rabbitmq.NewPublisher(client, SnapshotTopic(deviceID), 0),
		connectivity: rabbitmq.NewPublisher(client, event.Topic(deviceID, event.TypeConnectivity), 1),
		experiments:  rabbitmq.NewPublisher(client, event.Topic(deviceID, event.TypeExperiment), 1),
		pending:      make(chan outgoing, pendingEvents),
	}
}

// Run publishes every snapshot received on snapshots and every queued event until
// ctx is done or snapshots is closed.
func (t *Telemetry) Run(ctx context.Context, snapshots <-chan entities.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			if s.Seq == 0 {
				continue // nothing polled yet
			}
			if err := t.snapshots.PublishMessage(s); err != nil {
				t.logger.Debugf("snapshot not published: %v", err)
			}
		case o := <-t.pending:
			if err := o.pub.PublishMessage(o.msg); err != nil {
				t.logger.Warnf("event not published: %v", err)
			}
		}
	}
}

func (t *Telemetry) enqueue(pub rabbitmq.IPublisher, msg any) {
	select {
	case t.pending <- outgoing{pub: pub, msg: msg}:
	default:
		t.logger.Warnf("event queue full, dropping %T", msg)
	}
}

// Connectivity is a monitor.ChangeFunc
func (t *Telemetry) Connectivity(_, cur entities.Snapshot) {
	t.enqueue(t.connectivity, messages.ConnectivityChangedEvent{
		DeviceID:            t.deviceID,
		Online:              cur.Online,
		HasReading:          cur.Latest != nil,
		ConsecutiveFailures: cur.ConsecutiveFailures,
		Timestamp:           cur.CheckedAt.UTC(),
	})
}

// Experiment is an experiment.EventFunc
func (t *Telemetry) Experiment(ev messages.ExperimentEvent) {
	t.enqueue(t.experiments, ev)
}

// Consumer subscribes to the command topic of the device
func (t *Telemetry) Consumer() *rabbitmq.Consumer {
	return rabbitmq.NewConsumer(t.client, CommandTopic(t.deviceID), 1, t.HandleCommand, t.logger)
}

// HandleCommand executes one remote command. Redeliveries with the same id, or the
// same payload when no id is set, are ignored for two minutes.
func (t *Telemetry) HandleCommand(_ string, m mqtt.Message) error {
	var cmd messages.DeviceCommand
	if err := json.Unmarshal(m.Payload(), &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	key := cmd.ID
	if key == "" {
		key = dedup.PayloadKey(m.Payload())
	}
	if !t.dedup.ShouldProcess(key) {
		t.logger.Debugf("duplicate command %s ignored", key)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Action {
	case messages.ActionPumpOn:
		t.session.SetPump(ctx, entities.PumpOn)
	case messages.ActionPumpOff:
		t.session.SetPump(ctx, entities.PumpOff)
	case messages.ActionStop:
		if _, err := t.session.Stop(ctx); err != nil && !errors.Is(err, experiment.ErrNotRunning) {
			return err
		}
	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
	t.logger.Infof("remote command %s executed", cmd.Action)
	return nil
}
