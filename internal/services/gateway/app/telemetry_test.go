package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/model/messages"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
	"github.com/LeonardoBeccarini/synlab/pkg/rabbitmq/mqtttest"
)

type recordingSession struct {
	Session
	pump  []entities.PumpState
	stops int
}

func (s *recordingSession) SetPump(_ context.Context, state entities.PumpState) {
	s.pump = append(s.pump, state)
}

func (s *recordingSession) Stop(context.Context) (entities.Experiment, error) {
	s.stops++
	if s.stops > 1 {
		return entities.Experiment{}, experiment.ErrNotRunning
	}
	return entities.Experiment{ID: "e1"}, nil
}

func waitPublished(t *testing.T, c *mqtttest.Client, topic string, n int) []mqtttest.Published {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.Published(topic); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d messages on %s", n, topic)
	return nil
}

func TestTelemetryPublishes(t *testing.T) {
	client := mqtttest.New()
	tel := NewTelemetry(client, "esp32", &recordingSession{}, nil)

	snaps := make(chan entities.Snapshot, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tel.Run(ctx, snaps)

	snaps <- entities.Snapshot{} // initial, never published
	cur := entities.Snapshot{Latest: &entities.SensorReading{Temperature: 22}, Online: true, Seq: 1, CheckedAt: time.Now()}
	snaps <- cur
	tel.Connectivity(entities.Snapshot{}, cur)
	tel.Experiment(messages.ExperimentEvent{DeviceID: "esp32", ExperimentID: "e1", Action: "start", Status: "OK"})

	got := waitPublished(t, client, "synlab/esp32/snapshot", 1)
	var s entities.Snapshot
	test.That(t, json.Unmarshal(got[0].Payload, &s), test.ShouldBeNil)
	test.That(t, s.Latest.Temperature, test.ShouldEqual, 22.0)
	test.That(t, got[0].QoS, test.ShouldEqual, byte(0))

	conn := waitPublished(t, client, "synlab/esp32/event/connectivity", 1)
	var ev messages.ConnectivityChangedEvent
	test.That(t, json.Unmarshal(conn[0].Payload, &ev), test.ShouldBeNil)
	test.That(t, ev.Online, test.ShouldBeTrue)
	test.That(t, ev.HasReading, test.ShouldBeTrue)
	test.That(t, conn[0].QoS, test.ShouldEqual, byte(1))

	waitPublished(t, client, "synlab/esp32/event/experiment", 1)
	test.That(t, len(client.Published("synlab/esp32/snapshot")), test.ShouldEqual, 1)
}

func TestTelemetryCommands(t *testing.T) {
	client := mqtttest.New()
	session := &recordingSession{}
	tel := NewTelemetry(client, "esp32", session, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tel.Consumer().ConsumeMessage(ctx) }()
	test.That(t, client.WaitSubscribed("synlab/esp32/command", time.Second), test.ShouldBeTrue)

	client.Deliver("synlab/esp32/command", []byte(`{"id":"c1","action":"pump_on"}`))
	client.Deliver("synlab/esp32/command", []byte(`{"id":"c1","action":"pump_on"}`)) // redelivery
	client.Deliver("synlab/esp32/command", []byte(`{"id":"c2","action":"pump_off"}`))
	client.Deliver("synlab/esp32/command", []byte(`{"action":"stop"}`))
	client.Deliver("synlab/esp32/command", []byte(`{"action":"stop"}`)) // same payload, no id

	cancel()
	test.That(t, <-done, test.ShouldBeNil)

	test.That(t, session.pump, test.ShouldResemble, []entities.PumpState{entities.PumpOn, entities.PumpOff})
	test.That(t, session.stops, test.ShouldEqual, 1)
}

func TestTelemetryCommandErrors(t *testing.T) {
	tel := NewTelemetry(mqtttest.New(), "esp32", &recordingSession{}, nil)

	err := tel.HandleCommand("synlab/esp32/command", mqtttest.NewMessage("synlab/esp32/command", []byte(`nope`)))
	test.That(t, err, test.ShouldNotBeNil)

	err = tel.HandleCommand("synlab/esp32/command", mqtttest.NewMessage("synlab/esp32/command", []byte(`{"id":"x","action":"reboot"}`)))
	test.That(t, err, test.ShouldNotBeNil)

	// stopping while idle is not an error
	session := &recordingSession{stops: 1}
	tel = NewTelemetry(mqtttest.New(), "esp32", session, nil)
	err = tel.HandleCommand("", mqtttest.NewMessage("synlab/esp32/command", []byte(`{"id":"s","action":"stop"}`)))
	test.That(t, err, test.ShouldBeNil)
}
