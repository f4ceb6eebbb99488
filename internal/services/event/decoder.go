package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	msg "github.com/LeonardoBeccarini/synlab/internal/model/messages"
)

// Event types, also the last segment of the MQTT topic synlab/{device}/event/{type}.
const (
	TypeConnectivity = "connectivity"
	TypeExperiment   = "experiment"
)

type CommonEvent struct {
	EventType    string // device.online | device.offline | experiment.start | experiment.stop
	Source       string // monitor | experiment
	DeviceID     string
	ExperimentID string
	Severity     string // info|warning|error
	Fields       map[string]interface{}
	Timestamp    time.Time
}

// Topic returns the MQTT topic events of eventType are published on for deviceID.
func Topic(deviceID, eventType string) string {
	return fmt.Sprintf("synlab/%s/event/%s", deviceID, eventType)
}

// MQTTHandler turns MQTT messages into CommonEvents and hands them to sink.
type MQTTHandler struct{ sink func(CommonEvent) }

func NewMQTTHandler(sink func(CommonEvent)) *MQTTHandler { return &MQTTHandler{sink: sink} }

func (h *MQTTHandler) Handle(_ string, m mqtt.Message) error {
	evt, err := Decode(m.Topic(), m.Payload())
	if err != nil {
		return err
	}
	if evt.EventType == "" {
		return nil // not an event topic
	}
	if h.sink != nil {
		h.sink(evt)
	}
	return nil
}

// Decode parses the payload of an event topic. Unknown topics yield a zero event.
func Decode(topic string, payload []byte) (CommonEvent, error) {
	deviceID, eventType, ok := splitTopic(topic)
	if !ok {
		return CommonEvent{}, nil
	}
	switch eventType {
	case TypeConnectivity:
		var c msg.ConnectivityChangedEvent
		if err := json.Unmarshal(payload, &c); err != nil {
			return CommonEvent{}, fmt.Errorf("connectivity: %w", err)
		}
		if c.DeviceID == "" {
			c.DeviceID = deviceID
		}
		return FromConnectivity(c), nil
	case TypeExperiment:
		var e msg.ExperimentEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return CommonEvent{}, fmt.Errorf("experiment: %w", err)
		}
		if e.DeviceID == "" {
			e.DeviceID = deviceID
		}
		if e.ExperimentID == "" {
			return CommonEvent{}, errors.New("experiment: missing experiment id")
		}
		return FromExperiment(e), nil
	}
	return CommonEvent{}, nil
}

// FromConnectivity normalizes an online/offline transition.
func FromConnectivity(c msg.ConnectivityChangedEvent) CommonEvent {
	evt := CommonEvent{
		EventType: "device.online",
		Source:    "monitor",
		DeviceID:  c.DeviceID,
		Severity:  "info",
		Fields: map[string]interface{}{
			"online":               c.Online,
			"has_reading":          c.HasReading,
			"consecutive_failures": int64(c.ConsecutiveFailures),
		},
		Timestamp: c.Timestamp,
	}
	if !c.Online {
		evt.EventType = "device.offline"
		evt.Severity = "warning"
	}
	return evt
}

// FromExperiment normalizes an experiment start/stop.
func FromExperiment(e msg.ExperimentEvent) CommonEvent {
	sev := "info"
	if strings.EqualFold(e.Status, "FAIL") {
		sev = "warning"
		if e.Action == "start" {
			sev = "error"
		}
	}
	return CommonEvent{
		EventType:    "experiment." + e.Action,
		Source:       "experiment",
		DeviceID:     e.DeviceID,
		ExperimentID: e.ExperimentID,
		Severity:     sev,
		Fields: map[string]interface{}{
			"name":         e.Name,
			"status":       e.Status,
			"reason":       e.Reason,
			"target_temp":  e.TargetTemp,
			"duration_min": int64(e.DurationMin),
		},
		Timestamp: e.Timestamp,
	}
}

// splitTopic parses "synlab/{device}/event/{type}".
func splitTopic(topic string) (deviceID, eventType string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "synlab" || parts[2] != "event" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[3], true
}
