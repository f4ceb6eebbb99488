package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement all events are written to
const Measurement = "synlab_event"

// EventToPoint normalizes a CommonEvent into an InfluxDB point.
func EventToPoint(evt CommonEvent) *write.Point {
	tags := map[string]string{
		"event_type": evt.EventType,
		"source":     evt.Source,
		"severity":   evt.Severity,
	}
	if evt.DeviceID != "" {
		tags["device_id"] = evt.DeviceID
	}
	if evt.ExperimentID != "" {
		tags["experiment_id"] = evt.ExperimentID
	}

	fields := map[string]interface{}{}
	for k, v := range evt.Fields {
		fields[k] = v
	}
	// a point needs at least one field
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}

	return influxdb2.NewPoint(Measurement, tags, fields, evt.Timestamp)
}
