package messages

import "time"

// ExperimentEvent records a start/stop of an experiment session.
type ExperimentEvent struct {
	DeviceID     string    `json:"device_id"`
	ExperimentID string    `json:"experiment_id"`
	Name         string    `json:"name"`
	Action       string    `json:"action"` // "start" | "stop"
	Status       string    `json:"status"` // "OK" | "FAIL"
	Reason       string    `json:"reason,omitempty"`
	TargetTemp   float64   `json:"target_temp"`
	DurationMin  int       `json:"duration_min"`
	Timestamp    time.Time `json:"timestamp"`
}
