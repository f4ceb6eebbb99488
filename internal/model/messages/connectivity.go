package messages

import "time"

// ConnectivityChangedEvent is published when the device goes online or offline.
type ConnectivityChangedEvent struct {
	DeviceID            string    `json:"device_id"`
	Online              bool      `json:"online"`
	HasReading          bool      `json:"has_reading"` // false = never connected
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Timestamp           time.Time `json:"timestamp"`
}
