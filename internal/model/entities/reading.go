package entities

import (
	"fmt"
	"time"
)

// SensorReading is one atomic snapshot of every sensor on the board.
type SensorReading struct {
	Temperature float64 `json:"temperature"` // °C (DHT11)
	Humidity    float64 `json:"humidity"`    // %RH (DHT11)
	Gas         float64 `json:"gas"`         // MQ135 index
	Soil        float64 `json:"soil"`
	Water       float64 `json:"water"`    // level indicator
	Distance    float64 `json:"distance"` // cm (ultrasonic)
	Emergency   bool    `json:"emergency"`
}

// String fulfils the Stringer interface
func (r SensorReading) String() string {
	return fmt.Sprintf("T: %g°C, H: %g%%, gas: %g, soil: %g, water: %g, dist: %gcm, emergency: %t",
		r.Temperature, r.Humidity, r.Gas, r.Soil, r.Water, r.Distance, r.Emergency)
}

// Snapshot is the connectivity state seen by consumers of the poller.
// Latest is nil until the first successful poll and is kept (stale) across failures.
type Snapshot struct {
	Latest              *SensorReading `json:"data"`
	Online              bool           `json:"online"`
	UpdatedAt           time.Time      `json:"updated_at,omitempty"` // last successful poll
	CheckedAt           time.Time      `json:"checked_at,omitempty"` // last completed attempt
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Seq                 uint64         `json:"seq"`
}

// Stale reports whether the snapshot shows a reading from a connection that was since lost.
func (s Snapshot) Stale() bool {
	return s.Latest != nil && !s.Online
}

// NeverConnected reports whether no poll has ever succeeded.
func (s Snapshot) NeverConnected() bool {
	return s.Latest == nil
}

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	if s.Latest != nil {
		r := *s.Latest
		s.Latest = &r
	}
	return s
}
