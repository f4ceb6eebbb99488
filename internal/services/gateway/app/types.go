package app

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
)

// SensorsResponse is served by GET /api/sensors
type SensorsResponse struct {
	Data                *entities.SensorReading `json:"data"`
	Online              bool                    `json:"online"`
	Stale               bool                    `json:"stale"`
	UpdatedAt           *time.Time              `json:"updated_at"`
	CheckedAt           *time.Time              `json:"checked_at"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
}

func newSensorsResponse(s entities.Snapshot) SensorsResponse {
	return SensorsResponse{
		Data:                s.Latest,
		Online:              s.Online,
		Stale:               s.Stale(),
		UpdatedAt:           timePtr(s.UpdatedAt),
		CheckedAt:           timePtr(s.CheckedAt),
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// TileStatus is the badge of a sensor tile
type TileStatus string

const (
	TileActive       TileStatus = "active"
	TileInactive     TileStatus = "inactive"
	TileNotConnected TileStatus = "not-connected"
)

// Label is the text shown next to the badge
func (s TileStatus) Label() string {
	switch s {
	case TileActive:
		return "Active"
	case TileInactive:
		return "Inactive"
	default:
		return "Not Connected"
	}
}

type Tile struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TileStatus `json:"status"`
	StatusLabel string     `json:"status_label"`
	Value       string     `json:"value"`
}

// TilesResponse is served by GET /api/sensors/tiles
type TilesResponse struct {
	Header string `json:"header"`
	Online bool   `json:"online"`
	Tiles  []Tile `json:"tiles"`
}

// ExperimentResponse is served by GET /api/experiment
type ExperimentResponse struct {
	experiment.Status
	Safety []string `json:"safety_monitoring"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// EventRecord is an event as returned by the event service. Both "time" and
// "timestamp" are accepted.
type EventRecord struct {
	Type         string `json:"type"`
	DeviceID     string `json:"device_id,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
	Severity     string `json:"severity"`
	Name         string `json:"name,omitempty"`
	Status       string `json:"status,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Time         string `json:"time"` // RFC3339
}

func (e *EventRecord) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	e.Type = get("type", "event_type")
	e.DeviceID = get("device_id")
	e.ExperimentID = get("experiment_id")
	e.Severity = get("severity")
	e.Name = get("name")
	e.Status = get("status")
	e.Reason = get("reason")
	e.Time = get("time", "timestamp")
	return nil
}
