package entities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// PeltierMode selects whether the peltier element heats or cools the sample.
type PeltierMode string

const (
	PeltierHeating PeltierMode = "heating"
	PeltierCooling PeltierMode = "cooling"
)

// Form limits of the experiment dialog.
const (
	MinDurationMin = 1
	MaxDurationMin = 60
	MinTargetTempC = 2
	MaxTargetTempC = 50

	DefaultDurationMin = 15
	DefaultTargetTempC = 25
)

var ErrInvalidExperiment = errors.New("invalid experiment")

// SafetyMonitoring holds the safety checks enabled for an experiment.
type SafetyMonitoring struct {
	Gas         bool `json:"gas"`
	Temperature bool `json:"temperature"`
	WaterLevel  bool `json:"water_level"`
}

// Labels lists the enabled checks in display order.
func (s SafetyMonitoring) Labels() []string {
	return lo.Compact([]string{
		lo.Ternary(s.Gas, "Gas", ""),
		lo.Ternary(s.Temperature, "Temperature", ""),
		lo.Ternary(s.WaterLevel, "Water Level", ""),
	})
}

// Any reports whether at least one check is enabled.
func (s SafetyMonitoring) Any() bool {
	return s.Gas || s.Temperature || s.WaterLevel
}

// ExperimentConfig is what the user submits to start an experiment.
type ExperimentConfig struct {
	Name              string           `json:"name"`
	Objective         string           `json:"objective"`
	DurationMin       int              `json:"duration"`           // minutes
	TargetTemperature float64          `json:"target_temperature"` // °C
	WaterSupply       bool             `json:"water_supply"`
	PeltierMode       PeltierMode      `json:"peltier_mode"`
	SafetyMonitoring  SafetyMonitoring `json:"safety_monitoring"`
}

// DefaultExperimentConfig mirrors the initial values of the experiment form.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		DurationMin:       DefaultDurationMin,
		TargetTemperature: DefaultTargetTempC,
		PeltierMode:       PeltierHeating,
		SafetyMonitoring:  SafetyMonitoring{Gas: true, Temperature: true, WaterLevel: true},
	}
}

// Validate checks required fields and slider ranges.
func (c ExperimentConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidExperiment)
	}
	if strings.TrimSpace(c.Objective) == "" {
		return fmt.Errorf("%w: objective is required", ErrInvalidExperiment)
	}
	if c.DurationMin < MinDurationMin || c.DurationMin > MaxDurationMin {
		return fmt.Errorf("%w: duration %d min out of range [%d..%d]",
			ErrInvalidExperiment, c.DurationMin, MinDurationMin, MaxDurationMin)
	}
	if c.TargetTemperature < MinTargetTempC || c.TargetTemperature > MaxTargetTempC {
		return fmt.Errorf("%w: target temperature %g°C out of range [%d..%d]",
			ErrInvalidExperiment, c.TargetTemperature, MinTargetTempC, MaxTargetTempC)
	}
	switch c.PeltierMode {
	case PeltierHeating, PeltierCooling:
	default:
		return fmt.Errorf("%w: peltier mode %q (want heating|cooling)", ErrInvalidExperiment, c.PeltierMode)
	}
	return nil
}

// ExperimentStatus is the session state shown in the control panel header.
type ExperimentStatus string

const (
	StatusIdle    ExperimentStatus = "idle"
	StatusRunning ExperimentStatus = "running"
)

// Experiment is a started experiment; FinishedAt is zero while it runs.
type Experiment struct {
	ID         string           `json:"id"`
	Config     ExperimentConfig `json:"config"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
}

// Duration returns the configured length of the experiment.
func (e Experiment) Duration() time.Duration {
	return time.Duration(e.Config.DurationMin) * time.Minute
}
