package entities

import "fmt"

// PumpState indicates whether the water pump is on or off.
type PumpState string

const (
	PumpOff PumpState = "off"
	PumpOn  PumpState = "on"
)

// ParsePumpState accepts "on" or "off".
func ParsePumpState(s string) (PumpState, error) {
	switch PumpState(s) {
	case PumpOn, PumpOff:
		return PumpState(s), nil
	}
	return "", fmt.Errorf("invalid pump state %q (want on|off)", s)
}
