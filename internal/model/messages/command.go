package messages

// Remote command actions accepted on the command topic.
const (
	ActionPumpOn  = "pump_on"
	ActionPumpOff = "pump_off"
	ActionStop    = "stop"
)

// DeviceCommand is a remote command received over MQTT.
type DeviceCommand struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}
