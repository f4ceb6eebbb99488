package event

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthyErrorAge is how long the writer must run without errors to count as healthy
const healthyErrorAge = 30 * time.Second

// Conn is the connection check of the MQTT client
type Conn interface {
	IsConnectionOpen() bool
}

type checks struct {
	mqtt     Conn
	influxOK bool
	writer   *Writer
}

type healthStatus struct {
	Status          string  `json:"status"` // ok|degraded|down
	MQTTConnected   bool    `json:"mqtt_connected"`
	InfluxOK        bool    `json:"influx_ok"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	Ingested        int64   `json:"ingested"`
}

func (c checks) run(minErrorAge time.Duration) (healthStatus, bool) {
	age := c.writer.LastErrorAge()
	st := healthStatus{
		MQTTConnected:   c.mqtt != nil && c.mqtt.IsConnectionOpen(),
		InfluxOK:        c.influxOK,
		LastWriteErrorS: age.Seconds(),
		Ingested:        c.writer.Total(),
	}
	up := st.MQTTConnected && st.InfluxOK

	switch {
	case up && age > healthyErrorAge:
		st.Status = "ok"
	case st.MQTTConnected || st.InfluxOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	return st, up && age > minErrorAge
}

// NewHealthHandler always answers 200 with the dependency status.
func NewHealthHandler(m Conn, influxOK bool, w *Writer) http.Handler {
	c := checks{mqtt: m, influxOK: influxOK, writer: w}
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		st, _ := c.run(healthyErrorAge)
		writeJSON(rw, http.StatusOK, st)
	})
}

// NewReadyHandler answers 503 unless MQTT and Influx are up and no write failed within minErrorAge.
func NewReadyHandler(m Conn, influxOK bool, w *Writer, minErrorAge time.Duration) http.Handler {
	c := checks{mqtt: m, influxOK: influxOK, writer: w}
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		_, ready := c.run(minErrorAge)
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(rw, code, struct {
			Ready bool `json:"ready"`
		}{Ready: ready})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
