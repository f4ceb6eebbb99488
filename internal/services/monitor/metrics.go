package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
)

// Metrics groups the poller collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Attempts            *prometheus.CounterVec
	Duration            prometheus.Histogram
	Online              prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge
	Reading             *prometheus.GaugeVec
	Subscribers         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synlab_poll_attempts_total",
				Help: "Completed sensor poll attempts, by result",
			},
			[]string{"result"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "synlab_poll_duration_seconds",
				Help:    "Duration of sensor poll attempts",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
		),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synlab_device_online",
			Help: "1 when the last completed poll succeeded",
		}),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synlab_poll_consecutive_failures",
			Help: "Failed polls since the last success",
		}),
		Reading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "synlab_sensor_value",
				Help: "Last known good sensor value",
			},
			[]string{"sensor"},
		),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synlab_snapshot_subscribers",
			Help: "Active snapshot subscribers",
		}),
	}
	reg.MustRegister(m.Attempts, m.Duration, m.Online, m.ConsecutiveFailures, m.Reading, m.Subscribers)
	return m
}

func (m *Metrics) observe(s entities.Snapshot, took time.Duration) {
	if m == nil {
		return
	}
	result := "fail"
	online := 0.0
	if s.Online {
		result = "ok"
		online = 1
	}
	m.Attempts.WithLabelValues(result).Inc()
	m.Duration.Observe(took.Seconds())
	m.Online.Set(online)
	m.ConsecutiveFailures.Set(float64(s.ConsecutiveFailures))
	if s.Online && s.Latest != nil {
		r := s.Latest
		m.Reading.WithLabelValues("temperature").Set(r.Temperature)
		m.Reading.WithLabelValues("humidity").Set(r.Humidity)
		m.Reading.WithLabelValues("gas").Set(r.Gas)
		m.Reading.WithLabelValues("soil").Set(r.Soil)
		m.Reading.WithLabelValues("water").Set(r.Water)
		m.Reading.WithLabelValues("distance").Set(r.Distance)
	}
}

func (m *Metrics) subscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}
