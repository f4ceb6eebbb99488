package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.viam.com/test"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
	"github.com/LeonardoBeccarini/synlab/pkg/device"
)

type fakeSource struct {
	mu    sync.Mutex
	snap  entities.Snapshot
	ready chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ready: make(chan struct{})}
}

func (f *fakeSource) Snapshot() entities.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeSource) Ready() <-chan struct{} { return f.ready }

func (f *fakeSource) set(s entities.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

// board is a fake ESP32 answering commands with a configurable status.
type board struct {
	status   atomic.Int32
	mu       sync.Mutex
	requests []string
}

func (b *board) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.RequestURI())
	b.mu.Unlock()
	if s := b.status.Load(); s != 0 {
		w.WriteHeader(int(s))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (b *board) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

type fixture struct {
	source  *fakeSource
	board   *board
	session *experiment.Session
	handler http.Handler
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	b := &board{}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	cfg.Metrics = NewMetrics(reg)
	source := newFakeSource()
	session := experiment.New(device.New(srv.URL), experiment.WithCommandFunc(cfg.Metrics.Command))
	g := NewGateway(cfg, source, session)
	return &fixture{source: source, board: b, session: session, handler: g.NewRouter(reg), reg: reg}
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &v), test.ShouldBeNil)
	return v
}

func validConfig() entities.ExperimentConfig {
	cfg := entities.DefaultExperimentConfig()
	cfg.Name = "Test"
	cfg.Objective = "heat water"
	return cfg
}

func TestSensorsNeverConnected(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(http.MethodGet, "/api/sensors", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Cache-Control"), test.ShouldEqual, "no-store")

	raw := decode[map[string]any](t, rec)
	test.That(t, raw["data"], test.ShouldBeNil)
	test.That(t, raw["online"], test.ShouldEqual, false)
	test.That(t, raw["stale"], test.ShouldEqual, false)
	test.That(t, raw["updated_at"], test.ShouldBeNil)
}

func TestSensorsStale(t *testing.T) {
	f := newFixture(t, Config{})
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f.source.set(entities.Snapshot{
		Latest:              &entities.SensorReading{Temperature: 22, Humidity: 45},
		UpdatedAt:           at,
		CheckedAt:           at.Add(2 * time.Second),
		ConsecutiveFailures: 1,
		Seq:                 2,
	})

	resp := decode[SensorsResponse](t, f.do(http.MethodGet, "/api/sensors", nil))
	test.That(t, resp.Online, test.ShouldBeFalse)
	test.That(t, resp.Stale, test.ShouldBeTrue)
	test.That(t, resp.Data.Temperature, test.ShouldEqual, 22.0)
	test.That(t, resp.UpdatedAt.Equal(at), test.ShouldBeTrue)
	test.That(t, resp.ConsecutiveFailures, test.ShouldEqual, 1)
}

func TestTilesEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.source.set(entities.Snapshot{Latest: &entities.SensorReading{Temperature: 22}, Online: true, Seq: 1})

	resp := decode[TilesResponse](t, f.do(http.MethodGet, "/api/sensors/tiles", nil))
	test.That(t, resp.Header, test.ShouldEqual, "Live data from ESP32")
	test.That(t, len(resp.Tiles), test.ShouldEqual, 6)
	test.That(t, resp.Tiles[0].Value, test.ShouldEqual, "22 °C")
}

func TestExperimentLifecycle(t *testing.T) {
	f := newFixture(t, Config{})

	st := decode[map[string]any](t, f.do(http.MethodGet, "/api/experiment", nil))
	test.That(t, st["status"], test.ShouldEqual, "idle")
	test.That(t, st["elapsed"], test.ShouldEqual, "00:00")

	rec := f.do(http.MethodPost, "/api/experiment", validConfig())
	test.That(t, rec.Code, test.ShouldEqual, http.StatusCreated)
	exp := decode[entities.Experiment](t, rec)
	test.That(t, exp.ID, test.ShouldNotBeEmpty)

	rec = f.do(http.MethodPost, "/api/experiment", validConfig())
	test.That(t, rec.Code, test.ShouldEqual, http.StatusConflict)

	resp := decode[ExperimentResponse](t, f.do(http.MethodGet, "/api/experiment", nil))
	test.That(t, resp.Status.Status, test.ShouldEqual, entities.StatusRunning)
	test.That(t, resp.Status.Experiment.ID, test.ShouldEqual, exp.ID)
	test.That(t, resp.Safety, test.ShouldResemble, []string{"Gas", "Temperature", "Water Level"})

	rec = f.do(http.MethodPost, "/api/experiment/stop", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)

	rec = f.do(http.MethodPost, "/api/experiment/stop", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusConflict)

	history := decode[[]entities.Experiment](t, f.do(http.MethodGet, "/api/experiments/history", nil))
	test.That(t, len(history), test.ShouldEqual, 1)
	test.That(t, history[0].ID, test.ShouldEqual, exp.ID)

	test.That(t, f.board.seen(), test.ShouldResemble, []string{"POST /start", "GET /stop"})
}

func TestStartRejectedByDevice(t *testing.T) {
	f := newFixture(t, Config{})
	f.board.status.Store(http.StatusInternalServerError)

	rec := f.do(http.MethodPost, "/api/experiment", validConfig())
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadGateway)
	test.That(t, decode[errorResponse](t, rec).Error, test.ShouldContainSubstring, "command failed")

	st := decode[map[string]any](t, f.do(http.MethodGet, "/api/experiment", nil))
	test.That(t, st["status"], test.ShouldEqual, "idle")
}

func TestStartBadRequests(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodPost, "/api/experiment", `{"name":`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)

	cfg := validConfig()
	cfg.TargetTemperature = 80
	rec = f.do(http.MethodPost, "/api/experiment", cfg)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)

	// omitted fields keep the form defaults
	rec = f.do(http.MethodPost, "/api/experiment", `{"name":"Test","objective":"x"}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusCreated)
	exp := decode[entities.Experiment](t, rec)
	test.That(t, exp.Config.DurationMin, test.ShouldEqual, entities.DefaultDurationMin)
	test.That(t, exp.Config.TargetTemperature, test.ShouldEqual, float64(entities.DefaultTargetTempC))

	test.That(t, f.board.seen(), test.ShouldResemble, []string{"POST /start"})
}

func TestPump(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodPost, "/api/pump?state=maybe", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)

	rec = f.do(http.MethodPost, "/api/pump?state=on", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)

	// best effort: a failing board still yields 202
	f.board.status.Store(http.StatusInternalServerError)
	rec = f.do(http.MethodPost, "/api/pump?state=off", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusAccepted)

	test.That(t, f.board.seen(), test.ShouldResemble, []string{"GET /pump?state=on", "GET /pump?state=off"})
	test.That(t, f.session.Status().Pump, test.ShouldEqual, entities.PumpOff)
}

func TestReadiness(t *testing.T) {
	f := newFixture(t, Config{})
	test.That(t, f.do(http.MethodGet, "/healthz", nil).Code, test.ShouldEqual, http.StatusOK)
	test.That(t, f.do(http.MethodGet, "/readyz", nil).Code, test.ShouldEqual, http.StatusServiceUnavailable)
	close(f.source.ready)
	test.That(t, f.do(http.MethodGet, "/readyz", nil).Code, test.ShouldEqual, http.StatusOK)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, Config{})
	test.That(t, f.do(http.MethodDelete, "/api/sensors", nil).Code, test.ShouldEqual, http.StatusMethodNotAllowed)
	test.That(t, f.do(http.MethodGet, "/api/experiment/stop", nil).Code, test.ShouldEqual, http.StatusMethodNotAllowed)
	test.That(t, f.do(http.MethodGet, "/api/unknown", nil).Code, test.ShouldEqual, http.StatusNotFound)
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"http://lab.local"}})

	req := httptest.NewRequest(http.MethodGet, "/api/sensors", nil)
	req.Header.Set("Origin", "http://lab.local")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	test.That(t, rec.Header().Get("Access-Control-Allow-Origin"), test.ShouldEqual, "http://lab.local")

	body := f.do(http.MethodGet, "/metrics", nil).Body.String()
	test.That(t, body, test.ShouldContainSubstring, `http_requests_total{route="/api/sensors",status="200"} 1`)
}

func TestCommandMetricsCountDeviceFailures(t *testing.T) {
	f := newFixture(t, Config{})

	test.That(t, f.do(http.MethodPost, "/api/experiment", validConfig()).Code, test.ShouldEqual, http.StatusCreated)
	f.board.status.Store(http.StatusInternalServerError)

	// stop and pump stay best effort for the caller
	test.That(t, f.do(http.MethodPost, "/api/experiment/stop", nil).Code, test.ShouldEqual, http.StatusOK)
	test.That(t, f.do(http.MethodPost, "/api/pump?state=on", nil).Code, test.ShouldEqual, http.StatusAccepted)

	body := f.do(http.MethodGet, "/metrics", nil).Body.String()
	test.That(t, body, test.ShouldContainSubstring, `synlab_commands_total{command="start",result="ok"} 1`)
	test.That(t, body, test.ShouldContainSubstring, `synlab_commands_total{command="stop",result="fail"} 1`)
	test.That(t, body, test.ShouldContainSubstring, `synlab_commands_total{command="pump_on",result="fail"} 1`)

	// rejected before reaching the device
	f.board.status.Store(0)
	test.That(t, f.do(http.MethodPost, "/api/experiment", entities.ExperimentConfig{}).Code, test.ShouldEqual, http.StatusBadRequest)
	body = f.do(http.MethodGet, "/metrics", nil).Body.String()
	test.That(t, body, test.ShouldNotContainSubstring, `synlab_commands_total{command="start",result="fail"}`)
}

func TestEventsProxy(t *testing.T) {
	var fail atomic.Bool
	var query atomic.Value
	events := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"type":"experiment.start","name":"Test","timestamp":"2024-03-01T10:00:00Z"}]`))
	}))
	defer events.Close()

	f := newFixture(t, Config{DeviceID: "lab1", EventsBaseURL: events.URL, BreakerFailures: 5})

	rec := f.do(http.MethodGet, "/api/events?type=experiment&limit=5", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	got := decode[[]EventRecord](t, rec)
	test.That(t, len(got), test.ShouldEqual, 1)
	test.That(t, got[0].Type, test.ShouldEqual, "experiment.start")
	test.That(t, got[0].Time, test.ShouldEqual, "2024-03-01T10:00:00Z")
	q := query.Load().(string)
	test.That(t, strings.Contains(q, "device=lab1"), test.ShouldBeTrue)
	test.That(t, strings.Contains(q, "limit=5"), test.ShouldBeTrue)

	// the last good answer is served while the event service is down
	fail.Store(true)
	rec = f.do(http.MethodGet, "/api/events?type=experiment&limit=5", nil)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("X-Degraded"), test.ShouldEqual, "event-service")
	test.That(t, len(decode[[]EventRecord](t, rec)), test.ShouldEqual, 1)
}

func TestEventsRouteDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	test.That(t, f.do(http.MethodGet, "/api/events", nil).Code, test.ShouldEqual, http.StatusNotFound)
}
