package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/services/experiment"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// GET /api/sensors
func (g *Gateway) HandleSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newSensorsResponse(g.monitor.Snapshot()))
}

// GET /api/sensors/tiles
func (g *Gateway) HandleTiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BuildTiles(g.monitor.Snapshot()))
}

// GET /api/experiment
func (g *Gateway) HandleExperiment(w http.ResponseWriter, _ *http.Request) {
	st := g.session.Status()
	resp := ExperimentResponse{Status: st, Safety: []string{}}
	if st.Experiment != nil {
		resp.Safety = st.Experiment.Config.SafetyMonitoring.Labels()
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/experiment
func (g *Gateway) HandleStartExperiment(w http.ResponseWriter, r *http.Request) {
	cfg := entities.DefaultExperimentConfig()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	exp, err := g.session.Start(r.Context(), cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, exp)
	case errors.Is(err, entities.ErrInvalidExperiment):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, experiment.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	default:
		g.logger.Warnf("start %q refused: %v", cfg.Name, err)
		writeError(w, http.StatusBadGateway, err)
	}
}

// POST /api/experiment/stop
func (g *Gateway) HandleStopExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := g.session.Stop(r.Context())
	if errors.Is(err, experiment.ErrNotRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// GET /api/experiments/history
func (g *Gateway) HandleHistory(w http.ResponseWriter, _ *http.Request) {
	h := g.session.History()
	if h == nil {
		h = []entities.Experiment{}
	}
	writeJSON(w, http.StatusOK, h)
}

// POST /api/pump?state=on|off
func (g *Gateway) HandlePump(w http.ResponseWriter, r *http.Request) {
	state, err := entities.ParsePumpState(r.URL.Query().Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g.session.SetPump(r.Context(), state)
	writeJSON(w, http.StatusAccepted, map[string]entities.PumpState{"pump": state})
}

// GET /api/events?type=experiment&limit=20
func (g *Gateway) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	q.Set("device", g.cfg.DeviceID)
	if t := r.URL.Query().Get("type"); t != "" {
		q.Set("type", t)
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		q.Set("limit", strconv.Itoa(n))
	}

	events := []EventRecord{}
	if err := g.events.GetJSON(r.Context(), "/events/latest?"+q.Encode(), &events); err != nil {
		g.logger.Debugf("events: %v (breaker %s)", err, g.events.State())
		w.Header().Set("X-Degraded", "event-service")
	}
	writeJSON(w, http.StatusOK, events)
}

// GET /healthz
func (g *Gateway) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// GET /readyz: ready once the first poll attempt has completed
func (g *Gateway) HandleReady(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-g.monitor.Ready():
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
	}
}
