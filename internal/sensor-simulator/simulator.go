// Package sensor_simulator emulates the SynLab ESP32 board HTTP API for development and tests.
package sensor_simulator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// Fault makes /data misbehave the way a flaky board does.
type Fault string

const (
	FaultNone      Fault = ""
	FaultDown      Fault = "down"      // 503 on every request
	FaultMalformed Fault = "malformed" // 200 with a broken body
	FaultSlow      Fault = "slow"      // answers after SlowDelay
)

// SlowDelay is how long FaultSlow holds /data
const SlowDelay = 5 * time.Second

// Run is the experiment the board is executing
type Run struct {
	Name        string    `json:"name"`
	TargetTemp  float64   `json:"temp"`
	DurationMin int       `json:"duration"`
	StartedAt   time.Time `json:"started_at"`
}

type Simulator struct {
	mu        sync.Mutex
	clock     clock.Clock
	generator *DataGenerator
	logger    logging.Logger
	timer     *clock.Timer // single timer ending the running experiment
	run       *Run
	pump      bool
	fault     Fault
	failRate  float64
	rnd       *rand.Rand
}

func NewSimulator(gen *DataGenerator, clk clock.Clock, logger logging.Logger) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = logging.NullLogger{}
	}
	return &Simulator{
		clock:     clk,
		generator: gen,
		logger:    logger,
		rnd:       rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
}

// SetFault switches the failure mode of /data
func (s *Simulator) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetFailRate makes a share of /data requests fail with 503 at random.
func (s *Simulator) SetFailRate(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRate = clamp(p, 0, 1)
}

// Running returns the current experiment, if any
func (s *Simulator) Running() (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return Run{}, false
	}
	return *s.run, true
}

// Pump reports the pump state
func (s *Simulator) Pump() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pump
}

// Handler serves the board API: GET /data, POST /start, GET /stop, GET /pump?state=on|off.
func (s *Simulator) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	r.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/stop", s.handleStop).Methods(http.MethodGet)
	r.HandleFunc("/pump", s.handlePump).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

func (s *Simulator) handleData(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	fault := s.fault
	if fault == FaultNone && s.failRate > 0 && s.rnd.Float64() < s.failRate {
		fault = FaultDown
	}
	s.mu.Unlock()

	switch fault {
	case FaultDown:
		http.Error(w, "sensor bus busy", http.StatusServiceUnavailable)
		return
	case FaultMalformed:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temperature":`))
		return
	case FaultSlow:
		s.clock.Sleep(SlowDelay)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.generator.Next())
}

func (s *Simulator) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(r.PostForm.Get("name"))
	temp, terr := strconv.ParseFloat(r.PostForm.Get("temp"), 64)
	duration, derr := strconv.Atoi(r.PostForm.Get("duration"))
	if name == "" || terr != nil || derr != nil || duration <= 0 {
		http.Error(w, "name, temp and duration are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		http.Error(w, fmt.Sprintf("experiment %q already running", s.run.Name), http.StatusConflict)
		return
	}

	s.generator.Drive(temp, temp >= s.generator.ambient)
	run := &Run{Name: name, TargetTemp: temp, DurationMin: duration, StartedAt: s.clock.Now()}
	s.run = run
	s.logger.Infof("experiment %q started: %g°C for %d min", name, temp, duration)

	// the board ends the experiment on its own once the duration elapsed
	s.timer = s.clock.AfterFunc(time.Duration(duration)*time.Minute, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.run == run {
			s.finish("duration elapsed")
		}
	})
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("started"))
}

func (s *Simulator) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish("stopped")
	_, _ = w.Write([]byte("stopped"))
}

// finish ends the running experiment, if any. Callers hold mu.
func (s *Simulator) finish(reason string) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.run == nil {
		return
	}
	s.logger.Infof("experiment %q ended: %s", s.run.Name, reason)
	s.run = nil
	s.generator.Idle()
}

func (s *Simulator) handlePump(w http.ResponseWriter, r *http.Request) {
	state, err := entities.ParsePumpState(r.URL.Query().Get("state"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	on := state == entities.PumpOn

	s.mu.Lock()
	s.pump = on
	s.mu.Unlock()
	s.generator.SetPump(on)
	s.logger.Infof("pump %s", state)
	_, _ = w.Write([]byte(string(state)))
}

func (s *Simulator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	resp := struct {
		Experiment *Run  `json:"experiment"`
		Pump       bool  `json:"pump"`
		Fault      Fault `json:"fault,omitempty"`
	}{Experiment: s.run, Pump: s.pump, Fault: s.fault}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
