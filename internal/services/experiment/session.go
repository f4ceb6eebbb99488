// Package experiment tracks the single experiment session of a board.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/model/messages"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// DefaultHistorySize bounds the number of finished experiments kept in memory
const DefaultHistorySize = 50

var (
	ErrAlreadyRunning = errors.New("an experiment is already running")
	ErrNotRunning     = errors.New("no experiment running")
)

// Commander is the subset of the device client the session drives.
type Commander interface {
	StartExperiment(ctx context.Context, name string, targetTemp float64, durationMin int) error
	StopExperiment(ctx context.Context) error
	SetPumpState(ctx context.Context, state entities.PumpState) error
}

// EventFunc receives start/stop events. It is called without the session lock held.
type EventFunc func(messages.ExperimentEvent)

// CommandFunc receives the name (start, stop, pump_on, pump_off) and outcome of a device command.
type CommandFunc func(command string, err error)

// Status is the view of the session at a point in time.
type Status struct {
	Status      entities.ExperimentStatus `json:"status"`
	Experiment  *entities.Experiment      `json:"experiment"`
	Elapsed     string                    `json:"elapsed"`
	ElapsedSec  int                       `json:"elapsed_seconds"`
	ProgressPct float64                   `json:"progress_pct"`
	Complete    bool                      `json:"complete"`
	Pump        entities.PumpState        `json:"pump"`
}

// Session is the idle/running state machine. Only one experiment runs at a time.
type Session struct {
	device      Commander
	clock       clock.Clock
	logger      logging.Logger
	deviceID    string
	historySize int
	onEvent     []EventFunc
	onCommand   []CommandFunc

	mu       sync.Mutex
	starting bool
	current  *entities.Experiment
	pump     entities.PumpState
	history  []entities.Experiment
}

// Option configures a Session
type Option func(*Session)

func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithDeviceID sets the device id stamped on events
func WithDeviceID(id string) Option {
	return func(s *Session) {
		s.deviceID = id
	}
}

// WithHistorySize overrides DefaultHistorySize. Non-positive values are ignored.
func WithHistorySize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithCommandFunc observes the outcome of every device command, including the
// best-effort ones whose failures are not returned.
func WithCommandFunc(fn CommandFunc) Option {
	return func(s *Session) {
		s.onCommand = append(s.onCommand, fn)
	}
}

func WithEventFunc(fn EventFunc) Option {
	return func(s *Session) {
		s.onEvent = append(s.onEvent, fn)
	}
}

// New creates an idle session driving device
func New(device Commander, options ...Option) *Session {
	s := &Session{
		device:      device,
		clock:       clock.New(),
		logger:      logging.NullLogger{},
		historySize: DefaultHistorySize,
		pump:        entities.PumpOff,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Start validates cfg and asks the board to start. The session becomes running only
// if the board accepted the command; otherwise it stays idle and the device error is
// returned (it matches device.ErrCommandFailed).
func (s *Session) Start(ctx context.Context, cfg entities.ExperimentConfig) (entities.Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return entities.Experiment{}, err
	}

	s.mu.Lock()
	if s.current != nil || s.starting {
		s.mu.Unlock()
		return entities.Experiment{}, ErrAlreadyRunning
	}
	s.starting = true
	s.mu.Unlock()

	exp := entities.Experiment{ID: uuid.NewString(), Config: cfg}
	err := s.device.StartExperiment(ctx, cfg.Name, cfg.TargetTemperature, cfg.DurationMin)
	s.command("start", err)

	s.mu.Lock()
	s.starting = false
	if err == nil {
		exp.StartedAt = s.clock.Now()
		s.current = &exp
		if cfg.WaterSupply {
			s.pump = entities.PumpOn
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warnf("experiment %q not started: %v", cfg.Name, err)
		s.emit(exp, "start", err)
		return entities.Experiment{}, fmt.Errorf("start experiment: %w", err)
	}
	s.logger.Infof("experiment %q started (%s, %g°C, %d min)", cfg.Name, exp.ID, cfg.TargetTemperature, cfg.DurationMin)
	s.emit(exp, "start", nil)
	return exp, nil
}

// Stop ends the running experiment. The stop command is best effort: a device failure
// is logged and the session returns to idle anyway.
func (s *Session) Stop(ctx context.Context) (entities.Experiment, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return entities.Experiment{}, ErrNotRunning
	}
	exp := *s.current
	exp.FinishedAt = s.clock.Now()
	s.current = nil
	s.pump = entities.PumpOff
	s.history = append([]entities.Experiment{exp}, s.history...)
	if len(s.history) > s.historySize {
		s.history = s.history[:s.historySize]
	}
	s.mu.Unlock()

	err := s.device.StopExperiment(ctx)
	s.command("stop", err)
	if err != nil {
		s.logger.Warnf("stop command for experiment %s dropped: %v", exp.ID, err)
	} else {
		s.logger.Infof("experiment %q stopped after %s", exp.Config.Name, exp.FinishedAt.Sub(exp.StartedAt).Round(time.Second))
	}
	s.emit(exp, "stop", err)
	return exp, nil
}

// SetPump switches the water pump. The command is best effort: the requested state is
// recorded and a device failure is only logged.
func (s *Session) SetPump(ctx context.Context, state entities.PumpState) {
	s.mu.Lock()
	s.pump = state
	s.mu.Unlock()

	err := s.device.SetPumpState(ctx, state)
	s.command("pump_"+string(state), err)
	if err != nil {
		s.logger.Warnf("pump %s command dropped: %v", state, err)
	}
}

func (s *Session) command(name string, err error) {
	for _, fn := range s.onCommand {
		fn(name, err)
	}
}

// Status reports the current state together with elapsed time and progress.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Status: entities.StatusIdle, Elapsed: FormatElapsed(0), Pump: s.pump}
	if s.current == nil {
		return st
	}
	exp := *s.current
	elapsed := s.clock.Now().Sub(exp.StartedAt)
	st.Status = entities.StatusRunning
	st.Experiment = &exp
	st.ElapsedSec = int(elapsed / time.Second)
	st.Elapsed = FormatElapsed(elapsed)
	st.ProgressPct = Progress(elapsed, exp.Config.DurationMin)
	st.Complete = st.ProgressPct >= 100
	return st
}

// Running reports whether an experiment is in progress
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// History returns finished experiments, newest first.
func (s *Session) History() []entities.Experiment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Experiment(nil), s.history...)
}

func (s *Session) emit(exp entities.Experiment, action string, err error) {
	if len(s.onEvent) == 0 {
		return
	}
	ev := messages.ExperimentEvent{
		DeviceID:     s.deviceID,
		ExperimentID: exp.ID,
		Name:         exp.Config.Name,
		Action:       action,
		Status:       "OK",
		TargetTemp:   exp.Config.TargetTemperature,
		DurationMin:  exp.Config.DurationMin,
		Timestamp:    s.clock.Now().UTC(),
	}
	if err != nil {
		ev.Status = "FAIL"
		ev.Reason = err.Error()
	}
	for _, fn := range s.onEvent {
		fn(ev)
	}
}

// FormatElapsed renders d as zero padded mm:ss. Minutes are not wrapped into hours.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Progress is the share of the configured duration that has elapsed, capped at 100.
func Progress(elapsed time.Duration, durationMin int) float64 {
	if durationMin <= 0 || elapsed <= 0 {
		return 0
	}
	secs := float64(int(elapsed / time.Second))
	return min(secs*100/(60*float64(durationMin)), 100)
}
