// Package monitor polls the device for sensor readings at a fixed cadence and keeps
// the last known good reading together with the device connectivity.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// DefaultInterval is the time between the scheduled starts of two attempts.
const DefaultInterval = 2 * time.Second

// Reader is the device operation the poller depends on.
type Reader interface {
	ReadSensors(ctx context.Context) (entities.SensorReading, error)
}

// ChangeFunc is called on the loop goroutine when connectivity flips.
// prev is the snapshot before the attempt, cur the one after it.
type ChangeFunc func(prev, cur entities.Snapshot)

// Monitor is the process-wide poller. Construct it with New and drive it with Run.
type Monitor struct {
	reader   Reader
	interval time.Duration
	clock    clock.Clock
	logger   logging.Logger
	metrics  *Metrics
	onChange []ChangeFunc

	cell Cell
	hub  hub

	readyOnce sync.Once
	ready     chan struct{}
	running   sync.Mutex
}

// Option configures a Monitor
type Option func(*Monitor)

// WithInterval overrides DefaultInterval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock injects the clock driving the schedule
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		m.clock = c
	}
}

func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

// WithChangeFunc registers a callback for online/offline transitions.
// Callbacks must not block; they run between attempts.
func WithChangeFunc(fn ChangeFunc) Option {
	return func(m *Monitor) {
		m.onChange = append(m.onChange, fn)
	}
}

// New creates an idle poller for reader.
func New(reader Reader, options ...Option) *Monitor {
	m := &Monitor{
		reader:   reader,
		interval: DefaultInterval,
		clock:    clock.New(),
		logger:   logging.NullLogger{},
		ready:    make(chan struct{}),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Interval returns the polling cadence
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run polls until ctx is done. The first attempt starts immediately, the following ones
// every interval. Attempts never overlap: a tick that arrives while an attempt is in
// flight waits for it, and further ticks in the meantime are dropped.
//
// Once ctx is done the state is frozen. A read that completes afterwards is discarded.
// Run is not reentrant; a second concurrent call blocks until the first returns.
func (m *Monitor) Run(ctx context.Context) {
	m.running.Lock()
	defer m.running.Unlock()

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.logger.Infof("polling every %s", m.interval)
	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debugf("poller stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	start := m.clock.Now()
	r, err := m.reader.ReadSensors(ctx)
	now := m.clock.Now()

	update := failed
	if err == nil {
		update = succeeded(r, now)
	}

	prev := m.cell.Snapshot()
	cur, applied := m.cell.apply(ctx, update, now)
	if !applied {
		m.logger.Debugf("discarding poll result completed after shutdown")
		return
	}

	m.metrics.observe(cur, now.Sub(start))
	m.logTransition(prev, cur, err)
	if prev.Online != cur.Online {
		for _, fn := range m.onChange {
			fn(prev, cur)
		}
	}
	m.hub.publish(cur)
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *Monitor) logTransition(prev, cur entities.Snapshot, err error) {
	switch {
	case cur.Online && !prev.Online:
		if prev.Seq > 0 {
			m.logger.Infof("device back online after %d failed polls", prev.ConsecutiveFailures)
		} else {
			m.logger.Infof("device online")
		}
	case !cur.Online && (prev.Online || prev.Seq == 0):
		m.logger.Warnf("device unreachable: %v", err)
	case !cur.Online:
		m.logger.Debugf("device still unreachable (%d consecutive failures): %v", cur.ConsecutiveFailures, err)
	}
}

// Snapshot returns a copy of the current connectivity state.
func (m *Monitor) Snapshot() entities.Snapshot {
	return m.cell.Snapshot()
}

// Ready is closed once the first attempt has completed.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// Subscribe registers a consumer. The returned channel immediately holds the current
// snapshot and then receives one snapshot per completed attempt. A consumer that falls
// behind only misses intermediate snapshots, never the newest one, and never slows the
// poller down. The returned function unsubscribes and closes the channel; it is safe to
// call more than once.
func (m *Monitor) Subscribe() (<-chan entities.Snapshot, func()) {
	ch := make(chan entities.Snapshot, 1)
	id := m.hub.add(ch, m.cell.Snapshot)
	m.metrics.subscribers(m.hub.len())

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.hub.remove(id)
			m.metrics.subscribers(m.hub.len())
		})
	}
}
