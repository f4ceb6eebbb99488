package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
)

// Cell holds the last known good reading and the outcome of the last completed attempt.
//
// Update rule: a success replaces the reading wholesale and sets Online; a failure only
// clears Online and never touches the reading (sticky on failure).
type Cell struct {
	mu   sync.RWMutex
	snap entities.Snapshot
}

// Snapshot returns a copy of the current state
func (c *Cell) Snapshot() entities.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// Succeed records a successful attempt completed at `at`.
func (c *Cell) Succeed(r entities.SensorReading, at time.Time) entities.Snapshot {
	s, _ := c.apply(context.Background(), succeeded(r, at), at)
	return s
}

// Fail records a failed attempt completed at `at`.
func (c *Cell) Fail(at time.Time) entities.Snapshot {
	s, _ := c.apply(context.Background(), failed, at)
	return s
}

func succeeded(r entities.SensorReading, at time.Time) func(*entities.Snapshot) {
	return func(s *entities.Snapshot) {
		s.Latest = &r
		s.Online = true
		s.UpdatedAt = at
		s.ConsecutiveFailures = 0
	}
}

func failed(s *entities.Snapshot) {
	s.Online = false
	s.ConsecutiveFailures++
}

// apply mutates the state unless ctx is already done, which is how completions
// that arrive after teardown are discarded.
func (c *Cell) apply(ctx context.Context, fn func(*entities.Snapshot), at time.Time) (entities.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return c.snap.Clone(), false
	}
	fn(&c.snap)
	c.snap.CheckedAt = at
	c.snap.Seq++
	return c.snap.Clone(), true
}
