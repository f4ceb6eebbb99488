// Package dedup drops messages redelivered within a time window.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	clock clock.Clock
	seen  map[string]time.Time
}

// New creates a deduper remembering at most max ids for ttl each.
func New(ttl time.Duration, max int) *Deduper {
	return NewWithClock(ttl, max, clock.New())
}

func NewWithClock(ttl time.Duration, max int, clk clock.Clock) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, clock: clk, seen: make(map[string]time.Time, max)}
}

// PayloadKey identifies a message by the hash of its payload
func PayloadKey(payload []byte) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}

// ShouldProcess reports whether id was not seen within the window, and marks it seen.
// The empty id is never deduplicated.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		for k, v := range d.seen {
			if now.After(v) {
				delete(d.seen, k)
			}
			if len(d.seen) <= d.max {
				break
			}
		}
	}
	return true
}

// Len returns the number of remembered ids
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
