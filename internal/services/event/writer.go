package event

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/synlab/pkg/logging"
)

// Writer wraps the async WriteAPI and remembers the last write error for /healthz and /readyz.
type Writer struct {
	api     api.WriteAPI
	logger  logging.Logger
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
}

// NewWriter starts draining the async error channel of w.
func NewWriter(w api.WriteAPI, logger logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NullLogger{}
	}
	ww := &Writer{
		api:     w,
		logger:  logger,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
	}
	errs := w.Errors()
	go func() {
		for err := range errs {
			if err != nil {
				ww.markError()
				ww.logger.Errorf("influx write error: %v", err)
			}
		}
	}()
	return ww
}

// Write queues evt and counts it
func (w *Writer) Write(evt CommonEvent) {
	w.api.WritePoint(EventToPoint(evt))
	w.MarkIngest(evt.EventType)
}

// Flush forces the pending batch out
func (w *Writer) Flush() {
	w.api.Flush()
}

func (w *Writer) markError() {
	w.mu.Lock()
	w.lastErr = time.Now()
	w.mu.Unlock()
}

// LastErrorAge returns how long ago the last write error happened.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// MarkIngest counts an accepted event of eventType
func (w *Writer) MarkIngest(eventType string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.counts[eventType]++
	w.mu.Unlock()
}

// Count returns how many events of eventType were ingested
func (w *Writer) Count(eventType string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[eventType]
	w.mu.RUnlock()
	return c
}

// Total returns how many events were ingested overall
func (w *Writer) Total() int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	var n int64
	for _, c := range w.counts {
		n += c
	}
	return n
}
