package monitor

import (
	"sync"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
)

// hub fans snapshots out to subscribers without ever blocking the publisher.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan entities.Snapshot
}

// add registers ch and queues current() on it. Both happen under the publish lock so
// the subscriber cannot miss a snapshot published in between.
func (h *hub) add(ch chan entities.Snapshot, current func() entities.Snapshot) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	offer(ch, current())
	if h.subs == nil {
		h.subs = make(map[int]chan entities.Snapshot)
	}
	h.nextID++
	h.subs[h.nextID] = ch
	return h.nextID
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) publish(s entities.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		offer(ch, s.Clone())
	}
}

// offer delivers s, replacing the oldest queued snapshot when the buffer is full.
func offer(ch chan entities.Snapshot, s entities.Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
