package monitor

import (
	"sync"

	"github.com/LeonardoBeccarini/plant_monitor/internal/model"
)

// DefaultHistorySize is how many readings are kept per sensor.
const DefaultHistorySize = 50

// History is a fixed-capacity FIFO of readings. Once full, each append
// overwrites the oldest entry.
type History struct {
	mu    sync.Mutex
	buf   []model.Reading
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]model.Reading, capacity)}
}

// Append adds r and reports whether the oldest reading was evicted.
func (h *History) Append(r model.Reading) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = r
		h.n++
		return false
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
	return true
}

// Snapshot copies the readings, oldest first.
func (h *History) Snapshot() []model.Reading {
	return h.Last(0)
}

// Last copies the newest n readings, oldest first. n <= 0 means all.
func (h *History) Last(n int) []model.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > h.n {
		n = h.n
	}
	out := make([]model.Reading, n)
	skip := h.n - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(h.start+skip+i)%len(h.buf)]
	}
	return out
}

// Latest returns the newest reading, if any.
func (h *History) Latest() (model.Reading, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return model.Reading{}, false
	}
	return h.buf[(h.start+h.n-1)%len(h.buf)], true
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func (h *History) Cap() int { return len(h.buf) }
