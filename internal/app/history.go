package service

import (
	"sync"

	"github.com/okian/rollcall/internal/domain/model"
)

// History keeps the most recent loop statuses in a fixed ring.
type History struct {
	mu    sync.RWMutex
	buf   []model.Status
	next  int
	count int
	total int64
}

// NewHistory creates a ring holding up to size statuses. A zero size keeps
// nothing but still counts.
func NewHistory(size int) *History {
	if size < 0 {
		size = 0
	}
	return &History{buf: make([]model.Status, size)}
}

// Add appends st, evicting the oldest entry when full.
func (h *History) Add(st model.Status) { //nolint:gocritic // hugeParam: statuses are stored by value
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	if len(h.buf) == 0 {
		return
	}
	h.buf[h.next] = st
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Recent returns up to n statuses, newest first. n <= 0 returns all kept.
func (h *History) Recent(n int) []model.Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]model.Status, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Total returns how many statuses were ever added.
func (h *History) Total() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
