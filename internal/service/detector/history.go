package detector

import (
	"sync"

	"ecobin/internal/dto"
)

// History keeps the most recent detections, newest first.
type History struct {
	mu      sync.RWMutex
	limit   int
	entries []dto.HistoryEntry
}

// NewHistory creates a history bounded to limit entries (at least one).
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit, entries: make([]dto.HistoryEntry, 0, limit)}
}

// Push prepends entry and drops the oldest entries beyond the bound.
func (h *History) Push(entry dto.HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) < h.limit {
		h.entries = append(h.entries, dto.HistoryEntry{})
	}
	copy(h.entries[1:], h.entries[:len(h.entries)-1])
	h.entries[0] = entry
}

// Entries returns a copy, newest first.
func (h *History) Entries() []dto.HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]dto.HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) Limit() int { return h.limit }
