package dto

import "time"

// HistoryEntry records one confident classification. Entries are never mutated.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
}
