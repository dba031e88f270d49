package dto

// LoopEvent is published on the event bus when a loop's result changes or a
// detection is recorded. Sample is only set for detections.
type LoopEvent struct {
	Type   string                `json:"type"`
	Loop   string                `json:"loop"`
	Result *ClassificationResult `json:"result,omitempty"`
	Entry  *HistoryEntry         `json:"entry,omitempty"`
	Sample *Sample               `json:"-"`
}

// LoopSnapshot is the externally visible state of a loop.
type LoopSnapshot struct {
	Name       string                `json:"name"`
	Backend    string                `json:"backend"`
	Source     string                `json:"source"`
	State      string                `json:"state"`
	Active     bool                  `json:"active"`
	Ready      bool                  `json:"ready"`
	IntervalMS int64                 `json:"intervalMs"`
	Current    *ClassificationResult `json:"current,omitempty"`
	History    []HistoryEntry        `json:"history"`
}
