package dto

import (
	"encoding/json"
	"fmt"
	"time"
)

// BoundingBox is a pixel rectangle around the classified object.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Candidate is one label a backend considered, with its probability.
type Candidate struct {
	ClassName   string       `json:"className"`
	Probability float64      `json:"probability"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// ClassificationResult is the label currently shown for a loop.
type ClassificationResult struct {
	Label       string       `json:"label"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
	At          time.Time    `json:"at"`
}

// Percent renders the confidence as a percentage with two decimals.
func (r ClassificationResult) Percent() string {
	return fmt.Sprintf("%.2f", r.Confidence*100)
}

// MarshalJSON adds the percent field next to the raw confidence.
func (r ClassificationResult) MarshalJSON() ([]byte, error) {
	type Alias ClassificationResult
	return json.Marshal(&struct {
		Percent string `json:"percent"`
		Alias
	}{
		Percent: r.Percent(),
		Alias:   (Alias)(r),
	})
}
