package dto

import "time"

// ClassifyRequest is the body of POST /classify.
type ClassifyRequest struct {
	Image string `json:"image"`
}

// ClassifyResponse covers both response shapes seen in the wild: the
// {result, boundingBox} form and the {className, probability} form.
type ClassifyResponse struct {
	Result      string       `json:"result,omitempty"`
	Confidence  *float64     `json:"confidence,omitempty"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
	ClassName   string       `json:"className,omitempty"`
	Probability *float64     `json:"probability,omitempty"`
	Predictions []Candidate  `json:"predictions,omitempty"`
}

// DetectionReport is the body of POST /detections.
type DetectionReport struct {
	ObjectType string    `json:"objectType"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}
