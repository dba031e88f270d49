package model

import "time"

// Detection is a persisted confident classification.
type Detection struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	ObjectType string    `json:"objectType"`
	Confidence float64   `json:"confidence"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DetectionFilter narrows detection queries. Zero values are ignored.
type DetectionFilter struct {
	Source     string
	ObjectType string
	After      time.Time
	Before     time.Time
	Limit      int
	Offset     int
}
