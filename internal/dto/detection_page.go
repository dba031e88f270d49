package dto

import "ecobin/internal/model"

// DetectionPage is one page of the detection log.
type DetectionPage struct {
	Detections  []model.Detection `json:"detections"`
	Total       int               `json:"total"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
	Limit       int               `json:"limit"`
}
