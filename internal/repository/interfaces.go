package repository

import (
	"time"

	"ecobin/internal/model"
)

// DetectionRepository defines the interface for detection data operations.
type DetectionRepository interface {
	// Create operations
	Insert(det *model.Detection) (int64, error)

	// Read operations
	List(filter *model.DetectionFilter) ([]model.Detection, error)
	Count(filter *model.DetectionFilter) (int, error)
	ObjectTypes() ([]string, error)

	// Delete operations
	DeleteBefore(t time.Time) (int64, error)
}
