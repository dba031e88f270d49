package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/model"
	"ecobin/internal/service"
)

// SourcePublic marks detections recorded through POST /public/detections.
const SourcePublic = "public"

// RecordDetectionHandler stores a detection reported by a client.
func RecordDetectionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo := manager.DetectionRepository()
		if repo == nil {
			writeError(w, http.StatusServiceUnavailable, "detection log unavailable")
			return
		}

		var report dto.DetectionReport
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&report); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if report.ObjectType == "" {
			writeError(w, http.StatusBadRequest, "objectType is required")
			return
		}
		if report.Confidence < 0 || report.Confidence > 1 {
			writeError(w, http.StatusBadRequest, "confidence must be between 0 and 1")
			return
		}
		if report.Timestamp.IsZero() {
			report.Timestamp = time.Now()
		}

		det := &model.Detection{
			Source:     SourcePublic,
			ObjectType: report.ObjectType,
			Confidence: report.Confidence,
			Timestamp:  report.Timestamp,
		}
		if _, err := repo.Insert(det); err != nil {
			logger.Error("Failed to record detection: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to record detection")
			return
		}

		logger.Info("Detection reported: %s (%.2f) at %s", det.ObjectType, det.Confidence, det.Timestamp.Format(time.RFC3339))
		writeJSON(w, http.StatusCreated, det)
	}
}

// ListDetectionsHandler returns a filtered page of the detection log.
func ListDetectionsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo := manager.DetectionRepository()
		if repo == nil {
			writeError(w, http.StatusServiceUnavailable, "detection log unavailable")
			return
		}

		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 50)

		filter := &model.DetectionFilter{
			Source:     q.Get("source"),
			ObjectType: q.Get("objectType"),
			After:      parseTime(q.Get("after")),
			Before:     parseTime(q.Get("before")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		detections, err := repo.List(filter)
		if err != nil {
			logger.Error("Error querying detections: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		total, err := repo.Count(filter)
		if err != nil {
			logger.Error("Error counting detections: %v", err)
			total = len(detections)
		}
		if detections == nil {
			detections = []model.Detection{}
		}

		if err := writeJSON(w, http.StatusOK, dto.DetectionPage{
			Detections:  detections,
			Total:       total,
			TotalPages:  (total + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// ObjectTypesHandler lists every object type seen in the detection log.
func ObjectTypesHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo := manager.DetectionRepository()
		if repo == nil {
			writeError(w, http.StatusServiceUnavailable, "detection log unavailable")
			return
		}

		types, err := repo.ObjectTypes()
		if err != nil {
			logger.Error("Error querying object types: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if types == nil {
			types = []string{}
		}
		writeJSON(w, http.StatusOK, types)
	}
}

// atoiDefault converts s to int or returns def when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseTime accepts RFC 3339 timestamps and plain dates (HTML input format).
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t
	}
	return time.Time{}
}
