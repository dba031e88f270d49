package handler

import (
	"errors"
	"io"
	"net/http"

	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/service"
	"ecobin/internal/service/capture"
	"ecobin/internal/service/classify"
	"ecobin/internal/service/detector"
)

// ListLoopsHandler returns a snapshot of every loop.
func ListLoopsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loops := manager.Loops()
		snapshots := make([]dto.LoopSnapshot, 0, len(loops))
		for _, loop := range loops {
			snapshots = append(snapshots, loop.Snapshot())
		}
		if err := writeJSON(w, http.StatusOK, snapshots); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// GetLoopHandler returns one loop's snapshot.
func GetLoopHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loop, ok := lookupLoop(w, r, manager)
		if !ok {
			return
		}
		if err := writeJSON(w, http.StatusOK, loop.Snapshot()); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// ActivateLoopHandler switches a loop on.
func ActivateLoopHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loop, ok := lookupLoop(w, r, manager)
		if !ok {
			return
		}
		if err := loop.Activate(); err != nil {
			logger.Error("Failed to activate loop %s: %v", loop.Name(), err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, loop.Snapshot())
	}
}

// DeactivateLoopHandler switches a loop off.
func DeactivateLoopHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loop, ok := lookupLoop(w, r, manager)
		if !ok {
			return
		}
		if err := loop.Deactivate(); err != nil {
			// the loop is idle regardless, only the source complained
			logger.Warning("Loop %s deactivated with error: %v", loop.Name(), err)
		}
		writeJSON(w, http.StatusOK, loop.Snapshot())
	}
}

// ClearResultHandler drops a loop's current result.
func ClearResultHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loop, ok := lookupLoop(w, r, manager)
		if !ok {
			return
		}
		loop.ClearResult()
		w.WriteHeader(http.StatusNoContent)
	}
}

// UploadHandler classifies a still image uploaded as the multipart field
// "image" through the loop's backend.
func UploadHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loop, ok := lookupLoop(w, r, manager)
		if !ok {
			return
		}

		cfg := manager.Config()
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		if err := r.ParseMultipartForm(cfg.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
			return
		}

		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "image field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}

		sample, err := capture.NormalizeStill(data, cfg.MaxStillDimension)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := loop.Submit(r.Context(), sample)
		if err != nil {
			status := submitStatus(err)
			if status >= http.StatusInternalServerError {
				logger.Error("Upload to loop %s failed: %v", loop.Name(), err)
			}
			writeError(w, status, err.Error())
			return
		}

		logger.Info("Upload to loop %s classified as %s (%s%%)", loop.Name(), result.Label, result.Percent())
		writeJSON(w, http.StatusOK, result)
	}
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, detector.ErrInFlight), errors.Is(err, detector.ErrStale):
		return http.StatusConflict
	case errors.Is(err, detector.ErrClassificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, classify.ErrBackendNotReady), errors.Is(err, detector.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func lookupLoop(w http.ResponseWriter, r *http.Request, manager *service.Manager) (*detector.Loop, bool) {
	loop, err := manager.Loop(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return loop, true
}
