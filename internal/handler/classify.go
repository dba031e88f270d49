package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ecobin/internal/dto"
	"ecobin/internal/logger"
	"ecobin/internal/service"
	"ecobin/internal/service/capture"
	"ecobin/internal/service/classify"
)

const classifyTimeout = 30 * time.Second

// ClassifyHandler answers POST /public/classify with the server-side
// backend, so another instance can use this one as its remote classifier.
func ClassifyHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backend := manager.ServerBackend()
		if backend == nil {
			writeError(w, http.StatusServiceUnavailable, "no classification backend configured")
			return
		}

		cfg := manager.Config()
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes*2)

		var req dto.ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		raw, err := dto.ParseDataURL(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		sample, err := capture.NormalizeStill(raw.Data, cfg.MaxStillDimension)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), classifyTimeout)
		defer cancel()

		candidates, err := backend.Classify(ctx, sample)
		if err != nil {
			if errors.Is(err, classify.ErrBackendNotReady) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			logger.Error("Classification via %s failed: %v", backend.Name(), err)
			writeError(w, http.StatusBadGateway, "classification failed")
			return
		}

		best, ok := classify.SelectBest(candidates)
		if !ok {
			writeError(w, http.StatusBadGateway, "backend returned no candidates")
			return
		}

		logger.Debug("Classified request as %s (%.2f)", best.ClassName, best.Probability)
		confidence := best.Probability
		writeJSON(w, http.StatusOK, dto.ClassifyResponse{
			Result:      best.ClassName,
			Confidence:  &confidence,
			BoundingBox: best.BoundingBox,
			ClassName:   best.ClassName,
			Probability: &confidence,
		})
	}
}
