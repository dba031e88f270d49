package routes

import (
	"net/http"

	"ecobin/internal/handler"
	"ecobin/internal/logger"
	"ecobin/internal/service"
)

// SetupRoutes registers the loop control API, the websocket endpoints, the
// public classification endpoints, the detection log and the log viewer.
func SetupRoutes(manager *service.Manager, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Loops
	mux.HandleFunc("GET /api/loops", handler.ListLoopsHandler(manager, logger))
	mux.HandleFunc("GET /api/loops/{name}", handler.GetLoopHandler(manager, logger))
	mux.HandleFunc("POST /api/loops/{name}/activate", handler.ActivateLoopHandler(manager, logger))
	mux.HandleFunc("POST /api/loops/{name}/deactivate", handler.DeactivateLoopHandler(manager, logger))
	mux.HandleFunc("DELETE /api/loops/{name}/result", handler.ClearResultHandler(manager, logger))
	mux.HandleFunc("POST /api/loops/{name}/upload", handler.UploadHandler(manager, logger))

	// Websockets
	mux.HandleFunc("GET /api/view", handler.ViewWebsocketHandler(manager, logger))
	mux.HandleFunc("GET /camera", handler.CameraWebsocketHandler(manager, logger))

	// Public endpoints
	mux.HandleFunc("POST /public/classify", handler.ClassifyHandler(manager, logger))
	mux.HandleFunc("POST /public/detections", handler.RecordDetectionHandler(manager, logger))

	// Detection log
	mux.HandleFunc("GET /api/detections", handler.ListDetectionsHandler(manager, logger))
	mux.HandleFunc("GET /api/detections/objects", handler.ObjectTypesHandler(manager, logger))
	mux.HandleFunc("GET /thumbnails/{file}", handler.ThumbnailHandler(manager))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/{level}/clear", handler.ClearLogsHandler(logger))

	return mux
}
