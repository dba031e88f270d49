package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ecobin/internal/logger"
	"ecobin/internal/service"
)

const cameraReadTimeout = 60 * time.Second

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers viewer connections in the hub so they
// receive loop results and detections as JSON.
func ViewWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)

		manager.GetWebsocketService().Register(connection)
		defer manager.GetWebsocketService().Unregister(connection)

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				break
			}
		}
	}
}

// CameraWebsocketHandler accepts JPEG frames pushed by a network camera
// identified by the "id" query parameter.
func CameraWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("id")
		if camera == "" {
			http.Error(w, "id parameter is required", http.StatusBadRequest)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		connection.SetReadDeadline(time.Now().Add(cameraReadTimeout))
		connection.SetPongHandler(func(string) error {
			return connection.SetReadDeadline(time.Now().Add(cameraReadTimeout))
		})

		logger.Info("Camera connected: %s", camera)

		for {
			messageType, msg, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Camera %s disconnected", camera)
				} else {
					logger.Warning("Error reading camera %s message: %v", camera, err)
				}
				return
			}
			connection.SetReadDeadline(time.Now().Add(cameraReadTimeout))

			if messageType != websocket.BinaryMessage {
				continue
			}
			manager.HandleCameraFrame(camera, msg)
		}
	}
}
