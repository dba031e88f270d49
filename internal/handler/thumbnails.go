package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"ecobin/internal/service"
)

// ThumbnailHandler serves a flushed detection thumbnail by file name.
func ThumbnailHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("file")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			http.Error(w, "invalid thumbnail name", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(manager.GetBufferService().Dir(), name))
	}
}
