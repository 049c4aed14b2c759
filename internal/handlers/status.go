package handlers

import (
	"net/http"

	"servalliance/internal/logger"
	"servalliance/internal/services"
)

// StatusProvider reports the running cameras.
type StatusProvider interface {
	Status() []services.CameraStatus
}

// CamerasHandler lists every running camera with its loop state and viewer count.
func CamerasHandler(provider StatusProvider, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, map[string]any{
			"cameras": provider.Status(),
		})
	}
}
