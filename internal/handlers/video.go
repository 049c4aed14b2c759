package handlers

import (
	"errors"
	"net/http"

	"servalliance/internal/logger"
	"servalliance/internal/services"
)

const (
	mjpegBoundary   = "frame"
	mjpegPartHeader = "--" + mjpegBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n"
)

// FrameSource hands out per-viewer frame subscriptions.
type FrameSource interface {
	Subscribe(cameraID string) (*services.Subscription, error)
}

// VideoFeedHandler streams annotated frames of ?camera=<id> (defaultCamera
// when absent) as multipart/x-mixed-replace JPEG parts until the client
// goes away or the stream ends.
func VideoFeedHandler(source FrameSource, defaultCamera string, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("camera")
		if camera == "" {
			camera = defaultCamera
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub, err := source.Subscribe(camera)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, services.ErrStopped) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		logger.Debug("🎥 Viewer %s streaming camera %s", r.RemoteAddr, sub.CameraID)

		for {
			select {
			case <-r.Context().Done():
				return
			case jpeg, ok := <-sub.Frames:
				if !ok {
					return
				}
				if err := writePart(w, jpeg); err != nil {
					logger.Debug("Viewer %s disconnected: %v", r.RemoteAddr, err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := w.Write([]byte(mjpegPartHeader)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
