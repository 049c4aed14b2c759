package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"servalliance/internal/config"
	"servalliance/internal/handlers"
	"servalliance/internal/logger"
	"servalliance/internal/metrics"
	"servalliance/internal/repository"
	"servalliance/internal/services"
	wshub "servalliance/internal/services/websocket"
)

// Dependencies groups what the HTTP layer needs from the application.
type Dependencies struct {
	Manager *services.Manager
	Alerts  repository.AlertRepository
	Hub     *wshub.HubService
	Metrics *metrics.Metrics
	Config  *config.Config
	Logger  *logger.Logger
}

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean(path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the video feed, alert API, clip and log endpoints,
// metrics and static pages.
func SetupRoutes(deps Dependencies) http.Handler {
	mux := http.NewServeMux()
	cfg, logger := deps.Config, deps.Logger

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Live video
	mux.HandleFunc("GET /video_feed", handlers.VideoFeedHandler(deps.Manager, cfg.DefaultCamera, logger))
	mux.HandleFunc("GET /api/cameras", handlers.CamerasHandler(deps.Manager, logger))

	// Alerts
	mux.HandleFunc("GET /api/alerts", handlers.GetAlertsHandler(deps.Alerts, logger))
	mux.HandleFunc("GET /api/alerts/threats", handlers.GetThreatsHandler(deps.Alerts, logger))
	mux.HandleFunc("GET /api/alerts/ws", handlers.AlertsWebsocketHandler(deps.Hub, logger))
	mux.HandleFunc("GET /api/alerts/{id}", handlers.GetAlertHandler(deps.Alerts, logger))
	mux.HandleFunc("GET /clips/{name}", handlers.ClipHandler(cfg.ClipDirectory))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(cfg.LogDirectory))
	mux.HandleFunc("POST /logs/{level}/clear", handlers.ClearLogsHandler(logger))

	mux.Handle("GET /metrics", deps.Metrics.Handler())

	// Automatic HTML handler mapping for example: /dashboard -> /static/dashboard.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return mux
}
