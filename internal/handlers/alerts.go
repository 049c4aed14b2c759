package handlers

import (
	"net/http"
	"strconv"

	"servalliance/internal/dto"
	"servalliance/internal/logger"
	"servalliance/internal/repository"
)

const defaultAlertPageSize = 24

// GetAlertsHandler returns stored alerts, newest first, filtered by the
// camera, threat, since, until and minConfidence query parameters and
// paginated with page/limit. Response is JSON of type AlertsData.
func GetAlertsHandler(repo repository.AlertRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), defaultAlertPageSize)

		filter := &dto.AlertFilter{
			Camera:     q.Get("camera"),
			ThreatType: q.Get("threat"),
			Since:      parseTimeParam(q.Get("since")),
			Until:      parseTimeParam(q.Get("until")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}
		if v, err := strconv.ParseFloat(q.Get("minConfidence"), 64); err == nil && v > 0 {
			filter.MinConfidence = v
		}

		alerts, err := repo.GetAll(r.Context(), filter)
		if err != nil {
			logger.Error("Error querying alerts: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		total, err := repo.GetTotalCount(r.Context(), filter)
		if err != nil {
			logger.Error("Error counting alerts: %v", err)
			total = len(alerts)
		}

		writeJSON(w, logger, dto.AlertsData{
			Alerts:      alerts,
			Length:      total,
			TotalPages:  (total + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetAlertHandler returns a single alert by its id.
func GetAlertHandler(repo repository.AlertRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alert, err := repo.GetByID(r.Context(), r.PathValue("id"))
		if err != nil {
			logger.Error("Error reading alert: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if alert == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, logger, alert)
	}
}

// GetThreatsHandler returns the threat types and cameras available for filtering.
func GetThreatsHandler(repo repository.AlertRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threats, err := repo.GetThreatTypes(r.Context())
		if err != nil {
			logger.Error("Failed to get threat types: %v", err)
			threats = []string{}
		}

		cameras, err := repo.GetCameras(r.Context())
		if err != nil {
			logger.Error("Failed to get cameras: %v", err)
			cameras = []string{}
		}

		writeJSON(w, logger, map[string][]string{
			"threats": threats,
			"cameras": cameras,
		})
	}
}
