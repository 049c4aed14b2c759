package dto

import (
	"encoding/json"
	"time"

	"servalliance/internal/models"
)

// AlertInfo is a stored alert as returned by the API.
type AlertInfo struct {
	ID                string     `json:"id"`
	Camera            string     `json:"camera"`
	ThreatType        string     `json:"threat_type"`
	ConfidencePercent float64    `json:"confidence"`
	Clip              string     `json:"clip"` // file name inside the clip directory
	Box               models.Box `json:"box"`
	DetectedAt        time.Time  `json:"detected_at"`
}

// MarshalJSON renders the detection time in the dashboard format and a
// missing clip as null.
func (a AlertInfo) MarshalJSON() ([]byte, error) {
	type Alias AlertInfo
	var clip *string
	if a.Clip != "" {
		clip = &a.Clip
	}
	return json.Marshal(&struct {
		Clip      *string `json:"clip"`
		Date      string  `json:"date"`
		TimeOfDay string  `json:"timeOfDay"`
		Alias
	}{
		Clip:      clip,
		Date:      a.DetectedAt.Format("02-01-2006"),
		TimeOfDay: a.DetectedAt.Format("15:04:05"),
		Alias:     (Alias)(a),
	})
}

// AlertsData is a paginated response payload for the alert list.
type AlertsData struct {
	Alerts      []AlertInfo `json:"alerts"`
	Length      int         `json:"length"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	Limit       int         `json:"pageSize"`
}
