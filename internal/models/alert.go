package models

import (
	"encoding/json"
	"math"
	"time"
)

// AlertEvent is the record handed to the alert sink for one qualifying detection.
type AlertEvent struct {
	ID                string    `json:"id"`
	Camera            string    `json:"camera"`
	ThreatType        string    `json:"threat_type"`
	ConfidencePercent float64   `json:"confidence"`
	ClipPath          string    `json:"clip"` // empty when no clip was written
	Box               Box       `json:"box"`
	DetectedAt        time.Time `json:"detected_at"`
}

// NewAlertEvent builds an event for det seen on camera at the given time.
func NewAlertEvent(id, camera string, det Detection, clipPath string, at time.Time) AlertEvent {
	return AlertEvent{
		ID:                id,
		Camera:            camera,
		ThreatType:        det.ClassName,
		ConfidencePercent: ConfidencePercent(det.Confidence),
		ClipPath:          clipPath,
		Box:               det.Box,
		DetectedAt:        at,
	}
}

// HasClip reports whether a clip file accompanies the alert.
func (e AlertEvent) HasClip() bool {
	return e.ClipPath != ""
}

// ConfidencePercent converts a [0,1] confidence to a percentage rounded to 2 decimals.
func ConfidencePercent(confidence float64) float64 {
	return math.Round(confidence*100*100) / 100
}

// MarshalJSON renders a missing clip as null.
func (e AlertEvent) MarshalJSON() ([]byte, error) {
	type Alias AlertEvent
	var clip *string
	if e.ClipPath != "" {
		clip = &e.ClipPath
	}
	return json.Marshal(&struct {
		Clip *string `json:"clip"`
		Alias
	}{
		Clip:  clip,
		Alias: (Alias)(e),
	})
}
