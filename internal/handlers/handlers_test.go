package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"servalliance/internal/logger"
	"servalliance/internal/models"
	"servalliance/internal/repository/sqlite"
	"servalliance/internal/services"
)

// ========================================
// Helpers
// ========================================

func newRepository(t *testing.T) *sqlite.AlertRepository {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewAlertRepository(db)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, ev := range []models.AlertEvent{
		{ID: "a", Camera: "0", ThreatType: "knife", ConfidencePercent: 90, ClipPath: "/clips/threat_cam0_20240601_100000.mp4", DetectedAt: at},
		{ID: "b", Camera: "1", ThreatType: "pistol", ConfidencePercent: 60, DetectedAt: at.Add(time.Minute)},
		{ID: "c", Camera: "0", ThreatType: "knife", ConfidencePercent: 50, DetectedAt: at.Add(2 * time.Minute)},
	} {
		if err := repo.SaveAlert(context.Background(), ev); err != nil {
			t.Fatalf("SaveAlert %d failed: %v", i, err)
		}
	}
	return repo
}

func serve(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// ========================================
// Alert API Tests
// ========================================

func TestGetAlertsHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/alerts", GetAlertsHandler(newRepository(t), logger.Discard()))

	tests := []struct {
		query    string
		expected []string
		total    int
	}{
		{"", []string{"c", "b", "a"}, 3},
		{"?camera=0", []string{"c", "a"}, 2},
		{"?threat=pistol", []string{"b"}, 1},
		{"?minConfidence=55", []string{"b", "a"}, 2},
		{"?since=2024-06-01T10:01:00Z", []string{"c", "b"}, 2},
		{"?limit=1&page=2", []string{"b"}, 3},
		{"?limit=bogus", []string{"c", "b", "a"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := serve(mux, http.MethodGet, "/api/alerts"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}

			var data struct {
				Alerts []struct {
					ID string `json:"id"`
				} `json:"alerts"`
				Length int `json:"length"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
				t.Fatalf("Invalid JSON: %v", err)
			}

			var ids []string
			for _, a := range data.Alerts {
				ids = append(ids, a.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.expected, ",") {
				t.Errorf("Expected %v, got %v", tt.expected, ids)
			}
			if data.Length != tt.total {
				t.Errorf("Expected total %d, got %d", tt.total, data.Length)
			}
		})
	}
}

func TestGetAlertHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/alerts/{id}", GetAlertHandler(newRepository(t), logger.Discard()))

	rec := serve(mux, http.MethodGet, "/api/alerts/a")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"clip":"threat_cam0_20240601_100000.mp4"`) {
		t.Errorf("Expected clip file name in %s", rec.Body)
	}

	if rec := serve(mux, http.MethodGet, "/api/alerts/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestGetThreatsHandler(t *testing.T) {
	rec := serve(GetThreatsHandler(newRepository(t), logger.Discard()), http.MethodGet, "/api/alerts/threats")

	var data map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if strings.Join(data["threats"], ",") != "knife,pistol" {
		t.Errorf("Unexpected threats %v", data["threats"])
	}
	if strings.Join(data["cameras"], ",") != "0,1" {
		t.Errorf("Unexpected cameras %v", data["cameras"])
	}
}

func TestGetAlertsHandler_Pagination(t *testing.T) {
	rec := serve(GetAlertsHandler(newRepository(t), logger.Discard()), http.MethodGet, "/api/alerts?limit=2")

	var data struct {
		TotalPages  int `json:"totalPages"`
		CurrentPage int `json:"currentPage"`
		Limit       int `json:"pageSize"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if data.TotalPages != 2 || data.CurrentPage != 1 || data.Limit != 2 {
		t.Errorf("Unexpected pagination %+v", data)
	}
}

// ========================================
// Clip Tests
// ========================================

func TestClipHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "threat_cam0_20240601_100000.mp4"), []byte("clip"), 0644); err != nil {
		t.Fatalf("Failed to write clip: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /clips/{name}", ClipHandler(dir))

	rec := serve(mux, http.MethodGet, "/clips/threat_cam0_20240601_100000.mp4")
	if rec.Code != http.StatusOK || rec.Body.String() != "clip" {
		t.Errorf("Expected clip body, got %d %q", rec.Code, rec.Body)
	}

	if rec := serve(mux, http.MethodGet, "/clips/missing.mp4"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing clip, got %d", rec.Code)
	}
}

func TestValidClipName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"threat_cam0_20240601_100000.mp4", true},
		{"threat_cam0_20240601_100000_2.mp4", true},
		{"", false},
		{".env", false},
		{"..", false},
		{"../alerts.db", false},
		{`..\alerts.db`, false},
		{"sub/clip.mp4", false},
	}

	for _, tt := range tests {
		if got := validClipName(tt.name); got != tt.valid {
			t.Errorf("validClipName(%q) = %v, expected %v", tt.name, got, tt.valid)
		}
	}
}

// ========================================
// Video Feed Tests
// ========================================

type fakeSource struct {
	frames    [][]byte
	err       error
	requested string
	closed    bool
}

func (s *fakeSource) Subscribe(cameraID string) (*services.Subscription, error) {
	s.requested = cameraID
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan []byte, len(s.frames))
	for _, f := range s.frames {
		ch <- f
	}
	close(ch)
	return &services.Subscription{CameraID: cameraID, Frames: ch}, nil
}

func TestVideoFeedHandler_WritesParts(t *testing.T) {
	source := &fakeSource{frames: [][]byte{[]byte("JPEG1"), []byte("JPEG2")}}
	rec := serve(VideoFeedHandler(source, "0", logger.Discard()), http.MethodGet, "/video_feed?camera=2")

	if source.requested != "2" {
		t.Errorf("Expected camera 2, got %q", source.requested)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Unexpected content type %q", ct)
	}
	expected := "--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG1\r\n" +
		"--frame\r\nContent-Type: image/jpeg\r\n\r\nJPEG2\r\n"
	if rec.Body.String() != expected {
		t.Errorf("Unexpected body %q", rec.Body.String())
	}
}

func TestVideoFeedHandler_DefaultCamera(t *testing.T) {
	source := &fakeSource{}
	serve(VideoFeedHandler(source, "0", logger.Discard()), http.MethodGet, "/video_feed")

	if source.requested != "0" {
		t.Errorf("Expected default camera 0, got %q", source.requested)
	}
}

func TestVideoFeedHandler_SubscribeErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errors.New("empty camera id"), http.StatusBadRequest},
		{services.ErrStopped, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		rec := serve(VideoFeedHandler(&fakeSource{err: tt.err}, "0", logger.Discard()), http.MethodGet, "/video_feed")
		if rec.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, rec.Code)
		}
	}
}

func TestVideoFeedHandler_StopsOnClientGone(t *testing.T) {
	ch := make(chan []byte)
	source := sourceFunc(func(id string) (*services.Subscription, error) {
		return &services.Subscription{CameraID: id, Frames: ch}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/video_feed", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		VideoFeedHandler(source, "0", logger.Discard())(httptest.NewRecorder(), req)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handler did not return after client left")
	}
}

type sourceFunc func(string) (*services.Subscription, error)

func (f sourceFunc) Subscribe(id string) (*services.Subscription, error) { return f(id) }

// ========================================
// Logs / Status Tests
// ========================================

func TestShowLogsHandler(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "warning.log"), []byte("careful"), 0644)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /logs/{level}", ShowLogsHandler(dir))

	if rec := serve(mux, http.MethodGet, "/logs/warning"); rec.Body.String() != "careful" {
		t.Errorf("Unexpected log body %q", rec.Body)
	}
	if rec := serve(mux, http.MethodGet, "/logs/info"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing file, got %d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/logs/secrets"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown level, got %d", rec.Code)
	}
}

type fakeStatus []services.CameraStatus

func (f fakeStatus) Status() []services.CameraStatus { return f }

func TestCamerasHandler(t *testing.T) {
	status := fakeStatus{{Subscribers: 2}}
	status[0].CameraID = "0"
	status[0].State = "OPEN"

	rec := serve(CamerasHandler(status, logger.Discard()), http.MethodGet, "/api/cameras")

	body := rec.Body.String()
	for _, want := range []string{`"camera":"0"`, `"subscribers":2`, `"state":"OPEN"`} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in %s", want, body)
		}
	}
}
