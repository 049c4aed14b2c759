package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	return string(body)
}

func TestMetrics_Exposed(t *testing.T) {
	m := New()
	m.FrameRead("0")
	m.FrameRead("0")
	m.AlertDelivered("0", "knife")
	m.SetCameraState("0", StateReadFailed)
	m.ObserveInference(20 * time.Millisecond)

	out := scrape(t, m)
	for _, want := range []string{
		`servalliance_frames_read_total{camera="0"} 2`,
		`servalliance_alerts_total{camera="0",threat="knife"} 1`,
		`servalliance_camera_state{camera="0"} 2`,
		`servalliance_inference_seconds_count 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}

func TestMetrics_ForgetCamera(t *testing.T) {
	m := New()
	m.SetCameraState("7", StateOpen)
	m.SetSubscribers("7", 2)
	m.ForgetCamera("7")

	out := scrape(t, m)
	if strings.Contains(out, `camera="7"`) {
		t.Errorf("Series for camera 7 still exported")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.FrameRead("0")
	m.ReadFailed("0")
	m.AlertDelivered("0", "gun")
	m.SinkFailed()
	m.ObserveClip(time.Second)
	m.SetCameraState("0", StateOpen)
	m.ForgetCamera("0")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("Nil metrics handler returned %d", rec.Code)
	}
}
