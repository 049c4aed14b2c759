package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ========================================
// Load Tests
// ========================================

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env

	cfg := Load()

	if cfg.ConfThreshold != 0.45 {
		t.Errorf("Expected threshold 0.45, got %v", cfg.ConfThreshold)
	}
	if cfg.BufferCapacity != 100 {
		t.Errorf("Expected buffer capacity 100, got %d", cfg.BufferCapacity)
	}
	if cfg.ClipFPS != 10 {
		t.Errorf("Expected clip fps 10, got %v", cfg.ClipFPS)
	}
	if cfg.ClipDirectory != "clips" {
		t.Errorf("Expected clips directory, got %s", cfg.ClipDirectory)
	}
	if cfg.ReadRetryDelay != 100*time.Millisecond {
		t.Errorf("Expected 100ms retry delay, got %s", cfg.ReadRetryDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONF_THRESHOLD", "0.6")
	t.Setenv("BUFFER_FRAMES", "30")
	t.Setenv("CLIP_FPS", "15")
	t.Setenv("CLIPS_DIR", "/var/clips")
	t.Setenv("READ_RETRY_DELAY", "250")

	cfg := Load()

	if cfg.ConfThreshold != 0.6 {
		t.Errorf("Expected threshold 0.6, got %v", cfg.ConfThreshold)
	}
	if cfg.BufferCapacity != 30 {
		t.Errorf("Expected buffer capacity 30, got %d", cfg.BufferCapacity)
	}
	if cfg.ClipFPS != 15 {
		t.Errorf("Expected clip fps 15, got %v", cfg.ClipFPS)
	}
	if cfg.ClipDirectory != "/var/clips" {
		t.Errorf("Expected /var/clips, got %s", cfg.ClipDirectory)
	}
	if cfg.ReadRetryDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", cfg.ReadRetryDelay)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BUFFER_FRAMES", "many")
	t.Setenv("CONF_THRESHOLD", "high")
	t.Setenv("READ_RETRY_DELAY", "soon")

	cfg := Load()

	if cfg.BufferCapacity != 100 {
		t.Errorf("Expected default capacity, got %d", cfg.BufferCapacity)
	}
	if cfg.ConfThreshold != 0.45 {
		t.Errorf("Expected default threshold, got %v", cfg.ConfThreshold)
	}
	if cfg.ReadRetryDelay != 100*time.Millisecond {
		t.Errorf("Expected default delay, got %s", cfg.ReadRetryDelay)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.Unsetenv("CLIP_WORKERS")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CLIP_WORKERS=5\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CLIP_WORKERS") })

	cfg := Load()
	if cfg.ClipWorkers != 5 {
		t.Errorf("Expected clip workers from .env, got %d", cfg.ClipWorkers)
	}
}

// ========================================
// Validate Tests
// ========================================

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"threshold above one", func(c *Config) { c.ConfThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.ConfThreshold = -0.1 }},
		{"NaN threshold", func(c *Config) { c.ConfThreshold = math.NaN() }},
		{"NaN nms threshold", func(c *Config) { c.NMSThreshold = math.NaN() }},
		{"detect threshold above one", func(c *Config) { c.DetectThreshold = 2 }},
		{"NaN detect threshold", func(c *Config) { c.DetectThreshold = math.NaN() }},
		{"zero capacity", func(c *Config) { c.BufferCapacity = 0 }},
		{"zero fps", func(c *Config) { c.ClipFPS = 0 }},
		{"empty clip dir", func(c *Config) { c.ClipDirectory = "" }},
		{"no clip workers", func(c *Config) { c.ClipWorkers = 0 }},
		{"no inference workers", func(c *Config) { c.InferenceWorkers = 0 }},
		{"bad jpeg quality", func(c *Config) { c.JPEGQuality = 0 }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"no model", func(c *Config) { c.ModelPath = "" }},
		{"bad mqtt port", func(c *Config) { c.MQTTHost = "broker"; c.MQTTPort = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg := Load()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoad_ThresholdEdges(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("CONF_THRESHOLD", "0")
	cfg := Load()
	if cfg.ConfThreshold != 0 {
		t.Errorf("Expected threshold 0, got %v", cfg.ConfThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Threshold 0 should validate: %v", err)
	}

	t.Setenv("CONF_THRESHOLD", "NaN")
	if err := Load().Validate(); err == nil {
		t.Error("Expected NaN threshold from the environment to be rejected")
	}
}

func TestLoad_DetectThreshold(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := Load()
	if cfg.DetectThreshold != 0.25 {
		t.Errorf("Expected detect threshold 0.25, got %v", cfg.DetectThreshold)
	}

	t.Setenv("DETECT_THRESHOLD", "0.1")
	t.Setenv("CONF_THRESHOLD", "0.7")
	cfg = Load()
	if cfg.DetectThreshold != 0.1 || cfg.ConfThreshold != 0.7 {
		t.Errorf("Thresholds should load independently, got detect %v alert %v", cfg.DetectThreshold, cfg.ConfThreshold)
	}
}

func TestConfig_ModelThreshold(t *testing.T) {
	tests := []struct {
		detect, alert, want float64
	}{
		{0.25, 0.45, 0.25},
		{0.6, 0.45, 0.45},
		{0.25, 0, 0},
	}

	for _, tt := range tests {
		cfg := &Config{DetectThreshold: tt.detect, ConfThreshold: tt.alert}
		if got := cfg.ModelThreshold(); got != tt.want {
			t.Errorf("detect=%v alert=%v: got %v, expected %v", tt.detect, tt.alert, got, tt.want)
		}
	}
}

func TestLoad_MQTT(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("DEBUG", "true")

	cfg := Load()

	if cfg.MQTTHost != "broker.local" || cfg.MQTTPort != 8883 {
		t.Errorf("Unexpected broker %s:%d", cfg.MQTTHost, cfg.MQTTPort)
	}
	if cfg.MQTTTopic != "servalliance/alerts" {
		t.Errorf("Expected default topic, got %s", cfg.MQTTTopic)
	}
	if !cfg.Debug {
		t.Error("Expected debug enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Unexpected validation error: %v", err)
	}
}
