package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port int

	ModelPath        string
	ModelConfigPath  string // Darknet/TF graph config; empty for ONNX
	LabelsPath       string
	ModelInputSize   int
	InferenceWorkers int     // Liczba niezależnych instancji modelu
	DetectThreshold  float64 // Próg modelu, niższy niż próg alertu
	ConfThreshold    float64 // Próg alertu
	NMSThreshold     float64

	BufferCapacity int // Klatki trzymane w buforze na kamerę
	ClipFPS        float64
	ClipDirectory  string
	ClipExtension  string
	ClipCodec      string
	ClipWorkers    int
	ClipQueueSize  int

	ReadRetryDelay   time.Duration
	JPEGQuality      int
	SubscriberBuffer int
	DefaultCamera    string

	DatabasePath         string
	LogDirectory         string
	MaxClipDirectorySize int64 // GB
	Debug                bool

	// Opcjonalny broker MQTT dla alertów; pusty host wyłącza publikację
	MQTTHost  string
	MQTTPort  int
	MQTTTopic string
	MQTTUser  string
	MQTTPass  string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, if present, is applied first without overriding
// variables that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnvAsInt("PORT", 5000),
		ModelPath:            getEnv("MODEL_PATH", "best.onnx"),
		ModelConfigPath:      getEnv("MODEL_CONFIG_PATH", ""),
		LabelsPath:           getEnv("LABELS_PATH", "data.yaml"),
		ModelInputSize:       getEnvAsInt("MODEL_INPUT_SIZE", 640),
		InferenceWorkers:     getEnvAsInt("INFERENCE_WORKERS", 1),
		DetectThreshold:      getEnvAsFloat("DETECT_THRESHOLD", 0.25),
		ConfThreshold:        getEnvAsFloat("CONF_THRESHOLD", 0.45),
		NMSThreshold:         getEnvAsFloat("NMS_THRESHOLD", 0.45),
		BufferCapacity:       getEnvAsInt("BUFFER_FRAMES", 100), // ~10s przy 10 fps
		ClipFPS:              getEnvAsFloat("CLIP_FPS", 10),
		ClipDirectory:        getEnv("CLIPS_DIR", "clips"),
		ClipExtension:        getEnv("CLIP_EXT", "mp4"),
		ClipCodec:            getEnv("CLIP_CODEC", "mp4v"),
		ClipWorkers:          getEnvAsInt("CLIP_WORKERS", 2),
		ClipQueueSize:        getEnvAsInt("CLIP_QUEUE_SIZE", 16),
		ReadRetryDelay:       getEnvAsDuration("READ_RETRY_DELAY", 100*time.Millisecond),
		JPEGQuality:          getEnvAsInt("JPEG_QUALITY", 80),
		SubscriberBuffer:     getEnvAsInt("SUBSCRIBER_BUFFER", 2),
		DefaultCamera:        getEnv("DEFAULT_CAMERA", "0"),
		DatabasePath:         getEnv("DB_PATH", filepath.Join(".", "data", "alerts.db")),
		LogDirectory:         getEnv("LOG_DIR", filepath.Join(".", "logs")),
		MaxClipDirectorySize: getEnvAsInt64("MAX_CLIP_DIRECTORY_SIZE", 4),
		Debug:                getEnvAsBool("DEBUG", false),
		MQTTHost:             getEnv("MQTT_HOST", ""),
		MQTTPort:             getEnvAsInt("MQTT_PORT", 1883),
		MQTTTopic:            getEnv("MQTT_TOPIC", "servalliance/alerts"),
		MQTTUser:             getEnv("MQTT_USER", ""),
		MQTTPass:             getEnv("MQTT_PASS", ""),
	}
}

// Validate reports the first setting that is out of range.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.ModelPath == "":
		return fmt.Errorf("model path is required")
	case c.ModelInputSize <= 0:
		return fmt.Errorf("model input size must be positive, got %d", c.ModelInputSize)
	case c.InferenceWorkers <= 0:
		return fmt.Errorf("inference workers must be positive, got %d", c.InferenceWorkers)
	case !unitInterval(c.DetectThreshold):
		return fmt.Errorf("detect threshold must be within [0,1], got %v", c.DetectThreshold)
	case !unitInterval(c.ConfThreshold):
		return fmt.Errorf("confidence threshold must be within [0,1], got %v", c.ConfThreshold)
	case !unitInterval(c.NMSThreshold):
		return fmt.Errorf("nms threshold must be within [0,1], got %v", c.NMSThreshold)
	case c.BufferCapacity <= 0:
		return fmt.Errorf("buffer capacity must be positive, got %d", c.BufferCapacity)
	case c.ClipFPS <= 0:
		return fmt.Errorf("clip fps must be positive, got %v", c.ClipFPS)
	case c.ClipDirectory == "":
		return fmt.Errorf("clip directory is required")
	case c.ClipWorkers <= 0:
		return fmt.Errorf("clip workers must be positive, got %d", c.ClipWorkers)
	case c.ClipQueueSize < 0:
		return fmt.Errorf("clip queue size cannot be negative, got %d", c.ClipQueueSize)
	case c.ReadRetryDelay <= 0:
		return fmt.Errorf("read retry delay must be positive, got %s", c.ReadRetryDelay)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg quality must be within [1,100], got %d", c.JPEGQuality)
	case c.SubscriberBuffer <= 0:
		return fmt.Errorf("subscriber buffer must be positive, got %d", c.SubscriberBuffer)
	case c.MQTTHost != "" && (c.MQTTPort <= 0 || c.MQTTPort > 65535):
		return fmt.Errorf("invalid mqtt port %d", c.MQTTPort)
	}
	return nil
}

// ModelThreshold is the score floor handed to the detector. It never sits
// above the alert threshold, otherwise alerts between the two could not fire.
func (c *Config) ModelThreshold() float64 {
	return min(c.DetectThreshold, c.ConfThreshold)
}

// unitInterval is false for NaN, which fails every comparison.
func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or a bare number of milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
