package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"servalliance/internal/models"
)

const (
	clipPrefix      = "threat_cam"
	clipTimeLayout  = "20060102_150405"
	defaultClipExt  = "mp4"
	maxNameAttempts = 1000
)

var (
	// ErrEmptyClip is returned when a clip job carries no frames.
	ErrEmptyClip = errors.New("clip has no frames")

	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// VideoEncoder turns a sequence of frames into a video file at path.
type VideoEncoder interface {
	Encode(path string, frames []models.Frame, fps float64) error
}

// ClipWriter writes alert clips into a single output directory.
type ClipWriter struct {
	dir      string
	ext      string
	fps      float64
	encoder  VideoEncoder
	reserved map[string]struct{}
	mu       sync.Mutex
}

// NewClipWriter creates the output directory if needed.
func NewClipWriter(dir string, fps float64, ext string, encoder VideoEncoder) (*ClipWriter, error) {
	if encoder == nil {
		return nil, fmt.Errorf("clip writer needs an encoder")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid clip fps %v", fps)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = defaultClipExt
	}

	return &ClipWriter{
		dir:      dir,
		ext:      ext,
		fps:      fps,
		encoder:  encoder,
		reserved: make(map[string]struct{}),
	}, nil
}

// Directory returns the clip output directory.
func (w *ClipWriter) Directory() string {
	return w.dir
}

// Write encodes frames into a new clip named after cameraID and at, and
// returns its path.
func (w *ClipWriter) Write(cameraID string, frames []models.Frame, at time.Time) (string, error) {
	if len(frames) == 0 {
		return "", ErrEmptyClip
	}

	path, err := w.reserve(ClipFileName(cameraID, at, w.ext))
	if err != nil {
		return "", err
	}
	defer w.release(path)

	if err := w.encoder.Encode(path, frames, w.fps); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode clip %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// reserve picks a path that neither exists on disk nor is being written by
// another worker. Clashes within the same second get a numeric suffix.
func (w *ClipWriter) reserve(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := strings.TrimSuffix(name, "."+w.ext)
	for n := 1; n <= maxNameAttempts; n++ {
		candidate := name
		if n > 1 {
			candidate = base + "_" + strconv.Itoa(n) + "." + w.ext
		}
		path := filepath.Join(w.dir, candidate)

		if _, busy := w.reserved[path]; busy {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		w.reserved[path] = struct{}{}
		return path, nil
	}
	return "", fmt.Errorf("no free clip name for %s", name)
}

func (w *ClipWriter) release(path string) {
	w.mu.Lock()
	delete(w.reserved, path)
	w.mu.Unlock()
}

// SanitizeCameraID replaces every path-unsafe character with '_'.
func SanitizeCameraID(cameraID string) string {
	return unsafeChars.ReplaceAllString(cameraID, "_")
}

// ClipFileName returns threat_cam<sanitized id>_<YYYYMMDD_HHMMSS>.<ext>.
func ClipFileName(cameraID string, at time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = defaultClipExt
	}
	return fmt.Sprintf("%s%s_%s.%s", clipPrefix, SanitizeCameraID(cameraID), at.Format(clipTimeLayout), ext)
}

// ParseClipFileName extracts the sanitized camera id and timestamp from a
// clip file name produced by ClipFileName, with or without a collision suffix.
func ParseClipFileName(name string) (camera string, at time.Time, err error) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, clipPrefix) {
		return "", time.Time{}, fmt.Errorf("not a clip file: %s", name)
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(name, clipPrefix), filepath.Ext(name))

	// <camera>_<YYYYMMDD>_<HHMMSS>[_<n>]
	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return "", time.Time{}, fmt.Errorf("invalid clip name: %s", name)
	}
	if last := parts[len(parts)-1]; len(last) != 6 {
		if _, convErr := strconv.Atoi(last); convErr == nil && len(parts) >= 4 {
			parts = parts[:len(parts)-1]
		}
	}

	n := len(parts)
	at, err = time.ParseInLocation(clipTimeLayout, parts[n-2]+"_"+parts[n-1], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid clip timestamp in %s: %w", name, err)
	}
	camera = strings.Join(parts[:n-2], "_")
	if camera == "" {
		return "", time.Time{}, fmt.Errorf("missing camera in %s", name)
	}
	return camera, at, nil
}
