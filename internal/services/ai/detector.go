package ai

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"servalliance/internal/logger"
	"servalliance/internal/metrics"
	"servalliance/internal/models"
)

// ErrModelLoad is returned when no model instance could be loaded.
var ErrModelLoad = errors.New("detection model failed to load")

// RawDetection is one model output in the model's native form. Coordinates
// are pixels of the input frame.
type RawDetection struct {
	ClassID    int
	Confidence float32
	X1, Y1     float32
	X2, Y2     float32
}

// Model runs object detection on a single frame. An instance is never called
// concurrently.
type Model interface {
	Infer(img *image.RGBA) ([]RawDetection, error)
	Close() error
}

// Engine wraps a pool of model instances shared by every camera. Each
// Detect call borrows one instance, so a pool of one serializes inference.
type Engine struct {
	pool    chan Model
	models  []Model
	labels  Labels
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewEngine creates an engine over already loaded models.
func NewEngine(instances []Model, labels Labels, m *metrics.Metrics, logger *logger.Logger) (*Engine, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: no model instances", ErrModelLoad)
	}

	e := &Engine{
		pool:    make(chan Model, len(instances)),
		models:  instances,
		labels:  labels,
		metrics: m,
		logger:  logger,
	}
	for _, inst := range instances {
		e.pool <- inst
	}
	return e, nil
}

// LoadEngine loads workers independent model instances with load. Any load
// failure releases what was loaded and returns ErrModelLoad.
func LoadEngine(workers int, load func() (Model, error), labels Labels, m *metrics.Metrics, logger *logger.Logger) (*Engine, error) {
	if workers <= 0 {
		workers = 1
	}

	instances := make([]Model, 0, workers)
	for i := 0; i < workers; i++ {
		inst, err := load()
		if err != nil {
			for _, loaded := range instances {
				loaded.Close()
			}
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
		instances = append(instances, inst)
	}

	logger.Info("🧠 Detection model loaded (%d instance(s), %d labels)", workers, len(labels))
	return NewEngine(instances, labels, m, logger)
}

// Detect runs inference on frame. On any failure it returns no detections
// together with the cause, so callers can carry on with the raw frame.
func (e *Engine) Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}

	var inst Model
	select {
	case inst = <-e.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { e.pool <- inst }()

	start := time.Now()
	raw, err := infer(inst, frame.Image)
	e.metrics.ObserveInference(time.Since(start))
	if err != nil {
		e.metrics.InferenceFailed()
		return nil, err
	}

	return Normalize(raw, e.labels, frame.Image.Bounds()), nil
}

func infer(inst Model, img *image.RGBA) (raw []RawDetection, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = fmt.Errorf("inference panicked: %v", r)
		}
	}()
	return inst.Infer(img)
}

// Close releases every model instance.
func (e *Engine) Close() error {
	var errs []error
	for _, inst := range e.models {
		if err := inst.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Normalize converts raw model output into detections: class names resolved
// through labels, confidence clamped to [0,1], boxes rounded to whole pixels
// and clipped to bounds.
func Normalize(raw []RawDetection, labels Labels, bounds image.Rectangle) []models.Detection {
	out := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		conf := float64(r.Confidence)
		if math.IsNaN(conf) {
			continue
		}
		conf = math.Max(0, math.Min(1, conf))

		x1, x2 := ordered(r.X1, r.X2)
		y1, y2 := ordered(r.Y1, r.Y2)
		box := models.Box{
			X1: clamp(x1, bounds.Min.X, bounds.Max.X),
			Y1: clamp(y1, bounds.Min.Y, bounds.Max.Y),
			X2: clamp(x2, bounds.Min.X, bounds.Max.X),
			Y2: clamp(y2, bounds.Min.Y, bounds.Max.Y),
		}

		out = append(out, models.Detection{
			ClassName:  labels.Name(r.ClassID),
			Confidence: conf,
			Box:        box,
		})
	}
	return out
}

func ordered(a, b float32) (float32, float32) {
	if a > b {
		return b, a
	}
	return a, b
}

func clamp(v float32, lo, hi int) int {
	p := int(math.Round(float64(v)))
	if p < lo {
		return lo
	}
	if p > hi {
		return hi
	}
	return p
}
