package alert

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"servalliance/internal/logger"
	"servalliance/internal/metrics"
	"servalliance/internal/models"
)

const DefaultThreshold = 0.45

// ClipJob is the frozen input of one clip: the buffer contents at the
// moment a qualifying detection was seen.
type ClipJob struct {
	ID        string
	CameraID  string
	Detection models.Detection
	Frames    []models.Frame
	CreatedAt time.Time
}

// ClipWriter persists a clip and returns its path.
type ClipWriter interface {
	Write(cameraID string, frames []models.Frame, at time.Time) (string, error)
}

// Snapshotter is the read side of a rolling buffer.
type Snapshotter interface {
	Snapshot() []models.Frame
}

type Options struct {
	Threshold   float64       // 0 alerts on everything; negative or NaN selects DefaultThreshold
	Workers     int           // concurrent clip writers
	QueueSize   int           // pending clip jobs
	SinkTimeout time.Duration // per delivery
}

type sinkSlot struct{ sink Sink }

// Dispatcher turns qualifying detections into clip jobs and alert events.
// MaybeAlert never blocks: jobs go to a bounded queue served by a fixed
// number of workers. When that queue is full the clip is skipped and the
// alert is delivered without one through a second bounded queue.
type Dispatcher struct {
	threshold   float64
	sinkTimeout time.Duration
	writer      ClipWriter
	sink        atomic.Pointer[sinkSlot]

	jobs   chan ClipJob
	late   chan models.AlertEvent
	closed bool
	mu     sync.RWMutex
	wg     sync.WaitGroup

	now     func() time.Time
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewDispatcher(writer ClipWriter, sink Sink, opts Options, m *metrics.Metrics, logger *logger.Logger) *Dispatcher {
	if opts.Threshold < 0 || math.IsNaN(opts.Threshold) {
		opts.Threshold = DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		threshold:   opts.Threshold,
		sinkTimeout: opts.SinkTimeout,
		writer:      writer,
		jobs:        make(chan ClipJob, opts.QueueSize),
		late:        make(chan models.AlertEvent, opts.QueueSize),
		now:         time.Now,
		metrics:     m,
		logger:      logger,
	}
	d.SetSink(sink)

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.clipWorker(i)
	}
	d.wg.Add(1)
	go d.lateWorker()

	d.logger.Info("🎞️  Alert dispatcher started - threshold %.2f, %d clip worker(s), queue %d", opts.Threshold, opts.Workers, opts.QueueSize)
	return d
}

// SetSink registers the alert sink. A nil sink discards alerts.
func (d *Dispatcher) SetSink(sink Sink) {
	d.sink.Store(&sinkSlot{sink: sink})
}

// Threshold returns the minimum confidence that raises an alert.
func (d *Dispatcher) Threshold() float64 {
	return d.threshold
}

// MaybeAlert submits one clip job per detection at or above the threshold
// and returns how many qualified. Every qualifying detection gets its own
// snapshot and its own alert; nothing is deduplicated.
func (d *Dispatcher) MaybeAlert(cameraID string, detections []models.Detection, buffer Snapshotter) int {
	qualified := 0
	for _, det := range detections {
		if det.Confidence < d.threshold {
			continue
		}
		qualified++

		job := ClipJob{
			ID:        uuid.NewString(),
			CameraID:  cameraID,
			Detection: det,
			Frames:    buffer.Snapshot(),
			CreatedAt: d.now(),
		}
		d.submit(job)
	}
	return qualified
}

func (d *Dispatcher) submit(job ClipJob) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warning("Dispatcher closed - dropping %s alert for camera %s", job.Detection.ClassName, job.CameraID)
		d.metrics.AlertDropped(job.CameraID)
		return
	}

	select {
	case d.jobs <- job:
		d.logger.Debug("Clip job %s queued for camera %s", job.ID, job.CameraID)
		return
	default:
	}

	d.logger.Warning("⚠️  Clip queue full for camera %s - sending %s alert without clip", job.CameraID, job.Detection.ClassName)
	d.metrics.ClipJobDropped(job.CameraID)

	event := models.NewAlertEvent(job.ID, job.CameraID, job.Detection, "", job.CreatedAt)
	select {
	case d.late <- event:
	default:
		d.logger.Error("Alert queue full for camera %s - %s alert dropped", job.CameraID, job.Detection.ClassName)
		d.metrics.AlertDropped(job.CameraID)
	}
}

func (d *Dispatcher) clipWorker(workerID int) {
	defer d.wg.Done()
	d.logger.Debug("🔧 Clip worker %d started", workerID)

	for job := range d.jobs {
		path := d.writeClip(job)
		d.deliver(models.NewAlertEvent(job.ID, job.CameraID, job.Detection, path, job.CreatedAt))
	}

	d.logger.Debug("🔧 Clip worker %d stopped", workerID)
}

func (d *Dispatcher) lateWorker() {
	defer d.wg.Done()
	for event := range d.late {
		d.deliver(event)
	}
}

// writeClip returns the clip path, or "" when the clip could not be written.
func (d *Dispatcher) writeClip(job ClipJob) (path string) {
	if d.writer == nil {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Clip writer panicked for camera %s: %v", job.CameraID, r)
			d.metrics.ClipFailed()
			path = ""
		}
	}()

	start := time.Now()
	path, err := d.writer.Write(job.CameraID, job.Frames, job.CreatedAt)
	d.metrics.ObserveClip(time.Since(start))
	if err != nil {
		d.logger.Error("Failed to write clip for camera %s: %v", job.CameraID, err)
		d.metrics.ClipFailed()
		return ""
	}
	return path
}

func (d *Dispatcher) deliver(event models.AlertEvent) {
	d.metrics.AlertDelivered(event.Camera, event.ThreatType)

	slot := d.sink.Load()
	if slot == nil || slot.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
	defer cancel()

	if err := safeDeliver(ctx, slot.sink, event); err != nil {
		d.logger.Error("Alert sink failed for camera %s: %v", event.Camera, err)
		d.metrics.SinkFailed()
	}
}

func safeDeliver(ctx context.Context, sink Sink, event models.AlertEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Deliver(ctx, event)
}

// Close stops accepting jobs and waits until every queued job and alert has
// been handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	close(d.late)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("🛑 Alert dispatcher stopped")
}
