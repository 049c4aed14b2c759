package stream

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"servalliance/internal/logger"
	"servalliance/internal/metrics"
	"servalliance/internal/models"
	"servalliance/internal/services/alert"
	"servalliance/internal/services/capture"
)

// Outcome is the result of one loop stage.
type Outcome int

const (
	OutcomeOK       Outcome = iota
	OutcomeDegraded         // stage failed, loop continues with a fallback
	OutcomeSkipped          // frame dropped, loop continues with the next one
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "skipped"
	}
}

// State of a camera loop.
type State int32

const (
	StateInit State = iota
	StateOpen
	StateReadFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpen:
		return "OPEN"
	default:
		return "READ_FAILED"
	}
}

// ErrAlreadyStarted is logged when Frames is ranged over a second time.
var ErrAlreadyStarted = errors.New("stream already started")

type Registry interface {
	Acquire(cameraID string) *capture.Handle
}

type Detector interface {
	Detect(ctx context.Context, frame models.Frame) ([]models.Detection, error)
}

type Dispatcher interface {
	MaybeAlert(cameraID string, detections []models.Detection, buffer alert.Snapshotter) int
}

type Encoder interface {
	Encode(frame models.Frame) ([]byte, error)
}

// AnnotateFunc draws detections onto a copy of the frame.
type AnnotateFunc func(frame models.Frame, detections []models.Detection) (models.Frame, error)

// Deps are the collaborators a loop drives. Metrics may be nil.
type Deps struct {
	Registry   Registry
	Detector   Detector
	Annotate   AnnotateFunc
	Dispatcher Dispatcher
	Encoder    Encoder
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// Status is a point-in-time view of a loop.
type Status struct {
	CameraID      string    `json:"camera"`
	State         string    `json:"state"`
	FramesEmitted uint64    `json:"frames_emitted"`
	ReadFailures  uint64    `json:"read_failures"`
	LastFrameAt   time.Time `json:"last_frame_at,omitzero"`
}

// Loop is the per-camera pipeline: read, buffer, detect, annotate, alert,
// encode, yield.
type Loop struct {
	cameraID   string
	retryDelay time.Duration
	deps       Deps

	started      atomic.Bool
	state        atomic.Int32
	emitted      atomic.Uint64
	readFailures atomic.Uint64
	lastFrame    atomic.Int64 // unix nanos
	failStreak   int          // consecutive failed reads; loop goroutine only
}

func NewLoop(cameraID string, retryDelay time.Duration, deps Deps) *Loop {
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	l := &Loop{
		cameraID:   capture.Normalize(cameraID),
		retryDelay: retryDelay,
		deps:       deps,
	}
	deps.Metrics.SetCameraState(l.cameraID, metrics.StateInit)
	return l
}

func (l *Loop) CameraID() string { return l.cameraID }

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) Status() Status {
	s := Status{
		CameraID:      l.cameraID,
		State:         l.State().String(),
		FramesEmitted: l.emitted.Load(),
		ReadFailures:  l.readFailures.Load(),
	}
	if ns := l.lastFrame.Load(); ns != 0 {
		s.LastFrameAt = time.Unix(0, ns)
	}
	return s
}

// Frames returns the encoded frame sequence. It is lazy, unbounded and can
// be consumed once; it ends when ctx is done or the consumer stops pulling.
func (l *Loop) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if !l.started.CompareAndSwap(false, true) {
			l.deps.Logger.Error("Camera %s: %v", l.cameraID, ErrAlreadyStarted)
			return
		}

		handle := l.deps.Registry.Acquire(l.cameraID)
		l.setState(StateOpen)
		l.deps.Logger.Info("▶️  Camera %s: streaming loop started", l.cameraID)
		defer func() {
			l.deps.Logger.Info("⏹️  Camera %s: streaming loop stopped after %d frame(s)", l.cameraID, l.emitted.Load())
		}()

		for ctx.Err() == nil {
			frame, err := handle.Read()
			if err != nil {
				l.readFailed(err)
				if !sleep(ctx, l.retryDelay) {
					return
				}
				continue
			}
			l.readSucceeded()

			payload, outcome := l.process(ctx, handle, frame)
			if outcome == OutcomeSkipped {
				continue
			}
			l.emitted.Add(1)
			l.lastFrame.Store(time.Now().UnixNano())
			l.deps.Metrics.FrameEmitted(l.cameraID)
			if !yield(payload) {
				return
			}
		}
	}
}

// process runs the per-frame stages. Only an encode failure drops the frame.
func (l *Loop) process(ctx context.Context, handle *capture.Handle, frame models.Frame) ([]byte, Outcome) {
	handle.Buffer().Append(frame)

	detections, outcome := l.detect(ctx, frame)
	if outcome == OutcomeDegraded {
		detections = nil
	}

	shown, outcome := l.annotate(frame, detections)
	if outcome == OutcomeDegraded {
		shown = frame
	}

	l.dispatch(detections, handle.Buffer())

	return l.encode(shown)
}

func (l *Loop) detect(ctx context.Context, frame models.Frame) ([]models.Detection, Outcome) {
	detections, err := l.deps.Detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() == nil {
			l.deps.Logger.Warning("Camera %s: detection failed on frame %d: %v", l.cameraID, frame.Seq, err)
		}
		return nil, OutcomeDegraded
	}
	return detections, OutcomeOK
}

func (l *Loop) annotate(frame models.Frame, detections []models.Detection) (models.Frame, Outcome) {
	if len(detections) == 0 || l.deps.Annotate == nil {
		return frame, OutcomeOK
	}
	shown, err := l.deps.Annotate(frame, detections)
	if err != nil {
		l.deps.Logger.Warning("Camera %s: annotation failed on frame %d: %v", l.cameraID, frame.Seq, err)
		l.deps.Metrics.AnnotateFailed()
		return frame, OutcomeDegraded
	}
	return shown, OutcomeOK
}

func (l *Loop) dispatch(detections []models.Detection, buffer alert.Snapshotter) (outcome Outcome) {
	if len(detections) == 0 || l.deps.Dispatcher == nil {
		return OutcomeOK
	}
	defer func() {
		if r := recover(); r != nil {
			l.deps.Logger.Error("Camera %s: alert dispatch panicked: %v", l.cameraID, r)
			outcome = OutcomeDegraded
		}
	}()

	if n := l.deps.Dispatcher.MaybeAlert(l.cameraID, detections, buffer); n > 0 {
		l.deps.Logger.Info("📹 Camera %s: %d alert(s) raised", l.cameraID, n)
	}
	return OutcomeOK
}

func (l *Loop) encode(frame models.Frame) (payload []byte, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			l.deps.Logger.Warning("Camera %s: encoder panicked on frame %d: %v", l.cameraID, frame.Seq, r)
			l.deps.Metrics.EncodeFailed(l.cameraID)
			payload, outcome = nil, OutcomeSkipped
		}
	}()

	payload, err := l.deps.Encoder.Encode(frame)
	if err != nil {
		l.deps.Logger.Warning("Camera %s: skipping frame %d: %v", l.cameraID, frame.Seq, err)
		l.deps.Metrics.EncodeFailed(l.cameraID)
		return nil, OutcomeSkipped
	}
	return payload, OutcomeOK
}

func (l *Loop) readFailed(err error) {
	l.failStreak++
	l.readFailures.Add(1)
	l.deps.Metrics.ReadFailed(l.cameraID)

	if l.State() != StateReadFailed {
		l.setState(StateReadFailed)
		l.deps.Logger.Warning("⚠️  Camera %s: read failed, retrying every %v: %v", l.cameraID, l.retryDelay, err)
	}
}

func (l *Loop) readSucceeded() {
	l.deps.Metrics.FrameRead(l.cameraID)
	if l.State() == StateReadFailed {
		l.deps.Logger.Info("✅ Camera %s: recovered after %d failed read(s)", l.cameraID, l.failStreak)
	}
	l.failStreak = 0
	l.setState(StateOpen)
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.deps.Metrics.SetCameraState(l.cameraID, int(s))
}

// sleep waits for d or until ctx is done, reporting whether to continue.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

