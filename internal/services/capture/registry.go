package capture

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"servalliance/internal/logger"
	"servalliance/internal/models"
	"servalliance/internal/services/storage"
)

var (
	// ErrUnavailable is reported by every read of a handle whose open failed.
	ErrUnavailable = errors.New("capture source unavailable")
	// ErrReadFailed is a transient read failure of an open source.
	ErrReadFailed = errors.New("capture read failed")
)

// Kind tells how a camera id is opened.
type Kind int

const (
	KindDevice Kind = iota // local capture device index
	KindStream             // network stream address
)

func (k Kind) String() string {
	if k == KindDevice {
		return "device"
	}
	return "stream"
}

// Source is an open video source. Read blocks until a frame is available.
type Source interface {
	Read() (*image.RGBA, error)
	Close() error
}

// Opener opens video sources. For KindDevice, target is the decimal device
// index; for KindStream, the address exactly as given.
type Opener interface {
	Open(target string, kind Kind) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(target string, kind Kind) (Source, error)

func (f OpenerFunc) Open(target string, kind Kind) (Source, error) {
	return f(target, kind)
}

// Normalize returns the canonical form of a camera id: surrounding
// whitespace removed and device indexes written without leading zeros.
func Normalize(cameraID string) string {
	id := strings.TrimSpace(cameraID)
	if !isDigits(id) {
		return id
	}
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// Classify reports whether a canonical camera id names a device or a stream.
func Classify(cameraID string) Kind {
	if isDigits(cameraID) {
		return KindDevice
	}
	return KindStream
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Handle is the capture side of one camera: its source and its rolling
// buffer. A handle whose open failed stays in the registry and reports
// ErrUnavailable on every read.
type Handle struct {
	cameraID string
	kind     Kind
	source   Source
	openErr  error
	buffer   *storage.RollingBuffer
	seq      atomic.Uint64
	readMu   sync.Mutex // one read at a time
	mu       sync.Mutex // guards closed and reading
	closed   bool
	reading  bool
}

// CameraID returns the canonical camera id.
func (h *Handle) CameraID() string { return h.cameraID }

// Kind returns how the camera was opened.
func (h *Handle) Kind() Kind { return h.kind }

// Buffer returns the camera's rolling buffer.
func (h *Handle) Buffer() *storage.RollingBuffer { return h.buffer }

// Available reports whether the source was opened successfully.
func (h *Handle) Available() bool { return h.openErr == nil }

// OpenError returns the error the open failed with, if any.
func (h *Handle) OpenError() error { return h.openErr }

// Read returns the next frame. Failures are soft: callers pause and retry.
// A read still blocked when the handle is closed finishes on its own and
// then closes the source.
func (h *Handle) Read() (models.Frame, error) {
	if h.openErr != nil {
		return models.Frame{}, fmt.Errorf("%w: %v", ErrUnavailable, h.openErr)
	}

	h.readMu.Lock()
	defer h.readMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return models.Frame{}, fmt.Errorf("%w: handle closed", ErrUnavailable)
	}
	h.reading = true
	h.mu.Unlock()

	img, err := h.source.Read()

	h.mu.Lock()
	h.reading = false
	closedMeanwhile := h.closed
	h.mu.Unlock()
	if closedMeanwhile {
		h.source.Close()
		return models.Frame{}, fmt.Errorf("%w: handle closed", ErrUnavailable)
	}

	if err != nil {
		return models.Frame{}, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if img == nil || img.Bounds().Empty() {
		return models.Frame{}, fmt.Errorf("%w: empty frame", ErrReadFailed)
	}

	return models.Frame{
		CameraID:   h.cameraID,
		Seq:        h.seq.Add(1),
		CapturedAt: time.Now(),
		Image:      img,
	}, nil
}

// close marks the handle closed without waiting for a read in progress.
// The source is closed here when idle, otherwise by that read on return.
func (h *Handle) close() error {
	h.mu.Lock()
	if h.closed || h.source == nil {
		h.closed = true
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	busy := h.reading
	h.mu.Unlock()

	if busy {
		return nil
	}
	return h.source.Close()
}

type entry struct {
	once   sync.Once
	handle *Handle
}

// Registry owns one handle per camera id. Lookups after the first
// acquisition are lock-free; the first acquisition opens the source exactly
// once even when several callers race on it.
type Registry struct {
	opener         Opener
	bufferCapacity int
	entries        sync.Map // canonical id -> *entry
	opens          atomic.Int64
	logger         *logger.Logger
}

func NewRegistry(opener Opener, bufferCapacity int, logger *logger.Logger) *Registry {
	return &Registry{
		opener:         opener,
		bufferCapacity: bufferCapacity,
		logger:         logger,
	}
}

// Acquire returns the handle for cameraID, opening the source on first use.
// It never fails; an unavailable source yields a handle whose reads fail.
func (r *Registry) Acquire(cameraID string) *Handle {
	id := Normalize(cameraID)

	v, _ := r.entries.LoadOrStore(id, &entry{})
	e := v.(*entry)
	e.once.Do(func() {
		e.handle = r.open(id)
	})
	return e.handle
}

func (r *Registry) open(id string) *Handle {
	kind := Classify(id)
	h := &Handle{
		cameraID: id,
		kind:     kind,
		buffer:   storage.NewRollingBuffer(r.bufferCapacity),
	}

	r.opens.Add(1)
	src, err := r.opener.Open(id, kind)
	switch {
	case err != nil:
		h.openErr = err
	case src == nil:
		h.openErr = errors.New("opener returned no source")
	default:
		h.source = src
	}

	if h.openErr != nil {
		r.logger.Warning("📷 Camera %s (%s) unavailable: %v", id, kind, h.openErr)
	} else {
		r.logger.Info("📷 Camera %s (%s) opened", id, kind)
	}
	return h
}

// Lookup returns the handle for cameraID if it has been acquired.
func (r *Registry) Lookup(cameraID string) (*Handle, bool) {
	v, ok := r.entries.Load(Normalize(cameraID))
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	e.once.Do(func() {}) // wait for a concurrent open
	return e.handle, e.handle != nil
}

// Release closes and forgets the handle for cameraID. The next Acquire
// opens the source again.
func (r *Registry) Release(cameraID string) error {
	id := Normalize(cameraID)
	v, ok := r.entries.Load(id)
	if !ok {
		return nil
	}
	if !r.entries.CompareAndDelete(id, v) {
		return nil
	}

	e := v.(*entry)
	e.once.Do(func() {})
	if e.handle == nil {
		return nil
	}
	if err := e.handle.close(); err != nil {
		return fmt.Errorf("failed to close camera %s: %w", id, err)
	}
	r.logger.Info("📷 Camera %s released", id)
	return nil
}

// Opens returns how many times a source has been opened.
func (r *Registry) Opens() int64 {
	return r.opens.Load()
}

// Close releases every handle.
func (r *Registry) Close() error {
	var errs []error
	r.entries.Range(func(key, _ any) bool {
		if err := r.Release(key.(string)); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
