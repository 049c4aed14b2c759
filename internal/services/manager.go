package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"servalliance/internal/config"
	"servalliance/internal/logger"
	"servalliance/internal/services/capture"
	"servalliance/internal/services/stream"
)

// ErrStopped is returned by Subscribe after Stop.
var ErrStopped = errors.New("manager stopped")

// Registry is the capture registry as seen by the manager.
type Registry interface {
	stream.Registry
	Release(cameraID string) error
}

// Manager runs exactly one streaming loop per camera and fans its frames
// out to any number of viewers. A loop starts with its first viewer and is
// torn down, releasing the camera, when the last viewer leaves.
type Manager struct {
	registry         Registry
	deps             stream.Deps
	retryDelay       time.Duration
	subscriberBuffer int
	logger           *logger.Logger

	cameras map[string]*cameraStream
	closing map[string]chan struct{} // camera -> closed when teardown is complete
	stopped bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

type cameraStream struct {
	id          string
	loop        *stream.Loop
	cancel      context.CancelFunc
	done        chan struct{}
	subscribers map[int]chan []byte
	nextID      int
	mu          sync.Mutex // guards subscribers
}

// Subscription delivers encoded frames of one camera. Frames is closed when
// the subscription ends.
type Subscription struct {
	CameraID string
	Frames   <-chan []byte
	once     sync.Once
	cancel   func()
}

// Close detaches the viewer. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// CameraStatus describes a running camera.
type CameraStatus struct {
	stream.Status
	Subscribers int `json:"subscribers"`
}

func NewManager(registry Registry, deps stream.Deps, config *config.Config, logger *logger.Logger) *Manager {
	deps.Registry = registry
	if deps.Logger == nil {
		deps.Logger = logger
	}

	buffer := config.SubscriberBuffer
	if buffer <= 0 {
		buffer = 1
	}

	manager := &Manager{
		registry:         registry,
		deps:             deps,
		retryDelay:       config.ReadRetryDelay,
		subscriberBuffer: buffer,
		logger:           logger,
		cameras:          make(map[string]*cameraStream),
		closing:          make(map[string]chan struct{}),
	}

	manager.logger.Info("🎬 Manager started - retry delay %v, viewer buffer %d", manager.retryDelay, buffer)
	return manager
}

// Subscribe attaches a viewer to cameraID, starting its loop if needed.
func (m *Manager) Subscribe(cameraID string) (*Subscription, error) {
	id := capture.Normalize(cameraID)
	if id == "" {
		return nil, fmt.Errorf("empty camera id")
	}

	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return nil, ErrStopped
		}
		// A previous loop for this camera is still shutting down.
		if wait, ok := m.closing[id]; ok {
			m.mu.Unlock()
			<-wait
			continue
		}

		cs, ok := m.cameras[id]
		if !ok {
			cs = m.startLocked(id)
		}

		ch := make(chan []byte, m.subscriberBuffer)
		cs.mu.Lock()
		subID := cs.nextID
		cs.nextID++
		cs.subscribers[subID] = ch
		count := len(cs.subscribers)
		cs.mu.Unlock()
		m.mu.Unlock()

		m.deps.Metrics.SetSubscribers(id, count)
		m.logger.Info("👀 Camera %s: viewer %d attached (%d total)", id, subID, count)

		return &Subscription{
			CameraID: id,
			Frames:   ch,
			cancel:   func() { m.unsubscribe(cs, subID) },
		}, nil
	}
}

func (m *Manager) startLocked(id string) *cameraStream {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &cameraStream{
		id:          id,
		loop:        stream.NewLoop(id, m.retryDelay, m.deps),
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[int]chan []byte),
	}
	m.cameras[id] = cs

	m.wg.Add(1)
	go m.run(ctx, cs)
	return cs
}

func (m *Manager) run(ctx context.Context, cs *cameraStream) {
	defer m.wg.Done()

	for payload := range cs.loop.Frames(ctx) {
		m.fanOut(cs, payload)
	}

	m.mu.Lock()
	if m.cameras[cs.id] == cs {
		delete(m.cameras, cs.id)
		m.closing[cs.id] = cs.done
	}
	m.mu.Unlock()

	cs.mu.Lock()
	for subID, ch := range cs.subscribers {
		close(ch)
		delete(cs.subscribers, subID)
	}
	cs.mu.Unlock()

	if err := m.registry.Release(cs.id); err != nil {
		m.logger.Error("Camera %s: %v", cs.id, err)
	}
	m.deps.Metrics.ForgetCamera(cs.id)

	m.mu.Lock()
	if m.closing[cs.id] == cs.done {
		delete(m.closing, cs.id)
	}
	m.mu.Unlock()
	close(cs.done)
}

// fanOut hands payload to every viewer without waiting. A viewer whose
// buffer is full misses this frame.
func (m *Manager) fanOut(cs *cameraStream, payload []byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, ch := range cs.subscribers {
		select {
		case ch <- payload:
		default:
			m.deps.Metrics.SubscriberDropped(cs.id)
		}
	}
}

func (m *Manager) unsubscribe(cs *cameraStream, subID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs.mu.Lock()
	ch, ok := cs.subscribers[subID]
	if ok {
		delete(cs.subscribers, subID)
		close(ch)
	}
	remaining := len(cs.subscribers)
	cs.mu.Unlock()

	if !ok {
		return
	}
	m.deps.Metrics.SetSubscribers(cs.id, remaining)
	m.logger.Info("👋 Camera %s: viewer %d detached (%d left)", cs.id, subID, remaining)

	if remaining == 0 && m.cameras[cs.id] == cs {
		delete(m.cameras, cs.id)
		m.closing[cs.id] = cs.done
		cs.cancel()
	}
}

// Status reports every running camera, ordered by camera id.
func (m *Manager) Status() []CameraStatus {
	m.mu.Lock()
	streams := make([]*cameraStream, 0, len(m.cameras))
	for _, cs := range m.cameras {
		streams = append(streams, cs)
	}
	m.mu.Unlock()

	out := make([]CameraStatus, 0, len(streams))
	for _, cs := range streams {
		cs.mu.Lock()
		n := len(cs.subscribers)
		cs.mu.Unlock()
		out = append(out, CameraStatus{Status: cs.loop.Status(), Subscribers: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Stop ends every loop and waits until all cameras are released.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, cs := range m.cameras {
		cs.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("🛑 All camera loops stopped")
}
