package capture

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"servalliance/internal/logger"
)

// ====================
// Fakes
// ====================

type fakeSource struct {
	failures atomic.Int32
	closed   atomic.Bool
}

func (s *fakeSource) Read() (*image.RGBA, error) {
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return nil, errors.New("device hiccup")
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 3)), nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

// stalledSource blocks in Read until unblock is closed.
type stalledSource struct {
	entered chan struct{}
	unblock chan struct{}
	closed  atomic.Bool
}

func (s *stalledSource) Read() (*image.RGBA, error) {
	close(s.entered)
	<-s.unblock
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (s *stalledSource) Close() error {
	s.closed.Store(true)
	return nil
}

type countingOpener struct {
	opens   atomic.Int32
	targets sync.Map
	fail    bool
	source  *fakeSource
}

func (o *countingOpener) Open(target string, kind Kind) (Source, error) {
	o.opens.Add(1)
	o.targets.Store(target, kind)
	if o.fail {
		return nil, errors.New("no such device")
	}
	if o.source != nil {
		return o.source, nil
	}
	return &fakeSource{}, nil
}

// ====================
// Normalize / Classify
// ====================

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"0", "0"},
		{" 1 ", "1"},
		{"007", "7"},
		{"000", "0"},
		{"rtsp://host:554/live", "rtsp://host:554/live"},
		{"  http://cam/mjpg ", "http://cam/mjpg"},
		{"-1", "-1"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.out {
			t.Errorf("Normalize(%q) = %q, expected %q", tt.in, got, tt.out)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		id   string
		kind Kind
	}{
		{"0", KindDevice},
		{"12", KindDevice},
		{"-1", KindStream},
		{"1.5", KindStream},
		{"rtsp://host/x", KindStream},
		{"", KindStream},
	}
	for _, tt := range tests {
		if got := Classify(tt.id); got != tt.kind {
			t.Errorf("Classify(%q) = %v, expected %v", tt.id, got, tt.kind)
		}
	}
}

// ====================
// Registry
// ====================

func TestRegistry_ConcurrentAcquireOpensOnce(t *testing.T) {
	opener := &countingOpener{}
	r := NewRegistry(opener, 10, logger.Discard())

	const callers = 32
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i] = r.Acquire("0")
		}(i)
	}
	close(start)
	wg.Wait()

	if n := opener.opens.Load(); n != 1 {
		t.Fatalf("Source opened %d times, expected 1", n)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("Caller %d got a different handle", i)
		}
		if handles[i].Buffer() != handles[0].Buffer() {
			t.Fatalf("Caller %d got a different buffer", i)
		}
	}
}

func TestRegistry_NormalizedKeysShareHandle(t *testing.T) {
	opener := &countingOpener{}
	r := NewRegistry(opener, 10, logger.Discard())

	a := r.Acquire("01")
	b := r.Acquire(" 1")
	if a != b {
		t.Error("Equivalent camera ids produced different handles")
	}
	if kind, _ := opener.targets.Load("1"); kind != KindDevice {
		t.Errorf("Expected device open for \"1\", got %v", kind)
	}
}

func TestRegistry_StreamTargetPassedThrough(t *testing.T) {
	opener := &countingOpener{}
	r := NewRegistry(opener, 10, logger.Discard())

	r.Acquire("rtsp://user:pw@host:554/Stream1")
	kind, ok := opener.targets.Load("rtsp://user:pw@host:554/Stream1")
	if !ok || kind != KindStream {
		t.Errorf("Stream address not passed unmodified: ok=%v kind=%v", ok, kind)
	}
}

func TestRegistry_UnavailableIsSoft(t *testing.T) {
	opener := &countingOpener{fail: true}
	r := NewRegistry(opener, 10, logger.Discard())

	h := r.Acquire("3")
	if h.Available() {
		t.Fatal("Expected unavailable handle")
	}
	for i := 0; i < 3; i++ {
		if _, err := h.Read(); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Read %d: expected ErrUnavailable, got %v", i, err)
		}
	}
	r.Acquire("3")
	if n := opener.opens.Load(); n != 1 {
		t.Errorf("Registry retried the open: %d opens", n)
	}
}

func TestHandle_ReadAssignsSequence(t *testing.T) {
	src := &fakeSource{}
	src.failures.Store(1)
	r := NewRegistry(&countingOpener{source: src}, 10, logger.Discard())
	h := r.Acquire("0")

	if _, err := h.Read(); !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Expected ErrReadFailed, got %v", err)
	}
	f1, err := h.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	f2, _ := h.Read()
	if f1.Seq != 1 || f2.Seq != 2 || f1.CameraID != "0" {
		t.Errorf("Unexpected frames: %d %d %q", f1.Seq, f2.Seq, f1.CameraID)
	}
}

func TestRegistry_ReleaseClosesAndReopens(t *testing.T) {
	src := &fakeSource{}
	opener := &countingOpener{source: src}
	r := NewRegistry(opener, 10, logger.Discard())

	h := r.Acquire("0")
	if err := r.Release("0"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !src.closed.Load() {
		t.Error("Release did not close the source")
	}
	if _, err := h.Read(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Read after release: expected ErrUnavailable, got %v", err)
	}
	if _, ok := r.Lookup("0"); ok {
		t.Error("Released handle still registered")
	}

	if r.Acquire("0") == h {
		t.Error("Acquire after release returned the old handle")
	}
	if n := opener.opens.Load(); n != 2 {
		t.Errorf("Expected 2 opens, got %d", n)
	}
	if err := r.Release("unknown"); err != nil {
		t.Errorf("Release of unknown camera: %v", err)
	}
}

func TestRegistry_ReleaseDoesNotWaitForStalledRead(t *testing.T) {
	src := &stalledSource{entered: make(chan struct{}), unblock: make(chan struct{})}
	opener := OpenerFunc(func(string, Kind) (Source, error) { return src, nil })
	r := NewRegistry(opener, 10, logger.Discard())
	h := r.Acquire("rtsp://cam/live")

	readErr := make(chan error, 1)
	go func() {
		_, err := h.Read()
		readErr <- err
	}()
	<-src.entered

	released := make(chan error, 1)
	go func() { released <- r.Release("rtsp://cam/live") }()
	select {
	case err := <-released:
		if err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Release blocked on a stalled read")
	}
	if src.closed.Load() {
		t.Error("Source closed while a read was still using it")
	}

	close(src.unblock)
	select {
	case err := <-readErr:
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable from the interrupted read, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not return")
	}
	if !src.closed.Load() {
		t.Error("Source not closed after the stalled read returned")
	}
}
