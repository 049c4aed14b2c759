package storage

import (
	"sync"

	"servalliance/internal/models"
)

// RollingBuffer keeps the most recent frames of one camera. Once the buffer
// is full every Append silently evicts the oldest frame.
type RollingBuffer struct {
	frames   []models.Frame
	start    int // index of the oldest frame
	count    int
	capacity int
	mu       sync.Mutex
}

func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RollingBuffer{
		frames:   make([]models.Frame, capacity),
		capacity: capacity,
	}
}

// Append stores an independent copy of frame. The copy is never modified
// afterwards, so snapshots may share it safely.
func (b *RollingBuffer) Append(frame models.Frame) {
	stored := frame.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < b.capacity {
		b.frames[(b.start+b.count)%b.capacity] = stored
		b.count++
		return
	}

	b.frames[b.start] = stored
	b.start = (b.start + 1) % b.capacity
}

// Snapshot returns the buffered frames, oldest first, as a new slice.
// Later appends do not affect the returned slice.
func (b *RollingBuffer) Snapshot() []models.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Frame, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.frames[(b.start+i)%b.capacity]
	}
	return out
}

// Len returns the number of buffered frames.
func (b *RollingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the fixed buffer size.
func (b *RollingBuffer) Capacity() int {
	return b.capacity
}
