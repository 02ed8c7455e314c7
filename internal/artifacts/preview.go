package artifacts

import (
	"sync"
	"time"
)

// PreviewBuffer holds the most recent frame from a camera in memory,
// bypassing the on-disk image pipeline while preview mode is active.
type PreviewBuffer struct {
	mu        sync.RWMutex
	active    bool
	data      []byte
	updatedAt time.Time
}

// NewPreviewBuffer builds an inactive, empty buffer.
func NewPreviewBuffer() *PreviewBuffer { return &PreviewBuffer{} }

// Enable turns preview mode on.
func (b *PreviewBuffer) Enable() {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
}

// Disable turns preview mode off. The last frame is retained.
func (b *PreviewBuffer) Disable() {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
}

// Active reports whether preview mode is on.
func (b *PreviewBuffer) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Update replaces the buffered frame.
func (b *PreviewBuffer) Update(frame []byte) {
	b.mu.Lock()
	b.data = frame
	b.updatedAt = time.Now()
	b.mu.Unlock()
}

// Get returns the buffered frame and when it arrived. The zero time
// means no frame has ever been buffered.
func (b *PreviewBuffer) Get() ([]byte, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data, b.updatedAt
}

// PreviewRegistry hands out one PreviewBuffer per device.
type PreviewRegistry struct {
	mu      sync.Mutex
	buffers map[int]*PreviewBuffer
}

// NewPreviewRegistry builds an empty registry.
func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{buffers: make(map[int]*PreviewBuffer)}
}

// For returns the buffer for deviceID, creating it on first use.
func (r *PreviewRegistry) For(deviceID int) *PreviewBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[deviceID]
	if !ok {
		b = NewPreviewBuffer()
		r.buffers[deviceID] = b
	}
	return b
}
