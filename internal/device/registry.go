package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/config"
)

// Registry maps a DeviceID to its live *Device, created when a device
// is added to configuration and torn down when it is removed. The
// registry's lifetime governs each device's owner goroutine, and it
// is the only place allowed to construct a Device.
type Registry struct {
	mu      sync.RWMutex
	devices map[int]*Device
	cancels map[int]context.CancelFunc

	notify Notifier
	log    *logrus.Logger
}

// NewRegistry builds an empty Registry. notify may be nil in tests.
func NewRegistry(notify Notifier, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		devices: make(map[int]*Device),
		cancels: make(map[int]context.CancelFunc),
		notify:  notify,
		log:     log,
	}
}

// Add creates a Device for conn, starts its owner goroutine, and
// registers it. Re-adding an already-registered DeviceID is a no-op
// returning the existing Device.
func (r *Registry) Add(conn config.DeviceConnection) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[conn.DeviceID]; ok {
		return existing
	}

	d := New(conn.DeviceID, conn.DeviceName, conn.DeviceType, r.notify, r.log)
	d.WebserverURL = conn.WebserverURL
	d.DirPath = conn.DeviceDirPath

	ctx, cancel := context.WithCancel(context.Background())
	r.devices[conn.DeviceID] = d
	r.cancels[conn.DeviceID] = cancel
	go d.Run(ctx)

	return d
}

// Get returns the Device for id, if registered.
func (r *Registry) Get(id int) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// MustGet is a convenience wrapper for call sites that have already
// validated id exists (e.g. within a request handler that looked it
// up once); it panics on an unknown id so bugs surface immediately
// instead of silently operating on a nil Device.
func (r *Registry) MustGet(id int) *Device {
	d, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("device %d not registered", id))
	}
	return d
}

// Remove stops the Device's owner goroutine and deregisters it.
func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.cancels[id]; ok {
		cancel()
	}
	delete(r.devices, id)
	delete(r.cancels, id)
}

// All returns a snapshot slice of every registered Device.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Len reports how many devices are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
