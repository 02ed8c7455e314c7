// Package device implements the per-device state machine: a
// looplab/fsm instance validates which Kind-to-Kind transitions are
// legal and fires logging callbacks, while the richer per-state data
// lives in our own State interface rather than the FSM's plain
// string states.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/config"
)

// ConnectionState tracks the device's MQTT session liveness.
type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
)

func (c ConnectionState) String() string {
	switch c {
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Notifier is the narrow interface Device needs from the notification
// bus (internal/notify), kept here to avoid an import cycle between
// device and notify.
type Notifier interface {
	Publish(kind string, data any)
}

// External callers never mutate a Device directly; they submit
// commands serviced by the Device's owner goroutine.
type command struct {
	run  func()
	done chan struct{}
}

// Device is the orchestrator's view of one edge camera. It is owned
// by exactly one goroutine (its "owner loop", started by Run); all
// other goroutines must go through Submit.
type Device struct {
	ID           int
	Name         string
	Type         config.DeviceType
	WebserverURL string
	DirPath      string

	notify Notifier
	log    *logrus.Entry

	mu         sync.RWMutex // guards state/connState/properties for concurrent reads
	state      State
	connState  ConnectionState
	properties PropertiesReport
	lastSeen   int64 // unix nanos; 0 if never seen

	fsm *fsm.FSM

	inbox chan command
}

// New constructs a Device in the Uninitialized state. Call Run in its
// own goroutine to start servicing the inbox.
func New(id int, name string, typ config.DeviceType, notify Notifier, log *logrus.Logger) *Device {
	if log == nil {
		log = logrus.New()
	}
	d := &Device{
		ID:     id,
		Name:   name,
		Type:   typ,
		notify: notify,
		log:    log.WithFields(logrus.Fields{"component": "device", "device_id": id}),
		state:  UninitializedState{},
		inbox:  make(chan command, 32),
	}
	d.fsm = newDeviceFSM(d)
	return d
}

// Run services the inbox until ctx is cancelled. It must run in
// exactly one goroutine for the lifetime of the Device.
func (d *Device) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.inbox:
			cmd.run()
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

// Submit enqueues fn to run on the Device's owner goroutine and waits
// for it to complete. Use this from any goroutine that is not the
// owner loop itself.
func (d *Device) Submit(fn func()) {
	done := make(chan struct{})
	d.inbox <- command{run: fn, done: done}
	<-done
}

// SubmitNonBlocking enqueues fn without waiting, dropping the command
// if the inbox is full. The artifact webserver uses this so a burst
// of uploads can never block an HTTP handler on a busy device.
func (d *Device) SubmitNonBlocking(fn func()) (accepted bool) {
	select {
	case d.inbox <- command{run: fn}:
		return true
	default:
		d.log.Warn("device inbox full, dropping command")
		return false
	}
}

// State returns a thread-safe snapshot of the current state.
func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Kind is a convenience accessor over State().Kind().
func (d *Device) Kind() Kind { return d.State().Kind() }

// ConnectionState returns the current MQTT connection state.
func (d *Device) ConnectionState() ConnectionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connState
}

func (d *Device) setConnectionState(c ConnectionState) {
	d.mu.Lock()
	d.connState = c
	d.mu.Unlock()
}

// SetConnectionState records the MQTT session's liveness as observed
// by the driver or the handshake loop.
func (d *Device) SetConnectionState(c ConnectionState) { d.setConnectionState(c) }

// Touch resets the device's last-seen clock.
func (d *Device) Touch() {
	d.mu.Lock()
	d.lastSeen = time.Now().UnixNano()
	d.mu.Unlock()
}

// LastSeen reports when the device last answered a handshake, or the
// zero time if it never has.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastSeen == 0 {
		return time.Time{}
	}
	return time.Unix(0, d.lastSeen)
}

// Properties returns a copy of the last-known PropertiesReport.
func (d *Device) Properties() PropertiesReport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.properties
}

// MergeProperties folds a partial report into the device's known
// properties. Must be called from the owner goroutine (or via
// Submit).
func (d *Device) MergeProperties(partial PropertiesReport) {
	d.mu.Lock()
	d.properties = Merge(d.properties, partial)
	d.mu.Unlock()
}

// transition is the single gatekeeper for state changes: it runs
// OnExit on the outgoing state, installs the new state, runs OnEnter,
// then publishes a state_changed notification. Must only be called
// from the owner goroutine.
func (d *Device) transition(next State) error {
	current := d.State()

	if err := d.fsm.Event(context.Background(), string(next.Kind())); err != nil {
		return err
	}

	current.OnExit(d)

	d.mu.Lock()
	d.state = next
	d.mu.Unlock()

	next.OnEnter(d)

	if d.notify != nil {
		d.notify.Publish("state_changed", map[string]any{
			"device_id": d.ID,
			"state":     string(next.Kind()),
		})
	}
	return nil
}

// Transition is the external, thread-safe entry point: it marshals
// onto the owner goroutine via Submit and reports whether the FSM
// rejected the move.
func (d *Device) Transition(next State) error {
	var err error
	d.Submit(func() { err = d.transition(next) })
	return err
}
