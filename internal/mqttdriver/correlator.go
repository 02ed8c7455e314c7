package mqttdriver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerafleet/orchestrator/internal/errs"
)

// pendingRequest is the correlator's bookkeeping for one in-flight
// Request: an id, the channels the waiter blocks on, and a timer
// that fires failure if no reply arrives in time.
type pendingRequest struct {
	id      string
	replyCh chan []byte
	errCh   chan error
	timer   *time.Timer
}

// correlator tracks Requests awaiting a reply, keyed by message id.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingRequest)}
}

// newID mints a fresh message id.
func newID() string { return uuid.NewString() }

// register records a new pending request and arms its timeout timer.
// onTimeout is invoked from the timer's own goroutine if the request
// is still pending when it fires.
func (c *correlator) register(id string, timeout time.Duration, onTimeout func()) *pendingRequest {
	p := &pendingRequest{
		id:      id,
		replyCh: make(chan []byte, 1),
		errCh:   make(chan error, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		if c.remove(id) {
			onTimeout()
		}
	})

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	return p
}

// resolve delivers payload to the pending request matching id, if
// any. Returns false if no request is pending under that id; a reply
// arriving after its timeout is simply dropped.
func (c *correlator) resolve(id string, payload []byte) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.timer.Stop()
	p.replyCh <- payload
	return true
}

// remove deregisters id without delivering a reply, used by the
// timeout path and by disconnect handling. Returns true if it was
// still pending.
func (c *correlator) remove(id string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		p.timer.Stop()
	}
	return ok
}

// failAll aborts every pending request with the given error, used
// when the session drops.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, p := range all {
		p.timer.Stop()
		p.errCh <- err
	}
}

func errTimeout(topic string) error {
	return errs.External(errs.ExternalTimeout, "request on %s timed out waiting for reply", topic)
}
