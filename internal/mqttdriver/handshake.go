package mqttdriver

import (
	"context"
	"time"
)

const (
	handshakeInterval       = 60 * time.Second
	handshakeTimeout        = 2 * time.Second
	handshakeFailureLimit   = 3
	handshakePayloadLiteral = "{}"
)

// HandshakeObserver is told about the liveness signal the handshake
// loop derives: a success resets the device's last_seen, and three
// consecutive failures demote its ConnectionState to Disconnected.
type HandshakeObserver interface {
	OnHandshakeSuccess()
	OnHandshakeFailureLimitReached()
}

// RunHandshakeLoop pings the device every 60s on the attributes
// request topic and awaits the echo within 2s, until ctx is
// cancelled. It is meant to run in its own goroutine, one per Driver.
func (d *Driver) RunHandshakeLoop(ctx context.Context, obs HandshakeObserver) {
	ticker := time.NewTicker(handshakeInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := d.Request(ctx, AttrRequestPrefix, AttrResponsePrefix, []byte(handshakePayloadLiteral), handshakeTimeout)
			if err != nil {
				consecutiveFailures++
				d.log.WithError(err).WithField("consecutive_failures", consecutiveFailures).Warn("handshake ping failed")
				if consecutiveFailures >= handshakeFailureLimit {
					consecutiveFailures = 0
					if obs != nil {
						obs.OnHandshakeFailureLimitReached()
					}
				}
				continue
			}
			consecutiveFailures = 0
			if obs != nil {
				obs.OnHandshakeSuccess()
			}
		}
	}
}
