// Package session glues one Device to its MQTT driver: connection
// lifecycle events become ConnectionState changes and state
// transitions, inbound attribute reports are merged into the device's
// properties, and the periodic handshake keeps liveness honest.
package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/mqttdriver"
)

// Session owns the pairing of one Device and one Driver.
type Session struct {
	dev    *device.Device
	driver *mqttdriver.Driver
	log    *logrus.Entry
}

// New builds a Session for dev, dialing an MQTT broker on localhost
// at the device's own port.
func New(dev *device.Device, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	s := &Session{
		dev: dev,
		log: log.WithFields(logrus.Fields{"component": "session", "device_id": dev.ID}),
	}
	brokerURL := fmt.Sprintf("tcp://localhost:%d", dev.ID)
	s.driver = mqttdriver.New(dev.ID, brokerURL, s, log)
	return s
}

// Driver exposes the underlying MQTT session for deployment tasks.
func (s *Session) Driver() *mqttdriver.Driver { return s.driver }

// Start connects and begins servicing telemetry and handshakes for
// the lifetime of ctx.
func (s *Session) Start(ctx context.Context) error {
	if s.dev.Kind() == device.KindUninitialized {
		if err := s.dev.Transition(device.DisconnectedState{}); err != nil {
			return err
		}
	}

	s.driver.Subscribe(mqttdriver.TopicAttributes, s.onAttributes)
	s.driver.Subscribe(mqttdriver.TopicTelemetry, s.onAttributes)

	err := s.driver.Start(ctx)
	go s.driver.RunHandshakeLoop(ctx, s)
	go func() {
		<-ctx.Done()
		s.driver.Disconnect()
	}()
	return err
}

// onAttributes merges any device report in the payload and promotes a
// Disconnected device to Ready on its first telemetry.
func (s *Session) onAttributes(_ string, payload []byte) {
	report, ok := device.ParseReport(payload)
	if !ok {
		return
	}

	accepted := s.dev.SubmitNonBlocking(func() {
		s.dev.MergeProperties(report)
	})
	if !accepted {
		s.log.Warn("device inbox full, telemetry report dropped")
		return
	}

	if s.dev.Kind() == device.KindDisconnected {
		if err := s.dev.Transition(device.ReadyState{}); err != nil {
			s.log.WithError(err).Debug("device not promoted to Ready")
		}
	}
}

// OnConnecting, OnConnected, OnDisconnected implement
// mqttdriver.ConnectionObserver.
func (s *Session) OnConnecting() {
	s.dev.SetConnectionState(device.ConnConnecting)
}

func (s *Session) OnConnected() {
	s.dev.SetConnectionState(device.ConnConnected)
}

func (s *Session) OnDisconnected(err error) {
	s.dev.SetConnectionState(device.ConnDisconnected)
	if s.dev.Kind() != device.KindDisconnected {
		if terr := s.dev.Transition(device.DisconnectedState{}); terr != nil {
			s.log.WithError(terr).Warn("device not transitioned to Disconnected")
		}
	}
}

// OnHandshakeSuccess and OnHandshakeFailureLimitReached implement
// mqttdriver.HandshakeObserver.
func (s *Session) OnHandshakeSuccess() {
	s.dev.Touch()
}

func (s *Session) OnHandshakeFailureLimitReached() {
	s.log.Warn("handshake failure limit reached, demoting connection state")
	s.dev.SetConnectionState(device.ConnDisconnected)
}
