package session

import (
	"context"
	"testing"
	"time"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
)

func newRunningDevice(t *testing.T) *device.Device {
	t.Helper()
	d := device.New(1883, "cam", config.DeviceTypeV1, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)
	return d
}

func TestSession_ConnectionObserverMirrorsState(t *testing.T) {
	dev := newRunningDevice(t)
	s := New(dev, nil)

	s.OnConnecting()
	if got := dev.ConnectionState(); got != device.ConnConnecting {
		t.Fatalf("ConnectionState = %s, want Connecting", got)
	}
	s.OnConnected()
	if got := dev.ConnectionState(); got != device.ConnConnected {
		t.Fatalf("ConnectionState = %s, want Connected", got)
	}
}

func TestSession_FirstTelemetryPromotesToReady(t *testing.T) {
	dev := newRunningDevice(t)
	s := New(dev, nil)
	if err := dev.Transition(device.DisconnectedState{}); err != nil {
		t.Fatal(err)
	}

	s.onAttributes("v1/devices/me/attributes", []byte(`{"Version": {"SensorFwVersion": "020000"}}`))

	if got := dev.Kind(); got != device.KindReady {
		t.Fatalf("Kind = %s, want Ready", got)
	}
	waitFor(t, func() bool { return dev.Properties().SensorFwVersion == "020000" })
}

func TestSession_DesiredStateEchoDoesNotPromote(t *testing.T) {
	dev := newRunningDevice(t)
	s := New(dev, nil)
	if err := dev.Transition(device.DisconnectedState{}); err != nil {
		t.Fatal(err)
	}

	s.onAttributes("v1/devices/me/attributes", []byte(`{"configuration/backdoor-EA_Main/placeholder": "e30="}`))

	if got := dev.Kind(); got != device.KindDisconnected {
		t.Fatalf("Kind = %s, want still Disconnected", got)
	}
}

func TestSession_DisconnectDemotesDevice(t *testing.T) {
	dev := newRunningDevice(t)
	s := New(dev, nil)
	if err := dev.Transition(device.DisconnectedState{}); err != nil {
		t.Fatal(err)
	}
	s.onAttributes("v1/devices/me/attributes", []byte(`{"Version": {"SensorFwVersion": "020000"}}`))

	s.OnDisconnected(nil)

	if got := dev.Kind(); got != device.KindDisconnected {
		t.Fatalf("Kind = %s, want Disconnected", got)
	}
	if got := dev.ConnectionState(); got != device.ConnDisconnected {
		t.Fatalf("ConnectionState = %s, want Disconnected", got)
	}
}

func TestSession_HandshakeSuccessTouchesLastSeen(t *testing.T) {
	dev := newRunningDevice(t)
	s := New(dev, nil)

	if !dev.LastSeen().IsZero() {
		t.Fatal("LastSeen should start zero")
	}
	s.OnHandshakeSuccess()
	if dev.LastSeen().IsZero() {
		t.Fatal("LastSeen not updated by handshake success")
	}

	dev.SetConnectionState(device.ConnConnected)
	s.OnHandshakeFailureLimitReached()
	if got := dev.ConnectionState(); got != device.ConnDisconnected {
		t.Fatalf("ConnectionState = %s, want Disconnected after failure limit", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
