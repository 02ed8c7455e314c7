package tasks

import (
	"context"
	"testing"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
)

// newReadyDevice builds a running *device.Device already transitioned
// to Ready, the precondition every deployment task's entry guard
// requires.
func newReadyDevice(t *testing.T, id int, typ config.DeviceType) *device.Device {
	t.Helper()
	d := device.New(id, "cam", typ, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)

	if err := d.Transition(device.DisconnectedState{}); err != nil {
		t.Fatalf("Uninitialized->Disconnected: %v", err)
	}
	if err := d.Transition(device.ReadyState{}); err != nil {
		t.Fatalf("Disconnected->Ready: %v", err)
	}
	return d
}
