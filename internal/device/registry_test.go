package device

import (
	"testing"

	"github.com/camerafleet/orchestrator/internal/config"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry(nil, nil)
	conn := config.DeviceConnection{DeviceID: 42, DeviceName: "cam-42", DeviceType: config.DeviceTypeV2}

	d := r.Add(conn)
	if d.ID != 42 || d.Name != "cam-42" {
		t.Fatalf("Add returned %+v, want DeviceID 42 cam-42", d)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	got, ok := r.Get(42)
	if !ok || got != d {
		t.Errorf("Get(42) = %v, %v, want original Device", got, ok)
	}

	r.Remove(42)
	if _, ok := r.Get(42); ok {
		t.Errorf("device still registered after Remove")
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Remove = %d, want 0", r.Len())
	}
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry(nil, nil)
	conn := config.DeviceConnection{DeviceID: 7, DeviceName: "cam-7"}

	first := r.Add(conn)
	second := r.Add(conn)
	if first != second {
		t.Error("Add on an already-registered id returned a different *Device")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_MustGetPanicsOnUnknownID(t *testing.T) {
	r := NewRegistry(nil, nil)
	defer func() {
		if recover() == nil {
			t.Error("expected MustGet to panic on unknown id")
		}
	}()
	r.MustGet(999)
}

func TestRegistry_All(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Add(config.DeviceConnection{DeviceID: 1})
	r.Add(config.DeviceConnection{DeviceID: 2})

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d devices, want 2", len(all))
	}
}
