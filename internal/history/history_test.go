package history

import "testing"

func TestStore_BeginAndStatus(t *testing.T) {
	s := NewStore()
	id := s.Begin("cfg-1", "config")

	s.AddDevice(id, DeviceStatus{DeviceID: 1883, DeviceName: "cam-a", Status: "Running"})
	s.SetDeviceStatus(id, 1883, "Success", "")

	rec, ok := s.Get(id)
	if !ok {
		t.Fatal("record not found")
	}
	if rec.ConfigID != "cfg-1" || rec.TaskKind != "config" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Devices) != 1 || rec.Devices[0].Status != "Success" {
		t.Fatalf("unexpected devices %+v", rec.Devices)
	}
}

func TestStore_SetStatusOnUnknownDeviceAppends(t *testing.T) {
	s := NewStore()
	id := s.Begin("", "model")
	s.SetDeviceStatus(id, 1884, "Error", "disconnected")

	rec, _ := s.Get(id)
	if len(rec.Devices) != 1 || rec.Devices[0].Error != "disconnected" {
		t.Fatalf("unexpected devices %+v", rec.Devices)
	}
}

func TestStore_ListPaginates(t *testing.T) {
	s := NewStore()
	var ids []string
	for i := 0; i < 7; i++ {
		ids = append(ids, s.Begin("", "app"))
	}

	page1, tok := s.List(5, "")
	if len(page1) != 5 || tok == "" {
		t.Fatalf("page1: %d records, token %q", len(page1), tok)
	}
	page2, tok2 := s.List(5, tok)
	if len(page2) != 2 || tok2 != "" {
		t.Fatalf("page2: %d records, token %q", len(page2), tok2)
	}

	for i, rec := range append(page1, page2...) {
		if rec.DeployID != ids[i] {
			t.Fatalf("record %d out of order: got %s want %s", i, rec.DeployID, ids[i])
		}
	}
}

func TestStore_CountArtifact(t *testing.T) {
	s := NewStore()
	id := s.Begin("", "app")
	s.CountArtifact(id, 2, 1)
	s.CountArtifact(id, 1, 1)

	rec, _ := s.Get(id)
	if rec.Artifacts.Images != 3 || rec.Artifacts.Inferences != 2 {
		t.Fatalf("unexpected summary %+v", rec.Artifacts)
	}
}
