// Package history keeps the append-only in-memory deploy history:
// one record per deployment, tracking which devices it touched and
// how each of their tasks ended. Records never outlive the process.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerafleet/orchestrator/internal/pagination"
)

// DeviceStatus is one device's row within a deployment record.
type DeviceStatus struct {
	DeviceID   int    `json:"device_id"`
	DeviceName string `json:"device_name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// ArtifactSummary counts the artifacts a deployment produced.
type ArtifactSummary struct {
	Images     int `json:"images"`
	Inferences int `json:"inferences"`
}

// Record is one deployment's history entry.
type Record struct {
	DeployID  string          `json:"deploy_id"`
	ConfigID  string          `json:"config_id,omitempty"`
	TaskKind  string          `json:"task_kind"`
	StartedAt time.Time       `json:"started_at"`
	Devices   []DeviceStatus  `json:"devices"`
	Artifacts ArtifactSummary `json:"artifacts"`
}

// Store is the thread-safe deploy history. Records are appended in
// deployment-start order and listed in that same order.
type Store struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*Record
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// NewDeployID mints a fresh deployment id.
func NewDeployID() string { return uuid.NewString() }

// Begin appends a new record and returns its deploy id.
func (s *Store) Begin(configID, taskKind string) string {
	id := NewDeployID()
	s.mu.Lock()
	s.order = append(s.order, id)
	s.records[id] = &Record{
		DeployID:  id,
		ConfigID:  configID,
		TaskKind:  taskKind,
		StartedAt: time.Now(),
	}
	s.mu.Unlock()
	return id
}

// AddDevice attaches a device row to a deployment, replacing any
// existing row for the same device id.
func (s *Store) AddDevice(deployID string, status DeviceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[deployID]
	if !ok {
		return
	}
	for i, existing := range rec.Devices {
		if existing.DeviceID == status.DeviceID {
			rec.Devices[i] = status
			return
		}
	}
	rec.Devices = append(rec.Devices, status)
}

// SetDeviceStatus updates the status/error of one device's row.
func (s *Store) SetDeviceStatus(deployID string, deviceID int, status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[deployID]
	if !ok {
		return
	}
	for i := range rec.Devices {
		if rec.Devices[i].DeviceID == deviceID {
			rec.Devices[i].Status = status
			rec.Devices[i].Error = errMsg
			return
		}
	}
	rec.Devices = append(rec.Devices, DeviceStatus{DeviceID: deviceID, Status: status, Error: errMsg})
}

// CountArtifact bumps a deployment's artifact summary.
func (s *Store) CountArtifact(deployID string, images, inferences int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[deployID]; ok {
		rec.Artifacts.Images += images
		rec.Artifacts.Inferences += inferences
	}
}

// Get returns a copy of one record.
func (s *Store) Get(deployID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[deployID]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

// DevicesFor lists the device ids a deployment targeted.
func (s *Store) DevicesFor(deployID string) []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[deployID]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(rec.Devices))
	for _, d := range rec.Devices {
		out = append(out, d.DeviceID)
	}
	return out
}

// List returns one page of records in append order plus the
// continuation token for the next page.
func (s *Store) List(limit int, continuationToken string) ([]Record, string) {
	s.mu.RLock()
	all := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, copyRecord(s.records[id]))
	}
	s.mu.RUnlock()

	return pagination.Paginate(all, limit, continuationToken, func(r Record) string {
		return r.DeployID
	})
}

func copyRecord(rec *Record) Record {
	cp := *rec
	cp.Devices = append([]DeviceStatus(nil), rec.Devices...)
	return cp
}
