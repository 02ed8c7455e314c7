package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Persistence is the strategy Config delegates durability to.
type Persistence interface {
	Load() (GlobalConfiguration, error)
	Save(GlobalConfiguration) error
}

// OnDisk persists the configuration as a single JSON file, written
// atomically via a temp file + rename so a crash mid-write never
// leaves a truncated config behind.
type OnDisk struct {
	Path string
}

func (d OnDisk) Load() (GlobalConfiguration, error) {
	var cfg GlobalConfiguration
	b, err := os.ReadFile(d.Path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (d OnDisk) Save(cfg GlobalConfiguration) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(d.Path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, d.Path)
}

// InMemory is a Persistence double for tests: Save keeps the latest
// value in memory instead of touching disk.
type InMemory struct {
	Saved GlobalConfiguration
}

func (m *InMemory) Load() (GlobalConfiguration, error) {
	return m.Saved, nil
}

func (m *InMemory) Save(cfg GlobalConfiguration) error {
	m.Saved = cfg
	return nil
}
