// Package config holds the process-wide configuration for the device
// orchestrator: declared devices, the artifact webserver's bind
// address, and deployment timeouts. There is no package-level
// singleton: an explicit *Config handle is constructed once in cmd/
// and threaded through every component that needs it.
package config

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DeviceType names the wire dialect a device speaks.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeV1
	DeviceTypeV2
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeV1:
		return "V1"
	case DeviceTypeV2:
		return "V2"
	default:
		return "Unknown"
	}
}

// DeviceConnection is a declared device entry. Devices are declared
// in configuration, never discovered.
type DeviceConnection struct {
	DeviceID     int
	DeviceName   string
	DeviceType   DeviceType
	MQTTPort     int
	WebserverURL string

	DeviceDirPath string // root of this device's Images/Metadata tree

	StorageQuotaBytes int64
	AutoDeletion      bool
}

// DeploymentTimeouts collects the per-task and per-request deadlines
// the deployment engine applies.
type DeploymentTimeouts struct {
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
	UndeployTimeout  time.Duration
	DeployTimeout    time.Duration
	OTATimeout       time.Duration
	AppDeployTimeout time.Duration
}

func DefaultDeploymentTimeouts() DeploymentTimeouts {
	return DeploymentTimeouts{
		RequestTimeout:   30 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		UndeployTimeout:  60 * time.Second,
		DeployTimeout:    120 * time.Second,
		OTATimeout:       180 * time.Second,
		AppDeployTimeout: 120 * time.Second,
	}
}

// WebserverConfig is the artifact webserver's bind configuration.
type WebserverConfig struct {
	Host string
	Port int
}

// GlobalConfiguration is the full in-memory configuration document,
// serialized verbatim to the persisted JSON file.
type GlobalConfiguration struct {
	Devices    []DeviceConnection `json:"devices"`
	Webserver  WebserverConfig    `json:"webserver"`
	Deployment DeploymentTimeouts `json:"deployment"`
}

// Snapshot is an immutable copy of GlobalConfiguration handed to
// readers; mutating it has no effect on the live configuration.
type Snapshot = GlobalConfiguration

// Config is the thread-safe configuration handle. Readers call
// Snapshot() for a non-blocking copy; writers go through
// UpdatePersistentAttr so every mutation is persisted consistently.
type Config struct {
	mu      sync.RWMutex
	current GlobalConfiguration
	persist Persistence
	log     *logrus.Entry
}

// New constructs a Config backed by the given Persistence strategy,
// loading its initial state from it.
func New(persist Persistence, log *logrus.Logger) (*Config, error) {
	if log == nil {
		log = logrus.New()
	}
	initial, err := persist.Load()
	if err != nil {
		return nil, err
	}
	if initial.Deployment == (DeploymentTimeouts{}) {
		initial.Deployment = DefaultDeploymentTimeouts()
	}
	return &Config{
		current: initial,
		persist: persist,
		log:     log.WithField("component", "config"),
	}, nil
}

// Snapshot returns an immutable copy of the current configuration.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := c.current
	cp.Devices = append([]DeviceConnection(nil), c.current.Devices...)
	return cp
}

// Device returns the declared connection for a device id, if present.
func (c *Config) Device(deviceID int) (DeviceConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.current.Devices {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return DeviceConnection{}, false
}

// UpdatePersistentAttr applies fn to the in-memory configuration under
// the write lock, then asks the Persistence strategy to save the
// result. Every configuration mutation goes through here.
func (c *Config) UpdatePersistentAttr(fn func(*GlobalConfiguration)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.current)
	if err := c.persist.Save(c.current); err != nil {
		c.log.WithError(err).Error("failed to persist configuration update")
		return err
	}
	return nil
}

// AddDevice declares a new device and persists the change.
func (c *Config) AddDevice(d DeviceConnection) error {
	return c.UpdatePersistentAttr(func(g *GlobalConfiguration) {
		for i, existing := range g.Devices {
			if existing.DeviceID == d.DeviceID {
				g.Devices[i] = d
				return
			}
		}
		g.Devices = append(g.Devices, d)
	})
}

// RemoveDevice un-declares a device; its Device object is torn down
// by the registry when the declaration disappears.
func (c *Config) RemoveDevice(deviceID int) error {
	return c.UpdatePersistentAttr(func(g *GlobalConfiguration) {
		out := g.Devices[:0]
		for _, d := range g.Devices {
			if d.DeviceID != deviceID {
				out = append(out, d)
			}
		}
		g.Devices = out
	})
}
