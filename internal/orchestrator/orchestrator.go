// Package orchestrator assembles the control plane: it turns declared
// devices into live MQTT sessions, runs the deployment task executor,
// serves the artifact webserver, and fans state changes out over the
// notification bus. The REST/GUI layers drive everything through this
// package's methods.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/artifacts"
	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
	"github.com/camerafleet/orchestrator/internal/history"
	"github.com/camerafleet/orchestrator/internal/notify"
	"github.com/camerafleet/orchestrator/internal/session"
	"github.com/camerafleet/orchestrator/internal/tasks"
)

// Orchestrator owns every long-lived component of the control plane.
type Orchestrator struct {
	cfg      *config.Config
	log      *logrus.Logger
	bus      *notify.Bus
	registry *device.Registry
	executor *tasks.Executor
	history  *history.Store
	preview  *artifacts.PreviewRegistry
	server   *artifacts.Server

	mu        sync.Mutex
	sessions  map[int]*session.Session
	groupings map[int]*artifacts.Grouping
	watchers  map[int]*artifacts.StorageSizeWatcher
	cancels   map[int]context.CancelFunc

	root string
}

// New wires an Orchestrator from configuration. root is the base
// folder device artifact trees live under.
func New(cfg *config.Config, root string, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	bus := notify.NewBus(log)
	o := &Orchestrator{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		registry:  device.NewRegistry(bus, log),
		executor:  tasks.NewExecutor(bus, log),
		history:   history.NewStore(),
		preview:   artifacts.NewPreviewRegistry(),
		sessions:  make(map[int]*session.Session),
		groupings: make(map[int]*artifacts.Grouping),
		watchers:  make(map[int]*artifacts.StorageSizeWatcher),
		cancels:   make(map[int]context.CancelFunc),
		root:      root,
	}
	o.server = artifacts.NewServer(root, cfg, o.preview, o.onIncomingFile, log)
	return o
}

// Bus exposes the notification bus for WebSocket attachment.
func (o *Orchestrator) Bus() *notify.Bus { return o.bus }

// Registry exposes the live device set.
func (o *Orchestrator) Registry() *device.Registry { return o.registry }

// History exposes the deploy history store.
func (o *Orchestrator) History() *history.Store { return o.history }

// Preview exposes the per-device preview buffers.
func (o *Orchestrator) Preview() *artifacts.PreviewRegistry { return o.preview }

// Start brings up every declared device, the executor loop, and the
// webserver listener, then returns. Components run until ctx is
// cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	snapshot := o.cfg.Snapshot()

	for _, conn := range snapshot.Devices {
		if err := o.startDevice(ctx, conn); err != nil {
			o.log.WithError(err).WithField("device_id", conn.DeviceID).Warn("device session not started, will retry via driver backoff")
		}
	}

	go o.executor.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", notify.NewWebSocketManager(o.bus, o.log))
	mux.Handle("/", o.server)

	addr := net.JoinHostPort(snapshot.Webserver.Host, strconv.Itoa(snapshot.Webserver.Port))
	httpServer := &http.Server{Addr: addr, Handler: mux}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.InternalUnexpected, err, "bind artifact webserver on %s", addr)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			o.log.WithError(err).Error("artifact webserver stopped")
		}
	}()

	o.log.WithField("addr", addr).Info("control plane started")
	return nil
}

// Stop cancels all running deployment tasks and tears down devices.
func (o *Orchestrator) Stop() {
	o.executor.Stop()
	o.mu.Lock()
	cancels := o.cancels
	o.cancels = make(map[int]context.CancelFunc)
	o.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// AddDevice declares a new device, persists it, and brings it up.
func (o *Orchestrator) AddDevice(ctx context.Context, conn config.DeviceConnection) error {
	if err := o.cfg.AddDevice(conn); err != nil {
		return err
	}
	return o.startDevice(ctx, conn)
}

// RemoveDevice tears a device down and removes its declaration.
func (o *Orchestrator) RemoveDevice(deviceID int) error {
	o.mu.Lock()
	if cancel, ok := o.cancels[deviceID]; ok {
		cancel()
	}
	delete(o.cancels, deviceID)
	delete(o.sessions, deviceID)
	delete(o.groupings, deviceID)
	delete(o.watchers, deviceID)
	o.mu.Unlock()

	o.registry.Remove(deviceID)
	return o.cfg.RemoveDevice(deviceID)
}

func (o *Orchestrator) startDevice(ctx context.Context, conn config.DeviceConnection) error {
	dev := o.registry.Add(conn)

	deviceCtx, cancel := context.WithCancel(ctx)

	grouping := artifacts.NewGrouping(
		[]string{artifacts.ImagesSubdir, artifacts.MetadataSubdir},
		[]string{"jpg", "txt"},
		0,
		func(grp artifacts.Group) { o.onArtifactGroup(dev, grp) },
		o.log,
	)

	dirRoot := conn.DeviceDirPath
	if dirRoot == "" {
		dirRoot = filepath.Join(o.root, strconv.Itoa(conn.DeviceID))
	}
	watcher := artifacts.NewStorageSizeWatcher(
		[]string{
			filepath.Join(dirRoot, artifacts.ImagesSubdir),
			filepath.Join(dirRoot, artifacts.MetadataSubdir),
		},
		conn.StorageQuotaBytes,
		conn.AutoDeletion,
		artifacts.WatcherCallbacks{
			OnDelete: func(path string) {
				dev.SubmitNonBlocking(func() {
					o.bus.Publish("file_deleted", map[string]any{"device_id": dev.ID, "path": path})
				})
			},
			OnQuotaExceeded: func(err error) {
				o.log.WithError(err).WithField("device_id", dev.ID).Warn("storage quota exceeded, halting streaming")
				o.bus.Publish("storage_limit_hit", map[string]any{"device_id": dev.ID, "error": err.Error()})
				if dev.Kind() == device.KindStreaming {
					go func() {
						stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						if stopErr := o.StopStreaming(stopCtx, dev.ID); stopErr != nil {
							o.log.WithError(stopErr).WithField("device_id", dev.ID).Error("streaming not halted after quota breach")
						}
					}()
				}
			},
		},
		o.log,
	)

	sess := session.New(dev, o.log)

	o.mu.Lock()
	o.sessions[conn.DeviceID] = sess
	o.groupings[conn.DeviceID] = grouping
	o.watchers[conn.DeviceID] = watcher
	o.cancels[conn.DeviceID] = cancel
	o.mu.Unlock()

	go watcher.Run(deviceCtx)
	go o.sweepLoop(deviceCtx, grouping)

	return sess.Start(deviceCtx)
}

func (o *Orchestrator) sweepLoop(ctx context.Context, grouping *artifacts.Grouping) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			grouping.Sweep()
		}
	}
}

// onIncomingFile routes a freshly uploaded artifact to its device's
// grouping and storage accounting. The first path segment under the
// webserver root is the device id.
func (o *Orchestrator) onIncomingFile(path string) {
	rel, err := filepath.Rel(o.root, path)
	if err != nil {
		return
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) < 3 {
		return
	}
	deviceID, err := strconv.Atoi(segments[0])
	if err != nil {
		return
	}

	o.mu.Lock()
	grouping := o.groupings[deviceID]
	watcher := o.watchers[deviceID]
	o.mu.Unlock()

	if watcher != nil {
		watcher.Incoming(path)
	}
	if grouping != nil {
		if err := grouping.Register(path); err != nil {
			o.log.WithError(err).WithField("path", path).Warn("artifact not grouped")
		}
	}
}

// onArtifactGroup publishes a completed (or evicted) capture pair.
func (o *Orchestrator) onArtifactGroup(dev *device.Device, grp artifacts.Group) {
	o.bus.Publish("artifact", map[string]any{
		"device_id": dev.ID,
		"stem":      grp.Stem,
		"image":     grp.Path("jpg"),
		"inference": grp.Path("txt"),
		"evicted":   grp.Evicted,
	})
}

// mqttFor returns the MQTT session for a declared device.
func (o *Orchestrator) mqttFor(deviceID int) (tasks.MQTTSession, *device.Device, error) {
	dev, ok := o.registry.Get(deviceID)
	if !ok {
		return nil, nil, errs.External(errs.ExternalDeviceNotFound, "device %d not declared", deviceID)
	}
	o.mu.Lock()
	sess := o.sessions[deviceID]
	o.mu.Unlock()
	if sess == nil {
		return nil, nil, errs.External(errs.ExternalDeviceNotFound, "device %d has no active session", deviceID)
	}
	return sess.Driver(), dev, nil
}

// DeploySpec names what a deployment should install. FirmwareVersion
// may be empty for a config with no firmware component.
type DeploySpec struct {
	ConfigID string

	FirmwareModule  tasks.UpdateModule
	FirmwareVersion string
	FirmwareURI     string
	FirmwareHash    string

	ModelPackage []byte
	ModelIsRPK   bool
	ModelURI     string
	ModelHash    string

	AppModule   []byte
	AppFileName string
}

// DeployConfig submits the composite firmware/model/app deployment
// for one device and records it in the deploy history.
func (o *Orchestrator) DeployConfig(deviceID int, spec DeploySpec) (*tasks.TaskEntity, string, error) {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return nil, "", err
	}

	timeouts := o.cfg.Snapshot().Deployment
	artifactBase := o.artifactBaseURL()

	var firmware *tasks.FirmwareTask
	if spec.FirmwareVersion != "" {
		firmware = tasks.NewFirmwareTask(dev, mqtt, spec.FirmwareModule, spec.FirmwareVersion, spec.FirmwareURI, spec.FirmwareHash, timeouts.OTATimeout)
	}
	model := tasks.NewModelTask(dev, mqtt, spec.ModelPackage, spec.ModelIsRPK, spec.ModelURI, spec.ModelHash, timeouts.UndeployTimeout, timeouts.DeployTimeout)
	app := tasks.NewAppTask(dev, mqtt, spec.AppModule, artifactBase, spec.AppFileName, timeouts.AppDeployTimeout)

	task := tasks.NewConfigTask(dev, firmware, model, app)
	return o.submitRecorded(dev, task, spec.ConfigID)
}

// DeployFirmware submits a standalone firmware update.
func (o *Orchestrator) DeployFirmware(deviceID int, module tasks.UpdateModule, version, uri, hash string) (*tasks.TaskEntity, string, error) {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return nil, "", err
	}
	timeouts := o.cfg.Snapshot().Deployment
	task := tasks.NewFirmwareTask(dev, mqtt, module, version, uri, hash, timeouts.OTATimeout)
	return o.submitRecorded(dev, task, "")
}

// DeployModel submits a standalone model swap.
func (o *Orchestrator) DeployModel(deviceID int, pkg []byte, isRPK bool, uri, hash string) (*tasks.TaskEntity, string, error) {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return nil, "", err
	}
	timeouts := o.cfg.Snapshot().Deployment
	task := tasks.NewModelTask(dev, mqtt, pkg, isRPK, uri, hash, timeouts.UndeployTimeout, timeouts.DeployTimeout)
	return o.submitRecorded(dev, task, "")
}

// DeployApp submits a standalone edge-app deployment.
func (o *Orchestrator) DeployApp(deviceID int, module []byte, fileName string) (*tasks.TaskEntity, string, error) {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return nil, "", err
	}
	timeouts := o.cfg.Snapshot().Deployment
	task := tasks.NewAppTask(dev, mqtt, module, o.artifactBaseURL(), fileName, timeouts.AppDeployTimeout)
	return o.submitRecorded(dev, task, "")
}

// StartStreaming and StopStreaming drive the device's inference
// upload pipeline.
func (o *Orchestrator) StartStreaming(ctx context.Context, deviceID int) error {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return err
	}
	timeouts := o.cfg.Snapshot().Deployment
	return tasks.StartStreaming(ctx, dev, mqtt, o.artifactBaseURL(), timeouts.RequestTimeout)
}

func (o *Orchestrator) StopStreaming(ctx context.Context, deviceID int) error {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return err
	}
	timeouts := o.cfg.Snapshot().Deployment
	return tasks.StopStreaming(ctx, dev, mqtt, timeouts.RequestTimeout)
}

// GetImage grabs one frame inline and refreshes the preview buffer.
func (o *Orchestrator) GetImage(ctx context.Context, deviceID int) ([]byte, error) {
	mqtt, dev, err := o.mqttFor(deviceID)
	if err != nil {
		return nil, err
	}
	timeouts := o.cfg.Snapshot().Deployment
	frame, err := tasks.DirectGetImage(ctx, mqtt, dev.Type, "backdoor-EA_Main", timeouts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	o.preview.For(deviceID).Update(frame)
	return frame, nil
}

func (o *Orchestrator) submitRecorded(dev *device.Device, task tasks.Task, configID string) (*tasks.TaskEntity, string, error) {
	info := task.HistoryInfo()
	deployID := o.history.Begin(configID, info.Kind)
	o.history.AddDevice(deployID, history.DeviceStatus{
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		Status:     string(tasks.Initializing),
	})

	entity := o.executor.Submit(task)
	go func() {
		<-entity.Done()
		state := entity.State()
		errMsg := ""
		if state.Err != nil {
			errMsg = state.Err.Error()
		}
		o.history.SetDeviceStatus(deployID, dev.ID, string(state.Status), errMsg)
	}()
	return entity, deployID, nil
}

func (o *Orchestrator) artifactBaseURL() string {
	ws := o.cfg.Snapshot().Webserver
	host := ws.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, ws.Port)
}
