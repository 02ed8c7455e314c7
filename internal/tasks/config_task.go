package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
)

// childTask is the subset of Task a ConfigTask needs from each of its
// children: Run/Stop/Timeout. DeviceID/ID/HistoryInfo are inherited
// from the parent's own implementation of the Task interface.
type childTask interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	Timeout() time.Duration
}

// ConfigTask is the composite deployment: zero-or-one FirmwareTask,
// exactly one ModelTask, exactly one AppTask, executed serially in
// that order. Any child error aborts the remainder and fails the
// parent with the first failure.
type ConfigTask struct {
	dev      *device.Device
	Firmware *FirmwareTask // nil if this config has no firmware component
	Model    *ModelTask
	App      *AppTask

	started childTask // the child currently running, for Stop to target
}

// NewConfigTask builds a ConfigTask. firmware may be nil.
func NewConfigTask(dev *device.Device, firmware *FirmwareTask, model *ModelTask, app *AppTask) *ConfigTask {
	return &ConfigTask{dev: dev, Firmware: firmware, Model: model, App: app}
}

func (t *ConfigTask) ID() string { return fmt.Sprintf("config_task_for_device_%d", t.dev.ID) }
func (t *ConfigTask) DeviceID() int { return t.dev.ID }

func (t *ConfigTask) Timeout() time.Duration {
	total := t.Model.Timeout() + t.App.Timeout()
	if t.Firmware != nil {
		total += t.Firmware.Timeout()
	}
	return total
}

func (t *ConfigTask) HistoryInfo() HistoryInfo {
	return HistoryInfo{Kind: "config", DeviceID: t.dev.ID}
}

// Run executes FW -> Model -> App in order; any child error aborts
// the remainder.
func (t *ConfigTask) Run(ctx context.Context) error {
	children := []childTask{}
	if t.Firmware != nil {
		children = append(children, t.Firmware)
	}
	children = append(children, t.Model, t.App)

	for _, child := range children {
		t.started = child
		if err := child.Run(ctx); err != nil {
			return errs.Wrap(errs.ExternalDeploymentFailed, err, "config deploy on device %d aborted", t.dev.ID)
		}
	}
	return nil
}

// Stop forwards to whichever child is currently running.
func (t *ConfigTask) Stop(ctx context.Context) error {
	if t.started != nil {
		return t.started.Stop(ctx)
	}
	return t.dev.Transition(device.ReadyState{})
}
