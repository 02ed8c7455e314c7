package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
)

// sensorModelInstance is the device-side module instance name model
// undeploy/deploy RPCs target.
const sensorModelInstance = "$system"

// ModelTask drives a device through the two-phase DNN-model deploy
// sub-protocol: undeploy whatever model is currently installed, await
// its removal, then deploy the new one.
type ModelTask struct {
	dev  *device.Device
	mqtt MQTTSession

	packageBytes []byte
	isRPK        bool
	packageURI   string
	hashValue    string

	undeployTimeout time.Duration
	deployTimeout   time.Duration
}

// NewModelTask builds a ModelTask. packageBytes is the full sensor
// model package (.pkg or .rpk) so NetworkID can be extracted from
// its header.
func NewModelTask(dev *device.Device, mqtt MQTTSession, packageBytes []byte, isRPK bool, packageURI, hashValue string, undeployTimeout, deployTimeout time.Duration) *ModelTask {
	return &ModelTask{
		dev:             dev,
		mqtt:            mqtt,
		packageBytes:    packageBytes,
		isRPK:           isRPK,
		packageURI:      packageURI,
		hashValue:       hashValue,
		undeployTimeout: undeployTimeout,
		deployTimeout:   deployTimeout,
	}
}

func (t *ModelTask) ID() string { return fmt.Sprintf("model_task_for_device_%d", t.dev.ID) }
func (t *ModelTask) DeviceID() int { return t.dev.ID }

func (t *ModelTask) Timeout() time.Duration {
	return t.undeployTimeout + t.deployTimeout
}

func (t *ModelTask) HistoryInfo() HistoryInfo {
	return HistoryInfo{Kind: "model", DeviceID: t.dev.ID}
}

func (t *ModelTask) Run(ctx context.Context) error {
	networkID, err := NetworkID(t.packageBytes, t.isRPK)
	if err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "read network id from model package for device %d", t.dev.ID)
	}

	if err := t.dev.Transition(device.ModelDeployingState{
		Manifest: device.DeploymentManifest{TaskID: t.ID(), Started: time.Now()},
		Done:     make(chan struct{}),
	}); err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "cannot enter ModelDeploying on device %d", t.dev.ID)
	}

	if existing := t.dev.Properties().DnnModels; len(existing) > 0 {
		if err := t.undeploy(ctx, existing[0]); err != nil {
			_ = t.dev.Transition(device.ErrorState{Err: err})
			return err
		}
	}

	if err := t.deploy(ctx, networkID); err != nil {
		_ = t.dev.Transition(device.ErrorState{Err: err})
		return err
	}

	t.dev.Submit(func() { t.dev.MergeProperties(device.PropertiesReport{DnnModels: []string{networkID}}) })
	if err := t.dev.Transition(device.ReadyState{}); err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "return device %d to Ready", t.dev.ID)
	}
	return nil
}

func (t *ModelTask) undeploy(ctx context.Context, networkID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.undeployTimeout)
	defer cancel()

	_, err := issueRPC(ctx, t.mqtt, t.dev.Type, "UndeployModel", sensorModelInstance, map[string]any{
		"network_id": networkID,
	}, t.undeployTimeout)
	if err != nil {
		// A tagged failure (e.g. Disconnected) keeps its own code so
		// callers see why the deploy died, not just that it did.
		if _, tagged := errs.CodeOf(err); tagged {
			return err
		}
		return errs.Wrap(errs.ExternalDeploymentTimeout, err, "undeploy model %s on device %d", networkID, t.dev.ID)
	}

	return t.awaitModelAbsent(ctx, networkID)
}

func (t *ModelTask) deploy(ctx context.Context, networkID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.deployTimeout)
	defer cancel()

	_, err := issueRPC(ctx, t.mqtt, t.dev.Type, "DeployModel", sensorModelInstance, map[string]any{
		"network_id":  networkID,
		"package_uri": t.packageURI,
		"hash":        t.hashValue,
	}, t.deployTimeout)
	if err != nil {
		if _, tagged := errs.CodeOf(err); tagged {
			return err
		}
		return errs.Wrap(errs.ExternalDeploymentTimeout, err, "deploy model %s on device %d", networkID, t.dev.ID)
	}

	return t.awaitModelPresent(ctx, networkID)
}

// awaitModelAbsent and awaitModelPresent poll the device's latest
// merged PropertiesReport.DnnModels (kept current by the owner
// goroutine's telemetry handler) at 100ms until the RPC's effect is
// reflected or ctx expires.
func (t *ModelTask) awaitModelAbsent(ctx context.Context, networkID string) error {
	return t.awaitModels(ctx, func(models []string) bool { return !contains(models, networkID) })
}

func (t *ModelTask) awaitModelPresent(ctx context.Context, networkID string) error {
	return t.awaitModels(ctx, func(models []string) bool { return contains(models, networkID) })
}

func (t *ModelTask) awaitModels(ctx context.Context, satisfied func([]string) bool) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	if satisfied(t.dev.Properties().DnnModels) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return errs.External(errs.ExternalDeploymentTimeout, "timed out waiting for device %d model state", t.dev.ID)
		case <-ticker.C:
			if satisfied(t.dev.Properties().DnnModels) {
				return nil
			}
		}
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// Stop aborts an in-flight model deploy and returns the device to
// Ready.
func (t *ModelTask) Stop(context.Context) error {
	return t.dev.Transition(device.ReadyState{})
}
