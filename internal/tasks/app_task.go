package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
	"github.com/camerafleet/orchestrator/internal/mqttdriver"
)

// v2EdgeAppKey is the V2 dialect's keyed-configuration slot for edge
// app deploys.
const v2EdgeAppKey = "configuration/node/edge_app"

// edgeAppModuleName is the single module name the deployment
// manifest carries.
const edgeAppModuleName = "edge_app"

// AppTask drives a device through the edge-app deploy sub-protocol:
// validate the module header, publish a deployment manifest pointing
// at the artifact server, then await the device's reconcile report.
type AppTask struct {
	dev    *device.Device
	mqtt   MQTTSession
	module []byte // in-memory module bytes, validated then hashed

	artifactBaseURL string // control-plane artifact server base, e.g. http://host:port
	fileName        string // served file name under artifactBaseURL
	timeout         time.Duration
}

// NewAppTask builds an AppTask. module is validated against the
// AoT-Xtensa/00-aot header before any MQTT traffic is issued.
func NewAppTask(dev *device.Device, mqtt MQTTSession, module []byte, artifactBaseURL, fileName string, timeout time.Duration) *AppTask {
	return &AppTask{dev: dev, mqtt: mqtt, module: module, artifactBaseURL: artifactBaseURL, fileName: fileName, timeout: timeout}
}

func (t *AppTask) ID() string { return fmt.Sprintf("app_task_for_device_%d", t.dev.ID) }
func (t *AppTask) DeviceID() int { return t.dev.ID }
func (t *AppTask) Timeout() time.Duration { return t.timeout }

func (t *AppTask) HistoryInfo() HistoryInfo {
	return HistoryInfo{Kind: "app", DeviceID: t.dev.ID}
}

func (t *AppTask) Run(ctx context.Context) error {
	if err := ValidateAppModule(t.module); err != nil {
		return errs.Wrap(errs.ExternalDeploymentInvalidAppFile, err, "edge app module for device %d", t.dev.ID)
	}

	if err := t.dev.Transition(device.AppDeployingState{
		Manifest: device.DeploymentManifest{TaskID: t.ID(), Started: time.Now()},
		Done:     make(chan struct{}),
	}); err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "cannot enter AppDeploying on device %d", t.dev.ID)
	}

	statusCh := make(chan string, 16)
	unsubscribe := t.mqtt.Subscribe(mqttdriver.TopicAttributes, func(_ string, payload []byte) {
		if status, ok := parseDeploymentStatus(payload); ok {
			select {
			case statusCh <- status:
			default:
			}
		}
	})
	defer unsubscribe()

	payload, err := t.buildManifest(t.dev.Type)
	if err != nil {
		_ = t.dev.Transition(device.ReadyState{})
		return errs.Internal("encode deployment manifest for device %d: %v", t.dev.ID, err)
	}
	if err := t.mqtt.Publish(mqttdriver.TopicAttributes, payload); err != nil {
		_ = t.dev.Transition(device.ReadyState{})
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "publish deployment manifest to device %d", t.dev.ID)
	}

	for {
		select {
		case <-ctx.Done():
			_ = t.dev.Transition(device.ErrorState{Err: ctx.Err()})
			return errs.External(errs.ExternalDeploymentTimeout, "edge app deploy on device %d timed out", t.dev.ID)
		case status := <-statusCh:
			if status == "ok" {
				if err := t.dev.Transition(device.ReadyState{}); err != nil {
					return errs.Wrap(errs.ExternalDeploymentFailed, err, "return device %d to Ready", t.dev.ID)
				}
				return nil
			}
		}
	}
}

func (t *AppTask) Stop(context.Context) error {
	return t.dev.Transition(device.ReadyState{})
}

type deploymentManifest struct {
	Modules map[string]deploymentModule `json:"modules"`
}

type deploymentModule struct {
	DownloadURL string `json:"downloadUrl"`
	Hash        string `json:"hash"`
}

func (t *AppTask) buildManifest(typ config.DeviceType) ([]byte, error) {
	sum := sha256.Sum256(t.module)
	manifest := deploymentManifest{
		Modules: map[string]deploymentModule{
			edgeAppModuleName: {
				DownloadURL: fmt.Sprintf("%s/%s", t.artifactBaseURL, path.Base(t.fileName)),
				Hash:        hex.EncodeToString(sum[:]),
			},
		},
	}

	if typ == config.DeviceTypeV2 {
		b, err := json.Marshal(manifest)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{v2EdgeAppKey: string(b)})
	}

	return json.Marshal(map[string]any{"deployment": manifest})
}

// parseDeploymentStatus looks for a deploymentStatus.reconcileStatus
// report (V1, flat) or the V2 keyed edge_app status string carrying
// the same field, returning it if found.
func parseDeploymentStatus(payload []byte) (string, bool) {
	var v1 struct {
		DeploymentStatus struct {
			ReconcileStatus string `json:"reconcileStatus"`
		} `json:"deploymentStatus"`
	}
	if err := json.Unmarshal(payload, &v1); err == nil && v1.DeploymentStatus.ReconcileStatus != "" {
		return v1.DeploymentStatus.ReconcileStatus, true
	}

	var v2 map[string]json.RawMessage
	if err := json.Unmarshal(payload, &v2); err != nil {
		return "", false
	}
	raw, ok := v2[v2EdgeAppKey]
	if !ok {
		return "", false
	}
	var inner struct {
		ResInfo struct {
			ReconcileStatus string `json:"reconcileStatus"`
		} `json:"res_info"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil || inner.ResInfo.ReconcileStatus == "" {
		return "", false
	}
	return inner.ResInfo.ReconcileStatus, true
}
