package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
	"github.com/camerafleet/orchestrator/internal/mqttdriver"
)

// UpdateModule names which firmware half a FirmwareTask targets.
type UpdateModule string

const (
	UpdateModuleSensorFw UpdateModule = "SensorFw"
	UpdateModuleApFw     UpdateModule = "ApFw"
)

// v1BackdoorKey is the single base64-wrapping key the V1 dialect
// uses for every desired-state publish.
const v1BackdoorKey = "configuration/backdoor-EA_Main/placeholder"

// v2FirmwareKey is the V2 dialect's keyed-configuration slot for
// firmware deploys, following the same "$system/PRIVATE_deploy_*"
// naming as the model slot.
const v2FirmwareKey = "configuration/$system/PRIVATE_deploy_firmware"

// FirmwareTask drives a device through the OTA sub-protocol: publish
// the desired version, then track the reported UpdateStatus until it
// lands on Done with the expected version, or Failed.
type FirmwareTask struct {
	dev    *device.Device
	mqtt   MQTTSession
	module UpdateModule

	desiredVersion string
	packageURI     string
	hashValue      string
	timeout        time.Duration
}

// NewFirmwareTask builds a FirmwareTask. Callers are responsible for
// the "identical-version guard" pre-check being meaningful: Run
// re-checks it itself against the device's latest PropertiesReport.
func NewFirmwareTask(dev *device.Device, mqtt MQTTSession, module UpdateModule, desiredVersion, packageURI, hashValue string, timeout time.Duration) *FirmwareTask {
	return &FirmwareTask{
		dev:            dev,
		mqtt:           mqtt,
		module:         module,
		desiredVersion: desiredVersion,
		packageURI:     packageURI,
		hashValue:      hashValue,
		timeout:        timeout,
	}
}

func (t *FirmwareTask) ID() string {
	return fmt.Sprintf("firmware_task_for_device_%d", t.dev.ID)
}

func (t *FirmwareTask) DeviceID() int { return t.dev.ID }
func (t *FirmwareTask) Timeout() time.Duration { return t.timeout }

func (t *FirmwareTask) HistoryInfo() HistoryInfo {
	return HistoryInfo{Kind: "firmware", DeviceID: t.dev.ID}
}

func (t *FirmwareTask) currentVersion(report device.PropertiesReport) string {
	if t.module == UpdateModuleSensorFw {
		return report.SensorFwVersion
	}
	return report.ApFwVersion
}

// Run executes the OTA sub-protocol.
func (t *FirmwareTask) Run(ctx context.Context) error {
	if current := t.currentVersion(t.dev.Properties()); current == t.desiredVersion {
		return errs.External(errs.ExternalFirmwareSameVersion,
			"device %d already reports %s version %s", t.dev.ID, t.module, t.desiredVersion)
	}

	if err := t.dev.Transition(device.FirmwareDeployingState{
		Manifest: device.DeploymentManifest{TaskID: t.ID(), Started: time.Now()},
		Done:     make(chan struct{}),
	}); err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "cannot enter FirmwareDeploying on device %d", t.dev.ID)
	}

	type otaEvent struct {
		progress OTAProgress
		version  string
	}
	events := make(chan otaEvent, 16)
	unsubscribe := t.mqtt.Subscribe(mqttdriver.TopicTelemetry, func(_ string, payload []byte) {
		progress, version, ok := parseOTATelemetry(payload, t.module)
		if !ok {
			return
		}
		select {
		case events <- otaEvent{progress: progress, version: version}:
		default:
		}
	})
	defer unsubscribe()

	payload, err := t.buildDesiredState(t.dev.Type)
	if err != nil {
		_ = t.dev.Transition(device.ReadyState{})
		return errs.Internal("encode OTA desired state for device %d: %v", t.dev.ID, err)
	}
	if err := t.mqtt.Publish(mqttdriver.TopicAttributes, payload); err != nil {
		_ = t.dev.Transition(device.ReadyState{})
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "publish OTA desired state to device %d", t.dev.ID)
	}

	var lastVersion string
	for {
		select {
		case <-ctx.Done():
			_ = t.dev.Transition(device.ErrorState{Err: ctx.Err()})
			return errs.External(errs.ExternalFirmwareTimeout, "firmware OTA on device %d timed out", t.dev.ID)
		case ev := <-events:
			if ev.version != "" {
				lastVersion = ev.version
			}
			switch ev.progress {
			case OTAFailed:
				_ = t.dev.Transition(device.ErrorState{})
				return errs.External(errs.ExternalFirmwareFailed, "firmware OTA on device %d reported Failed", t.dev.ID)
			case OTADone:
				if lastVersion == t.desiredVersion {
					t.dev.Submit(func() { t.dev.MergeProperties(t.versionReport(lastVersion)) })
					if err := t.dev.Transition(device.ReadyState{}); err != nil {
						return errs.Wrap(errs.ExternalDeploymentFailed, err, "return device %d to Ready", t.dev.ID)
					}
					return nil
				}
			}
		}
	}
}

func (t *FirmwareTask) versionReport(version string) device.PropertiesReport {
	if t.module == UpdateModuleSensorFw {
		return device.PropertiesReport{SensorFwVersion: version}
	}
	return device.PropertiesReport{ApFwVersion: version}
}

// Stop aborts an in-flight OTA cooperatively and returns the device
// to Ready. Idempotent.
func (t *FirmwareTask) Stop(context.Context) error {
	return t.dev.Transition(device.ReadyState{})
}

type v1OTADesiredState struct {
	UpdateModule   UpdateModule `json:"UpdateModule"`
	DesiredVersion string       `json:"DesiredVersion"`
	PackageURI     string       `json:"PackageUri"`
	HashValue      string       `json:"HashValue"`
}

func (t *FirmwareTask) buildDesiredState(typ config.DeviceType) ([]byte, error) {
	inner := v1OTADesiredState{
		UpdateModule:   t.module,
		DesiredVersion: t.desiredVersion,
		PackageURI:     t.packageURI,
		HashValue:      t.hashValue,
	}

	if typ == config.DeviceTypeV2 {
		envelope := map[string]any{"OTA": inner}
		b, err := json.Marshal(envelope)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{v2FirmwareKey: string(b)})
	}

	envelope := map[string]any{"OTA": inner}
	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(b)
	return json.Marshal(map[string]string{v1BackdoorKey: encoded})
}

// parseOTATelemetry tries the V1 shape (a plain "OTA" object) first,
// then the V2 keyed-configuration shape, returning the
// dialect-independent OTAProgress and whatever version string
// accompanied it, if any.
func parseOTATelemetry(payload []byte, module UpdateModule) (OTAProgress, string, bool) {
	var v1 struct {
		OTA struct {
			UpdateStatus    string `json:"UpdateStatus"`
			SensorFwVersion string `json:"SensorFwVersion"`
			ApFwVersion     string `json:"ApFwVersion"`
		} `json:"OTA"`
	}
	if err := json.Unmarshal(payload, &v1); err == nil && v1.OTA.UpdateStatus != "" {
		version := v1.OTA.SensorFwVersion
		if module == UpdateModuleApFw {
			version = v1.OTA.ApFwVersion
		}
		return mapV1Progress(v1.OTA.UpdateStatus), version, true
	}

	var v2 map[string]json.RawMessage
	if err := json.Unmarshal(payload, &v2); err != nil {
		return "", "", false
	}
	raw, ok := v2[v2FirmwareKey]
	if !ok {
		return "", "", false
	}
	var inner struct {
		Targets []struct {
			Version      string `json:"version"`
			ProcessState string `json:"process_state"`
		} `json:"targets"`
	}
	if err := json.Unmarshal(raw, &inner); err != nil || len(inner.Targets) == 0 {
		return "", "", false
	}
	target := inner.Targets[0]
	return mapV2Progress(target.ProcessState), target.Version, true
}
