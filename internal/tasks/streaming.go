package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
)

// streamingInstance is the module instance streaming RPCs target.
const streamingInstance = "backdoor-EA_Main"

// startUploadParams is the wire shape of the StartUploadInferenceData
// command: where the device should PUT images and inference results.
type startUploadParams struct {
	Mode                      int    `json:"Mode"`
	UploadMethod              string `json:"UploadMethod"`
	StorageName               string `json:"StorageName"`
	StorageSubDirectoryPath   string `json:"StorageSubDirectoryPath"`
	UploadMethodIR            string `json:"UploadMethodIR"`
	StorageNameIR             string `json:"StorageNameIR"`
	StorageSubDirectoryPathIR string `json:"StorageSubDirectoryPathIR"`
	UploadInterval            int    `json:"UploadInterval"`
	CropHOffset               int    `json:"CropHOffset"`
	CropVOffset               int    `json:"CropVOffset"`
	CropHSize                 int    `json:"CropHSize"`
	CropVSize                 int    `json:"CropVSize"`
}

// StartStreaming points the device's upload pipeline at the artifact
// webserver and moves it into Streaming. Valid only from Ready.
func StartStreaming(ctx context.Context, dev *device.Device, mqtt MQTTSession, artifactBaseURL string, timeout time.Duration) error {
	if err := device.RequireState(dev, device.KindReady); err != nil {
		return err
	}

	params := startUploadParams{
		Mode:                      1,
		UploadMethod:              "HttpStorage",
		StorageName:               artifactBaseURL,
		StorageSubDirectoryPath:   fmt.Sprintf("%d/Images", dev.ID),
		UploadMethodIR:            "HttpStorage",
		StorageNameIR:             artifactBaseURL,
		StorageSubDirectoryPathIR: fmt.Sprintf("%d/Metadata", dev.ID),
		UploadInterval:            30,
		CropHSize:                 -1,
		CropVSize:                 -1,
	}
	if _, err := issueRPC(ctx, mqtt, dev.Type, "StartUploadInferenceData", streamingInstance, params, timeout); err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "start streaming on device %d", dev.ID)
	}

	return dev.Transition(device.StreamingState{})
}

// StopStreaming halts the upload pipeline and returns the device to
// Ready. Valid only from Streaming.
func StopStreaming(ctx context.Context, dev *device.Device, mqtt MQTTSession, timeout time.Duration) error {
	if err := device.RequireState(dev, device.KindStreaming); err != nil {
		return err
	}

	if _, err := issueRPC(ctx, mqtt, dev.Type, "StopUploadInferenceData", streamingInstance, map[string]any{}, timeout); err != nil {
		return errs.Wrap(errs.ExternalDeploymentFailed, err, "stop streaming on device %d", dev.ID)
	}

	return dev.Transition(device.ReadyState{})
}
