package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/errs"
)

func TestStartStreaming_PointsDeviceAtWebserver(t *testing.T) {
	dev := newReadyDevice(t, 40, config.DeviceTypeV1)
	mqtt := newFakeMQTT()
	mqtt.respondWith([]byte(`{}`))

	if err := StartStreaming(context.Background(), dev, mqtt, "http://192.168.1.5:8000", time.Second); err != nil {
		t.Fatal(err)
	}
	if dev.Kind() != device.KindStreaming {
		t.Fatalf("device in %s, want Streaming", dev.Kind())
	}

	var env v1RPCEnvelope
	if err := json.Unmarshal([]byte(mqtt.lastPublished()), &env); err != nil {
		t.Fatal(err)
	}
	if env.Params.ModuleMethod != "StartUploadInferenceData" {
		t.Fatalf("method %q", env.Params.ModuleMethod)
	}
	params, err := json.Marshal(env.Params.Params)
	if err != nil {
		t.Fatal(err)
	}
	var p startUploadParams
	if err := json.Unmarshal(params, &p); err != nil {
		t.Fatal(err)
	}
	if p.StorageName != "http://192.168.1.5:8000" || p.StorageSubDirectoryPath != "40/Images" || p.StorageSubDirectoryPathIR != "40/Metadata" {
		t.Fatalf("unexpected upload params %+v", p)
	}
}

func TestStartStreaming_RequiresReady(t *testing.T) {
	dev := newReadyDevice(t, 41, config.DeviceTypeV1)
	mqtt := newFakeMQTT()
	mqtt.respondWith([]byte(`{}`))

	if err := StartStreaming(context.Background(), dev, mqtt, "http://h", time.Second); err != nil {
		t.Fatal(err)
	}

	err := StartStreaming(context.Background(), dev, mqtt, "http://h", time.Second)
	if !errs.Is(err, errs.ExternalInvalidMethodDuringState) {
		t.Fatalf("second start: got %v, want InvalidMethodDuringState", err)
	}
}

func TestStopStreaming_ReturnsToReady(t *testing.T) {
	dev := newReadyDevice(t, 42, config.DeviceTypeV1)
	mqtt := newFakeMQTT()
	mqtt.respondWith([]byte(`{}`))

	if err := StartStreaming(context.Background(), dev, mqtt, "http://h", time.Second); err != nil {
		t.Fatal(err)
	}
	if err := StopStreaming(context.Background(), dev, mqtt, time.Second); err != nil {
		t.Fatal(err)
	}
	if dev.Kind() != device.KindReady {
		t.Fatalf("device in %s, want Ready", dev.Kind())
	}

	if err := StopStreaming(context.Background(), dev, mqtt, time.Second); !errs.Is(err, errs.ExternalInvalidMethodDuringState) {
		t.Fatalf("stop while Ready: got %v, want InvalidMethodDuringState", err)
	}
}
