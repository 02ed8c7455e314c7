package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/camerafleet/orchestrator/internal/config"
)

func TestDirectGetImage_V1FlatReply(t *testing.T) {
	mqtt := newFakeMQTT()
	frame := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	mqtt.respondWith([]byte(`{"response":{"Image":"` + base64.StdEncoding.EncodeToString(frame) + `"}}`))

	got, err := DirectGetImage(context.Background(), mqtt, config.DeviceTypeV1, "backdoor-EA_Main", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(frame) {
		t.Fatalf("frame %x, want %x", got, frame)
	}

	var env v1RPCEnvelope
	if err := json.Unmarshal([]byte(mqtt.lastPublished()), &env); err != nil {
		t.Fatal(err)
	}
	if env.Method != "ModuleMethodCall" || env.Params.ModuleMethod != "DirectGetImage" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestDirectGetImage_V2NestedReply(t *testing.T) {
	mqtt := newFakeMQTT()
	frame := []byte("jpeg")
	inner := `{"Image":"` + base64.StdEncoding.EncodeToString(frame) + `"}`
	body, _ := json.Marshal(map[string]any{
		"direct-command-response": map[string]any{"response": inner},
	})
	mqtt.respondWith(body)

	got, err := DirectGetImage(context.Background(), mqtt, config.DeviceTypeV2, "node", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "jpeg" {
		t.Fatalf("frame %q", got)
	}

	var env v2RPCEnvelope
	if err := json.Unmarshal([]byte(mqtt.lastPublished()), &env); err != nil {
		t.Fatal(err)
	}
	if env.Params.DirectCommandRequest.ReqID == "" {
		t.Fatal("direct-command-request published without a reqid")
	}
}

func TestDirectGetImage_ReplyWithoutFrameFails(t *testing.T) {
	mqtt := newFakeMQTT()
	mqtt.respondWith([]byte(`{"res_info":{"code":1}}`))

	if _, err := DirectGetImage(context.Background(), mqtt, config.DeviceTypeV1, "backdoor-EA_Main", time.Second); err == nil {
		t.Fatal("expected an error for a frameless reply")
	}
}
