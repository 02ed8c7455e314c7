package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camerafleet/orchestrator/internal/artifacts"
	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/device"
	"github.com/camerafleet/orchestrator/internal/notify"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.New(&config.InMemory{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, root, nil), root
}

// registerDevice wires the per-device grouping/watcher state without
// dialing a broker, standing in for startDevice.
func registerDevice(o *Orchestrator, deviceID int, root string) (*device.Device, <-chan notify.Notification) {
	dev := o.registry.Add(config.DeviceConnection{DeviceID: deviceID, DeviceName: "cam"})
	grouping := artifacts.NewGrouping(
		[]string{artifacts.ImagesSubdir, artifacts.MetadataSubdir},
		[]string{"jpg", "txt"},
		time.Minute,
		func(grp artifacts.Group) { o.onArtifactGroup(dev, grp) },
		nil,
	)
	o.mu.Lock()
	o.groupings[deviceID] = grouping
	o.mu.Unlock()

	ch, _ := o.bus.Subscribe()
	return dev, ch
}

func TestOrchestrator_IncomingPairEmitsArtifactNotification(t *testing.T) {
	o, root := newTestOrchestrator(t)
	_, ch := registerDevice(o, 1883, root)

	img := filepath.Join(root, "1883", artifacts.ImagesSubdir, "0001.jpg")
	meta := filepath.Join(root, "1883", artifacts.MetadataSubdir, "0001.txt")
	for _, path := range []string{img, meta} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	o.onIncomingFile(img)
	o.onIncomingFile(meta)

	select {
	case n := <-ch:
		if n.Kind != "artifact" {
			t.Fatalf("kind %q, want artifact", n.Kind)
		}
		data := n.Data.(map[string]any)
		if data["stem"] != "0001" || data["evicted"] != false {
			t.Fatalf("unexpected artifact data %#v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no artifact notification after a complete pair")
	}
}

func TestOrchestrator_IncomingFileOutsideDeviceTreeIgnored(t *testing.T) {
	o, root := newTestOrchestrator(t)
	registerDevice(o, 1883, root)

	// Neither call may panic or emit: unknown device, too-shallow path.
	o.onIncomingFile(filepath.Join(root, "9999", artifacts.ImagesSubdir, "0001.jpg"))
	o.onIncomingFile(filepath.Join(root, "stray.txt"))
}

func TestOrchestrator_ArtifactBaseURL(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.New(&config.InMemory{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.UpdatePersistentAttr(func(g *config.GlobalConfiguration) {
		g.Webserver = config.WebserverConfig{Host: "0.0.0.0", Port: 8000}
	}); err != nil {
		t.Fatal(err)
	}

	o := New(cfg, root, nil)
	if got := o.artifactBaseURL(); got != "http://localhost:8000" {
		t.Fatalf("artifactBaseURL = %q", got)
	}
}

func TestOrchestrator_DeployOnUndeclaredDeviceFails(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if _, _, err := o.DeployApp(4242, []byte{0x00, 'a', 'o', 't'}, "app.aot"); err == nil {
		t.Fatal("expected an error for an undeclared device")
	}
}
