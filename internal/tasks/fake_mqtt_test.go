package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/camerafleet/orchestrator/internal/mqttdriver"
)

// fakeMQTT is a minimal MQTTSession double for deployment-task
// tests, standing in for a real paho session.
type fakeMQTT struct {
	mu        sync.Mutex
	published [][2]string // topic, payload
	handlers  map[string][]mqttdriver.Handler

	requestFunc func(ctx context.Context, reqPrefix, respPrefix string, payload []byte, timeout time.Duration) ([]byte, error)
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string][]mqttdriver.Handler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, [2]string{topic, string(payload)})
	f.mu.Unlock()
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, handler mqttdriver.Handler) func() {
	f.mu.Lock()
	f.handlers[topic] = append(f.handlers[topic], handler)
	idx := len(f.handlers[topic]) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if hs := f.handlers[topic]; idx < len(hs) {
			hs[idx] = func(string, []byte) {}
		}
	}
}

func (f *fakeMQTT) Request(ctx context.Context, reqPrefix, respPrefix string, payload []byte, timeout time.Duration) ([]byte, error) {
	if f.requestFunc != nil {
		return f.requestFunc(ctx, reqPrefix, respPrefix, payload, timeout)
	}
	return []byte(`{}`), nil
}

// deliver invokes every handler registered for topic with payload, as
// the real driver would on an inbound message.
func (f *fakeMQTT) deliver(topic string, payload []byte) {
	f.mu.Lock()
	hs := append([]mqttdriver.Handler(nil), f.handlers[topic]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

// respondWith makes every subsequent Request record its payload and
// return reply.
func (f *fakeMQTT) respondWith(reply []byte) {
	f.requestFunc = func(_ context.Context, reqPrefix, _ string, payload []byte, _ time.Duration) ([]byte, error) {
		f.mu.Lock()
		f.published = append(f.published, [2]string{reqPrefix, string(payload)})
		f.mu.Unlock()
		return reply, nil
	}
}

func (f *fakeMQTT) lastPublished() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return ""
	}
	return f.published[len(f.published)-1][1]
}

func (f *fakeMQTT) publishedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p[0]
	}
	return out
}
