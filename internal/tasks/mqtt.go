package tasks

import (
	"context"
	"time"

	"github.com/camerafleet/orchestrator/internal/mqttdriver"
)

// MQTTSession is the narrow slice of *mqttdriver.Driver each
// deployment task needs. Declaring it here (rather than depending on
// the concrete type) lets tests substitute a fake broker without
// spinning up paho. *mqttdriver.Driver satisfies it structurally.
type MQTTSession interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler mqttdriver.Handler) (remove func())
	Request(ctx context.Context, topicReqPrefix, topicRespPrefix string, payload []byte, timeout time.Duration) ([]byte, error)
}
