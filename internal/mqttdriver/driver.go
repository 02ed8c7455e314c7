package mqttdriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/errs"
)

// maxReconnectBackoff caps the exponential reconnect delay.
const maxReconnectBackoff = 30 * time.Second

// Handler processes one inbound message. Handlers run on the paho
// client's own callback goroutine.
type Handler func(topic string, payload []byte)

// ConnectionObserver is notified of session lifecycle transitions so
// the owning Device can mirror them into its ConnectionState.
type ConnectionObserver interface {
	OnConnecting()
	OnConnected()
	OnDisconnected(err error)
}

// Driver is one MQTT session to a single device, correlating
// Requests by message id.
type Driver struct {
	deviceID int
	host     string
	log      *logrus.Entry

	client MQTT.Client
	corr   *correlator
	obs    ConnectionObserver

	mu            sync.Mutex
	handlers      map[string][]topicHandler
	nextHandlerID int
}

// topicHandler pairs a registered Handler with the id its
// unsubscribe closure removes it by.
type topicHandler struct {
	id int
	fn Handler
}

// New builds a Driver for one device, generating a random client id
// so parallel orchestrator runs never steal each other's sessions.
// Call Start to connect.
func New(deviceID int, brokerURL string, obs ConnectionObserver, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.New()
	}
	d := &Driver{
		deviceID: deviceID,
		host:     brokerURL,
		log:      log.WithFields(logrus.Fields{"component": "mqttdriver", "device_id": deviceID}),
		corr:     newCorrelator(),
		obs:      obs,
		handlers: make(map[string][]topicHandler),
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("orchestrator-%d-%s", deviceID, uuid.NewString()))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false) // we drive our own capped backoff below
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(d.onConnect)
	opts.SetConnectionLostHandler(d.onConnectionLost)
	opts.SetDefaultPublishHandler(d.onMessage)

	d.client = MQTT.NewClient(opts)
	return d
}

// Start connects the session and begins the reconnect-with-backoff
// loop for the lifetime of ctx.
func (d *Driver) Start(ctx context.Context) error {
	if d.obs != nil {
		d.obs.OnConnecting()
	}
	if err := d.connect(); err != nil {
		go d.reconnectLoop(ctx)
		return err
	}
	go d.reconnectLoop(ctx)
	return nil
}

func (d *Driver) connect() error {
	token := d.client.Connect()
	token.Wait()
	return token.Error()
}

func (d *Driver) onConnect(MQTT.Client) {
	d.log.Info("mqtt session connected")
	for _, topic := range SubscriptionTopics() {
		d.client.Subscribe(topic, 1, func(_ MQTT.Client, msg MQTT.Message) {
			d.onMessage(nil, msg)
		})
	}
	if d.obs != nil {
		d.obs.OnConnected()
	}
}

func (d *Driver) onConnectionLost(_ MQTT.Client, err error) {
	d.log.WithError(err).Warn("mqtt session lost")
	d.corr.failAll(errs.External(errs.ExternalDisconnected, "mqtt session to device %d lost: %v", d.deviceID, err))
	if d.obs != nil {
		d.obs.OnDisconnected(err)
	}
}

func (d *Driver) onMessage(_ MQTT.Client, msg MQTT.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	if id, ok := suffixID(topic, topicAttrResponsePrefix); ok {
		d.corr.resolve(id, payload)
	}
	if id, ok := suffixID(topic, topicRPCResponsePrefix); ok {
		d.corr.resolve(id, payload)
	}

	d.mu.Lock()
	hs := append([]topicHandler(nil), d.handlers[topic]...)
	d.mu.Unlock()
	for _, h := range hs {
		h.fn(topic, payload)
	}
}

// reconnectLoop runs until ctx is cancelled: whenever the connection
// is down it retries with exponential backoff capped at 30s, and the
// backoff resets to 1s once the connection is up again.
func (d *Driver) reconnectLoop(ctx context.Context) {
	backoff := time.Second
	for {
		if d.client.IsConnected() {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if d.client.IsConnected() {
			continue
		}
		if d.obs != nil {
			d.obs.OnConnecting()
		}
		if err := d.connect(); err != nil {
			d.log.WithError(err).Warn("mqtt reconnect failed, backing off")
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

// Publish sends payload to topic.
func (d *Driver) Publish(topic string, payload []byte) error {
	token := d.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler to run for every message on topic; any
// number of handlers may share a topic. The returned func removes the
// handler again and is safe to call more than once.
func (d *Driver) Subscribe(topic string, handler Handler) func() {
	d.mu.Lock()
	id := d.nextHandlerID
	d.nextHandlerID++
	d.handlers[topic] = append(d.handlers[topic], topicHandler{id: id, fn: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		hs := d.handlers[topic]
		for i, h := range hs {
			if h.id == id {
				d.handlers[topic] = append(hs[:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Request mints a message id, appends it to topicReqPrefix, awaits
// the matching reply on topicRespPrefix+<id>, then returns it (or a
// timeout error). Both prefixes must already end in the topic
// separator, matching the constants in topics.go.
func (d *Driver) Request(ctx context.Context, topicReqPrefix, topicRespPrefix string, payload []byte, timeout time.Duration) ([]byte, error) {
	id := newID()
	respTopic := topicRespPrefix + id

	failed := make(chan error, 1)
	p := d.corr.register(id, timeout, func() {
		failed <- errTimeout(respTopic)
	})

	reqTopic := topicReqPrefix + id
	if err := d.Publish(reqTopic, payload); err != nil {
		d.corr.remove(id)
		return nil, err
	}

	select {
	case payload := <-p.replyCh:
		return payload, nil
	case err := <-p.errCh:
		return nil, err
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		d.corr.remove(id)
		return nil, ctx.Err()
	}
}

// Disconnect unsubscribes and closes the session.
func (d *Driver) Disconnect() {
	for _, topic := range SubscriptionTopics() {
		d.client.Unsubscribe(topic)
	}
	d.client.Disconnect(250)
}

func suffixID(topic, prefix string) (string, bool) {
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	return topic[len(prefix):], true
}
