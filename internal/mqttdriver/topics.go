// Package mqttdriver maintains one paho.mqtt.golang session per
// device and correlates requests to replies by message id.
package mqttdriver

import "fmt"

// Wire-exact topic names the device protocol uses.
const (
	TopicAttributes = "v1/devices/me/attributes"
	TopicTelemetry  = "v1/devices/me/telemetry"

	topicAttrRequestPrefix  = "v1/devices/me/attributes/request/"
	topicAttrResponsePrefix = "v1/devices/me/attributes/response/"
	topicRPCRequestPrefix   = "v1/devices/me/rpc/request/"
	topicRPCResponsePrefix  = "v1/devices/me/rpc/response/"
)

// Exported prefixes for use with Driver.Request, which takes
// already-qualified request/response prefixes and appends the
// message id.
const (
	AttrRequestPrefix  = topicAttrRequestPrefix
	AttrResponsePrefix = topicAttrResponsePrefix
	RPCRequestPrefix   = topicRPCRequestPrefix
	RPCResponsePrefix  = topicRPCResponsePrefix
)

// AttrRequestTopic returns the handshake-ping publish topic for id.
func AttrRequestTopic(id string) string { return topicAttrRequestPrefix + id }

// AttrResponseTopic returns the handshake-echo subscribe topic for id.
func AttrResponseTopic(id string) string { return topicAttrResponsePrefix + id }

// RPCRequestTopic returns the method-invocation publish topic for id.
func RPCRequestTopic(id string) string { return topicRPCRequestPrefix + id }

// RPCResponseTopic returns the method-invocation reply topic for id.
func RPCResponseTopic(id string) string { return topicRPCResponsePrefix + id }

// SubscriptionTopics lists every topic a freshly connected session
// must subscribe to.
func SubscriptionTopics() []string {
	return []string{
		TopicAttributes,
		TopicTelemetry,
		fmt.Sprintf("%s+", topicAttrResponsePrefix),
		fmt.Sprintf("%s+", topicRPCResponsePrefix),
	}
}
