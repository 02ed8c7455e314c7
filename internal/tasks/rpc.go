package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/mqttdriver"
)

// v1RPCEnvelope and v2RPCEnvelope are the two RPC wire shapes: V1's
// flat {method, params: {moduleMethod, moduleInstance, params}}
// versus V2's nested direct-command-request carrying a req_id and a
// JSON-string params payload.
type v1RPCEnvelope struct {
	Method string      `json:"method"`
	Params v1RPCParams `json:"params"`
}

type v1RPCParams struct {
	ModuleMethod   string `json:"moduleMethod"`
	ModuleInstance string `json:"moduleInstance"`
	Params         any    `json:"params"`
}

type v2RPCEnvelope struct {
	Method string              `json:"method"`
	Params v2RPCEnvelopeParams `json:"params"`
}

type v2RPCEnvelopeParams struct {
	DirectCommandRequest v2DirectCommandRequest `json:"direct-command-request"`
}

type v2DirectCommandRequest struct {
	ReqID    string `json:"reqid"`
	Method   string `json:"method"`
	Instance string `json:"instance"`
	Params   string `json:"params"`
}

// IssueRPC builds the dialect-appropriate RPC envelope and sends it
// via mqtt.Request over the RPC request/response topics, returning
// the raw reply payload. The rpc CLI subcommand calls it directly.
func IssueRPC(ctx context.Context, mqtt MQTTSession, typ config.DeviceType, moduleMethod, instance string, params any, timeout time.Duration) ([]byte, error) {
	return issueRPC(ctx, mqtt, typ, moduleMethod, instance, params, timeout)
}

// issueRPC builds the dialect-appropriate RPC envelope and sends it
// via mqtt.Request over the RPC request/response topics, returning the
// raw reply payload.
func issueRPC(ctx context.Context, mqtt MQTTSession, typ config.DeviceType, moduleMethod, instance string, params any, timeout time.Duration) ([]byte, error) {
	if typ == config.DeviceTypeV2 {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		// The device echoes this id back as res_info.res_id; it must
		// be present even though replies are matched by topic suffix.
		env := v2RPCEnvelope{
			Method: "DirectCommand",
			Params: v2RPCEnvelopeParams{DirectCommandRequest: v2DirectCommandRequest{
				ReqID:    uuid.NewString(),
				Method:   moduleMethod,
				Instance: instance,
				Params:   string(paramsJSON),
			}},
		}
		body, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		return mqtt.Request(ctx, mqttdriver.RPCRequestPrefix, mqttdriver.RPCResponsePrefix, body, timeout)
	}

	env := v1RPCEnvelope{
		Method: "ModuleMethodCall",
		Params: v1RPCParams{ModuleMethod: moduleMethod, ModuleInstance: instance, Params: params},
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return mqtt.Request(ctx, mqttdriver.RPCRequestPrefix, mqttdriver.RPCResponsePrefix, body, timeout)
}
