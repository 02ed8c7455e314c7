package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/errs"
)

// directGetImageMethod is the RPC both dialects expose for grabbing a
// single frame inline, bypassing the streaming/artifact pipeline.
const directGetImageMethod = "DirectGetImage"

// DirectGetImage asks the device for one JPEG frame and returns its
// decoded bytes. Correlation relies on the reply topic suffix alone:
// some V1 firmwares omit res_id from this particular reply, so the
// body's correlation fields are never consulted.
func DirectGetImage(ctx context.Context, mqtt MQTTSession, typ config.DeviceType, instance string, timeout time.Duration) ([]byte, error) {
	reply, err := issueRPC(ctx, mqtt, typ, directGetImageMethod, instance, map[string]any{}, timeout)
	if err != nil {
		return nil, err
	}
	return decodeImageReply(reply)
}

// decodeImageReply digs the base64 frame out of either dialect's
// reply shape: the flat {response: {Image}} body, or the same nested
// one level under direct-command-response.
func decodeImageReply(reply []byte) ([]byte, error) {
	var flat struct {
		Response struct {
			Image string `json:"Image"`
		} `json:"response"`
	}
	if err := json.Unmarshal(reply, &flat); err == nil && flat.Response.Image != "" {
		return decodeFrame(flat.Response.Image)
	}

	var nested struct {
		DirectCommandResponse struct {
			Response string `json:"response"`
		} `json:"direct-command-response"`
	}
	if err := json.Unmarshal(reply, &nested); err == nil && nested.DirectCommandResponse.Response != "" {
		var inner struct {
			Image string `json:"Image"`
		}
		if err := json.Unmarshal([]byte(nested.DirectCommandResponse.Response), &inner); err == nil && inner.Image != "" {
			return decodeFrame(inner.Image)
		}
	}

	return nil, errs.External(errs.ExternalDeploymentFailed, "image reply carried no frame")
}

func decodeFrame(encoded string) ([]byte, error) {
	frame, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.Wrap(errs.ExternalDeploymentFailed, err, "image frame is not valid base64")
	}
	return frame, nil
}
