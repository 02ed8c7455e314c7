package artifacts

import (
	"encoding/json"
	"os"
)

// InferenceDetail is one detection row of an inference result. T is
// the timestamp the sensor stamped, O the opaque output blob.
type InferenceDetail struct {
	T string `json:"T"`
	O string `json:"O"`
}

// Inference is the parsed shape of the metadata side of an artifact
// pair. Devices append vendor fields freely; only these are read.
type Inference struct {
	DeviceID   string            `json:"DeviceID"`
	ModelID    string            `json:"ModelID"`
	Image      bool              `json:"Image"`
	Inferences []InferenceDetail `json:"Inferences"`
}

// ParseInference decodes an inference blob. Unknown fields are
// ignored, so firmware revisions that extend the schema still parse.
func ParseInference(data []byte) (Inference, error) {
	var inf Inference
	if err := json.Unmarshal(data, &inf); err != nil {
		return Inference{}, err
	}
	return inf, nil
}

// ReadInferenceFile parses the inference file at path. Grouping never
// depends on this succeeding; a malformed file still pairs with its
// image by filename stem and only fails here when a caller asks for
// the parsed contents.
func ReadInferenceFile(path string) (Inference, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Inference{}, err
	}
	return ParseInference(b)
}
