package callsdk

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
)

// encodingOverride is merged into every RTP encoding of a local producer.
var encodingOverride = map[string]interface{}{
	"maxBitrate":      3000000,
	"maxFramerate":    24,
	"priority":        "high",
	"networkPriority": "high",
}

func newRequestId() string {
	return uuid.NewString()
}

// overrideEncodings returns a copy of rtpParameters whose encodings have
// encodingOverride merged in, last write wins. Unknown fields are preserved.
func overrideEncodings(rtpParameters json.RawMessage) (map[string]interface{}, error) {
	params := map[string]interface{}{}

	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return nil, fmt.Errorf("%w: rtpParameters: %v", ErrMissingField, err)
	}
	encodings, ok := params["encodings"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: rtpParameters.encodings", ErrMissingField)
	}

	merged := make([]interface{}, 0, len(encodings))

	for _, item := range encodings {
		encoding, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: rtpParameters.encodings[%d]", ErrMissingField, len(merged))
		}
		result := make(map[string]interface{}, len(encoding)+len(encodingOverride))
		for k, v := range encoding {
			result[k] = v
		}
		if err := override(&result, encodingOverride); err != nil {
			return nil, err
		}
		merged = append(merged, result)
	}
	params["encodings"] = merged

	return params, nil
}

func override(dst, src interface{}) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}
