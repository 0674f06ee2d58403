package callsdk

import (
	"encoding/json"
	"strings"
)

// parseRtpCapabilities decodes and validates the router capabilities blob.
func parseRtpCapabilities(raw json.RawMessage) (caps RtpCapabilities, err error) {
	if len(raw) == 0 {
		return caps, NewTypeError("missing rtpCapabilities")
	}
	if err = json.Unmarshal(raw, &caps); err != nil {
		return caps, NewTypeError("invalid rtpCapabilities: %s", err)
	}
	err = validateRtpCapabilities(&caps)

	return
}

// validateRtpCapabilities validates RtpCapabilities. It may modify given data
// by adding missing fields with default values.
func validateRtpCapabilities(params *RtpCapabilities) (err error) {
	if len(params.Codecs) == 0 {
		return NewTypeError("missing codecs")
	}

	for _, codec := range params.Codecs {
		if err = validateRtpCodecCapability(codec); err != nil {
			return
		}
	}

	for _, ext := range params.HeaderExtensions {
		if err = validateRtpHeaderExtension(ext); err != nil {
			return
		}
	}

	return
}

func validateRtpCodecCapability(code *RtpCodecCapability) (err error) {
	if code == nil {
		return NewTypeError("invalid codec")
	}
	mimeType := strings.ToLower(code.MimeType)

	//  mimeType is mandatory.
	if !strings.HasPrefix(mimeType, "audio/") && !strings.HasPrefix(mimeType, "video/") {
		return NewTypeError("invalid codec.mimeType")
	}

	code.Kind = MediaKind(strings.Split(mimeType, "/")[0])

	// clockRate is mandatory.
	if code.ClockRate == 0 {
		return NewTypeError("missing codec.clockRate")
	}

	// channels is optional. If unset, set it to 1 (just if audio).
	if code.Kind == MediaKind_Audio && code.Channels == 0 {
		code.Channels = 1
	}

	for _, fb := range code.RtcpFeedback {
		if len(fb.Type) == 0 {
			return NewTypeError("missing fb.type")
		}
	}

	return
}

func validateRtpHeaderExtension(ext *RtpHeaderExtension) (err error) {
	if ext == nil {
		return NewTypeError("invalid ext")
	}
	if len(ext.Kind) > 0 && !ext.Kind.Valid() {
		return NewTypeError("invalid ext.kind")
	}

	// uri is mandatory.
	if len(ext.Uri) == 0 {
		return NewTypeError("missing ext.uri")
	}

	// preferredId is mandatory.
	if ext.PreferredId == 0 {
		return NewTypeError("missing ext.preferredId")
	}

	// direction is optional. If unset set it to sendrecv.
	if len(ext.Direction) == 0 {
		ext.Direction = "sendrecv"
	}

	return
}

// canProduce reports whether the router accepts at least one media codec of kind.
func canProduce(caps RtpCapabilities, kind MediaKind) bool {
	for _, codec := range caps.Codecs {
		if codec.Kind == kind && !codec.isRtxCodec() {
			return true
		}
	}
	return false
}
