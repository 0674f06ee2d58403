package callsdk

import (
	"encoding/json"
	"strings"
)

// RtpCapabilities define what the router or an endpoint can receive at media level.
type RtpCapabilities struct {
	// Codecs is the supported media and RTX codecs.
	Codecs []*RtpCodecCapability `json:"codecs,omitempty"`

	// HeaderExtensions is the supported RTP header extensions.
	HeaderExtensions []*RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

// MediaKind is the media kind ("audio" or "video").
type MediaKind string

const (
	MediaKind_Audio MediaKind = "audio"
	MediaKind_Video MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKind_Audio || k == MediaKind_Video
}

// RtpCodecCapability provides information on the capabilities of a codec within the RTP
// capabilities advertised by the router.
type RtpCodecCapability struct {
	// Kind is the media kind.
	Kind MediaKind `json:"kind"`

	// MimeType is the codec MIME media type/subtype (e.g. 'audio/opus', 'video/VP8').
	MimeType string `json:"mimeType"`

	// PreferredPayloadType is the preferred RTP payload type.
	PreferredPayloadType byte `json:"preferredPayloadType,omitempty"`

	// ClockRate is the codec clock rate expressed in Hertz.
	ClockRate int `json:"clockRate"`

	// Channels is the number of channels supported (e.g. 2 for stereo). Just for audio.
	Channels int `json:"channels,omitempty"`

	// Parameters is the codec specific parameters, kept verbatim.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// RtcpFeedback is the transport layer and codec-specific feedback messages for this codec.
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

func (r RtpCodecCapability) isRtxCodec() bool {
	return strings.HasSuffix(strings.ToLower(r.MimeType), "/rtx")
}

// RtpHeaderExtension provides information relating to supported header extensions.
type RtpHeaderExtension struct {
	// Kind is media kind. If empty string, it's valid for all kinds.
	Kind MediaKind `json:"kind"`

	// URI of the RTP header extension, as defined in RFC 5285.
	Uri string `json:"uri"`

	// PreferredId is the preferred numeric identifier that goes in the RTP packet.
	PreferredId int `json:"preferredId"`

	// PreferredEncrypt if true, it is preferred that the value in the header be
	// encrypted as per RFC 6904.
	PreferredEncrypt bool `json:"preferredEncrypt,omitempty"`

	// Direction is one of "sendrecv", "sendonly", "recvonly" or "inactive".
	Direction string `json:"direction,omitempty"`
}

// RtcpFeedback provides information on RTCP feedback messages for a specific codec.
type RtcpFeedback struct {
	// Type is RTCP feedback type.
	Type string `json:"type"`

	// Parameter is RTCP feedback parameter.
	Parameter string `json:"parameter,omitempty"`
}

// RemoteProducer describes a producer published by another participant of the room,
// as announced in a MEDIA_SERVER_PRODUCERS batch.
type RemoteProducer struct {
	Id        string    `json:"id"`
	Kind      MediaKind `json:"kind"`
	MediaType string    `json:"mediaType"`
}

// ProducerInfo is the producer created by the server for a local track.
type ProducerInfo struct {
	Id        string    `json:"id"`
	Kind      MediaKind `json:"kind"`
	MediaType string    `json:"mediaType"`
}

// ConsumerInfo is the consumer created by the server for a remote producer.
type ConsumerInfo struct {
	Id            string          `json:"id"`
	ProducerId    string          `json:"producerId"`
	Kind          MediaKind       `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	CodecOptions  json.RawMessage `json:"codecOptions,omitempty"`
}
