package callsdk

import (
	"encoding/json"
	"fmt"
)

// Event is a server to client event name.
type Event string

const (
	EventWebSocketConnected           Event = "WEBSOCKET_CONNECTED"
	EventRequestToJoinApproved        Event = "REQUEST_TO_JOIN_APPROVED"
	EventUserJoinedMeetingRoom        Event = "USER_JOINED_MEETING_ROOM"
	EventMediaServerProducers         Event = "MEDIA_SERVER_PRODUCERS"
	EventMediaServerError             Event = "MEDIA_SERVER_ERROR"
	EventRtpCapabilities              Event = "RTP_CAPABILITIES"
	EventWebRtcTransport              Event = "WEBRTC_TRANSPORT"
	EventWebRtcTransportProducer      Event = "WEBRTC_TRANSPORT_PRODUCER_CREATED"
	EventWebRtcTransportConsumer      Event = "WEBRTC_TRANSPORT_CONSUMER_CREATED"
	EventUserConnectedWebRtcTransport Event = "USER_CONNECTED_WEBRTC_TRANSPORT"
	EventUnknown                      Event = "UNKNOWN"
)

var knownEvents = map[Event]struct{}{
	EventWebSocketConnected:           {},
	EventRequestToJoinApproved:        {},
	EventUserJoinedMeetingRoom:        {},
	EventMediaServerProducers:         {},
	EventMediaServerError:             {},
	EventRtpCapabilities:              {},
	EventWebRtcTransport:              {},
	EventWebRtcTransportProducer:      {},
	EventWebRtcTransportConsumer:      {},
	EventUserConnectedWebRtcTransport: {},
}

// Command is a client to server command name.
type Command string

const (
	CommandJoinMeetingRoom             Command = "JOIN_MEETING_ROOM"
	CommandGetRtpCapabilities          Command = "GET_RTP_CAPABILITIES"
	CommandCreateWebRtcTransport       Command = "CREATE_WEBRTC_TRANSPORT"
	CommandConnectWebRtcTransport      Command = "CONNECT_WEBRTC_TRANSPORT"
	CommandCreateWebRtcTransportProd   Command = "CREATE_WEBRTC_TRANSPORT_PRODUCER"
	CommandCreateWebRtcTransportCons   Command = "CREATE_WEBRTC_TRANSPORT_CONSUMER"
	CommandResumeConsumerStreamRequest Command = "RESUME_CONSUMER_STREAM_REQUEST"
	CommandRestartIce                  Command = "RESTART_ICE"
)

// H is a shortcut for command fields.
type H map[string]interface{}

// Message is a decoded server frame. Replies to a client command carry the
// OriginalRequestId of that command.
type Message struct {
	Event             Event
	Name              string
	OriginalRequestId string
	Data              json.RawMessage
	Raw               json.RawMessage
}

type messageEnvelope struct {
	Event             string          `json:"event"`
	OriginalRequestId string          `json:"originalRequestId,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
}

// DecodeMessage parses a text frame. Unrecognized event names decode to
// EventUnknown; only malformed JSON is an error.
func DecodeMessage(data []byte) (*Message, error) {
	var envelope messageEnvelope

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	event := Event(envelope.Event)

	if _, ok := knownEvents[event]; !ok {
		event = EventUnknown
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	return &Message{
		Event:             event,
		Name:              envelope.Event,
		OriginalRequestId: envelope.OriginalRequestId,
		Data:              envelope.Data,
		Raw:               raw,
	}, nil
}

// EncodeCommand serializes a command as {"event": command, ...fields}.
func EncodeCommand(command Command, fields H) ([]byte, error) {
	frame := make(map[string]interface{}, len(fields)+1)

	for k, v := range fields {
		frame[k] = v
	}
	frame["event"] = command

	return json.Marshal(frame)
}

func (m *Message) String() string {
	return fmt.Sprintf("%s [originalRequestId:%s]", m.Name, m.OriginalRequestId)
}

// RemoteProducers extracts the producer batch found under producers[0].meta.
func (m *Message) RemoteProducers() ([]RemoteProducer, error) {
	var payload struct {
		Producers []struct {
			Meta []RemoteProducer `json:"meta"`
		} `json:"producers"`
	}
	if err := m.decodeRaw(&payload); err != nil {
		return nil, err
	}
	if len(payload.Producers) == 0 {
		if err := m.decodeData(&payload); err != nil || len(payload.Producers) == 0 {
			return nil, fmt.Errorf("%w: producers", ErrMissingField)
		}
	}
	if payload.Producers[0].Meta == nil {
		return nil, fmt.Errorf("%w: producers[0].meta", ErrMissingField)
	}
	return payload.Producers[0].Meta, nil
}

// ErrorMessage returns the server supplied error text, "unknown" if absent.
func (m *Message) ErrorMessage() string {
	var payload struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := m.decodeRaw(&payload); err == nil && len(payload.ErrorMessage) > 0 {
		return payload.ErrorMessage
	}
	if err := m.decodeData(&payload); err == nil && len(payload.ErrorMessage) > 0 {
		return payload.ErrorMessage
	}
	return "unknown"
}

// RtpCapabilities returns data.rtpCapabilities verbatim.
func (m *Message) RtpCapabilities() (json.RawMessage, error) {
	var payload struct {
		RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := m.decodeData(&payload); err != nil {
		return nil, err
	}
	if len(payload.RtpCapabilities) == 0 || string(payload.RtpCapabilities) == "null" {
		return nil, fmt.Errorf("%w: data.rtpCapabilities", ErrMissingField)
	}
	return payload.RtpCapabilities, nil
}

// WebRtcTransport returns the transport found under data.webrtcResponse.
func (m *Message) WebRtcTransport() (*TransportDescriptor, error) {
	var payload struct {
		WebrtcResponse *TransportDescriptor `json:"webrtcResponse"`
	}
	if err := m.decodeData(&payload); err != nil {
		return nil, err
	}
	if payload.WebrtcResponse == nil {
		return nil, fmt.Errorf("%w: data.webrtcResponse", ErrMissingField)
	}
	if err := payload.WebrtcResponse.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	return payload.WebrtcResponse, nil
}

// Producer returns data.producer.
func (m *Message) Producer() (*ProducerInfo, error) {
	var payload struct {
		Producer *ProducerInfo `json:"producer"`
	}
	if err := m.decodeData(&payload); err != nil {
		return nil, err
	}
	if payload.Producer == nil || len(payload.Producer.Id) == 0 {
		return nil, fmt.Errorf("%w: data.producer.id", ErrMissingField)
	}
	return payload.Producer, nil
}

// Consumer returns data.consumer.
func (m *Message) Consumer() (*ConsumerInfo, error) {
	var payload struct {
		Consumer *ConsumerInfo `json:"consumer"`
	}
	if err := m.decodeData(&payload); err != nil {
		return nil, err
	}
	consumer := payload.Consumer

	switch {
	case consumer == nil || len(consumer.Id) == 0:
		return nil, fmt.Errorf("%w: data.consumer.id", ErrMissingField)
	case len(consumer.ProducerId) == 0:
		return nil, fmt.Errorf("%w: data.consumer.producerId", ErrMissingField)
	case !consumer.Kind.Valid():
		return nil, fmt.Errorf("%w: data.consumer.kind", ErrMissingField)
	case len(consumer.RtpParameters) == 0:
		return nil, fmt.Errorf("%w: data.consumer.rtpParameters", ErrMissingField)
	}
	return consumer, nil
}

// IceParameters returns data.iceParameters of a RESTART_ICE reply.
func (m *Message) IceParameters() (*IceParameters, error) {
	var payload struct {
		IceParameters *IceParameters `json:"iceParameters"`
	}
	if err := m.decodeData(&payload); err != nil {
		return nil, err
	}
	if payload.IceParameters == nil || len(payload.IceParameters.UsernameFragment) == 0 {
		return nil, fmt.Errorf("%w: data.iceParameters", ErrMissingField)
	}
	return payload.IceParameters, nil
}

func (m *Message) decodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: data", ErrMissingField)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedMessage, err)
	}
	return nil
}

func (m *Message) decodeRaw(v interface{}) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
