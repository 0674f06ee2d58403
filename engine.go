package callsdk

import (
	"context"
	"encoding/json"
)

// Engine is the native media engine. Implementations wrap a platform WebRTC
// stack; this package only drives it.
type Engine interface {
	// AudioAuthorized reports whether audio capture is allowed.
	AudioAuthorized() bool

	// RequestAudioAccess prompts for audio capture and reports the outcome.
	RequestAudioAccess(ctx context.Context) (bool, error)

	// Load loads the router RTP capabilities into the device.
	Load(rtpCapabilities json.RawMessage) error

	// CanProduce reports whether the loaded device can send kind.
	CanProduce(kind MediaKind) (bool, error)

	// CreateLocalTrack creates a capture track of kind.
	CreateLocalTrack(kind MediaKind, id string) (Track, error)

	CreateSendTransport(transport TransportDescriptor, handler SendTransportHandler) (SendTransport, error)

	CreateRecvTransport(transport TransportDescriptor, handler RecvTransportHandler) (RecvTransport, error)
}

type Track interface {
	Id() string
	Kind() MediaKind
	SetEnabled(enabled bool)
	Close()
}

// ProduceOptions are handed to SendTransport.Produce.
type ProduceOptions struct {
	Encodings    []map[string]interface{}
	CodecOptions json.RawMessage
	AppData      json.RawMessage
}

type SendTransport interface {
	Id() string

	// Produce publishes track. It blocks until the handler's OnProduce has
	// returned.
	Produce(track Track, options ProduceOptions, handler ProducerHandler) (Producer, error)

	RestartIce(iceParameters IceParameters) error
	Close()
}

type RecvTransport interface {
	Id() string

	// Consume creates a local consumer for a server side consumer.
	Consume(consumer ConsumerInfo) (Consumer, error)

	RestartIce(iceParameters IceParameters) error
	Close()
}

type Producer interface {
	Id() string
	Kind() MediaKind
	Close()
}

type Consumer interface {
	Id() string
	ProducerId() string
	Kind() MediaKind
	Track() Track
	Close()
}

// SendTransportHandler receives the callbacks of a send transport. Every
// method may block the engine thread that calls it.
type SendTransportHandler interface {
	OnConnect(transportId string, dtlsParameters DtlsParameters) error
	OnConnectionStateChange(transportId string, state ConnectionState)

	// OnProduce returns the id the server assigned to the new producer.
	OnProduce(transportId string, kind MediaKind, rtpParameters json.RawMessage, appData json.RawMessage) (string, error)

	// OnProduceData returns the id the server assigned to the new data producer.
	OnProduceData(transportId string, sctpStreamParameters json.RawMessage, label, protocol string, appData json.RawMessage) (string, error)
}

// RecvTransportHandler receives the callbacks of a receive transport.
type RecvTransportHandler interface {
	OnConnect(transportId string, dtlsParameters DtlsParameters) error
	OnConnectionStateChange(transportId string, state ConnectionState)
}

type ProducerHandler interface {
	OnTransportClose(producerId string)
}
