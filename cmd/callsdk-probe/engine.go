package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	callsdk "github.com/sqecc/callsdk-go"
)

// probeEngine negotiates like a media engine but never sends or receives
// media. Local transports connect on their first produce.
type probeEngine struct {
	mu   sync.Mutex
	caps callsdk.RtpCapabilities
}

func newProbeEngine() *probeEngine {
	return &probeEngine{}
}

func (e *probeEngine) AudioAuthorized() bool { return true }

func (e *probeEngine) RequestAudioAccess(ctx context.Context) (bool, error) { return true, nil }

func (e *probeEngine) Load(rtpCapabilities json.RawMessage) error {
	var caps callsdk.RtpCapabilities

	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return callsdk.NewInvalidParametersError("rtpCapabilities: %s", err)
	}
	e.mu.Lock()
	e.caps = caps
	e.mu.Unlock()

	return nil
}

func (e *probeEngine) CanProduce(kind callsdk.MediaKind) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, codec := range e.caps.Codecs {
		if strings.HasPrefix(strings.ToLower(codec.MimeType), string(kind)+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (e *probeEngine) CreateLocalTrack(kind callsdk.MediaKind, id string) (callsdk.Track, error) {
	return &probeTrack{id: id, kind: kind}, nil
}

func (e *probeEngine) CreateSendTransport(transport callsdk.TransportDescriptor, handler callsdk.SendTransportHandler) (callsdk.SendTransport, error) {
	return &probeSendTransport{
		id:      transport.Id,
		engine:  e,
		handler: handler,
	}, nil
}

func (e *probeEngine) CreateRecvTransport(transport callsdk.TransportDescriptor, handler callsdk.RecvTransportHandler) (callsdk.RecvTransport, error) {
	return &probeRecvTransport{
		id:      transport.Id,
		handler: handler,
	}, nil
}

// rtpParameters builds send parameters for the first codec of kind.
func (e *probeEngine) rtpParameters(kind callsdk.MediaKind) json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	var codecs []*callsdk.RtpCodecCapability

	for _, codec := range e.caps.Codecs {
		if codec.Kind == kind || strings.HasPrefix(strings.ToLower(codec.MimeType), string(kind)+"/") {
			codecs = append(codecs, codec)
			break
		}
	}
	data, _ := json.Marshal(map[string]interface{}{
		"mid":       string(kind),
		"codecs":    codecs,
		"encodings": []map[string]interface{}{{"ssrc": randomSsrc()}},
		"rtcp":      map[string]interface{}{"cname": uuid.NewString(), "reducedSize": true},
	})
	return data
}

type probeTrack struct {
	id      string
	kind    callsdk.MediaKind
	enabled bool
}

func (t *probeTrack) Id() string              { return t.id }
func (t *probeTrack) Kind() callsdk.MediaKind { return t.kind }
func (t *probeTrack) SetEnabled(enabled bool) { t.enabled = enabled }
func (t *probeTrack) Close()                  {}

type probeSendTransport struct {
	id      string
	engine  *probeEngine
	handler callsdk.SendTransportHandler

	connectOnce sync.Once
	connectErr  error
}

func (t *probeSendTransport) Id() string { return t.id }

func (t *probeSendTransport) Produce(track callsdk.Track, options callsdk.ProduceOptions, handler callsdk.ProducerHandler) (callsdk.Producer, error) {
	t.connectOnce.Do(func() {
		t.connectErr = t.handler.OnConnect(t.id, localDtlsParameters())
		if t.connectErr == nil {
			t.handler.OnConnectionStateChange(t.id, callsdk.ConnectionState_Connected)
		}
	})
	if t.connectErr != nil {
		return nil, t.connectErr
	}

	id, err := t.handler.OnProduce(t.id, track.Kind(), t.engine.rtpParameters(track.Kind()), options.AppData)
	if err != nil {
		return nil, err
	}
	return &probeProducer{id: id, kind: track.Kind()}, nil
}

func (t *probeSendTransport) RestartIce(iceParameters callsdk.IceParameters) error { return nil }
func (t *probeSendTransport) Close()                                               {}

type probeRecvTransport struct {
	id      string
	handler callsdk.RecvTransportHandler

	connectOnce sync.Once
	connectErr  error
}

func (t *probeRecvTransport) Id() string { return t.id }

func (t *probeRecvTransport) Consume(info callsdk.ConsumerInfo) (callsdk.Consumer, error) {
	t.connectOnce.Do(func() {
		t.connectErr = t.handler.OnConnect(t.id, localDtlsParameters())
		if t.connectErr == nil {
			t.handler.OnConnectionStateChange(t.id, callsdk.ConnectionState_Connected)
		}
	})
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return &probeConsumer{info: info, track: &probeTrack{id: info.Id, kind: info.Kind}}, nil
}

func (t *probeRecvTransport) RestartIce(iceParameters callsdk.IceParameters) error { return nil }
func (t *probeRecvTransport) Close()                                               {}

type probeProducer struct {
	id   string
	kind callsdk.MediaKind
}

func (p *probeProducer) Id() string              { return p.id }
func (p *probeProducer) Kind() callsdk.MediaKind { return p.kind }
func (p *probeProducer) Close()                  {}

type probeConsumer struct {
	info  callsdk.ConsumerInfo
	track *probeTrack
}

func (c *probeConsumer) Id() string              { return c.info.Id }
func (c *probeConsumer) ProducerId() string      { return c.info.ProducerId }
func (c *probeConsumer) Kind() callsdk.MediaKind { return c.info.Kind }
func (c *probeConsumer) Track() callsdk.Track    { return c.track }
func (c *probeConsumer) Close()                  {}

func localDtlsParameters() callsdk.DtlsParameters {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)

	pairs := make([]string, len(buf))
	for i, b := range buf {
		pairs[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return callsdk.DtlsParameters{
		Role: callsdk.DtlsRole_Client,
		Fingerprints: []callsdk.DtlsFingerprint{
			{Algorithm: "sha-256", Value: strings.Join(pairs, ":")},
		},
	}
}

func randomSsrc() uint32 {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)

	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}
