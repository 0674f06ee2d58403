package callsdk

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"
)

// MediaEvent is an engine callback surfaced by a MediaSession.
type MediaEvent interface {
	Direction() TransportDirection
}

// TransportConnectEvent asks for the DTLS parameters of a local transport to
// be signaled. The engine callback stays blocked until Ack is called.
type TransportConnectEvent struct {
	direction      TransportDirection
	TransportId    string
	DtlsParameters DtlsParameters
	reply          chan error
}

func (e *TransportConnectEvent) Direction() TransportDirection { return e.direction }

// Ack unblocks the engine callback. Only the first call counts.
func (e *TransportConnectEvent) Ack(err error) {
	select {
	case e.reply <- err:
	default:
	}
}

type produceReply struct {
	id  string
	err error
}

// ProduceEvent asks for a local track to be published. The engine callback
// stays blocked until Ack is called.
type ProduceEvent struct {
	TransportId   string
	Kind          MediaKind
	RtpParameters json.RawMessage
	AppData       json.RawMessage
	reply         chan produceReply
}

func (e *ProduceEvent) Direction() TransportDirection { return TransportDirection_Send }

// Ack unblocks the engine callback with the id assigned by the server.
func (e *ProduceEvent) Ack(id string, err error) {
	select {
	case e.reply <- produceReply{id: id, err: err}:
	default:
	}
}

// ProduceDataEvent reports a data producer request. Data producers are not
// negotiated, the engine receives an UnsupportedError.
type ProduceDataEvent struct {
	TransportId          string
	SctpStreamParameters json.RawMessage
	Label                string
	Protocol             string
}

func (e *ProduceDataEvent) Direction() TransportDirection { return TransportDirection_Send }

type ConnectionStateEvent struct {
	direction   TransportDirection
	TransportId string
	State       ConnectionState
}

func (e *ConnectionStateEvent) Direction() TransportDirection { return e.direction }

type ProducerTransportCloseEvent struct {
	ProducerId string
}

func (e *ProducerTransportCloseEvent) Direction() TransportDirection { return TransportDirection_Send }

// MediaSession adapts an Engine to the orchestrator: it owns the native
// transports, producers and consumers of one call and turns engine
// callbacks into a stream of MediaEvent.
type MediaSession struct {
	mu        sync.Mutex
	engine    Engine
	logger    logr.Logger
	events    chan MediaEvent
	done      chan struct{}
	closeOnce sync.Once

	sendTransport SendTransport
	recvTransport RecvTransport
	tracks        map[MediaKind]Track
	producers     map[MediaKind]Producer
	consumers     map[MediaKind]Consumer
}

func NewMediaSession(engine Engine, logger logr.Logger) *MediaSession {
	return &MediaSession{
		engine:    engine,
		logger:    logger,
		events:    make(chan MediaEvent, 16),
		done:      make(chan struct{}),
		tracks:    make(map[MediaKind]Track),
		producers: make(map[MediaKind]Producer),
		consumers: make(map[MediaKind]Consumer),
	}
}

// Events returns the engine callback stream. It is never closed, select on
// Done as well.
func (m *MediaSession) Events() <-chan MediaEvent {
	return m.events
}

// Done is closed by Close.
func (m *MediaSession) Done() <-chan struct{} {
	return m.done
}

func (m *MediaSession) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// CheckMicrophonePermission reports whether audio capture is authorized,
// prompting for it if needed.
func (m *MediaSession) CheckMicrophonePermission(ctx context.Context) (bool, error) {
	if m.engine.AudioAuthorized() {
		return true, nil
	}
	m.logger.V(1).Info("requesting audio access")

	granted, err := m.engine.RequestAudioAccess(ctx)
	if err != nil {
		return false, err
	}
	return granted, nil
}

// LoadCapabilities validates the router capabilities, loads them into the
// engine and reports whether every kind can be produced.
func (m *MediaSession) LoadCapabilities(raw json.RawMessage, kinds []MediaKind) (bool, error) {
	if m.Closed() {
		return false, ErrMediaSessionClosed
	}
	for _, kind := range kinds {
		if kind == MediaKind_Audio && !m.engine.AudioAuthorized() {
			return false, ErrAudioNotAuthorized
		}
	}

	caps, err := parseRtpCapabilities(raw)
	if err != nil {
		return false, err
	}
	for _, kind := range kinds {
		if !canProduce(caps, kind) {
			m.logger.Info("router has no codec for kind", "kind", kind)
			return false, nil
		}
	}

	if err := m.engine.Load(raw); err != nil {
		return false, err
	}

	for _, kind := range kinds {
		ok, err := m.engine.CanProduce(kind)
		if err != nil {
			return false, err
		}
		if !ok {
			m.logger.Info("device cannot produce", "kind", kind)
			return false, nil
		}
	}

	return true, nil
}

func (m *MediaSession) OpenSendTransport(transport TransportDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed() {
		return ErrMediaSessionClosed
	}
	if m.sendTransport != nil {
		return NewInvalidStateError("send transport already open")
	}
	t, err := m.engine.CreateSendTransport(transport, sendTransportListener{m})
	if err != nil {
		return err
	}
	m.sendTransport = t

	m.logger.V(1).Info("send transport opened", "transportId", transport.Id)

	return nil
}

func (m *MediaSession) OpenReceiveTransport(transport TransportDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed() {
		return ErrMediaSessionClosed
	}
	if m.recvTransport != nil {
		return NewInvalidStateError("receive transport already open")
	}
	t, err := m.engine.CreateRecvTransport(transport, recvTransportListener{m})
	if err != nil {
		return err
	}
	m.recvTransport = t

	m.logger.V(1).Info("receive transport opened", "transportId", transport.Id)

	return nil
}

// Produce creates a local track of kind and publishes it on the send
// transport. It blocks until the resulting ProduceEvent is acknowledged.
func (m *MediaSession) Produce(kind MediaKind) (Producer, error) {
	m.mu.Lock()
	transport := m.sendTransport
	_, exists := m.producers[kind]
	m.mu.Unlock()

	if m.Closed() {
		return nil, ErrMediaSessionClosed
	}
	if transport == nil {
		return nil, NewInvalidStateError("send transport not open")
	}
	if exists {
		return nil, NewInvalidStateError("already producing %s", kind)
	}

	track, err := m.engine.CreateLocalTrack(kind, newRequestId())
	if err != nil {
		return nil, err
	}
	track.SetEnabled(true)

	producer, err := transport.Produce(track, ProduceOptions{}, producerListener{m})
	if err != nil {
		track.Close()
		return nil, err
	}

	m.mu.Lock()
	m.tracks[kind] = track
	m.producers[kind] = producer
	m.mu.Unlock()

	m.logger.V(1).Info("producing", "kind", kind, "producerId", producer.Id())

	return producer, nil
}

// Consume opens a local consumer for a server side consumer.
func (m *MediaSession) Consume(info ConsumerInfo) (Consumer, error) {
	m.mu.Lock()
	transport := m.recvTransport
	m.mu.Unlock()

	if m.Closed() {
		return nil, ErrMediaSessionClosed
	}
	if transport == nil {
		return nil, NewInvalidStateError("receive transport not open")
	}

	consumer, err := transport.Consume(info)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.consumers[info.Kind] = consumer
	m.mu.Unlock()

	m.logger.V(1).Info("consuming", "kind", info.Kind, "consumerId", consumer.Id())

	return consumer, nil
}

func (m *MediaSession) RestartIce(direction TransportDirection, iceParameters IceParameters) error {
	m.mu.Lock()
	var (
		restart func(IceParameters) error
	)
	if direction == TransportDirection_Send && m.sendTransport != nil {
		restart = m.sendTransport.RestartIce
	} else if direction == TransportDirection_Recv && m.recvTransport != nil {
		restart = m.recvTransport.RestartIce
	}
	m.mu.Unlock()

	if m.Closed() {
		return ErrMediaSessionClosed
	}
	if restart == nil {
		return NewInvalidStateError("%s transport not open", direction)
	}
	return restart(iceParameters)
}

// Close closes every consumer, producer, track and transport. Blocked engine
// callbacks are released with ErrMediaSessionClosed.
func (m *MediaSession) Close() {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		consumers, producers, tracks := m.consumers, m.producers, m.tracks
		sendTransport, recvTransport := m.sendTransport, m.recvTransport
		m.consumers = make(map[MediaKind]Consumer)
		m.producers = make(map[MediaKind]Producer)
		m.tracks = make(map[MediaKind]Track)
		m.sendTransport, m.recvTransport = nil, nil
		m.mu.Unlock()

		for _, consumer := range consumers {
			consumer.Close()
		}
		for _, producer := range producers {
			producer.Close()
		}
		for _, track := range tracks {
			track.Close()
		}
		if sendTransport != nil {
			sendTransport.Close()
		}
		if recvTransport != nil {
			recvTransport.Close()
		}

		m.logger.V(1).Info("close()")
	})
}

func (m *MediaSession) post(ev MediaEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *MediaSession) connect(direction TransportDirection, transportId string, dtlsParameters DtlsParameters) error {
	ev := &TransportConnectEvent{
		direction:      direction,
		TransportId:    transportId,
		DtlsParameters: dtlsParameters,
		reply:          make(chan error, 1),
	}
	if !m.post(ev) {
		return ErrMediaSessionClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-m.done:
		return ErrMediaSessionClosed
	}
}

func (m *MediaSession) connectionStateChanged(direction TransportDirection, transportId string, state ConnectionState) {
	m.logger.V(1).Info("connection state changed", "direction", direction, "transportId", transportId, "state", state)

	m.post(&ConnectionStateEvent{
		direction:   direction,
		TransportId: transportId,
		State:       state,
	})
}

type sendTransportListener struct {
	session *MediaSession
}

func (l sendTransportListener) OnConnect(transportId string, dtlsParameters DtlsParameters) error {
	return l.session.connect(TransportDirection_Send, transportId, dtlsParameters)
}

func (l sendTransportListener) OnConnectionStateChange(transportId string, state ConnectionState) {
	l.session.connectionStateChanged(TransportDirection_Send, transportId, state)
}

func (l sendTransportListener) OnProduce(transportId string, kind MediaKind, rtpParameters, appData json.RawMessage) (string, error) {
	ev := &ProduceEvent{
		TransportId:   transportId,
		Kind:          kind,
		RtpParameters: rtpParameters,
		AppData:       appData,
		reply:         make(chan produceReply, 1),
	}
	if !l.session.post(ev) {
		return "", ErrMediaSessionClosed
	}
	select {
	case r := <-ev.reply:
		return r.id, r.err
	case <-l.session.done:
		return "", ErrMediaSessionClosed
	}
}

func (l sendTransportListener) OnProduceData(transportId string, sctpStreamParameters json.RawMessage, label, protocol string, appData json.RawMessage) (string, error) {
	l.session.post(&ProduceDataEvent{
		TransportId:          transportId,
		SctpStreamParameters: sctpStreamParameters,
		Label:                label,
		Protocol:             protocol,
	})
	return "", NewUnsupportedError("data producers are not supported")
}

type recvTransportListener struct {
	session *MediaSession
}

func (l recvTransportListener) OnConnect(transportId string, dtlsParameters DtlsParameters) error {
	return l.session.connect(TransportDirection_Recv, transportId, dtlsParameters)
}

func (l recvTransportListener) OnConnectionStateChange(transportId string, state ConnectionState) {
	l.session.connectionStateChanged(TransportDirection_Recv, transportId, state)
}

type producerListener struct {
	session *MediaSession
}

func (l producerListener) OnTransportClose(producerId string) {
	l.session.post(&ProducerTransportCloseEvent{ProducerId: producerId})
}
