package callsdk

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// frame is a command as the server receives it.
type frame map[string]interface{}

func (f frame) Event() Command {
	event, _ := f["event"].(string)
	return Command(event)
}

func (f frame) RequestId() string {
	id, _ := f["originalRequestId"].(string)
	return id
}

func (f frame) String(key string) string {
	value, _ := f[key].(string)
	return value
}

type connectCall struct {
	url   string
	query url.Values
}

// fakeLink is an in-memory Link. Frames sent by the client are decoded and
// queued; server frames are injected with Deliver.
type fakeLink struct {
	IEventEmitter

	mu        sync.Mutex
	connected bool
	connects  []connectCall
	sent      []frame
	sendErr   error
	frames    chan frame

	// onConnect runs after Connect, in its own goroutine.
	onConnect func(l *fakeLink)
	// onSend runs for every sent frame, in its own goroutine.
	onSend func(l *fakeLink, f frame)
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		IEventEmitter: NewEventEmitter(),
		frames:        make(chan frame, 256),
	}
}

func (l *fakeLink) Connect(ctx context.Context, rawURL string, query url.Values) error {
	l.mu.Lock()
	l.connected = true
	l.connects = append(l.connects, connectCall{url: rawURL, query: query})
	onConnect := l.onConnect
	l.mu.Unlock()

	go func() {
		l.SafeEmit(LinkEventConnected)
		if onConnect != nil {
			onConnect(l)
		}
	}()

	return nil
}

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if l.sendErr != nil {
		err := l.sendErr
		l.mu.Unlock()
		return err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		l.mu.Unlock()
		return err
	}
	l.sent = append(l.sent, f)
	onSend := l.onSend
	l.mu.Unlock()

	l.frames <- f

	if onSend != nil {
		go onSend(l, f)
	}
	return nil
}

func (l *fakeLink) Disconnect() error {
	l.mu.Lock()
	connected := l.connected
	l.connected = false
	l.mu.Unlock()

	if connected {
		l.SafeEmit(LinkEventDisconnected)
	}
	return nil
}

// Drop simulates the server closing the socket.
func (l *fakeLink) Drop() {
	l.Disconnect()
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.connected
}

func (l *fakeLink) Connects() []connectCall {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]connectCall(nil), l.connects...)
}

// Deliver injects a server frame as if read from the socket.
func (l *fakeLink) Deliver(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	l.SafeEmit(LinkEventMessage, data)
}

// Sent returns the sent frames of command, all of them if command is empty.
func (l *fakeLink) Sent(command Command) []frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	var frames []frame
	for _, f := range l.sent {
		if len(command) == 0 || f.Event() == command {
			frames = append(frames, f)
		}
	}
	return frames
}

// WaitFrame waits for the next sent frame of command, skipping others.
func (l *fakeLink) WaitFrame(t *testing.T, command Command) frame {
	t.Helper()

	timeout := time.After(2 * time.Second)

	for {
		select {
		case f := <-l.frames:
			if f.Event() == command {
				return f
			}
		case <-timeout:
			require.FailNow(t, "frame not sent", "command: %s", command)
			return nil
		}
	}
}

// fakeGateway is a Gateway backed by testify mock.
type fakeGateway struct {
	mock.Mock
}

func (g *fakeGateway) Auth(ctx context.Context, name, phone string) (string, error) {
	args := g.Called(name, phone)
	return args.String(0), args.Error(1)
}

func (g *fakeGateway) CreateConversation(ctx context.Context, authToken string) (*Conversation, error) {
	args := g.Called(authToken)
	conversation, _ := args.Get(0).(*Conversation)
	return conversation, args.Error(1)
}

func (g *fakeGateway) SelectCommunicationMode(ctx context.Context, authToken string, mode CommunicationMode) error {
	args := g.Called(authToken, mode)
	return args.Error(0)
}

func (g *fakeGateway) CheckStatus(ctx context.Context, authToken string) (*ConversationStatus, error) {
	args := g.Called(authToken)
	status, _ := args.Get(0).(*ConversationStatus)
	return status, args.Error(1)
}

// newReadyGateway answers every call successfully for token t1 and room-1.
func newReadyGateway(shouldJoinCall, displayText string) *fakeGateway {
	gateway := &fakeGateway{}
	gateway.On("Auth", mock.Anything, mock.Anything).Return("t1", nil)
	gateway.On("CreateConversation", "t1").Return(&Conversation{MeetingRoomId: "room-1"}, nil)
	gateway.On("SelectCommunicationMode", "t1", CommunicationMode_AudioVideo).Return(nil)
	gateway.On("CheckStatus", "t1").Return(&ConversationStatus{
		MeetingRoomId: "room-1",
		CallJoinStatus: CallJoinStatus{
			ShouldJoinCall: shouldJoinCall,
			DisplayText:    displayText,
		},
	}, nil)
	return gateway
}

// fakeEngine negotiates without media. Transports connect on first use.
type fakeEngine struct {
	mu             sync.Mutex
	authorized     bool
	loaded         json.RawMessage
	cannotProduce  map[MediaKind]bool
	sendTransports []*fakeSendTransport
	recvTransports []*fakeRecvTransport
	producers      []*fakeProducer
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		authorized:    true,
		cannotProduce: make(map[MediaKind]bool),
	}
}

func (e *fakeEngine) AudioAuthorized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.authorized
}

func (e *fakeEngine) RequestAudioAccess(ctx context.Context) (bool, error) {
	return e.AudioAuthorized(), nil
}

func (e *fakeEngine) Load(rtpCapabilities json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loaded = rtpCapabilities
	return nil
}

func (e *fakeEngine) CanProduce(kind MediaKind) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return !e.cannotProduce[kind], nil
}

func (e *fakeEngine) CreateLocalTrack(kind MediaKind, id string) (Track, error) {
	return &fakeTrack{id: id, kind: kind}, nil
}

func (e *fakeEngine) CreateSendTransport(transport TransportDescriptor, handler SendTransportHandler) (SendTransport, error) {
	t := &fakeSendTransport{id: transport.Id, handler: handler}

	e.mu.Lock()
	e.sendTransports = append(e.sendTransports, t)
	e.mu.Unlock()

	return t, nil
}

func (e *fakeEngine) CreateRecvTransport(transport TransportDescriptor, handler RecvTransportHandler) (RecvTransport, error) {
	t := &fakeRecvTransport{id: transport.Id, handler: handler}

	e.mu.Lock()
	e.recvTransports = append(e.recvTransports, t)
	e.mu.Unlock()

	return t, nil
}

func (e *fakeEngine) SendTransport() *fakeSendTransport {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.sendTransports) == 0 {
		return nil
	}
	return e.sendTransports[len(e.sendTransports)-1]
}

func (e *fakeEngine) RecvTransport() *fakeRecvTransport {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.recvTransports) == 0 {
		return nil
	}
	return e.recvTransports[len(e.recvTransports)-1]
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    MediaKind
	enabled bool
	closed  bool
}

func (t *fakeTrack) Id() string      { return t.id }
func (t *fakeTrack) Kind() MediaKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
}

func (t *fakeTrack) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
}

type fakeSendTransport struct {
	mu           sync.Mutex
	id           string
	handler      SendTransportHandler
	connectOnce  sync.Once
	connectErr   error
	iceRestarts  []IceParameters
	closed       bool
	producedKind []MediaKind
}

func (t *fakeSendTransport) Id() string { return t.id }

func (t *fakeSendTransport) Produce(track Track, options ProduceOptions, handler ProducerHandler) (Producer, error) {
	t.connectOnce.Do(func() {
		t.connectErr = t.handler.OnConnect(t.id, DtlsParameters{
			Role:         DtlsRole_Client,
			Fingerprints: []DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
		})
	})
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	rtpParameters := json.RawMessage(`{"mid":"` + string(track.Kind()) + `","codecs":[],"encodings":[{"ssrc":1111,"dtx":true}]}`)

	id, err := t.handler.OnProduce(t.id, track.Kind(), rtpParameters, nil)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.producedKind = append(t.producedKind, track.Kind())
	t.mu.Unlock()

	return &fakeProducer{id: id, kind: track.Kind(), handler: handler}, nil
}

func (t *fakeSendTransport) RestartIce(iceParameters IceParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.iceRestarts = append(t.iceRestarts, iceParameters)
	return nil
}

func (t *fakeSendTransport) IceRestarts() []IceParameters {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]IceParameters(nil), t.iceRestarts...)
}

func (t *fakeSendTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
}

func (t *fakeSendTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

type fakeRecvTransport struct {
	mu          sync.Mutex
	id          string
	handler     RecvTransportHandler
	connectOnce sync.Once
	connectErr  error
	consumed    []ConsumerInfo
	closed      bool
}

func (t *fakeRecvTransport) Id() string { return t.id }

func (t *fakeRecvTransport) Consume(info ConsumerInfo) (Consumer, error) {
	t.connectOnce.Do(func() {
		t.connectErr = t.handler.OnConnect(t.id, DtlsParameters{
			Role:         DtlsRole_Client,
			Fingerprints: []DtlsFingerprint{{Algorithm: "sha-256", Value: "CC:DD"}},
		})
	})
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	t.mu.Lock()
	t.consumed = append(t.consumed, info)
	t.mu.Unlock()

	return &fakeConsumer{info: info}, nil
}

func (t *fakeRecvTransport) Consumed() []ConsumerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]ConsumerInfo(nil), t.consumed...)
}

func (t *fakeRecvTransport) RestartIce(iceParameters IceParameters) error { return nil }

func (t *fakeRecvTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
}

type fakeProducer struct {
	id      string
	kind    MediaKind
	handler ProducerHandler
}

func (p *fakeProducer) Id() string      { return p.id }
func (p *fakeProducer) Kind() MediaKind { return p.kind }
func (p *fakeProducer) Close()          {}

type fakeConsumer struct {
	info ConsumerInfo
}

func (c *fakeConsumer) Id() string         { return c.info.Id }
func (c *fakeConsumer) ProducerId() string { return c.info.ProducerId }
func (c *fakeConsumer) Kind() MediaKind    { return c.info.Kind }
func (c *fakeConsumer) Track() Track       { return &fakeTrack{id: c.info.Id, kind: c.info.Kind} }
func (c *fakeConsumer) Close()             {}

var testRtpCapabilities = json.RawMessage(`{
	"codecs": [
		{"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2, "preferredPayloadType": 100},
		{"kind": "video", "mimeType": "video/VP8", "clockRate": 90000, "preferredPayloadType": 101},
		{"kind": "video", "mimeType": "video/rtx", "clockRate": 90000, "preferredPayloadType": 102, "parameters": {"apt": 101}}
	],
	"headerExtensions": [
		{"kind": "audio", "uri": "urn:ietf:params:rtp-hdrext:sdes:mid", "preferredId": 1}
	]
}`)

func testTransport(id string) H {
	return H{
		"id": id,
		"iceParameters": H{
			"usernameFragment": "ufrag-" + id,
			"password":         "pwd-" + id,
			"iceLite":          true,
		},
		"iceCandidates": []H{
			{"foundation": "udpcandidate", "priority": 1076302079, "ip": "10.0.0.1", "protocol": "udp", "port": 40000, "type": "host"},
		},
		"dtlsParameters": H{
			"role":         "auto",
			"fingerprints": []H{{"algorithm": "sha-256", "value": "11:22"}},
		},
	}
}

// fakeServer answers client commands the way the backend does. Commands in
// hold are left unanswered.
type fakeServer struct {
	mu         sync.Mutex
	hold       map[Command]bool
	transports int
	producers  int
	consumers  int
	overrides  map[Command]func(f frame) H
}

func newFakeServer(hold ...Command) *fakeServer {
	s := &fakeServer{
		hold:      make(map[Command]bool),
		overrides: make(map[Command]func(f frame) H),
	}
	for _, command := range hold {
		s.hold[command] = true
	}
	return s
}

func (s *fakeServer) Hold(command Command, hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hold[command] = hold
}

func (s *fakeServer) Override(command Command, reply func(f frame) H) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[command] = reply
}

func (s *fakeServer) Attach(link *fakeLink) {
	link.mu.Lock()
	defer link.mu.Unlock()

	link.onConnect = func(l *fakeLink) {
		l.Deliver(H{"event": EventWebSocketConnected})
	}
	link.onSend = func(l *fakeLink, f frame) {
		if reply := s.reply(f); reply != nil {
			l.Deliver(reply)
		}
	}
}

func (s *fakeServer) reply(f frame) H {
	s.mu.Lock()
	defer s.mu.Unlock()

	command := f.Event()
	id := f.RequestId()

	if s.hold[command] {
		return nil
	}
	if override, ok := s.overrides[command]; ok {
		reply := override(f)
		if reply != nil {
			reply["originalRequestId"] = id
		}
		return reply
	}

	switch command {
	case CommandJoinMeetingRoom:
		return H{"event": EventRequestToJoinApproved, "originalRequestId": id}

	case CommandGetRtpCapabilities:
		return H{"event": EventRtpCapabilities, "originalRequestId": id, "data": H{"rtpCapabilities": testRtpCapabilities}}

	case CommandCreateWebRtcTransport:
		s.transports++
		return H{"event": EventWebRtcTransport, "originalRequestId": id, "data": H{
			"webrtcResponse": testTransport("transport-" + string(rune('0'+s.transports))),
		}}

	case CommandConnectWebRtcTransport:
		return H{"event": EventUserConnectedWebRtcTransport, "originalRequestId": id}

	case CommandCreateWebRtcTransportProd:
		s.producers++
		data, _ := f["data"].(map[string]interface{})
		return H{"event": EventWebRtcTransportProducer, "originalRequestId": id, "data": H{
			"producer": H{"id": "producer-" + string(rune('0'+s.producers)), "kind": data["kind"], "mediaType": data["mediaType"]},
		}}

	case CommandCreateWebRtcTransportCons:
		s.consumers++
		data, _ := f["data"].(map[string]interface{})
		kind := "audio"
		if mediaType, _ := data["mediaType"].(string); mediaType == "video" {
			kind = "video"
		}
		return H{"event": EventWebRtcTransportConsumer, "originalRequestId": id, "data": H{
			"consumer": H{
				"id":            "consumer-" + string(rune('0'+s.consumers)),
				"producerId":    f["producerId"],
				"kind":          kind,
				"rtpParameters": H{"codecs": []H{}, "encodings": []H{{"ssrc": 2222}}},
			},
		}}

	case CommandRestartIce:
		return H{"event": "RESTART_ICE", "originalRequestId": id, "data": H{
			"iceParameters": H{"usernameFragment": "ufrag-restarted", "password": "pwd-restarted"},
		}}
	}
	return nil
}
