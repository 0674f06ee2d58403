package callsdk

import (
	"encoding/json"
	"sync"
)

// Session holds the signaling state of one call. It is written only by the
// orchestrator and may be read from any goroutine.
type Session struct {
	mu sync.RWMutex

	authToken       string
	roomId          string
	rtpCapabilities json.RawMessage
	remoteProducers []RemoteProducer
	sendTransportId string
	recvTransportId string
	producerIds     map[MediaKind]string
	consumerCreated map[MediaKind]bool
	consumerIds     map[MediaKind]string
}

func newSession() *Session {
	return &Session{
		producerIds:     make(map[MediaKind]string),
		consumerCreated: make(map[MediaKind]bool),
		consumerIds:     make(map[MediaKind]string),
	}
}

func (s *Session) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.authToken
}

func (s *Session) setAuthToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authToken = token
}

func (s *Session) RoomId() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roomId
}

func (s *Session) setRoomId(roomId string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roomId = roomId
}

func (s *Session) RtpCapabilities() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rtpCapabilities
}

func (s *Session) setRtpCapabilities(caps json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rtpCapabilities = caps
}

// RemoteProducers returns a copy of the latest producer batch.
func (s *Session) RemoteProducers() []RemoteProducer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]RemoteProducer(nil), s.remoteProducers...)
}

func (s *Session) setRemoteProducers(producers []RemoteProducer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remoteProducers = append([]RemoteProducer(nil), producers...)
}

func (s *Session) TransportId(direction TransportDirection) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if direction == TransportDirection_Send {
		return s.sendTransportId
	}
	return s.recvTransportId
}

func (s *Session) setTransportId(direction TransportDirection, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if direction == TransportDirection_Send {
		s.sendTransportId = id
	} else {
		s.recvTransportId = id
	}
}

func (s *Session) ProducerId(kind MediaKind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.producerIds[kind]
}

func (s *Session) setProducerId(kind MediaKind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.producerIds[kind] = id
}

func (s *Session) ConsumerId(kind MediaKind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.consumerIds[kind]
}

func (s *Session) setConsumerId(kind MediaKind, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumerIds[kind] = id
}

func (s *Session) ConsumerCreated(kind MediaKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.consumerCreated[kind]
}

// markConsumerCreated sets the consumer flag of kind and reports whether it
// was unset before.
func (s *Session) markConsumerCreated(kind MediaKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumerCreated[kind] {
		return false
	}
	s.consumerCreated[kind] = true
	return true
}

// resetMedia forgets everything learned after the room join, keeping the
// auth token and the room id.
func (s *Session) resetMedia() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rtpCapabilities = nil
	s.remoteProducers = nil
	s.sendTransportId = ""
	s.recvTransportId = ""
	s.producerIds = make(map[MediaKind]string)
	s.consumerCreated = make(map[MediaKind]bool)
	s.consumerIds = make(map[MediaKind]string)
}
