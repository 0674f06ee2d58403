package callsdk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// WebSocketLinkOptions tunes a WebSocketLink. Zero values take defaults.
type WebSocketLinkOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
	SendQueueSize    int
}

// WebSocketLink is a Link over gorilla/websocket.
type WebSocketLink struct {
	IEventEmitter
	logger  logr.Logger
	options WebSocketLinkOptions
	dialer  *websocket.Dialer

	mu      sync.Mutex
	conn    *wsConn
	dialing *dialAttempt
}

// dialAttempt is a dial in flight, canceled by Disconnect.
type dialAttempt struct {
	cancel context.CancelFunc
}

// wsConn is one dialed connection with its own pumps.
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewWebSocketLink(options WebSocketLinkOptions, logger logr.Logger) *WebSocketLink {
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = 30 * time.Second
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = 5 * time.Second
	}
	if options.PingPeriod <= 0 {
		options.PingPeriod = 54 * time.Second
	}
	if options.ReadLimit <= 0 {
		options.ReadLimit = 1 << 20
	}
	if options.SendQueueSize <= 0 {
		options.SendQueueSize = 64
	}
	return &WebSocketLink{
		IEventEmitter: NewEventEmitter(),
		logger:        logger,
		options:       options,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: options.HandshakeTimeout,
		},
	}
}

func (l *WebSocketLink) Connect(ctx context.Context, rawURL string, query url.Values) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket url: %w", err)
	}
	if len(query) > 0 {
		values := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				values.Add(k, v)
			}
		}
		u.RawQuery = values.Encode()
	}

	l.mu.Lock()
	if l.conn != nil || l.dialing != nil {
		l.mu.Unlock()
		return NewInvalidStateError("link already connected")
	}
	dialCtx, cancel := context.WithCancel(ctx)
	attempt := &dialAttempt{cancel: cancel}
	l.dialing = attempt
	l.mu.Unlock()

	l.logger.V(1).Info("connect()", "host", u.Host, "path", u.Path)

	go l.dial(dialCtx, attempt, u.String())

	return nil
}

func (l *WebSocketLink) dial(ctx context.Context, attempt *dialAttempt, target string) {
	ws, _, err := l.dialer.DialContext(ctx, target, nil)

	l.mu.Lock()
	// Disconnect already dropped the attempt
	superseded := l.dialing != attempt
	canceled := superseded || ctx.Err() != nil
	if !superseded {
		l.dialing = nil
	}
	if err != nil || canceled {
		l.mu.Unlock()
		attempt.cancel()

		if ws != nil {
			_ = ws.Close()
		}
		if !canceled {
			l.logger.Error(err, "dial failed")
			l.SafeEmit(LinkEventError, err.Error())
		}
		if !superseded {
			l.SafeEmit(LinkEventDisconnected)
		}
		return
	}
	conn := &wsConn{
		ws:      ws,
		send:    make(chan []byte, l.options.SendQueueSize),
		closeCh: make(chan struct{}),
	}
	l.conn = conn
	l.mu.Unlock()

	attempt.cancel()

	ws.SetReadLimit(l.options.ReadLimit)
	ws.SetPongHandler(func(string) error {
		l.SafeEmit(LinkEventPong)
		return nil
	})

	go l.runWriteLoop(conn)

	l.SafeEmit(LinkEventConnected)
	l.SafeEmit(LinkEventViabilityChange, true)

	go l.runReadLoop(conn)
}

func (l *WebSocketLink) Send(data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		l.logger.Info("send() while closed, frame dropped", "size", len(data))
		return ErrLinkClosed
	}

	select {
	case conn.send <- data:
		return nil
	case <-conn.closeCh:
		l.logger.Info("send() while closed, frame dropped", "size", len(data))
		return ErrLinkClosed
	}
}

func (l *WebSocketLink) Disconnect() error {
	l.mu.Lock()
	conn := l.conn
	attempt := l.dialing
	l.dialing = nil
	l.mu.Unlock()

	if attempt != nil {
		l.logger.V(1).Info("disconnect() while dialing")
		attempt.cancel()
	}
	if conn != nil {
		l.logger.V(1).Info("disconnect()")
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(l.options.WriteTimeout))
		l.closeConn(conn)
	}
	return nil
}

// closeConn tears conn down and emits "disconnected" once per connection.
func (l *WebSocketLink) closeConn(conn *wsConn) {
	conn.closeOnce.Do(func() {
		close(conn.closeCh)
		_ = conn.ws.Close()

		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()

		l.SafeEmit(LinkEventViabilityChange, false)
		l.SafeEmit(LinkEventDisconnected)
	})
}

func (l *WebSocketLink) runWriteLoop(conn *wsConn) {
	ticker := time.NewTicker(l.options.PingPeriod)

	defer func() {
		ticker.Stop()
		l.closeConn(conn)
	}()

	for {
		select {
		case data := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(l.options.WriteTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				l.logger.Error(err, "write failed")
				l.SafeEmit(LinkEventError, err.Error())
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(l.options.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.logger.Error(err, "ping failed")
				return
			}
		case <-conn.closeCh:
			return
		}
	}
}

func (l *WebSocketLink) runReadLoop(conn *wsConn) {
	defer l.closeConn(conn)

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-conn.closeCh:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!errors.Is(err, websocket.ErrCloseSent) {
					l.logger.Error(err, "read failed")
					l.SafeEmit(LinkEventError, err.Error())
				}
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			l.SafeEmit(LinkEventMessage, data)
		case websocket.BinaryMessage:
			l.SafeEmit(LinkEventBinary, data)
		}
	}
}
