package callsdk

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// Orchestrator events.
const (
	OrchestratorEventStateChange = "statechange" // (state State)
	OrchestratorEventStatus      = "status"      // (text string)
	OrchestratorEventError       = "error"       // (message string)
)

// StatusJoined is emitted on "status" once the room join is approved.
const StatusJoined = "joined"

type OrchestratorOptions struct {
	Config    Config
	Gateway   Gateway
	Link      Link
	Engine    Engine
	Storage   Storage
	Telemetry Telemetry
	Logger    logr.Logger
}

// Orchestrator drives one call: HTTP auth and room setup, the signaling
// handshake and the media session. All state transitions run on a single
// task queue; network round-trips and engine calls run on their own
// goroutines and post their continuation back to the queue.
type Orchestrator struct {
	IEventEmitter
	logger    logr.Logger
	config    Config
	kinds     []MediaKind
	approvals map[Event]bool
	gateway   Gateway
	link      Link
	engine    Engine
	storage   Storage
	telemetry Telemetry
	channel   *Channel
	session   *Session
	queue     *taskQueue
	notifier  *taskQueue
	closeOnce sync.Once

	// linkUp is set while a socket loss must fail the call.
	linkUp atomic.Bool

	mu         sync.Mutex
	state      State
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	media      *MediaSession

	// owned by the task queue
	resumed bool
}

func NewOrchestrator(options OrchestratorOptions) (*Orchestrator, error) {
	if options.Gateway == nil || options.Link == nil || options.Engine == nil {
		return nil, NewTypeError("gateway, link and engine are required")
	}
	config := options.Config
	kinds, err := config.MediaKinds()
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger.GetSink() == nil {
		logger = NewLogger("Orchestrator")
	}
	if options.Storage == nil {
		options.Storage = NewMemoryStorage()
	}
	if options.Telemetry == nil {
		options.Telemetry = NewLogTelemetry(logger)
	}

	o := &Orchestrator{
		IEventEmitter: NewEventEmitter(),
		logger:        logger,
		config:        config,
		kinds:         kinds,
		approvals:     config.approvalEvents(),
		gateway:       options.Gateway,
		link:          options.Link,
		engine:        options.Engine,
		storage:       options.Storage,
		telemetry:     options.Telemetry,
		channel:       NewChannel(options.Link, config.RequestTimeout, logger.WithName("Channel")),
		session:       newSession(),
		queue:         newTaskQueue(logger.WithName("TaskQueue")),
		notifier:      newTaskQueue(logger.WithName("Notifier")),
		state:         StateIdle,
	}

	o.link.On(LinkEventMessage, o.onFrame)
	o.link.On(LinkEventConnected, func() {
		o.telemetry.SendLog("WebSocket:connected", nil)
	})
	o.link.On(LinkEventError, func(message string) {
		o.logger.Info("link error", "error", message)
		o.telemetry.SendLog("WebSocket:error", map[string]interface{}{"error": message})
	})
	o.link.On(LinkEventPong, func() {
		o.logger.V(1).Info("pong")
	})
	o.link.On(LinkEventDisconnected, o.onLinkDown)

	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

// Session returns the signaling state of the current call.
func (o *Orchestrator) Session() *Session {
	return o.session
}

// Call authenticates name and phone and starts the call flow. It is allowed
// in Idle and Failed.
func (o *Orchestrator) Call(name, phone string) error {
	return o.do("call", func() error {
		if err := o.restart(); err != nil {
			return err
		}
		o.setState(StateAuthenticating)

		gen, ctx := o.current()

		go func() {
			token, err := o.gateway.Auth(ctx, name, phone)

			o.post(gen, "auth", func() {
				if err != nil {
					o.fail("auth failed", err)
					return
				}
				o.session.setAuthToken(token)
				o.storage.Set(AuthTokenKey, token)
				o.connectSocket()
			})
		}()

		return nil
	})
}

// Setup resumes with the persisted auth token: it connects the socket and
// checks the room status without creating a new conversation.
func (o *Orchestrator) Setup() error {
	return o.do("setup", func() error {
		token, ok := o.storage.Get(AuthTokenKey)
		if !ok || len(token) == 0 {
			return ErrNotAuthenticated
		}
		if err := o.restart(); err != nil {
			return err
		}
		o.resumed = true
		o.session.setAuthToken(token)
		o.connectSocket()

		return nil
	})
}

// Join sends the room join request. It is needed only when the room status
// asked not to join automatically.
func (o *Orchestrator) Join() error {
	return o.do("join", func() error {
		if state := o.State(); state != StateRoomCreating {
			return NewInvalidStateError("cannot join in state %s", state)
		}
		o.join()
		return nil
	})
}

// CheckStatus polls the room status again and emits its display text.
func (o *Orchestrator) CheckStatus() error {
	return o.do("checkstatus", func() error {
		if !o.State().socketUp() {
			return NewInvalidStateError("cannot check status in state %s", o.State())
		}
		o.checkStatus()
		return nil
	})
}

// Close tears the call down for good. Pending requests are rejected, the
// socket is disconnected and the media session is closed.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.logger.V(1).Info("close()")

		o.queue.Close()
		o.teardown(ErrSessionClosed)
		o.channel.Close()
		o.setState(StateClosed)
		o.link.RemoveAllListeners()
		o.notifier.Drain()
	})
}

// emit delivers an event to the listeners in order, off the task queue, so
// that listeners may call back into the orchestrator.
func (o *Orchestrator) emit(event string, args ...interface{}) {
	o.notifier.Post(event, func() {
		o.SafeEmit(event, args...)
	})
}

// do runs fn on the task queue and returns its result.
func (o *Orchestrator) do(name string, fn func() error) error {
	errc := make(chan error, 1)

	if !o.queue.Post(name, func() { errc <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-errc:
		return err
	case <-o.queue.Done():
		select {
		case err := <-errc:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// post queues fn unless the attempt gen has been torn down meanwhile.
func (o *Orchestrator) post(gen uint64, name string, fn func()) {
	o.queue.Post(name, func() {
		o.mu.Lock()
		stale := gen != o.generation || o.state == StateClosed
		o.mu.Unlock()

		if stale {
			o.logger.V(1).Info("stale continuation dropped", "task", name)
			return
		}
		fn()
	})
}

func (o *Orchestrator) current() (uint64, context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.generation, o.ctx
}

func (o *Orchestrator) mediaSession() *MediaSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.media
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	prev := o.state
	if prev == state || prev == StateClosed {
		o.mu.Unlock()
		return
	}
	o.state = state
	o.mu.Unlock()

	o.logger.V(1).Info("state changed", "from", prev, "to", state)

	o.emit(OrchestratorEventStateChange, state)
}

// restart tears down a failed attempt and prepares a fresh one.
func (o *Orchestrator) restart() error {
	switch state := o.State(); state {
	case StateIdle, StateFailed:
	default:
		return NewInvalidStateError("cannot start a call in state %s", state)
	}
	o.teardown(ErrInvalidState)

	ctx, cancel := context.WithCancel(context.Background())
	media := NewMediaSession(o.engine, o.logger.WithName("MediaSession"))

	o.mu.Lock()
	o.ctx, o.cancel = ctx, cancel
	o.media = media
	gen := o.generation
	o.mu.Unlock()

	o.resumed = false
	o.session.resetMedia()

	go o.pumpMediaEvents(gen, media)

	return nil
}

// teardown ends the current attempt: continuations of it are dropped from
// now on and everything it opened is closed.
func (o *Orchestrator) teardown(reason error) {
	o.linkUp.Store(false)

	o.mu.Lock()
	o.generation++
	cancel, media := o.cancel, o.media
	o.cancel, o.media = nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := o.link.Disconnect(); err != nil {
		o.logger.Error(err, "disconnect failed")
	}
	o.channel.RejectAll(reason)

	if media != nil {
		media.Close()
	}
}

// fail moves to Failed and reports message to the consumer.
func (o *Orchestrator) fail(message string, err error) {
	o.logger.Error(err, message, "state", o.State())
	o.telemetry.CaptureError(message, err)

	o.teardown(fmt.Errorf("%w: %s", ErrInvalidState, message))
	o.setState(StateFailed)

	text := message
	if err != nil {
		text = fmt.Sprintf("%s: %v", message, err)
	}
	o.emit(OrchestratorEventError, text)
}

// abortStep reports a failed step without failing the call.
func (o *Orchestrator) abortStep(subject string, err error) {
	if errors.Is(err, ErrMediaServer) {
		o.logger.V(1).Info("step ended by media server error", "step", subject)
		return
	}
	o.logger.Error(err, subject, "state", o.State())
	o.telemetry.CaptureError(subject, err)

	o.emit(OrchestratorEventError, fmt.Sprintf("%s: %v", subject, err))
}

func (o *Orchestrator) connectSocket() {
	o.setState(StateSocketConnecting)

	query := url.Values{}
	query.Set("websiteToken", o.config.WebsiteToken)
	query.Set("cwToken", o.session.AuthToken())

	_, ctx := o.current()

	o.linkUp.Store(true)

	if err := o.link.Connect(ctx, o.config.SignalingURL(), query); err != nil {
		o.fail("socket connect failed", err)
	}
}

// onFrame runs on the link read goroutine. Replies are resolved in place,
// everything else is handed to the task queue.
func (o *Orchestrator) onFrame(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		o.logger.Info("frame dropped", "error", err.Error())
		return
	}
	resolved := o.channel.Resolve(msg)

	// producer batches and server errors are handled as pushes even when
	// they answer a request
	if resolved && msg.Event != EventMediaServerProducers && msg.Event != EventMediaServerError {
		return
	}

	o.queue.Post(msg.Name, func() {
		o.handlePush(msg)
	})
}

func (o *Orchestrator) onLinkDown() {
	if !o.linkUp.Load() {
		return
	}
	o.channel.RejectAll(ErrLinkClosed)

	o.queue.Post("linkdown", func() {
		if o.linkUp.Load() {
			o.fail("socket disconnected", ErrLinkClosed)
		}
	})
}

func (o *Orchestrator) handlePush(msg *Message) {
	state := o.State()

	switch state {
	case StateIdle, StateFailed, StateClosed:
		o.logger.V(1).Info("event ignored", "event", msg.Name, "state", state)
		return
	}

	switch {
	case msg.Event == EventWebSocketConnected:
		o.onSocketConnected()

	case o.approvals[msg.Event]:
		o.approve(msg)

	case msg.Event == EventMediaServerProducers:
		o.onRemoteProducers(msg)

	case msg.Event == EventMediaServerError:
		o.onMediaServerError(msg)

	case msg.Event == EventUserConnectedWebRtcTransport:
		o.logger.V(1).Info("transport connected", "event", msg.Name)

	case msg.Event == EventUnknown:
		o.logger.Info("unknown event ignored", "event", msg.Name)

	default:
		o.logger.Info("unexpected event ignored", "event", msg.Name, "originalRequestId", msg.OriginalRequestId)
	}
}

func (o *Orchestrator) onMediaServerError(msg *Message) {
	text := msg.ErrorMessage()

	if !o.State().socketUp() {
		o.logger.Info("media server error before socket connected", "error", text)
		return
	}
	o.telemetry.CaptureError("MEDIA_SERVER_ERROR", errors.New(text))
	o.logger.Info("media server error", "error", text)

	o.teardown(fmt.Errorf("%w: %s", ErrInvalidState, text))
	o.setState(StateFailed)
	o.emit(OrchestratorEventError, text)
}
