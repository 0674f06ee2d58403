package callsdk

import (
	"sync"

	"github.com/go-logr/logr"
)

type clientOptions struct {
	gateway   Gateway
	link      Link
	storage   Storage
	telemetry Telemetry
	logger    logr.Logger
}

// Option customizes a Client.
type Option func(o *clientOptions)

// WithGateway replaces the HTTP gateway built from the config.
func WithGateway(gateway Gateway) Option {
	return func(o *clientOptions) {
		o.gateway = gateway
	}
}

// WithLink replaces the WebSocket link built from the config.
func WithLink(link Link) Option {
	return func(o *clientOptions) {
		o.link = link
	}
}

// WithStorage sets where the auth token is persisted. Defaults to memory.
func WithStorage(storage Storage) Option {
	return func(o *clientOptions) {
		o.storage = storage
	}
}

func WithTelemetry(telemetry Telemetry) Option {
	return func(o *clientOptions) {
		o.telemetry = telemetry
	}
}

func WithLogger(logger logr.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// Client is the SDK entry point. It wires the default collaborators from a
// Config and exposes the call actions.
type Client struct {
	baseNotifier
	logger       logr.Logger
	orchestrator *Orchestrator
	releaseOnce  sync.Once
}

func NewClient(config Config, engine Engine, options ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	opts := &clientOptions{}

	for _, o := range options {
		o(opts)
	}
	if opts.logger.GetSink() == nil {
		opts.logger = NewLogger("Client")
	}
	if opts.telemetry == nil {
		opts.telemetry = NewLogTelemetry(opts.logger)
	}
	if opts.storage == nil {
		opts.storage = NewMemoryStorage()
	}
	if opts.gateway == nil {
		opts.gateway = NewHTTPGateway(config.APIBaseURL, config.WebsiteToken, config.HTTPTimeout,
			opts.telemetry, opts.logger.WithName("HTTPGateway"))
	}
	if opts.link == nil {
		opts.link = NewWebSocketLink(WebSocketLinkOptions{
			HandshakeTimeout: config.HandshakeTimeout,
			WriteTimeout:     config.WriteTimeout,
			PingPeriod:       config.PingPeriod,
			ReadLimit:        config.ReadLimit,
		}, opts.logger.WithName("WebSocketLink"))
	}

	orchestrator, err := NewOrchestrator(OrchestratorOptions{
		Config:    config,
		Gateway:   opts.gateway,
		Link:      opts.link,
		Engine:    engine,
		Storage:   opts.storage,
		Telemetry: opts.telemetry,
		Logger:    opts.logger.WithName("Orchestrator"),
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		logger:       opts.logger,
		orchestrator: orchestrator,
	}, nil
}

// Setup resumes a call with the auth token persisted by a previous Call.
func (c *Client) Setup() error {
	return c.orchestrator.Setup()
}

// Call authenticates the caller and starts the call flow.
func (c *Client) Call(name, phone string) error {
	return c.orchestrator.Call(name, phone)
}

func (c *Client) Join() error {
	return c.orchestrator.Join()
}

func (c *Client) CheckStatus() error {
	return c.orchestrator.CheckStatus()
}

func (c *Client) State() State {
	return c.orchestrator.State()
}

func (c *Client) Session() *Session {
	return c.orchestrator.Session()
}

// OnStatus registers handler for room status texts and StatusJoined.
func (c *Client) OnStatus(handler func(text string)) {
	c.orchestrator.On(OrchestratorEventStatus, handler)
}

// OnError registers handler for failure messages, including the verbatim
// text of MEDIA_SERVER_ERROR.
func (c *Client) OnError(handler func(message string)) {
	c.orchestrator.On(OrchestratorEventError, handler)
}

func (c *Client) OnStateChange(handler func(state State)) {
	c.orchestrator.On(OrchestratorEventStateChange, handler)
}

// Release ends the call. The client cannot be used afterwards.
func (c *Client) Release() {
	c.releaseOnce.Do(func() {
		c.logger.V(1).Info("release()")

		c.orchestrator.Close()
		c.notifyClosed()
	})
}
