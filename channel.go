package callsdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const RequestTimeout = 20 * time.Second

// Channel correlates commands sent over a Link with the replies the server
// pushes back, using the originalRequestId echoed in every reply.
type Channel struct {
	mu      sync.Mutex
	link    Link
	logger  logr.Logger
	timeout time.Duration
	pending map[string]*PendingRequest
	closed  bool
}

func NewChannel(link Link, timeout time.Duration, logger logr.Logger) *Channel {
	if timeout <= 0 {
		timeout = RequestTimeout
	}
	return &Channel{
		link:    link,
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]*PendingRequest),
	}
}

// PendingRequest is the completion handle of one issued command. It is
// completed exactly once: by the reply, a timeout or a rejection.
type PendingRequest struct {
	Id       string
	Command  Command
	IssuedAt time.Time

	once  sync.Once
	done  chan struct{}
	timer *time.Timer
	msg   *Message
	err   error
}

func newPendingRequest(id string, command Command) *PendingRequest {
	return &PendingRequest{
		Id:       id,
		Command:  command,
		IssuedAt: time.Now(),
		done:     make(chan struct{}),
	}
}

func (p *PendingRequest) complete(msg *Message, err error) bool {
	completed := false

	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.msg, p.err = msg, err
		completed = true
		close(p.done)
	})

	return completed
}

// Done is closed once the request is completed.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Result returns the reply or the failure. It must be called after Done is closed.
func (p *PendingRequest) Result() (*Message, error) {
	<-p.done
	return p.msg, p.err
}

// Wait blocks until the request is completed or ctx is done. Giving up on
// ctx leaves the request pending until its timeout.
func (p *PendingRequest) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Issue registers requestId and sends the command with originalRequestId set.
// A requestId must not be reused while it is pending.
func (c *Channel) Issue(requestId string, command Command, fields H) (*PendingRequest, error) {
	frame := make(H, len(fields)+1)
	for k, v := range fields {
		frame[k] = v
	}
	frame["originalRequestId"] = requestId

	data, err := EncodeCommand(command, frame)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if _, ok := c.pending[requestId]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w [id:%s]", ErrDuplicateRequest, requestId)
	}

	req := newPendingRequest(requestId, command)
	c.pending[requestId] = req

	req.timer = time.AfterFunc(c.timeout, func() {
		c.fail(requestId, fmt.Errorf("%w [id:%s, command:%s]", ErrRequestTimeout, requestId, command))
	})

	c.mu.Unlock()

	c.logger.V(1).Info("request()", "command", command, "id", requestId)

	if err := c.link.Send(data); err != nil {
		c.fail(requestId, err)
		return nil, err
	}

	return req, nil
}

// Request issues a command under a fresh id and waits for its reply. The
// request is dropped from the pending set once ctx is done.
func (c *Channel) Request(ctx context.Context, command Command, fields H) (*Message, error) {
	req, err := c.Issue(newRequestId(), command, fields)
	if err != nil {
		return nil, err
	}
	msg, err := req.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.fail(req.Id, err)
	}
	return msg, err
}

// Notify sends a command without waiting for any reply.
func (c *Channel) Notify(command Command, fields H) error {
	if c.Closed() {
		return ErrChannelClosed
	}
	data, err := EncodeCommand(command, fields)
	if err != nil {
		return err
	}

	c.logger.V(1).Info("notify()", "command", command)

	return c.link.Send(data)
}

// Resolve completes the pending request msg replies to. It reports false when
// no request is pending under msg.OriginalRequestId.
func (c *Channel) Resolve(msg *Message) bool {
	if len(msg.OriginalRequestId) == 0 {
		return false
	}

	c.mu.Lock()
	req, ok := c.pending[msg.OriginalRequestId]
	if ok {
		delete(c.pending, msg.OriginalRequestId)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Info("received response does not match any sent request", "event", msg.Name, "id", msg.OriginalRequestId)
		return false
	}

	c.logger.V(1).Info("request succeeded", "command", req.Command, "id", req.Id, "event", msg.Name, "elapsed", time.Since(req.IssuedAt))

	return req.complete(msg, nil)
}

// RejectAll fails every pending request with err. The channel stays usable.
func (c *Channel) RejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*PendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.complete(nil, fmt.Errorf("%w [id:%s, command:%s]", err, req.Id, req.Command))
	}
}

// Close rejects every pending request and refuses new ones.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.V(1).Info("close()")

	c.RejectAll(ErrChannelClosed)
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// PendingCount returns the number of requests waiting for a reply.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

func (c *Channel) fail(requestId string, err error) {
	c.mu.Lock()
	req, ok := c.pending[requestId]
	if ok {
		delete(c.pending, requestId)
	}
	c.mu.Unlock()

	if ok {
		c.logger.Error(err, "request failed", "command", req.Command, "id", requestId)
		req.complete(nil, err)
	}
}
