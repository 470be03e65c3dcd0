// Package client drives the chat relay protocol from the client side.
// Requests carry a per-connection id that the server echoes, so many calls
// may be in flight at once; everything the server sends that does not answer
// a pending call is handed to the registered notification handlers.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/connection"
	"chatrelay/internal/protocol"
	wstransport "chatrelay/internal/websocket"
)

// Envelope and Action are re-exported so callers outside this module can
// name them.
type (
	Envelope = protocol.Envelope
	Action   = protocol.Action
)

var ErrClosed = errors.New("client closed")

// ResponseError is a response with success=false.
type ResponseError struct {
	Action  Action
	Message string
}

func (e *ResponseError) Error() string {
	return string(e.Action) + ": " + e.Message
}

// Handler receives a server push.
type Handler func(*Envelope)

type options struct {
	logger       *zap.Logger
	maxLineBytes int
	writeTimeout time.Duration
}

// Option configures a Client.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxLineBytes bounds inbound lines on TCP and frames on websocket.
func WithMaxLineBytes(n int) Option {
	return func(o *options) { o.maxLineBytes = n }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

type pendingCall struct {
	id     uint64
	action Action
	ch     chan *Envelope
}

// Client is safe for concurrent use.
type Client struct {
	transport connection.Transport
	logger    *zap.Logger
	nextID    atomic.Uint64

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[uint64]*pendingCall
	order    []*pendingCall
	handlers map[Action][]Handler
	fallback []Handler

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial connects over TCP with newline-delimited JSON.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(connection.NewLineTransport(nc, o.maxLineBytes, o.writeTimeout), o), nil
}

// DialWebSocket connects to a /ws endpoint, one envelope per text frame.
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	t, err := wstransport.NewTransport(ws, int64(o.maxLineBytes), o.writeTimeout)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return newClient(t, o), nil
}

// New runs a client over an existing transport.
func New(t connection.Transport, opts ...Option) *Client {
	return newClient(t, buildOptions(opts))
}

func buildOptions(opts []Option) *options {
	o := &options{maxLineBytes: protocol.DefaultMaxLineBytes, writeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

func newClient(t connection.Transport, o *options) *Client {
	c := &Client{
		transport: t,
		logger:    o.logger.Named("client"),
		pending:   make(map[uint64]*pendingCall),
		handlers:  make(map[Action][]Handler),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// On registers h for pushes with the given action. Handlers run on the
// read goroutine and must not block.
func (c *Client) On(action Action, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[action] = append(c.handlers[action], h)
}

// OnAny registers h for pushes no action-specific handler claimed.
func (c *Client) OnAny(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = append(c.fallback, h)
}

// Call sends a request and waits for its response. A response with
// success=false is returned together with a *ResponseError.
func (c *Client) Call(ctx context.Context, action Action, payload interface{}) (*Envelope, error) {
	req, err := protocol.NewRequest(action, payload)
	if err != nil {
		return nil, err
	}
	p := &pendingCall{id: c.nextID.Add(1), action: action, ch: make(chan *Envelope, 1)}
	req.ID = p.id

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.closedErr()
	default:
	}
	c.pending[p.id] = p
	c.order = append(c.order, p)
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.forget(p)
		return nil, err
	}

	select {
	case resp := <-p.ch:
		if !resp.Success {
			return resp, &ResponseError{Action: resp.Action, Message: resp.Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(p)
		return nil, ctx.Err()
	case <-c.done:
		select {
		case resp := <-p.ch:
			if !resp.Success {
				return resp, &ResponseError{Action: resp.Action, Message: resp.Message}
			}
			return resp, nil
		default:
		}
		return nil, c.closedErr()
	}
}

// Send writes a request without waiting. Used for CALL_SIGNAL, which the
// server never answers.
func (c *Client) Send(action Action, payload interface{}) error {
	req, err := protocol.NewRequest(action, payload)
	if err != nil {
		return err
	}
	return c.write(req)
}

func (c *Client) write(env *Envelope) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.WriteEnvelope(env)
}

func (c *Client) readLoop() {
	for {
		env, err := c.transport.ReadEnvelope()
		if err != nil {
			if protocol.IsDecodeError(err) {
				c.logger.Warn("skipping malformed line", zap.Error(err))
				continue
			}
			c.shutdown(err)
			return
		}
		if p := c.match(env); p != nil {
			p.ch <- env
			continue
		}
		c.notify(env)
	}
}

// match claims the pending call env answers. Echoed ids win; without one
// the oldest pending call with the same action is assumed, which is how
// servers that ignore ids still correlate in order.
func (c *Client) match(env *Envelope) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.ID != 0 {
		p, ok := c.pending[env.ID]
		if !ok {
			return nil
		}
		c.removeLocked(p)
		return p
	}
	if env.IsNotification() {
		return nil
	}
	for _, p := range c.order {
		if p.action == env.Action {
			c.removeLocked(p)
			return p
		}
	}
	return nil
}

func (c *Client) notify(env *Envelope) {
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[env.Action]...)
	if len(hs) == 0 {
		hs = append(hs, c.fallback...)
	}
	c.mu.Unlock()

	if len(hs) == 0 {
		c.logger.Debug("unhandled push", zap.String("action", env.Action.String()))
		return
	}
	for _, h := range hs {
		h(env)
	}
}

func (c *Client) forget(p *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(p)
}

func (c *Client) removeLocked(p *pendingCall) {
	delete(c.pending, p.id)
	for i, q := range c.order {
		if q == p {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[uint64]*pendingCall)
		c.order = nil
		close(c.done)
		c.mu.Unlock()
		_ = c.transport.Close()
	})
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil && !errors.Is(c.err, ErrClosed) {
		return errors.Join(ErrClosed, c.err)
	}
	return ErrClosed
}

// Close releases the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Pending reports calls still awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
